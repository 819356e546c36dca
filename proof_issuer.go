package veriflow

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/fluxauth/veriflow/internal"
	"github.com/fluxauth/veriflow/jwt"
)

// proofIssuer mints and validates scoped proofs. A proof is the pair of a
// signed token (client-held) and a scoped session artifact (server-held);
// both must check out for the proof to stand, which keeps revocation
// effective inside the token's signature validity window.
type proofIssuer struct {
	jwt      *jwt.Manager
	sessions *scopedSessionStore
}

func newProofIssuer(manager *jwt.Manager, sessions *scopedSessionStore) *proofIssuer {
	return &proofIssuer{jwt: manager, sessions: sessions}
}

// Issue writes a fresh artifact for (purpose, subject) and signs its token.
// An existing artifact for the scope is overwritten, so the newest proof
// always supersedes older ones.
func (p *proofIssuer) Issue(
	ctx context.Context,
	purpose Purpose,
	subject, payload string,
	ttl time.Duration,
) (Proof, error) {
	secret, err := internal.NewProofSecret()
	if err != nil {
		return Proof{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	expiresAt := time.Now().Add(ttl)
	record := &scopedSessionRecord{
		Subject:    subject,
		SecretHash: internal.HashSecret(secret[:]),
		ExpiresAt:  expiresAt.Unix(),
		Payload:    payload,
	}
	if err := p.sessions.Save(ctx, purpose, subject, record, ttl); err != nil {
		return Proof{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	token, err := p.jwt.CreateProof(subject, string(purpose), internal.EncodeProofSecret(secret), ttl)
	if err != nil {
		return Proof{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	return Proof{
		Purpose:   purpose,
		Subject:   subject,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// Validate checks signature, embedded expiry, purpose tag, and server-side
// artifact presence, in that order. Signature-only validation is never
// enough: a revoked or superseded artifact fails the proof even when the
// token still verifies cryptographically.
func (p *proofIssuer) Validate(ctx context.Context, token string, purpose Purpose) (*scopedSessionRecord, error) {
	claims, err := p.jwt.ParseProof(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if Purpose(claims.Purpose) != purpose {
		return nil, ErrInvalidToken
	}

	secret, err := internal.DecodeProofSecret(claims.Secret)
	if err != nil {
		return nil, ErrInvalidToken
	}

	record, err := p.sessions.Get(ctx, purpose, claims.Subject)
	if err != nil {
		if errors.Is(err, errSessionNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	providedHash := internal.HashSecret(secret[:])
	if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
		return nil, ErrInvalidToken
	}

	return record, nil
}

// Revoke deletes the artifact for (purpose, subject). Outstanding tokens
// for the scope become functionally dead immediately.
func (p *proofIssuer) Revoke(ctx context.Context, purpose Purpose, subject string) error {
	if err := p.sessions.Delete(ctx, purpose, subject); err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return nil
}

// Exists reports whether a live artifact exists for (purpose, subject)
// without touching it. Used for the signup in-progress conflict check.
func (p *proofIssuer) Exists(ctx context.Context, purpose Purpose, subject string) (bool, error) {
	_, err := p.sessions.Get(ctx, purpose, subject)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, errSessionNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("%w: %v", ErrUpstream, err)
}
