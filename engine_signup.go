package veriflow

import (
	"context"
	"errors"
	"fmt"
)

// RequestSignup starts the signup flow: validates the email, rejects
// collisions with committed accounts or in-progress signups, then issues a
// one-time code to the address. The in-progress check comes first so an
// attacker cannot restart another user's signup by re-requesting a code.
func (e *Engine) RequestSignup(ctx context.Context, email string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}

	email, err := validateEmail(email)
	if err != nil {
		return err
	}
	idx := e.emails.Index(email)

	pending, err := e.proofs.Exists(ctx, PurposeSignupPending, idx)
	if err != nil {
		return err
	}
	if !pending {
		// An unconsumed code counts as in-progress too; re-requesting must
		// not supersede it, or anyone could restart the flow under the
		// victim's address.
		pending, err = e.codes.Exists(ctx, WorkflowSignup, idx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUpstream, err)
		}
	}
	if pending {
		e.emitAudit(ctx, "signup_request", WorkflowSignup, idx, ErrSignupInProgress, nil)
		return ErrSignupInProgress
	}

	inUse, err := e.directory.EmailInUse(ctx, idx)
	if err != nil {
		return mapDirectoryErr(err)
	}
	if inUse {
		e.emitAudit(ctx, "signup_request", WorkflowSignup, idx, ErrEmailTaken, nil)
		return ErrEmailTaken
	}

	sealed, err := e.emails.Seal(email)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	return e.issueCode(ctx, WorkflowSignup, idx, email, sealed)
}

// VerifySignupCode consumes the signup code and issues the signup-pending
// proof bound to the email. The code is single-use: a second verification
// with the same code fails even inside its TTL.
func (e *Engine) VerifySignupCode(ctx context.Context, email, code string) (Proof, error) {
	if e == nil || e.directory == nil {
		return Proof{}, ErrEngineNotReady
	}

	email, err := validateEmail(email)
	if err != nil {
		return Proof{}, err
	}
	idx := e.emails.Index(email)

	record, err := e.consumeCode(ctx, WorkflowSignup, idx, code)
	if err != nil {
		return Proof{}, err
	}

	proof, err := e.proofs.Issue(ctx, PurposeSignupPending, idx, record.Payload, e.config.Proofs.ttlFor(PurposeSignupPending))
	if err != nil {
		return Proof{}, err
	}

	e.emitAudit(ctx, "signup_verified", WorkflowSignup, idx, nil, nil)
	return proof, nil
}

// CompleteSignup commits the new identity under the signup-pending proof.
// The proof is revoked only after the directory write succeeds, so a failed
// commit leaves the flow resumable. Completion is absorbing: replaying the
// same token afterwards fails the artifact check.
func (e *Engine) CompleteSignup(ctx context.Context, token, username, password string) (*Identity, error) {
	if e == nil || e.directory == nil {
		return nil, ErrEngineNotReady
	}

	record, err := e.proofs.Validate(ctx, token, PurposeSignupPending)
	if err != nil {
		return nil, err
	}

	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := e.checkNewPassword(ctx, password); err != nil {
		return nil, err
	}

	available, err := e.directory.UsernameAvailable(ctx, username)
	if err != nil {
		return nil, mapDirectoryErr(err)
	}
	if !available {
		return nil, ErrUsernameTaken
	}

	// The email could have been committed by a parallel flow since the
	// code was requested.
	inUse, err := e.directory.EmailInUse(ctx, record.Subject)
	if err != nil {
		return nil, mapDirectoryErr(err)
	}
	if inUse {
		return nil, ErrEmailTaken
	}

	hash, err := e.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	identity, err := e.directory.Create(ctx, CreateIdentityInput{
		EmailSealed:  record.Payload,
		EmailIndex:   record.Subject,
		Username:     username,
		PasswordHash: hash,
		Verified:     true,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, mapDirectoryErr(err)
	}

	if err := e.proofs.Revoke(ctx, PurposeSignupPending, record.Subject); err != nil {
		return nil, err
	}
	_ = e.codes.Delete(ctx, WorkflowSignup, record.Subject)

	e.emitAudit(ctx, "signup_completed", WorkflowSignup, identity.ID, nil, nil)
	return identity, nil
}
