package veriflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fluxauth/veriflow/internal"
)

// GenerateRecoveryCodes mints a fresh recovery code set for an identity,
// replacing any previous set. Plaintext codes are returned exactly once;
// only their SHA-256 hashes reach the directory.
func (e *Engine) GenerateRecoveryCodes(ctx context.Context, userID string) ([]string, error) {
	if e == nil || e.directory == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: user id", ErrInvalidInput)
	}

	if _, err := e.directory.FindByID(ctx, userID); err != nil {
		return nil, mapDirectoryErr(err)
	}

	codes, err := internal.NewRecoveryCodeSet(e.config.Recovery.CodeCount, e.config.Recovery.CodeLength)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	records := make([]RecoveryCodeRecord, len(codes))
	for i, code := range codes {
		records[i] = RecoveryCodeRecord{Hash: internal.HashSecret([]byte(code))}
	}

	if err := e.directory.ReplaceRecoveryCodes(ctx, userID, records); err != nil {
		return nil, mapDirectoryErr(err)
	}

	e.emitAudit(ctx, "recovery_codes_generated", "", userID, nil, nil)
	return codes, nil
}

// BeginRecovery is the lost-everything entry point: the caller proves
// control of the account with its claimed email (current or any previous)
// plus one recovery code. The matched code is consumed here, so replaying
// it — whether the flow completes or not — fails. Unknown email and wrong
// code produce identical results.
func (e *Engine) BeginRecovery(ctx context.Context, email, recoveryCode string) (Proof, error) {
	if e == nil || e.directory == nil {
		return Proof{}, ErrEngineNotReady
	}

	email, err := validateEmail(email)
	if err != nil {
		return Proof{}, err
	}
	recoveryCode = normalizeRecoveryCode(recoveryCode)
	if len(recoveryCode) != e.config.Recovery.CodeLength {
		return Proof{}, ErrRecoveryCodeInvalid
	}

	identity, err := e.directory.FindByAnyEmail(ctx, e.emails.Index(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.emitAudit(ctx, "recovery_begin", "", "", ErrRecoveryCodeInvalid, nil)
			return Proof{}, ErrRecoveryCodeInvalid
		}
		return Proof{}, mapDirectoryErr(err)
	}

	matched, err := e.directory.ConsumeRecoveryCode(ctx, identity.ID, internal.HashSecret([]byte(recoveryCode)))
	if err != nil {
		return Proof{}, mapDirectoryErr(err)
	}
	if !matched {
		e.emitAudit(ctx, "recovery_begin", "", identity.ID, ErrRecoveryCodeInvalid, nil)
		return Proof{}, ErrRecoveryCodeInvalid
	}

	proof, err := e.proofs.Issue(ctx, PurposeRecovery, identity.ID, "", e.config.Proofs.ttlFor(PurposeRecovery))
	if err != nil {
		return Proof{}, err
	}

	e.emitAudit(ctx, "recovery_begin", "", identity.ID, nil, nil)
	return proof, nil
}

// RequestRecoveryEmail accepts the replacement address and sends a code to
// it, gated on the recovery proof still being live.
func (e *Engine) RequestRecoveryEmail(ctx context.Context, recoveryToken, newEmail string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}

	record, err := e.proofs.Validate(ctx, recoveryToken, PurposeRecovery)
	if err != nil {
		return err
	}

	newEmail, err = validateEmail(newEmail)
	if err != nil {
		return err
	}

	inUse, err := e.directory.EmailInUse(ctx, e.emails.Index(newEmail))
	if err != nil {
		return mapDirectoryErr(err)
	}
	if inUse {
		return ErrEmailTaken
	}

	sealed, err := e.emails.Seal(newEmail)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	return e.issueCode(ctx, WorkflowRecoveryEmail, record.Subject, newEmail, sealed)
}

// VerifyRecoveryEmailCode consumes the replacement-email code and issues
// the second proof of the chain — only while the first recovery proof is
// still live at the moment of transition.
func (e *Engine) VerifyRecoveryEmailCode(ctx context.Context, recoveryToken, code string) (Proof, error) {
	if e == nil || e.directory == nil {
		return Proof{}, ErrEngineNotReady
	}

	record, err := e.proofs.Validate(ctx, recoveryToken, PurposeRecovery)
	if err != nil {
		return Proof{}, err
	}

	codeRecord, err := e.consumeCode(ctx, WorkflowRecoveryEmail, record.Subject, code)
	if err != nil {
		return Proof{}, err
	}

	proof, err := e.proofs.Issue(ctx, PurposeRecoveryEmail, record.Subject, codeRecord.Payload, e.config.Proofs.ttlFor(PurposeRecoveryEmail))
	if err != nil {
		return Proof{}, err
	}

	e.emitAudit(ctx, "recovery_email_verified", WorkflowRecoveryEmail, record.Subject, nil, nil)
	return proof, nil
}

// CompleteRecovery commits the replacement email and the new password in a
// single directory write. Both proofs must be valid simultaneously and
// agree on the subject; both are revoked only after the commit succeeds.
func (e *Engine) CompleteRecovery(ctx context.Context, recoveryToken, emailProofToken, newPassword string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}

	recordA, err := e.proofs.Validate(ctx, recoveryToken, PurposeRecovery)
	if err != nil {
		return err
	}
	recordB, err := e.proofs.Validate(ctx, emailProofToken, PurposeRecoveryEmail)
	if err != nil {
		return err
	}
	if recordA.Subject != recordB.Subject {
		return ErrInvalidToken
	}

	if err := e.checkNewPassword(ctx, newPassword); err != nil {
		return err
	}
	if err := e.rejectReusedPassword(ctx, recordA.Subject, newPassword); err != nil {
		return err
	}

	newEmail, err := e.emails.Open(recordB.Payload)
	if err != nil {
		return ErrInvalidToken
	}
	idx := e.emails.Index(newEmail)

	inUse, err := e.directory.EmailInUse(ctx, idx)
	if err != nil {
		return mapDirectoryErr(err)
	}
	if inUse {
		return ErrEmailTaken
	}

	hash, err := e.passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if err := e.directory.CommitRecovery(ctx, recordA.Subject, recordB.Payload, idx, hash); err != nil {
		return mapDirectoryErr(err)
	}

	if err := e.proofs.Revoke(ctx, PurposeRecovery, recordA.Subject); err != nil {
		return err
	}
	if err := e.proofs.Revoke(ctx, PurposeRecoveryEmail, recordA.Subject); err != nil {
		return err
	}
	_ = e.codes.Delete(ctx, WorkflowRecoveryEmail, recordA.Subject)

	e.emitAudit(ctx, "recovery_completed", "", recordA.Subject, nil, nil)
	return nil
}

func normalizeRecoveryCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.NewReplacer(" ", "", "-", "").Replace(code)
}
