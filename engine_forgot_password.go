package veriflow

import (
	"context"
	"errors"
	"fmt"
)

// RequestPasswordReset starts the forgot-password flow for an existing
// identity and sends a one-time code to its current email.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}

	email, err := validateEmail(email)
	if err != nil {
		return err
	}

	identity, err := e.directory.FindByEmail(ctx, e.emails.Index(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return mapDirectoryErr(err)
	}

	return e.issueCode(ctx, WorkflowPasswordReset, identity.ID, email, "")
}

// VerifyPasswordResetCode consumes the reset code and issues the
// password-reset proof. An unknown email fails exactly like a wrong code so
// this step cannot be used for account enumeration.
func (e *Engine) VerifyPasswordResetCode(ctx context.Context, email, code string) (Proof, error) {
	if e == nil || e.directory == nil {
		return Proof{}, ErrEngineNotReady
	}

	email, err := validateEmail(email)
	if err != nil {
		return Proof{}, err
	}

	identity, err := e.directory.FindByEmail(ctx, e.emails.Index(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Proof{}, ErrInvalidCode
		}
		return Proof{}, mapDirectoryErr(err)
	}

	if _, err := e.consumeCode(ctx, WorkflowPasswordReset, identity.ID, code); err != nil {
		return Proof{}, err
	}

	proof, err := e.proofs.Issue(ctx, PurposePasswordReset, identity.ID, "", e.config.Proofs.ttlFor(PurposePasswordReset))
	if err != nil {
		return Proof{}, err
	}

	e.emitAudit(ctx, "password_reset_verified", WorkflowPasswordReset, identity.ID, nil, nil)
	return proof, nil
}

// CompletePasswordReset commits the new password under the reset proof.
// Reuse of the current or any retained previous password is rejected before
// anything is written. The directory invalidates the user's long-lived
// sessions as part of UpdatePassword; the proof is revoked only after that
// commit succeeds.
func (e *Engine) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}

	record, err := e.proofs.Validate(ctx, token, PurposePasswordReset)
	if err != nil {
		return err
	}

	if err := e.checkNewPassword(ctx, newPassword); err != nil {
		return err
	}
	if err := e.rejectReusedPassword(ctx, record.Subject, newPassword); err != nil {
		return err
	}

	hash, err := e.passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if err := e.directory.UpdatePassword(ctx, record.Subject, hash); err != nil {
		return mapDirectoryErr(err)
	}

	if err := e.proofs.Revoke(ctx, PurposePasswordReset, record.Subject); err != nil {
		return err
	}
	_ = e.codes.Delete(ctx, WorkflowPasswordReset, record.Subject)

	e.emitAudit(ctx, "password_reset_completed", WorkflowPasswordReset, record.Subject, nil, nil)
	return nil
}
