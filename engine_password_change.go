package veriflow

import (
	"context"
	"fmt"
)

// RequestPasswordChange starts the authenticated password change flow.
// userID must come from the caller's already-validated long-lived session;
// the engine treats it as a required input, never as ambient request state.
func (e *Engine) RequestPasswordChange(ctx context.Context, userID string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}
	if userID == "" {
		return fmt.Errorf("%w: user id", ErrInvalidInput)
	}

	identity, err := e.directory.FindByID(ctx, userID)
	if err != nil {
		return mapDirectoryErr(err)
	}

	email, err := e.emails.Open(identity.EmailSealed)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	return e.issueCode(ctx, WorkflowPasswordChange, identity.ID, email, "")
}

// VerifyPasswordChangeCode consumes the code and issues the
// password-change proof.
func (e *Engine) VerifyPasswordChangeCode(ctx context.Context, userID, code string) (Proof, error) {
	if e == nil || e.directory == nil {
		return Proof{}, ErrEngineNotReady
	}
	if userID == "" {
		return Proof{}, fmt.Errorf("%w: user id", ErrInvalidInput)
	}

	if _, err := e.consumeCode(ctx, WorkflowPasswordChange, userID, code); err != nil {
		return Proof{}, err
	}

	proof, err := e.proofs.Issue(ctx, PurposePasswordChange, userID, "", e.config.Proofs.ttlFor(PurposePasswordChange))
	if err != nil {
		return Proof{}, err
	}

	e.emitAudit(ctx, "password_change_verified", WorkflowPasswordChange, userID, nil, nil)
	return proof, nil
}

// CompletePasswordChange commits the new password under the proof. Order of
// checks: trivial equality first, then policy and history, then the old
// password against the current hash, then the directory write. The proof
// survives a failed commit.
func (e *Engine) CompletePasswordChange(ctx context.Context, token, oldPassword, newPassword string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}

	record, err := e.proofs.Validate(ctx, token, PurposePasswordChange)
	if err != nil {
		return err
	}

	if oldPassword == newPassword {
		return ErrSamePassword
	}
	if err := e.checkNewPassword(ctx, newPassword); err != nil {
		return err
	}
	if err := e.rejectReusedPassword(ctx, record.Subject, newPassword); err != nil {
		return err
	}

	identity, err := e.directory.FindByID(ctx, record.Subject)
	if err != nil {
		return mapDirectoryErr(err)
	}

	ok, err := e.passwords.Verify(oldPassword, identity.PasswordHash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if !ok {
		e.emitAudit(ctx, "password_change_completed", WorkflowPasswordChange, record.Subject, ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	hash, err := e.passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if err := e.directory.UpdatePassword(ctx, record.Subject, hash); err != nil {
		return mapDirectoryErr(err)
	}

	if err := e.proofs.Revoke(ctx, PurposePasswordChange, record.Subject); err != nil {
		return err
	}
	_ = e.codes.Delete(ctx, WorkflowPasswordChange, record.Subject)

	e.emitAudit(ctx, "password_change_completed", WorkflowPasswordChange, record.Subject, nil, nil)
	return nil
}
