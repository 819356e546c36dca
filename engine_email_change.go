package veriflow

import (
	"context"
	"fmt"
)

// RequestEmailChange starts the email change flow by proving current-email
// ownership: a one-time code goes to the address already on file. userID
// must come from the caller's validated long-lived session.
func (e *Engine) RequestEmailChange(ctx context.Context, userID string) error {
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

	return e.issueCode(ctx, WorkflowEmailChangeOld, identity.ID, email, "")
}

// VerifyCurrentEmailCode consumes the current-email code and issues the
// first proof of the chain (session A).
func (e *Engine) VerifyCurrentEmailCode(ctx context.Context, userID, code string) (Proof, error) {
	if e == nil || e.directory == nil {
		return Proof{}, ErrEngineNotReady
	}
	if userID == "" {
		return Proof{}, fmt.Errorf("%w: user id", ErrInvalidInput)
	}

	if _, err := e.consumeCode(ctx, WorkflowEmailChangeOld, userID, code); err != nil {
		return Proof{}, err
	}

	proof, err := e.proofs.Issue(ctx, PurposeEmailChangeOld, userID, "", e.config.Proofs.ttlFor(PurposeEmailChangeOld))
	if err != nil {
		return Proof{}, err
	}

	e.emitAudit(ctx, "email_change_old_verified", WorkflowEmailChangeOld, userID, nil, nil)
	return proof, nil
}

// RequestNewEmailCode accepts the candidate address and sends a code to it.
// The old-email proof must still be live, and the candidate must not belong
// to any committed account. The new-email cooldown is independent of the
// old-email one.
func (e *Engine) RequestNewEmailCode(ctx context.Context, oldProofToken, newEmail string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}

	record, err := e.proofs.Validate(ctx, oldProofToken, PurposeEmailChangeOld)
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
		e.emitAudit(ctx, "email_change_new_request", WorkflowEmailChangeNew, record.Subject, ErrEmailTaken, nil)
		return ErrEmailTaken
	}

	sealed, err := e.emails.Seal(newEmail)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	return e.issueCode(ctx, WorkflowEmailChangeNew, record.Subject, newEmail, sealed)
}

// VerifyNewEmailCode consumes the candidate-email code and issues the
// second proof of the chain (session B) — but only while session A is still
// live. A revoked or expired session A fails this step even when the code
// itself was correct.
func (e *Engine) VerifyNewEmailCode(ctx context.Context, oldProofToken, code string) (Proof, error) {
	if e == nil || e.directory == nil {
		return Proof{}, ErrEngineNotReady
	}

	record, err := e.proofs.Validate(ctx, oldProofToken, PurposeEmailChangeOld)
	if err != nil {
		return Proof{}, err
	}

	codeRecord, err := e.consumeCode(ctx, WorkflowEmailChangeNew, record.Subject, code)
	if err != nil {
		return Proof{}, err
	}

	proof, err := e.proofs.Issue(ctx, PurposeEmailChangeNew, record.Subject, codeRecord.Payload, e.config.Proofs.ttlFor(PurposeEmailChangeNew))
	if err != nil {
		return Proof{}, err
	}

	e.emitAudit(ctx, "email_change_new_verified", WorkflowEmailChangeNew, record.Subject, nil, nil)
	return proof, nil
}

// CompleteEmailChange commits the new address. Both proofs must be valid
// simultaneously and belong to the same subject. The directory appends the
// old sealed email to history and invalidates the user's long-lived
// sessions, forcing re-login after a credentials-adjacent change. Cleanup
// is total: both proofs and any leftover codes go away.
func (e *Engine) CompleteEmailChange(ctx context.Context, oldProofToken, newProofToken string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}

	recordA, err := e.proofs.Validate(ctx, oldProofToken, PurposeEmailChangeOld)
	if err != nil {
		return err
	}
	recordB, err := e.proofs.Validate(ctx, newProofToken, PurposeEmailChangeNew)
	if err != nil {
		return err
	}
	if recordA.Subject != recordB.Subject {
		return ErrInvalidToken
	}

	newEmail, err := e.emails.Open(recordB.Payload)
	if err != nil {
		return ErrInvalidToken
	}
	idx := e.emails.Index(newEmail)

	// Re-check: the address may have been committed elsewhere while the
	// chain was in flight.
	inUse, err := e.directory.EmailInUse(ctx, idx)
	if err != nil {
		return mapDirectoryErr(err)
	}
	if inUse {
		return ErrEmailTaken
	}

	if err := e.directory.UpdateEmail(ctx, recordA.Subject, recordB.Payload, idx); err != nil {
		return mapDirectoryErr(err)
	}

	if err := e.proofs.Revoke(ctx, PurposeEmailChangeOld, recordA.Subject); err != nil {
		return err
	}
	if err := e.proofs.Revoke(ctx, PurposeEmailChangeNew, recordA.Subject); err != nil {
		return err
	}
	_ = e.codes.Delete(ctx, WorkflowEmailChangeOld, recordA.Subject)
	_ = e.codes.Delete(ctx, WorkflowEmailChangeNew, recordA.Subject)

	e.emitAudit(ctx, "email_change_completed", WorkflowEmailChangeNew, recordA.Subject, nil, nil)
	return nil
}
