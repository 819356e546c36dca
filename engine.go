package veriflow

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/fluxauth/veriflow/internal"
)

// Engine runs the identity workflow state machines. Build one through
// [Builder]; it is immutable and safe for concurrent use afterwards. All
// cross-request state lives in Redis, so any number of Engine instances may
// serve the same workflows behind a load balancer.
type Engine struct {
	config    Config
	codes     *codeStore
	guard     *resendGuard
	proofs    *proofIssuer
	directory UserDirectory
	passwords PasswordService
	sender    CodeSender
	binder    SessionBinder
	emails    *emailCipher
	audit     *auditDispatcher
}

// Close flushes and stops the audit dispatcher. The Redis client is owned
// by the caller and is not touched.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were shed under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	workflow Workflow,
	subject string,
	failure error,
	metadata map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		Workflow:  string(workflow),
		Subject:   subject,
		IP:        clientIPFromContext(ctx),
		Success:   failure == nil,
		Metadata:  metadata,
	}
	if failure != nil {
		event.Error = failure.Error()
	}

	e.audit.Emit(ctx, event)
}

// issueCode runs the shared (re)send step: cooldown check, code generation,
// artifact write, lock reset, async delivery. Overwriting any previous code
// for the scope is deliberate; the old code stops verifying the moment the
// new one is saved.
func (e *Engine) issueCode(ctx context.Context, workflow Workflow, subject, email, payload string) error {
	locked, err := e.guard.IsLocked(ctx, workflow, subject)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if locked {
		e.emitAudit(ctx, "code_request", workflow, subject, ErrResendLocked, nil)
		return ErrResendLocked
	}

	code, err := internal.NewOTP(e.config.Codes.OTPDigits)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	record := &oneTimeCodeRecord{
		Subject:   subject,
		CodeHash:  internal.HashSecret([]byte(code)),
		ExpiresAt: time.Now().Add(e.config.Codes.TTL).Unix(),
		Payload:   payload,
	}
	if err := e.codes.Save(ctx, workflow, subject, record, e.config.Codes.TTL); err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if err := e.guard.Lock(ctx, workflow, subject, e.config.Resend.cooldownFor(workflow)); err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	e.sendCodeAsync(ctx, workflow, subject, email, code)
	e.emitAudit(ctx, "code_request", workflow, subject, nil, nil)
	return nil
}

// sendCodeAsync fires delivery without blocking the response. A failed send
// is audited; it never becomes the request's failure.
func (e *Engine) sendCodeAsync(ctx context.Context, workflow Workflow, subject, email, code string) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	go func() {
		defer cancel()
		if err := e.sender.SendCode(sendCtx, email, workflow, code); err != nil {
			e.emitAudit(sendCtx, "code_send", workflow, subject, err, nil)
		}
	}()
}

// consumeCode verifies and burns the code for (workflow, subject). All
// failure modes collapse to ErrInvalidCode for the caller; the audit trail
// keeps the distinction.
func (e *Engine) consumeCode(ctx context.Context, workflow Workflow, subject, code string) (*oneTimeCodeRecord, error) {
	record, err := e.codes.Consume(ctx, workflow, subject, internal.HashSecret([]byte(code)), e.config.Codes.MaxAttempts)
	if err != nil {
		switch {
		case errors.Is(err, errCodeNotFound), errors.Is(err, errCodeMismatch), errors.Is(err, errCodeAttemptsExceeded):
			e.emitAudit(ctx, "code_verify", workflow, subject, err, nil)
			return nil, ErrInvalidCode
		default:
			return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
	}

	e.emitAudit(ctx, "code_verify", workflow, subject, nil, nil)
	return record, nil
}

// checkNewPassword gates every password commit. The local strength verdict
// and the breach lookup have no data dependency, so they run concurrently
// and join before branching.
func (e *Engine) checkNewPassword(ctx context.Context, password string) error {
	if len(password) < e.config.Password.MinLength {
		return ErrPasswordPolicy
	}

	strongCh := make(chan bool, 1)
	go func() {
		strongCh <- e.passwords.IsStrong(password)
	}()

	var breached bool
	if e.config.Password.BreachCheck {
		// IsBreached degrades to false on lookup failure by contract.
		breached, _ = e.passwords.IsBreached(ctx, password)
	}

	if !<-strongCh || breached {
		return ErrPasswordPolicy
	}
	return nil
}

// rejectReusedPassword enforces the password-history rule for an existing
// identity.
func (e *Engine) rejectReusedPassword(ctx context.Context, userID, candidate string) error {
	reused, err := e.directory.PasswordHistoryContains(ctx, userID, candidate)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if reused {
		return ErrPasswordReused
	}
	return nil
}

func validateEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" || len(email) > 254 {
		return "", fmt.Errorf("%w: email", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: email", ErrInvalidInput)
	}
	return strings.ToLower(email), nil
}

func validateUsername(username string) error {
	if len(username) < 3 || len(username) > 32 {
		return fmt.Errorf("%w: username", ErrInvalidInput)
	}
	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.':
		default:
			return fmt.Errorf("%w: username", ErrInvalidInput)
		}
	}
	return nil
}

// mapDirectoryErr normalizes collaborator failures so no upstream detail
// reaches a client-visible result.
func mapDirectoryErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}
