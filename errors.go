package veriflow

import "errors"

// Category sentinels. Every error returned by an Engine method matches
// exactly one of these under errors.Is; HTTP boundaries map them to status
// codes (400, 404, 409, 401, 429, 500 respectively).
var (
	// ErrInvalidInput reports malformed caller input (bad email format,
	// empty field, short password).
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound reports an unknown identity. Flows that must resist
	// enumeration return ErrInvalidProof instead.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a duplicate email/username or a collision with an
	// in-progress workflow.
	ErrConflict = errors.New("conflict")
	// ErrInvalidProof reports a bad, expired, consumed, or wrong-purpose
	// code or token. The client-visible shape is identical for all of those
	// cases.
	ErrInvalidProof = errors.New("invalid proof")
	// ErrThrottled reports an active resend cooldown.
	ErrThrottled = errors.New("throttled")
	// ErrUpstream reports an unreachable store or directory. Terminal
	// commits that fail upstream leave proof artifacts intact.
	ErrUpstream = errors.New("upstream failure")
)

// Flow-specific sentinels. Each wraps a category sentinel so callers can
// branch on either the precise condition or the coarse category.
var (
	// ErrInvalidCredentials is returned by Login for a wrong email/password
	// pair.
	ErrInvalidCredentials = wrap("invalid credentials", ErrInvalidProof)
	// ErrInvalidCode is returned when a one-time code is wrong, expired,
	// already consumed, or was never issued.
	ErrInvalidCode = wrap("invalid or expired code", ErrInvalidProof)
	// ErrInvalidToken is returned when a proof token fails signature,
	// expiry, purpose, or server-side artifact checks.
	ErrInvalidToken = wrap("invalid or expired proof token", ErrInvalidProof)
	// ErrResendLocked is returned when a code is requested inside the
	// cooldown window of a previous issuance.
	ErrResendLocked = wrap("code recently sent, retry later", ErrThrottled)
	// ErrSignupInProgress is returned when a signup is requested for an
	// email that already has a live signup-pending proof.
	ErrSignupInProgress = wrap("signup already in progress", ErrConflict)
	// ErrEmailTaken is returned when an email already belongs to a
	// committed account.
	ErrEmailTaken = wrap("email already in use", ErrConflict)
	// ErrUsernameTaken is returned when a username is not available.
	ErrUsernameTaken = wrap("username already in use", ErrConflict)
	// ErrPasswordPolicy is returned when a new password fails the strength
	// or breach check.
	ErrPasswordPolicy = wrap("password does not meet policy", ErrInvalidInput)
	// ErrPasswordReused is returned when a new password matches the current
	// hash or any retained previous hash.
	ErrPasswordReused = wrap("password previously used", ErrConflict)
	// ErrSamePassword is returned by password change when old and new
	// passwords are equal.
	ErrSamePassword = wrap("new password must differ from old", ErrInvalidInput)
	// ErrRecoveryCodeInvalid is returned when no unused recovery code
	// matches the claimed identity. Shape-identical to an unknown email to
	// resist enumeration.
	ErrRecoveryCodeInvalid = wrap("invalid recovery code", ErrInvalidProof)
	// ErrEngineNotReady is returned when a required collaborator was not
	// supplied to the Builder.
	ErrEngineNotReady = errors.New("engine not fully configured")
)

// wrappedError pairs a flow-specific message with its category sentinel so
// errors.Is matches both.
type wrappedError struct {
	msg      string
	category error
}

func (e *wrappedError) Error() string { return e.msg }
func (e *wrappedError) Unwrap() error { return e.category }

func wrap(msg string, category error) error {
	return &wrappedError{msg: msg, category: category}
}
