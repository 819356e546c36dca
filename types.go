package veriflow

import (
	"context"
	"time"
)

// Workflow names a multi-step identity flow. It scopes one-time codes and
// resend locks so concurrent flows for the same subject never collide.
type Workflow string

const (
	// WorkflowSignup covers account creation with email verification.
	WorkflowSignup Workflow = "signup"
	// WorkflowPasswordReset covers the unauthenticated forgot-password flow.
	WorkflowPasswordReset Workflow = "password-reset"
	// WorkflowEmailChangeOld covers proof of the current email during an
	// email change.
	WorkflowEmailChangeOld Workflow = "email-change-old"
	// WorkflowEmailChangeNew covers proof of the candidate email during an
	// email change.
	WorkflowEmailChangeNew Workflow = "email-change-new"
	// WorkflowPasswordChange covers the authenticated password change flow.
	WorkflowPasswordChange Workflow = "password-change"
	// WorkflowRecoveryEmail covers proof of the replacement email during
	// account recovery.
	WorkflowRecoveryEmail Workflow = "recovery-email"
)

// Purpose tags a proof token with the single next step it may authorize.
// Cross-purpose reuse is rejected even for otherwise well-formed tokens.
type Purpose string

const (
	// PurposeSignupPending authorizes CompleteSignup.
	PurposeSignupPending Purpose = "signup-pending"
	// PurposePasswordReset authorizes CompletePasswordReset.
	PurposePasswordReset Purpose = "password-reset-authorized"
	// PurposeEmailChangeOld proves current-email ownership and authorizes
	// the new-email half of the email change flow.
	PurposeEmailChangeOld Purpose = "email-change-old-verified"
	// PurposeEmailChangeNew proves candidate-email ownership and, together
	// with PurposeEmailChangeOld, authorizes CompleteEmailChange.
	PurposeEmailChangeNew Purpose = "email-change-new-verified"
	// PurposePasswordChange authorizes CompletePasswordChange.
	PurposePasswordChange Purpose = "password-change-authorized"
	// PurposeRecovery proves possession of a recovery code and authorizes
	// the new-email half of account recovery.
	PurposeRecovery Purpose = "account-recovery-authorized"
	// PurposeRecoveryEmail proves replacement-email ownership and, together
	// with PurposeRecovery, authorizes CompleteRecovery.
	PurposeRecoveryEmail Purpose = "account-recovery-new-email-verified"
)

// Proof is a purpose-restricted bearer credential handed to the client after
// a successful verification step. The signed token is only half of the
// proof: validation also requires the matching server-side artifact, so a
// revoked proof fails even inside the token's cryptographic validity window.
type Proof struct {
	Purpose   Purpose
	Subject   string
	Token     string
	ExpiresAt time.Time
}

// Identity is the durable account record owned by the [UserDirectory].
// Emails are stored sealed (AES-GCM) with a deterministic blind index for
// equality lookups; veriflow never hands a directory a plaintext email.
type Identity struct {
	ID           string
	EmailSealed  string
	EmailIndex   string
	Username     string
	PasswordHash string
	Verified     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RecoveryCodeRecord stores the SHA-256 hash of a single recovery code and
// whether it has been consumed. The plaintext is shown once at generation
// and never persisted.
type RecoveryCodeRecord struct {
	Hash [32]byte
	Used bool
}

// CreateIdentityInput is the input for [UserDirectory.Create]. The engine
// marks signup-created identities verified, since creation only happens
// after the email proof step.
type CreateIdentityInput struct {
	EmailSealed  string
	EmailIndex   string
	Username     string
	PasswordHash string
	Verified     bool
}

// UserDirectory is the durable account datastore collaborator. Implementors
// own uniqueness, history bookkeeping, and long-lived session invalidation:
// UpdateEmail must append the old sealed email to the identity's email
// history, UpdatePassword must append the old hash to the password history,
// and both must invalidate the subject's long-lived authenticated sessions.
type UserDirectory interface {
	// FindByEmail resolves an identity by the blind index of its current
	// email. Returns ErrNotFound when no identity matches.
	FindByEmail(ctx context.Context, emailIndex string) (*Identity, error)
	// FindByAnyEmail resolves an identity whose current or any previous
	// email matches the blind index. Used only by account recovery.
	FindByAnyEmail(ctx context.Context, emailIndex string) (*Identity, error)
	FindByID(ctx context.Context, id string) (*Identity, error)
	Create(ctx context.Context, input CreateIdentityInput) (*Identity, error)
	UpdateEmail(ctx context.Context, id, emailSealed, emailIndex string) error
	UpdatePassword(ctx context.Context, id, newHash string) error
	// PasswordHistoryContains reports whether candidate matches the current
	// hash or any retained previous hash.
	PasswordHistoryContains(ctx context.Context, id, candidate string) (bool, error)
	Delete(ctx context.Context, id string) error
	UsernameAvailable(ctx context.Context, username string) (bool, error)
	EmailInUse(ctx context.Context, emailIndex string) (bool, error)
	// ReplaceRecoveryCodes swaps the identity's full recovery code set.
	ReplaceRecoveryCodes(ctx context.Context, id string, codes []RecoveryCodeRecord) error
	// ConsumeRecoveryCode marks the matching unused code as used and
	// reports whether a match existed. Matching must be atomic with the
	// used-flag write so a code cannot be redeemed twice.
	ConsumeRecoveryCode(ctx context.Context, id string, hash [32]byte) (bool, error)
	// CommitRecovery atomically replaces the identity's email and password
	// hash, with the same history and session side effects as UpdateEmail
	// and UpdatePassword combined.
	CommitRecovery(ctx context.Context, id, emailSealed, emailIndex, newHash string) error
}

// PasswordService provides hashing and policy checks as opaque primitives.
type PasswordService interface {
	IsStrong(password string) bool
	// IsBreached queries a breach corpus. Lookup failure must degrade to
	// (false, nil) rather than failing the caller's request.
	IsBreached(ctx context.Context, password string) (bool, error)
	Hash(password string) (string, error)
	Verify(password, hash string) (bool, error)
}

// CodeSender delivers one-time codes out of band. Sends are fired without
// blocking the request; failures are audited, never surfaced to the client.
type CodeSender interface {
	SendCode(ctx context.Context, email string, workflow Workflow, code string) error
}

// SessionBinder establishes the long-lived authenticated session after a
// successful login. The session store itself is out of scope; veriflow only
// needs the handle to return to the caller.
type SessionBinder interface {
	Establish(ctx context.Context, userID string) (string, error)
}

// LoginResult is returned by [Engine.Login].
type LoginResult struct {
	Identity     *Identity
	SessionToken string
}
