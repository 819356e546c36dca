package veriflow

import (
	"context"
	"errors"
	"fmt"
)

// Login is the one single-step flow: verify credentials against the stored
// hash, then establish the caller-owned long-lived session. Unknown email
// and wrong password collapse to the same result.
func (e *Engine) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if e == nil || e.directory == nil {
		return nil, ErrEngineNotReady
	}

	email, err := validateEmail(email)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, fmt.Errorf("%w: password", ErrInvalidInput)
	}
	idx := e.emails.Index(email)

	identity, err := e.directory.FindByEmail(ctx, idx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.emitAudit(ctx, "login", "", idx, ErrInvalidCredentials, nil)
			return nil, ErrInvalidCredentials
		}
		return nil, mapDirectoryErr(err)
	}

	ok, err := e.passwords.Verify(password, identity.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if !ok {
		e.emitAudit(ctx, "login", "", identity.ID, ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	result := &LoginResult{Identity: identity}
	if e.binder != nil {
		// Two-phase: persist the session record first, then hand the
		// handle back. A failed establish fails the login cleanly.
		token, err := e.binder.Establish(ctx, identity.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		result.SessionToken = token
	}

	e.emitAudit(ctx, "login", "", identity.ID, nil, nil)
	return result, nil
}
