package veriflow

import (
	"net/http"
	"time"
)

// cookieNames assigns one distinct cookie per workflow purpose so chained
// proofs (email change, recovery) can ride the same request without
// clobbering each other.
var cookieNames = map[Purpose]string{
	PurposeSignupPending:  "vf_signup",
	PurposePasswordReset:  "vf_pwreset",
	PurposeEmailChangeOld: "vf_emch_old",
	PurposeEmailChangeNew: "vf_emch_new",
	PurposePasswordChange: "vf_pwchange",
	PurposeRecovery:       "vf_recovery",
	PurposeRecoveryEmail:  "vf_recovery_email",
}

// CookieName returns the cookie name assigned to a purpose, or "" for an
// unknown purpose.
func CookieName(purpose Purpose) string {
	return cookieNames[purpose]
}

// ProofCookie renders a proof as an httpOnly cookie scoped to the configured
// API path. With CrossOrigin set, SameSite=None is used, which forces the
// Secure attribute regardless of SecureCookies.
func (e *Engine) ProofCookie(proof Proof) *http.Cookie {
	sameSite := http.SameSiteStrictMode
	secure := e.config.Proofs.SecureCookies
	if e.config.Proofs.CrossOrigin {
		sameSite = http.SameSiteNoneMode
		secure = true
	}

	return &http.Cookie{
		Name:     CookieName(proof.Purpose),
		Value:    proof.Token,
		Path:     e.config.Proofs.CookiePath,
		Expires:  proof.ExpiresAt,
		MaxAge:   int(time.Until(proof.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	}
}

// ClearProofCookie renders the expired counterpart of a purpose's cookie.
// Completion handlers send one of these for every purpose the flow used,
// consumed or not.
func (e *Engine) ClearProofCookie(purpose Purpose) *http.Cookie {
	sameSite := http.SameSiteStrictMode
	secure := e.config.Proofs.SecureCookies
	if e.config.Proofs.CrossOrigin {
		sameSite = http.SameSiteNoneMode
		secure = true
	}

	return &http.Cookie{
		Name:     CookieName(purpose),
		Value:    "",
		Path:     e.config.Proofs.CookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	}
}
