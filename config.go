package veriflow

import (
	"errors"
	"time"
)

// Config groups per-concern settings. [New] preloads [DefaultConfig];
// Validate rejects combinations the engine cannot operate with.
type Config struct {
	Codes    CodeConfig
	Resend   ResendConfig
	Proofs   ProofConfig
	Recovery RecoveryConfig
	Password PasswordPolicyConfig
	Audit    AuditConfig

	// KeyPrefix namespaces every Redis key the engine writes. Multiple
	// engines may share one Redis as long as their prefixes differ.
	KeyPrefix string
}

/*
====================================
ONE-TIME CODE CONFIG
====================================
*/

// CodeConfig controls one-time code generation and verification.
type CodeConfig struct {
	// OTPDigits is the length of numeric email codes. 6 to 10.
	OTPDigits int
	// TTL bounds how long an issued code verifies.
	TTL time.Duration
	// MaxAttempts bounds wrong-code guesses before the code is burned.
	MaxAttempts int
}

/*
====================================
RESEND GUARD CONFIG
====================================
*/

// ResendConfig controls the per-workflow issuance cooldown. A second code
// request inside the window is rejected, not queued.
type ResendConfig struct {
	// Cooldown applies to any workflow without an override.
	Cooldown time.Duration
	// PerWorkflow overrides the cooldown for specific workflows.
	PerWorkflow map[Workflow]time.Duration
}

func (c ResendConfig) cooldownFor(w Workflow) time.Duration {
	if d, ok := c.PerWorkflow[w]; ok && d > 0 {
		return d
	}
	return c.Cooldown
}

/*
====================================
PROOF TOKEN CONFIG
====================================
*/

// ProofConfig controls scoped proof tokens and their cookie transport.
type ProofConfig struct {
	// TTL applies to any purpose without an override.
	TTL time.Duration
	// PerPurpose overrides the TTL for specific purposes.
	PerPurpose map[Purpose]time.Duration

	// SigningMethod is "hs256" (default) or "ed25519".
	SigningMethod string
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string

	// CookiePath scopes proof cookies to the workflow API surface.
	CookiePath string
	// SecureCookies must stay true outside local development.
	SecureCookies bool
	// CrossOrigin switches proof cookies from SameSite=Strict to
	// SameSite=None (which forces Secure).
	CrossOrigin bool
}

func (c ProofConfig) ttlFor(p Purpose) time.Duration {
	if d, ok := c.PerPurpose[p]; ok && d > 0 {
		return d
	}
	return c.TTL
}

/*
====================================
RECOVERY CODE CONFIG
====================================
*/

// RecoveryConfig controls recovery code set generation.
type RecoveryConfig struct {
	CodeCount  int
	CodeLength int
}

/*
====================================
PASSWORD POLICY CONFIG
====================================
*/

// PasswordPolicyConfig controls local password acceptance checks. Strength
// and breach checks themselves run in the injected [PasswordService]; these
// switches decide whether their verdicts are enforced.
type PasswordPolicyConfig struct {
	// MinLength is enforced before the PasswordService is consulted.
	MinLength int
	// BreachCheck enables the PasswordService breach lookup.
	BreachCheck bool
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull sheds events under backpressure instead of blocking the
	// request path. Dropped counts are observable via Engine.AuditDropped.
	DropIfFull bool
}

// DefaultConfig returns the settings the engine ships with. Callers adjust
// what they need and pass the result to [Builder.WithConfig]; only the
// proof signing key has no usable default.
func DefaultConfig() Config {
	return Config{
		Codes: CodeConfig{
			OTPDigits:   6,
			TTL:         10 * time.Minute,
			MaxAttempts: 5,
		},
		Resend: ResendConfig{
			Cooldown: 60 * time.Second,
		},
		Proofs: ProofConfig{
			TTL:           15 * time.Minute,
			SigningMethod: "hs256",
			Issuer:        "veriflow",
			CookiePath:    "/",
			SecureCookies: true,
		},
		Recovery: RecoveryConfig{
			CodeCount:  10,
			CodeLength: 10,
		},
		Password: PasswordPolicyConfig{
			MinLength:   10,
			BreachCheck: true,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		KeyPrefix: "vf",
	}
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if c.Codes.OTPDigits < 6 || c.Codes.OTPDigits > 10 {
		return errors.New("config: OTPDigits must be between 6 and 10")
	}
	if c.Codes.TTL <= 0 {
		return errors.New("config: code TTL must be positive")
	}
	if c.Codes.MaxAttempts < 1 {
		return errors.New("config: code MaxAttempts must be at least 1")
	}
	if c.Resend.Cooldown <= 0 {
		return errors.New("config: resend cooldown must be positive")
	}
	for w, d := range c.Resend.PerWorkflow {
		if d <= 0 {
			return errors.New("config: resend cooldown override for " + string(w) + " must be positive")
		}
	}
	if c.Proofs.TTL <= 0 {
		return errors.New("config: proof TTL must be positive")
	}
	switch c.Proofs.SigningMethod {
	case "hs256", "ed25519":
	default:
		return errors.New("config: unsupported proof signing method")
	}
	if len(c.Proofs.PrivateKey) == 0 {
		return errors.New("config: proof signing key required")
	}
	if c.Recovery.CodeCount < 1 || c.Recovery.CodeCount > 32 {
		return errors.New("config: recovery CodeCount must be between 1 and 32")
	}
	if c.Recovery.CodeLength < 8 || c.Recovery.CodeLength > 32 {
		return errors.New("config: recovery CodeLength must be between 8 and 32")
	}
	if c.Password.MinLength < 8 {
		return errors.New("config: password MinLength must be at least 8")
	}
	if c.KeyPrefix == "" {
		return errors.New("config: KeyPrefix required")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Resend.PerWorkflow != nil {
		out.Resend.PerWorkflow = make(map[Workflow]time.Duration, len(cfg.Resend.PerWorkflow))
		for k, v := range cfg.Resend.PerWorkflow {
			out.Resend.PerWorkflow[k] = v
		}
	}
	if cfg.Proofs.PerPurpose != nil {
		out.Proofs.PerPurpose = make(map[Purpose]time.Duration, len(cfg.Proofs.PerPurpose))
		for k, v := range cfg.Proofs.PerPurpose {
			out.Proofs.PerPurpose[k] = v
		}
	}
	out.Proofs.PrivateKey = append([]byte(nil), cfg.Proofs.PrivateKey...)
	out.Proofs.PublicKey = append([]byte(nil), cfg.Proofs.PublicKey...)
	return out
}
