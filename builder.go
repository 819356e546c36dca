package veriflow

import (
	"errors"

	vjwt "github.com/fluxauth/veriflow/jwt"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. Construction is allocation-only; no I/O
// happens until the first Engine call. The Redis client's lifecycle belongs
// to the process entry point, never to workflow logic.
type Builder struct {
	config Config

	redis     *redis.Client
	directory UserDirectory
	passwords PasswordService
	sender    CodeSender
	binder    SessionBinder
	auditSink AuditSink
	emailKey  []byte

	built bool
}

// New returns a Builder preloaded with defaults.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the default configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis injects the shared ephemeral store client.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithDirectory injects the durable account datastore.
func (b *Builder) WithDirectory(directory UserDirectory) *Builder {
	b.directory = directory
	return b
}

// WithPasswords injects the password hashing and policy service.
func (b *Builder) WithPasswords(service PasswordService) *Builder {
	b.passwords = service
	return b
}

// WithSender injects the outbound code delivery collaborator.
func (b *Builder) WithSender(sender CodeSender) *Builder {
	b.sender = sender
	return b
}

// WithSessionBinder injects the long-lived session collaborator used by
// Login. Optional; without it Login returns no session token.
func (b *Builder) WithSessionBinder(binder SessionBinder) *Builder {
	b.binder = binder
	return b
}

// WithAuditSink injects the audit event destination.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithEmailKey injects the 32-byte key for email sealing and blind
// indexing.
func (b *Builder) WithEmailKey(key []byte) *Builder {
	b.emailKey = append([]byte(nil), key...)
	return b
}

// Build validates the configuration and wires the Engine. A Builder builds
// at most once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.directory == nil {
		return nil, errors.New("user directory required")
	}
	if b.passwords == nil {
		return nil, errors.New("password service required")
	}
	if b.sender == nil {
		return nil, errors.New("code sender required")
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	emails, err := newEmailCipher(b.emailKey)
	if err != nil {
		return nil, err
	}

	manager, err := vjwt.NewManager(vjwt.Config{
		SigningMethod: vjwt.SigningMethod(b.config.Proofs.SigningMethod),
		PrivateKey:    b.config.Proofs.PrivateKey,
		PublicKey:     b.config.Proofs.PublicKey,
		Issuer:        b.config.Proofs.Issuer,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:    b.config,
		codes:     newCodeStore(b.redis, b.config.KeyPrefix),
		guard:     newResendGuard(b.redis, b.config.KeyPrefix),
		proofs:    newProofIssuer(manager, newScopedSessionStore(b.redis, b.config.KeyPrefix)),
		directory: b.directory,
		passwords: b.passwords,
		sender:    b.sender,
		binder:    b.binder,
		emails:    emails,
		audit:     newAuditDispatcher(b.config.Audit, b.auditSink),
	}

	b.built = true
	return engine, nil
}
