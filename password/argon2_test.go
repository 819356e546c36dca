package password

import (
	"strings"
	"testing"
)

func testHasher(t *testing.T) *Argon2 {
	t.Helper()
	// Smallest accepted costs keep the test fast.
	hasher, err := NewArgon2(Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	return hasher
}

func TestHashAndVerify(t *testing.T) {
	hasher := testHasher(t)

	hash, err := hasher.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("unexpected format: %q", hash)
	}

	ok, err := hasher.Verify("correct horse battery", hash)
	if err != nil || !ok {
		t.Fatalf("verification of correct password failed: %v %v", ok, err)
	}
	ok, err = hasher.Verify("wrong password", hash)
	if err != nil || ok {
		t.Fatalf("wrong password must not verify: %v %v", ok, err)
	}
}

func TestHashSaltsDiffer(t *testing.T) {
	hasher := testHasher(t)

	a, err := hasher.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	b, err := hasher.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if a == b {
		t.Fatal("two hashes of the same password must differ")
	}
}

func TestHashRejectsShortPassword(t *testing.T) {
	hasher := testHasher(t)

	if _, err := hasher.Hash("short"); err == nil {
		t.Fatal("expected short password rejection")
	}
}

func TestVerifyUsesEmbeddedParams(t *testing.T) {
	strong, err := NewArgon2(DefaultConfig())
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	hash, err := strong.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	// A hasher configured with different costs must still verify hashes
	// minted under the old parameters.
	weak := testHasher(t)
	ok, err := weak.Verify("correct horse battery", hash)
	if err != nil || !ok {
		t.Fatalf("cross-parameter verification failed: %v %v", ok, err)
	}
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	hasher := testHasher(t)

	for _, bad := range []string{
		"",
		"plaintext",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!$aGFzaA",
	} {
		if _, err := hasher.Verify("whatever", bad); err == nil {
			t.Fatalf("hash %q must be rejected", bad)
		}
	}
}

func TestNewArgon2Validation(t *testing.T) {
	base := DefaultConfig()

	for name, mutate := range map[string]func(*Config){
		"memory":      func(c *Config) { c.Memory = 1024 },
		"time":        func(c *Config) { c.Time = 0 },
		"parallelism": func(c *Config) { c.Parallelism = 0 },
		"salt":        func(c *Config) { c.SaltLength = 8 },
		"key":         func(c *Config) { c.KeyLength = 8 },
	} {
		cfg := base
		mutate(&cfg)
		if _, err := NewArgon2(cfg); err == nil {
			t.Fatalf("%s below minimum must be rejected", name)
		}
	}
}
