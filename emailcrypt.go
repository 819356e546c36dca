package veriflow

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

var errEmailCipherKey = errors.New("email cipher requires a 32-byte key")

// emailCipher seals email addresses before they cross the UserDirectory
// boundary. Sealing is AES-256-GCM with a random nonce, so two seals of the
// same address differ; equality lookups go through a deterministic
// HMAC-SHA256 blind index instead.
type emailCipher struct {
	aead    cipher.AEAD
	hmacKey []byte
}

func newEmailCipher(key []byte) (*emailCipher, error) {
	if len(key) != 32 {
		return nil, errEmailCipherKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	// Domain-separate the index key from the sealing key.
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte("veriflow-email-index"))

	return &emailCipher{aead: aead, hmacKey: mac.Sum(nil)}, nil
}

func (c *emailCipher) Seal(email string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(email), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *emailCipher) Open(sealed string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", err
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("sealed email too short")
	}

	plaintext, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

// Index returns the deterministic blind index for an email. Addresses are
// folded to lower case first so lookups are case-insensitive.
func (c *emailCipher) Index(email string) string {
	mac := hmac.New(sha256.New, c.hmacKey)
	mac.Write([]byte(strings.ToLower(strings.TrimSpace(email))))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
