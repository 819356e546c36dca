package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const proofSecretSize = 32

// RecoveryAlphabet excludes visually ambiguous characters (0/O, 1/I/L).
const RecoveryAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewOTP returns a numeric one-time code of the given length drawn from
// crypto/rand.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	otp := b.String()
	if len(otp) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return otp, nil
}

// NewRecoveryCode returns a single code of the given length drawn from
// RecoveryAlphabet.
func NewRecoveryCode(length int) (string, error) {
	if length < 8 || length > 32 {
		return "", errors.New("invalid recovery code length")
	}

	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(int64(len(RecoveryAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(RecoveryAlphabet[n.Int64()])
	}

	return b.String(), nil
}

// NewRecoveryCodeSet returns count unique codes. Collisions are retried;
// with a 32-character alphabet and length >= 8 a retry is vanishingly rare.
func NewRecoveryCodeSet(count, length int) ([]string, error) {
	if count < 1 || count > 64 {
		return nil, errors.New("invalid recovery code count")
	}

	seen := make(map[string]struct{}, count)
	codes := make([]string, 0, count)
	for len(codes) < count {
		code, err := NewRecoveryCode(length)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}

	return codes, nil
}

// NewProofSecret returns the random secret bound into a proof token and,
// hashed, into its server-side artifact.
func NewProofSecret() ([proofSecretSize]byte, error) {
	var secret [proofSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashSecret is the at-rest form of proof secrets and one-time codes.
func HashSecret(secret []byte) [32]byte {
	return sha256.Sum256(secret)
}

// EncodeProofSecret renders a proof secret for embedding in a token claim.
func EncodeProofSecret(secret [proofSecretSize]byte) string {
	return base64.RawURLEncoding.EncodeToString(secret[:])
}

// DecodeProofSecret reverses EncodeProofSecret.
func DecodeProofSecret(encoded string) ([proofSecretSize]byte, error) {
	var secret [proofSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return secret, err
	}
	if len(raw) != proofSecretSize {
		return secret, errors.New("invalid proof secret size")
	}

	copy(secret[:], raw)
	return secret, nil
}
