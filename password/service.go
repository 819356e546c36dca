package password

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"
)

const pwnedRangeURL = "https://api.pwnedpasswords.com/range/"

// Service is the default PasswordService implementation: an argon2id
// hasher, a local strength policy, and an optional breach lookup.
type Service struct {
	hasher    *Argon2
	minLength int
	breach    *BreachClient
}

// NewService composes a Service. breach may be nil to disable lookups.
func NewService(hasher *Argon2, minLength int, breach *BreachClient) (*Service, error) {
	if hasher == nil {
		return nil, errors.New("password service requires a hasher")
	}
	if minLength < minPassBytes {
		minLength = minPassBytes
	}
	return &Service{hasher: hasher, minLength: minLength, breach: breach}, nil
}

// IsStrong applies the local policy: minimum length plus at least one
// letter and one digit.
func (s *Service) IsStrong(password string) bool {
	if len(password) < s.minLength {
		return false
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return hasLetter && hasDigit
}

// IsBreached checks the breach corpus. Lookup failures degrade to
// (false, nil): availability of signup must not hinge on a third-party API.
func (s *Service) IsBreached(ctx context.Context, password string) (bool, error) {
	if s.breach == nil {
		return false, nil
	}
	breached, err := s.breach.Lookup(ctx, password)
	if err != nil {
		return false, nil
	}
	return breached, nil
}

// Hash derives an argon2id PHC string.
func (s *Service) Hash(password string) (string, error) {
	return s.hasher.Hash(password)
}

// Verify checks password against an argon2id PHC string.
func (s *Service) Verify(password, hash string) (bool, error) {
	return s.hasher.Verify(password, hash)
}

// BreachClient queries the Pwned Passwords range API by SHA-1 prefix, so
// the full password hash never leaves the process (k-anonymity).
type BreachClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewBreachClient returns a client with a bounded request timeout.
func NewBreachClient(timeout time.Duration) *BreachClient {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &BreachClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    pwnedRangeURL,
	}
}

// Lookup reports whether password appears in the breach corpus.
func (c *BreachClient) Lookup(ctx context.Context, password string) (bool, error) {
	sum := sha1.Sum([]byte(password))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix, suffix := digest[:5], digest[5:]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+prefix, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Add-Padding", "true")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("breach range lookup: status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		candidate, _, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(candidate, suffix) {
			// Padded responses list fake suffixes with count 0.
			_, count, _ := strings.Cut(line, ":")
			if strings.TrimSpace(count) != "0" {
				return true, nil
			}
		}
	}
	return false, scanner.Err()
}
