package veriflow

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"
	"unicode"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var (
	testSigningKey = []byte("0123456789abcdef0123456789abcdef")
	testEmailKey   = []byte("fedcba9876543210fedcba9876543210")
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Proofs.PrivateKey = testSigningKey
	cfg.Proofs.SecureCookies = false
	return cfg
}

func newTestEngine(t *testing.T, rdb *redis.Client, mutate ...func(*Config)) (*Engine, *mockDirectory, *mockSender) {
	t.Helper()

	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	directory := newMockDirectory()
	sender := newMockSender()

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDirectory(directory).
		WithPasswords(&fakePasswords{}).
		WithSender(sender).
		WithSessionBinder(&fakeBinder{}).
		WithEmailKey(testEmailKey).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine, directory, sender
}

// seedIdentity creates a committed account directly in the mock directory,
// the way an already-finished signup would have left it.
func seedIdentity(t *testing.T, e *Engine, d *mockDirectory, email, username, pw string) *Identity {
	t.Helper()

	sealed, err := e.emails.Seal(email)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	identity, err := d.Create(context.Background(), CreateIdentityInput{
		EmailSealed:  sealed,
		EmailIndex:   e.emails.Index(email),
		Username:     username,
		PasswordHash: "h$" + pw,
		Verified:     true,
	})
	if err != nil {
		t.Fatalf("seed create failed: %v", err)
	}
	return identity
}

// waitForCode polls the sender for the async delivery of a code to email.
func waitForCode(t *testing.T, sender *mockSender, email string) string {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if code := sender.lastCode(email); code != "" {
			return code
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no code delivered to %s", email)
	return ""
}

/*
====================================
MOCK COLLABORATORS
====================================
*/

type fakePasswords struct {
	breached map[string]bool
}

func (f *fakePasswords) IsStrong(password string) bool {
	if len(password) < 10 {
		return false
	}
	var letter, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return letter && digit
}

func (f *fakePasswords) IsBreached(_ context.Context, password string) (bool, error) {
	return f.breached[password], nil
}

func (f *fakePasswords) Hash(password string) (string, error) {
	return "h$" + password, nil
}

func (f *fakePasswords) Verify(password, hash string) (bool, error) {
	return hash == "h$"+password, nil
}

type fakeBinder struct {
	mu    sync.Mutex
	calls int
}

func (b *fakeBinder) Establish(_ context.Context, userID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return "session-" + userID, nil
}

type mockSender struct {
	mu    sync.Mutex
	codes map[string]string
	sent  int
}

func newMockSender() *mockSender {
	return &mockSender{codes: map[string]string{}}
}

func (m *mockSender) SendCode(_ context.Context, email string, _ Workflow, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[email] = code
	m.sent++
	return nil
}

func (m *mockSender) lastCode(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[email]
}

func (m *mockSender) reset(email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.codes, email)
}

type mockDirectory struct {
	mu         sync.Mutex
	fail       string
	seq        int
	users      map[string]*Identity
	byIndex    map[string]string
	prevIndex  map[string][]string
	prevHashes map[string][]string
	recovery   map[string][]RecoveryCodeRecord
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{
		users:      map[string]*Identity{},
		byIndex:    map[string]string{},
		prevIndex:  map[string][]string{},
		prevHashes: map[string][]string{},
		recovery:   map[string][]RecoveryCodeRecord{},
	}
}

func (d *mockDirectory) FindByEmail(_ context.Context, emailIndex string) (*Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.byIndex[emailIndex]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *d.users[id]
	return &clone, nil
}

func (d *mockDirectory) FindByAnyEmail(_ context.Context, emailIndex string) (*Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.byIndex[emailIndex]; ok {
		clone := *d.users[id]
		return &clone, nil
	}
	for id, indexes := range d.prevIndex {
		for _, idx := range indexes {
			if idx == emailIndex {
				clone := *d.users[id]
				return &clone, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (d *mockDirectory) FindByID(_ context.Context, id string) (*Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	identity, ok := d.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *identity
	return &clone, nil
}

func (d *mockDirectory) Create(_ context.Context, input CreateIdentityInput) (*Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failing("Create") {
		return nil, fmt.Errorf("directory down")
	}
	if _, taken := d.byIndex[input.EmailIndex]; taken {
		return nil, ErrConflict
	}
	d.seq++
	now := time.Now()
	identity := &Identity{
		ID:           "u" + strconv.Itoa(d.seq),
		EmailSealed:  input.EmailSealed,
		EmailIndex:   input.EmailIndex,
		Username:     input.Username,
		PasswordHash: input.PasswordHash,
		Verified:     input.Verified,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	d.users[identity.ID] = identity
	d.byIndex[input.EmailIndex] = identity.ID
	clone := *identity
	return &clone, nil
}

func (d *mockDirectory) UpdateEmail(_ context.Context, id, emailSealed, emailIndex string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	identity, ok := d.users[id]
	if !ok {
		return ErrNotFound
	}
	d.prevIndex[id] = append(d.prevIndex[id], identity.EmailIndex)
	delete(d.byIndex, identity.EmailIndex)
	identity.EmailSealed = emailSealed
	identity.EmailIndex = emailIndex
	identity.UpdatedAt = time.Now()
	d.byIndex[emailIndex] = id
	return nil
}

func (d *mockDirectory) UpdatePassword(_ context.Context, id, newHash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failing("UpdatePassword") {
		return fmt.Errorf("directory down")
	}
	identity, ok := d.users[id]
	if !ok {
		return ErrNotFound
	}
	d.prevHashes[id] = append(d.prevHashes[id], identity.PasswordHash)
	identity.PasswordHash = newHash
	identity.UpdatedAt = time.Now()
	return nil
}

func (d *mockDirectory) PasswordHistoryContains(_ context.Context, id, candidate string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	identity, ok := d.users[id]
	if !ok {
		return false, ErrNotFound
	}
	candidateHash := "h$" + candidate
	if identity.PasswordHash == candidateHash {
		return true, nil
	}
	for _, h := range d.prevHashes[id] {
		if h == candidateHash {
			return true, nil
		}
	}
	return false, nil
}

func (d *mockDirectory) Delete(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	identity, ok := d.users[id]
	if !ok {
		return ErrNotFound
	}
	delete(d.byIndex, identity.EmailIndex)
	delete(d.users, id)
	return nil
}

func (d *mockDirectory) UsernameAvailable(_ context.Context, username string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, identity := range d.users {
		if identity.Username == username {
			return false, nil
		}
	}
	return true, nil
}

func (d *mockDirectory) EmailInUse(_ context.Context, emailIndex string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.byIndex[emailIndex]
	return ok, nil
}

func (d *mockDirectory) ReplaceRecoveryCodes(_ context.Context, id string, codes []RecoveryCodeRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[id]; !ok {
		return ErrNotFound
	}
	d.recovery[id] = append([]RecoveryCodeRecord(nil), codes...)
	return nil
}

func (d *mockDirectory) ConsumeRecoveryCode(_ context.Context, id string, hash [32]byte) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	codes := d.recovery[id]
	for i := range codes {
		if codes[i].Hash == hash && !codes[i].Used {
			codes[i].Used = true
			return true, nil
		}
	}
	return false, nil
}

func (d *mockDirectory) CommitRecovery(_ context.Context, id, emailSealed, emailIndex, newHash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failing("CommitRecovery") {
		return fmt.Errorf("directory down")
	}
	identity, ok := d.users[id]
	if !ok {
		return ErrNotFound
	}
	d.prevIndex[id] = append(d.prevIndex[id], identity.EmailIndex)
	d.prevHashes[id] = append(d.prevHashes[id], identity.PasswordHash)
	delete(d.byIndex, identity.EmailIndex)
	identity.EmailSealed = emailSealed
	identity.EmailIndex = emailIndex
	identity.PasswordHash = newHash
	identity.UpdatedAt = time.Now()
	d.byIndex[emailIndex] = id
	return nil
}

// failOn makes the named directory method fail until cleared, for
// exercising upstream-failure propagation.
func (d *mockDirectory) failOn(method string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = method
}

func (d *mockDirectory) failing(method string) bool {
	return d.fail == method
}
