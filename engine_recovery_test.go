package veriflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fluxauth/veriflow/internal"
)

func TestGenerateRecoveryCodes(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, directory, _ := newTestEngine(t, rdb)
	ctx := context.Background()

	seeded := seedIdentity(t, engine, directory, "a@x.com", "bob", "Str0ngPassw0rd")

	codes, err := engine.GenerateRecoveryCodes(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GenerateRecoveryCodes failed: %v", err)
	}
	if len(codes) != engine.config.Recovery.CodeCount {
		t.Fatalf("got %d codes, want %d", len(codes), engine.config.Recovery.CodeCount)
	}

	seen := map[string]bool{}
	for _, code := range codes {
		if len(code) != engine.config.Recovery.CodeLength {
			t.Fatalf("code %q has wrong length", code)
		}
		for _, r := range code {
			if !strings.ContainsRune(internal.RecoveryAlphabet, r) {
				t.Fatalf("code %q contains %q outside the alphabet", code, r)
			}
		}
		if seen[code] {
			t.Fatalf("duplicate code %q in set", code)
		}
		seen[code] = true
	}
}

func TestGenerateRecoveryCodesReplacesOldSet(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, directory, _ := newTestEngine(t, rdb)
	ctx := context.Background()

	seeded := seedIdentity(t, engine, directory, "a@x.com", "bob", "Str0ngPassw0rd")

	oldCodes, err := engine.GenerateRecoveryCodes(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("first generation failed: %v", err)
	}
	if _, err := engine.GenerateRecoveryCodes(ctx, seeded.ID); err != nil {
		t.Fatalf("second generation failed: %v", err)
	}

	if _, err := engine.BeginRecovery(ctx, "a@x.com", oldCodes[0]); !errors.Is(err, ErrRecoveryCodeInvalid) {
		t.Fatalf("replaced code still accepted: %v", err)
	}
}

func TestRecoveryFlowSuccess(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, directory, sender := newTestEngine(t, rdb)
	ctx := context.Background()

	seeded := seedIdentity(t, engine, directory, "lost@x.com", "bob", "OldPassw0rd1")
	codes, err := engine.GenerateRecoveryCodes(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GenerateRecoveryCodes failed: %v", err)
	}

	proofA, err := engine.BeginRecovery(ctx, "lost@x.com", codes[0])
	if err != nil {
		t.Fatalf("BeginRecovery failed: %v", err)
	}
	if proofA.Purpose != PurposeRecovery || proofA.Subject != seeded.ID {
		t.Fatalf("unexpected proof: %+v", proofA)
	}

	if err := engine.RequestRecoveryEmail(ctx, proofA.Token, "fresh@x.com"); err != nil {
		t.Fatalf("RequestRecoveryEmail failed: %v", err)
	}
	code := waitForCode(t, sender, "fresh@x.com")

	proofB, err := engine.VerifyRecoveryEmailCode(ctx, proofA.Token, code)
	if err != nil {
		t.Fatalf("VerifyRecoveryEmailCode failed: %v", err)
	}

	if err := engine.CompleteRecovery(ctx, proofA.Token, proofB.Token, "NewPassw0rd1"); err != nil {
		t.Fatalf("CompleteRecovery failed: %v", err)
	}

	// Email and password both rotated in one commit.
	if _, err := engine.Login(ctx, "fresh@x.com", "NewPassw0rd1"); err != nil {
		t.Fatalf("recovered credentials rejected: %v", err)
	}
	if _, err := engine.Login(ctx, "lost@x.com", "NewPassw0rd1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("lost email still logs in: %v", err)
	}
	if err := engine.CompleteRecovery(ctx, proofA.Token, proofB.Token, "Anoth3rPassw0rd"); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("expected invalid proof on replay, got %v", err)
	}
}

func TestRecoveryCodeSingleUse(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, directory, _ := newTestEngine(t, rdb)
	ctx := context.Background()

	seeded := seedIdentity(t, engine, directory, "lost@x.com", "bob", "OldPassw0rd1")
	codes, err := engine.GenerateRecoveryCodes(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GenerateRecoveryCodes failed: %v", err)
	}

	if _, err := engine.BeginRecovery(ctx, "lost@x.com", codes[0]); err != nil {
		t.Fatalf("first BeginRecovery failed: %v", err)
	}
	// The code burned at Begin, even though the flow never completed.
	if _, err := engine.BeginRecovery(ctx, "lost@x.com", codes[0]); !errors.Is(err, ErrRecoveryCodeInvalid) {
		t.Fatalf("expected burned code rejection, got %v", err)
	}
	// The remaining codes are untouched.
	if _, err := engine.BeginRecovery(ctx, "lost@x.com", codes[1]); err != nil {
		t.Fatalf("second code rejected: %v", err)
	}
}

func TestRecoveryCodeInputNormalization(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, directory, _ := newTestEngine(t, rdb)
	ctx := context.Background()

	seeded := seedIdentity(t, engine, directory, "lost@x.com", "bob", "OldPassw0rd1")
	codes, err := engine.GenerateRecoveryCodes(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GenerateRecoveryCodes failed: %v", err)
	}

	// Lowercase with a grouping hyphen, the way users retype printed codes.
	mangled := strings.ToLower(codes[0][:5] + "-" + codes[0][5:])
	if _, err := engine.BeginRecovery(ctx, "lost@x.com", mangled); err != nil {
		t.Fatalf("normalized code rejected: %v", err)
	}
}

func TestRecoveryUnknownEmailIndistinguishable(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, directory, _ := newTestEngine(t, rdb)
	ctx := context.Background()

	seeded := seedIdentity(t, engine, directory, "lost@x.com", "bob", "OldPassw0rd1")
	if _, err := engine.GenerateRecoveryCodes(ctx, seeded.ID); err != nil {
		t.Fatalf("GenerateRecoveryCodes failed: %v", err)
	}

	_, errUnknown := engine.BeginRecovery(ctx, "nobody@x.com", "AAAAAAAAAA")
	_, errWrong := engine.BeginRecovery(ctx, "lost@x.com", "AAAAAAAAAA")

	if !errors.Is(errUnknown, ErrRecoveryCodeInvalid) || !errors.Is(errWrong, ErrRecoveryCodeInvalid) {
		t.Fatalf("expected invalid recovery code for both, got %v / %v", errUnknown, errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatalf("enumeration leak: %q vs %q", errUnknown, errWrong)
	}
}

func TestRecoveryByPreviousEmail(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, directory, sender := newTestEngine(t, rdb)
	ctx := context.Background()

	seeded := seedIdentity(t, engine, directory, "old@x.com", "bob", "Str0ngPassw0rd")
	codes, err := engine.GenerateRecoveryCodes(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GenerateRecoveryCodes failed: %v", err)
	}

	// The account's address moves on; a hijacked email change is exactly
	// the case recovery must survive.
	proofA, proofB := runEmailChangeToSessionB(t, engine, sender, seeded.ID, "old@x.com", "stolen@x.com")
	if err := engine.CompleteEmailChange(ctx, proofA.Token, proofB.Token); err != nil {
		t.Fatalf("CompleteEmailChange failed: %v", err)
	}

	if _, err := engine.BeginRecovery(ctx, "old@x.com", codes[0]); err != nil {
		t.Fatalf("recovery via previous email failed: %v", err)
	}
}

func TestRecoveryReplacementEmailTaken(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, directory, _ := newTestEngine(t, rdb)
	ctx := context.Background()

	seeded := seedIdentity(t, engine, directory, "lost@x.com", "bob", "OldPassw0rd1")
	seedIdentity(t, engine, directory, "taken@x.com", "eve", "OldPassw0rd1")
	codes, err := engine.GenerateRecoveryCodes(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GenerateRecoveryCodes failed: %v", err)
	}

	proofA, err := engine.BeginRecovery(ctx, "lost@x.com", codes[0])
	if err != nil {
		t.Fatalf("BeginRecovery failed: %v", err)
	}

	if err := engine.RequestRecoveryEmail(ctx, proofA.Token, "taken@x.com"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected email taken, got %v", err)
	}
}

func TestRecoveryFailedCommitKeepsProofs(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, directory, sender := newTestEngine(t, rdb)
	ctx := context.Background()

	seeded := seedIdentity(t, engine, directory, "lost@x.com", "bob", "OldPassw0rd1")
	codes, err := engine.GenerateRecoveryCodes(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GenerateRecoveryCodes failed: %v", err)
	}

	proofA, err := engine.BeginRecovery(ctx, "lost@x.com", codes[0])
	if err != nil {
		t.Fatalf("BeginRecovery failed: %v", err)
	}
	if err := engine.RequestRecoveryEmail(ctx, proofA.Token, "fresh@x.com"); err != nil {
		t.Fatalf("RequestRecoveryEmail failed: %v", err)
	}
	code := waitForCode(t, sender, "fresh@x.com")
	proofB, err := engine.VerifyRecoveryEmailCode(ctx, proofA.Token, code)
	if err != nil {
		t.Fatalf("VerifyRecoveryEmailCode failed: %v", err)
	}

	directory.failOn("CommitRecovery")
	if err := engine.CompleteRecovery(ctx, proofA.Token, proofB.Token, "NewPassw0rd1"); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected upstream failure, got %v", err)
	}

	directory.failOn("")
	if err := engine.CompleteRecovery(ctx, proofA.Token, proofB.Token, "NewPassw0rd1"); err != nil {
		t.Fatalf("retry after upstream recovery failed: %v", err)
	}
}
