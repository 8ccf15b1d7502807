package authcore_test

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	ac "github.com/panyam/authcore"
	"github.com/panyam/authcore/stores/fs"
)

func newTestEngine(t *testing.T) (*ac.OTPEngine, *testClock) {
	t.Helper()
	clock := newTestClock()
	return &ac.OTPEngine{
		Store:       fs.NewFSStore(t.TempDir()),
		Hasher:      ac.BcryptHasher{Cost: 4},
		MaxAttempts: 5,
		Now:         clock.Now,
	}, clock
}

func TestGenerateOTP(t *testing.T) {
	pattern := regexp.MustCompile(`^[0-9]{6}$`)
	for i := 0; i < 200; i++ {
		code, err := ac.GenerateOTP()
		if err != nil {
			t.Fatalf("GenerateOTP() error = %v", err)
		}
		if !pattern.MatchString(code) {
			t.Fatalf("GenerateOTP() = %q, want 6 digits", code)
		}
	}
}

func TestOTPEngine_SingleUse(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	code, err := engine.Issue(ctx, "u1", ac.PurposeLogin, 10*time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	outcome, err := engine.VerifyAndConsume(ctx, "u1", ac.PurposeLogin, code)
	if err != nil || outcome != ac.OutcomeOK {
		t.Fatalf("first verify = %v, %v; want ok", outcome, err)
	}
	outcome, err = engine.VerifyAndConsume(ctx, "u1", ac.PurposeLogin, code)
	if err != nil || outcome != ac.OutcomeInvalid {
		t.Errorf("second verify = %v, %v; want invalid", outcome, err)
	}
}

func TestOTPEngine_PurposeIsolation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	code, err := engine.Issue(ctx, "u1", ac.PurposeLogin, 10*time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if outcome, _ := engine.VerifyAndConsume(ctx, "u1", ac.PurposeReset, code); outcome != ac.OutcomeInvalid {
		t.Errorf("login code used for reset = %v, want invalid", outcome)
	}
	if outcome, _ := engine.VerifyAndConsume(ctx, "u2", ac.PurposeLogin, code); outcome != ac.OutcomeInvalid {
		t.Errorf("login code used by another user = %v, want invalid", outcome)
	}
}

func TestOTPEngine_ExpiryBoundary(t *testing.T) {
	tests := []struct {
		name    string
		advance time.Duration
		want    ac.Outcome
	}{
		{"well within ttl", time.Minute, ac.OutcomeOK},
		{"exactly at expiry", 10 * time.Minute, ac.OutcomeOK},
		{"one second past expiry", 10*time.Minute + time.Second, ac.OutcomeExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, clock := newTestEngine(t)
			ctx := context.Background()
			code, err := engine.Issue(ctx, "u1", ac.PurposeLogin, 10*time.Minute)
			if err != nil {
				t.Fatalf("Issue() error = %v", err)
			}
			clock.Advance(tt.advance)
			outcome, err := engine.VerifyAndConsume(ctx, "u1", ac.PurposeLogin, code)
			if err != nil {
				t.Fatalf("VerifyAndConsume() error = %v", err)
			}
			if outcome != tt.want {
				t.Errorf("outcome = %v, want %v", outcome, tt.want)
			}
		})
	}
}

func TestOTPEngine_AttemptLimit(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	code, err := engine.Issue(ctx, "u1", ac.PurposeLogin, 10*time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	for i := 1; i <= 5; i++ {
		outcome, err := engine.VerifyAndConsume(ctx, "u1", ac.PurposeLogin, wrong)
		if err != nil || outcome != ac.OutcomeInvalid {
			t.Fatalf("attempt %d = %v, %v; want invalid", i, outcome, err)
		}
	}

	// The correct code no longer helps
	outcome, err := engine.VerifyAndConsume(ctx, "u1", ac.PurposeLogin, code)
	if err != nil || outcome != ac.OutcomeTooManyAttempts {
		t.Errorf("sixth attempt = %v, %v; want too_many_attempts", outcome, err)
	}
}

func TestOTPEngine_LatestCodeWins(t *testing.T) {
	engine, clock := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.Issue(ctx, "u1", ac.PurposeLogin, 10*time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	clock.Advance(time.Second)
	second, err := engine.Issue(ctx, "u1", ac.PurposeLogin, 10*time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if first == second {
		t.Skip("codes collided")
	}

	if outcome, _ := engine.VerifyAndConsume(ctx, "u1", ac.PurposeLogin, first); outcome != ac.OutcomeInvalid {
		t.Errorf("superseded code = %v, want invalid", outcome)
	}
	if outcome, _ := engine.VerifyAndConsume(ctx, "u1", ac.PurposeLogin, second); outcome != ac.OutcomeOK {
		t.Errorf("latest code = %v, want ok", outcome)
	}
}

func TestOTPEngine_ConcurrentVerifyHasOneWinner(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.MaxAttempts = 10
	ctx := context.Background()

	code, err := engine.Issue(ctx, "u1", ac.PurposeLogin, 10*time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := engine.VerifyAndConsume(ctx, "u1", ac.PurposeLogin, code)
			if err != nil {
				t.Errorf("VerifyAndConsume() error = %v", err)
				return
			}
			if outcome == ac.OutcomeOK {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
}

func TestBcryptHasher(t *testing.T) {
	h := ac.BcryptHasher{Cost: 4}
	digest, err := h.Hash("123456")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if digest == "123456" {
		t.Fatal("digest must not be the plaintext")
	}
	if !h.Verify("123456", digest) {
		t.Error("Verify() rejected the right secret")
	}
	if h.Verify("654321", digest) {
		t.Error("Verify() accepted the wrong secret")
	}
	if h.Verify("anything", ac.OAuthOnlyPassword) || h.Verify("anything", "") || h.Verify("x", "not-a-hash") {
		t.Error("Verify() must treat sentinel and malformed digests as mismatches")
	}
}
