package authcore_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	ac "github.com/panyam/authcore"
)

func registerBody(email string) map[string]string {
	return map[string]string{"name": "Alice", "email": email, "password": "password123"}
}

func TestRegistration_Scenario(t *testing.T) {
	env := newTestEnv(t)
	email := "alice@example.com"

	rec := env.do(http.MethodPost, "/auth/register", registerBody("  Alice@Example.com "))
	if rec.Code != http.StatusOK {
		t.Fatalf("register: status %d, body %s", rec.Code, rec.Body.String())
	}
	firstCode := env.Notifier.last("register", email)
	if firstCode == "" {
		t.Fatal("no registration code was sent")
	}
	if _, err := env.Store.GetUserByEmail(context.Background(), email); !errors.Is(err, ac.ErrNotFound) {
		t.Fatalf("no user may exist before verification, got err = %v", err)
	}

	// A second registration while the first is pending conflicts
	rec = env.do(http.MethodPost, "/auth/register", registerBody(email))
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate register: status %d, want 409", rec.Code)
	}

	wrong := "000000"
	if firstCode == wrong {
		wrong = "111111"
	}
	for i := 1; i <= 5; i++ {
		rec = env.do(http.MethodPost, "/auth/register/verify", map[string]string{"email": email, "otp": wrong})
		if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != ac.ErrCodeInvalidOTP {
			t.Fatalf("wrong attempt %d: status %d, body %s", i, rec.Code, rec.Body.String())
		}
	}
	rec = env.do(http.MethodPost, "/auth/register/verify", map[string]string{"email": email, "otp": firstCode})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("sixth attempt: status %d, want 429", rec.Code)
	}

	rec = env.do(http.MethodPost, "/auth/register/resend", map[string]string{"email": email})
	if rec.Code != http.StatusOK {
		t.Fatalf("resend: status %d, body %s", rec.Code, rec.Body.String())
	}
	newCode := env.Notifier.last("register", email)

	rec = env.do(http.MethodPost, "/auth/register/verify", map[string]string{"email": email, "otp": newCode})
	if rec.Code != http.StatusCreated {
		t.Fatalf("verify: status %d, body %s", rec.Code, rec.Body.String())
	}
	if c := findCookie(rec, "session"); c == nil || c.Value == "" || !c.HttpOnly {
		t.Error("verify must set an HttpOnly session cookie")
	}
	user := decodeBody(t, rec)["user"].(map[string]any)
	if user["email"] != email || user["email_verified"] != true || user["role"] != ac.RoleUser {
		t.Errorf("unexpected user summary %v", user)
	}
	if _, ok := decodeBody(t, rec)["token"]; ok {
		t.Error("token must not be in the body unless token-in-body is on")
	}

	stored, err := env.Store.GetUserByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("user was not created: %v", err)
	}
	if !stored.EmailVerified || stored.Name != "Alice" {
		t.Errorf("unexpected stored user %+v", stored)
	}

	// Replaying the code hits the consumed record
	rec = env.do(http.MethodPost, "/auth/register/verify", map[string]string{"email": email, "otp": newCode})
	if rec.Code != http.StatusConflict || errorCode(t, rec) != ac.ErrCodeRegistrationRace {
		t.Errorf("replay: status %d, body %s", rec.Code, rec.Body.String())
	}
	rec = env.do(http.MethodPost, "/auth/register", registerBody(email))
	if rec.Code != http.StatusConflict || errorCode(t, rec) != ac.ErrCodeEmailExists {
		t.Errorf("register existing: status %d, body %s", rec.Code, rec.Body.String())
	}
	rec = env.do(http.MethodPost, "/auth/register/resend", map[string]string{"email": email})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("resend after completion: status %d, want 400", rec.Code)
	}
}

func TestRegistration_Validation(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name      string
		body      map[string]string
		wantCode  string
		wantField string
	}{
		{"missing name", map[string]string{"email": "a@example.com", "password": "password123"}, ac.ErrCodeMissingField, "name"},
		{"bad email", map[string]string{"name": "A", "email": "not-an-email", "password": "password123"}, ac.ErrCodeInvalidEmail, "email"},
		{"short password", map[string]string{"name": "A", "email": "a@example.com", "password": "short"}, ac.ErrCodeWeakPassword, "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/auth/register", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status %d, want 400", rec.Code)
			}
			body := decodeBody(t, rec)
			if body["code"] != tt.wantCode || body["field"] != tt.wantField {
				t.Errorf("got code %v field %v", body["code"], body["field"])
			}
		})
	}
	if env.Notifier.count() != 0 {
		t.Error("invalid registrations must not send codes")
	}

	rec := env.do(http.MethodPost, "/auth/register", nil, withHeader("Content-Type", "application/json"))
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != ac.ErrCodeInvalidBody {
		t.Errorf("empty body: status %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestRegistration_ExpiredPendingCanBeReplaced(t *testing.T) {
	env := newTestEnv(t)
	email := "bob@example.com"

	if rec := env.do(http.MethodPost, "/auth/register", registerBody(email)); rec.Code != http.StatusOK {
		t.Fatalf("register: status %d", rec.Code)
	}
	oldCode := env.Notifier.last("register", email)

	env.Clock.Advance(ac.DefaultOTPTTL + time.Second)
	rec := env.do(http.MethodPost, "/auth/register/verify", map[string]string{"email": email, "otp": oldCode})
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != ac.ErrCodeExpiredOTP {
		t.Fatalf("expired verify: status %d, body %s", rec.Code, rec.Body.String())
	}

	if rec := env.do(http.MethodPost, "/auth/register", registerBody(email)); rec.Code != http.StatusOK {
		t.Fatalf("re-register after expiry: status %d, body %s", rec.Code, rec.Body.String())
	}
	rec = env.do(http.MethodPost, "/auth/register/verify", map[string]string{"email": email, "otp": env.Notifier.last("register", email)})
	if rec.Code != http.StatusCreated {
		t.Errorf("verify: status %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestRegistration_NotifierFailureKeepsPending(t *testing.T) {
	env := newTestEnv(t)
	email := "carol@example.com"

	env.Notifier.setFail(true)
	rec := env.do(http.MethodPost, "/auth/register", registerBody(email))
	if rec.Code != http.StatusInternalServerError || errorCode(t, rec) != ac.ErrCodeNotifyFailed {
		t.Fatalf("register with failing notifier: status %d, body %s", rec.Code, rec.Body.String())
	}
	if _, err := env.Store.GetPendingRegistration(context.Background(), email); err != nil {
		t.Fatalf("pending registration should survive a failed send: %v", err)
	}

	env.Notifier.setFail(false)
	if rec := env.do(http.MethodPost, "/auth/register/resend", map[string]string{"email": email}); rec.Code != http.StatusOK {
		t.Fatalf("resend: status %d", rec.Code)
	}
	rec = env.do(http.MethodPost, "/auth/register/verify", map[string]string{"email": email, "otp": env.Notifier.last("register", email)})
	if rec.Code != http.StatusCreated {
		t.Errorf("verify after resend: status %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestRegistration_ConcurrentVerifyCreatesOneUser(t *testing.T) {
	env := newTestEnv(t)
	email := "dave@example.com"
	if rec := env.do(http.MethodPost, "/auth/register", registerBody(email)); rec.Code != http.StatusOK {
		t.Fatalf("register: status %d", rec.Code)
	}
	code := env.Notifier.last("register", email)

	var wg sync.WaitGroup
	statuses := make([]int, 4)
	for i := range statuses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := env.do(http.MethodPost, "/auth/register/verify", map[string]string{"email": email, "otp": code})
			statuses[i] = rec.Code
		}(i)
	}
	wg.Wait()

	created := 0
	for _, status := range statuses {
		switch status {
		case http.StatusCreated:
			created++
		case http.StatusConflict, http.StatusUnauthorized:
		default:
			t.Errorf("unexpected status %d", status)
		}
	}
	if created != 1 {
		t.Errorf("created = %d, want exactly 1 (statuses %v)", created, statuses)
	}
}
