package authcore_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	ac "github.com/panyam/authcore"
)

func TestLogin_TwoSteps(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice@example.com", "password123", ac.RoleUser)

	tests := []struct {
		name     string
		body     map[string]string
		status   int
		wantCode string
	}{
		{"wrong password", map[string]string{"email": "alice@example.com", "password": "wrong-password"}, http.StatusUnauthorized, ac.ErrCodeInvalidCreds},
		{"unknown email", map[string]string{"email": "nobody@example.com", "password": "password123"}, http.StatusUnauthorized, ac.ErrCodeInvalidCreds},
		{"missing password", map[string]string{"email": "alice@example.com"}, http.StatusBadRequest, ac.ErrCodeMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/auth/login", tt.body)
			if rec.Code != tt.status || errorCode(t, rec) != tt.wantCode {
				t.Errorf("status %d body %s, want %d %s", rec.Code, rec.Body.String(), tt.status, tt.wantCode)
			}
		})
	}
	if env.Notifier.count() != 0 {
		t.Fatal("failed logins must not send codes")
	}

	rec := env.do(http.MethodPost, "/auth/login", map[string]string{"email": "ALICE@example.com", "password": "password123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["success"] != true || body["message"] != "OTP sent" {
		t.Errorf("unexpected login body %v", body)
	}
	if findCookie(rec, "session") != nil {
		t.Error("step one must not issue a session")
	}

	code := env.Notifier.last("login", "alice@example.com")
	rec = env.do(http.MethodPost, "/auth/login/verify", map[string]string{"email": "alice@example.com", "otp": code})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: status %d, body %s", rec.Code, rec.Body.String())
	}
	session := findCookie(rec, "session")
	if session == nil || !session.HttpOnly || session.SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected session cookie %+v", session)
	}

	rec = env.do(http.MethodGet, "/auth/me", nil, withCookie("session", session.Value))
	if rec.Code != http.StatusOK {
		t.Fatalf("me: status %d, body %s", rec.Code, rec.Body.String())
	}
	if me := decodeBody(t, rec); me["email"] != "alice@example.com" || me["role"] != ac.RoleUser {
		t.Errorf("unexpected me body %v", me)
	}

	// The code is spent
	rec = env.do(http.MethodPost, "/auth/login/verify", map[string]string{"email": "alice@example.com", "otp": code})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("replayed code: status %d, want 401", rec.Code)
	}
}

func TestLogin_TokenInBody(t *testing.T) {
	env := newTestEnv(t, func(c *ac.Config) { c.TokenInBody = true })
	user := env.seedUser(t, "alice@example.com", "password123", ac.RoleUser)

	env.do(http.MethodPost, "/auth/login", map[string]string{"email": "alice@example.com", "password": "password123"})
	rec := env.do(http.MethodPost, "/auth/login/verify", map[string]string{
		"email": "alice@example.com",
		"otp":   env.Notifier.last("login", "alice@example.com"),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: status %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	token, _ := body["token"].(string)
	if token == "" || body["expires_at"] == nil {
		t.Fatalf("expected token and expires_at in body, got %v", body)
	}

	rec = env.do(http.MethodGet, "/auth/me", nil, withHeader("Authorization", "Bearer "+token))
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer me: status %d", rec.Code)
	}
	if me := decodeBody(t, rec); me["id"] != user.ID {
		t.Errorf("me.id = %v, want %s", me["id"], user.ID)
	}
}

func TestLogin_OAuthOnlyAccountHasNoPassword(t *testing.T) {
	env := newTestEnv(t)
	_, err := ac.EnsureGoogleUser(context.Background(), env.Store, ac.GoogleIdentity{
		Subject: "google-sub-1",
		Email:   "gina@example.com",
		Name:    "Gina",
	}, env.Clock.Now(), nil)
	if err != nil {
		t.Fatalf("EnsureGoogleUser() error = %v", err)
	}

	rec := env.do(http.MethodPost, "/auth/login", map[string]string{"email": "gina@example.com", "password": ac.OAuthOnlyPassword})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("oauth-only login: status %d, want 401", rec.Code)
	}

	rec = env.do(http.MethodPost, "/auth/password/forgot", map[string]string{"email": "gina@example.com"})
	if rec.Code != http.StatusOK {
		t.Errorf("forgot: status %d, want 200", rec.Code)
	}
	if env.Notifier.count() != 0 {
		t.Error("oauth-only accounts must not get reset codes")
	}
}

func TestPasswordReset_Scenario(t *testing.T) {
	env := newTestEnv(t)
	email := "alice@example.com"
	env.seedUser(t, email, "password123", ac.RoleUser)
	oldSession := env.login(t, email, "password123")

	if rec := env.do(http.MethodGet, "/auth/me", nil, withCookie("session", oldSession)); rec.Code != http.StatusOK {
		t.Fatalf("me before reset: status %d", rec.Code)
	}

	env.Clock.Advance(5 * time.Minute)

	rec := env.do(http.MethodPost, "/auth/password/forgot", map[string]string{"email": email})
	if rec.Code != http.StatusOK {
		t.Fatalf("forgot: status %d", rec.Code)
	}
	code := env.Notifier.last("reset", email)
	if code == "" {
		t.Fatal("no reset code was sent")
	}

	rec = env.do(http.MethodPost, "/auth/password/verify", map[string]string{"email": email, "otp": code})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify reset: status %d, body %s", rec.Code, rec.Body.String())
	}
	resetToken, _ := decodeBody(t, rec)["reset_token"].(string)
	if resetToken == "" {
		t.Fatal("no reset token returned")
	}

	// A reset token is not a session
	if rec := env.do(http.MethodGet, "/auth/me", nil, withHeader("Authorization", "Bearer "+resetToken)); rec.Code != http.StatusUnauthorized {
		t.Errorf("reset token as session: status %d, want 401", rec.Code)
	}

	rec = env.do(http.MethodPost, "/auth/password/reset", map[string]string{"reset_token": resetToken, "password": "short"})
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != ac.ErrCodeWeakPassword {
		t.Fatalf("weak password: status %d, body %s", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodPost, "/auth/password/reset", map[string]string{"reset_token": resetToken, "password": "new-password-456"})
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: status %d, body %s", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodGet, "/auth/me", nil, withCookie("session", oldSession))
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != ac.ErrCodeStaleSession {
		t.Errorf("old session after reset: status %d, body %s", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodPost, "/auth/password/reset", map[string]string{"reset_token": resetToken, "password": "another-password-789"})
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != ac.ErrCodeInvalidToken {
		t.Errorf("reused reset token: status %d, body %s", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodPost, "/auth/login", map[string]string{"email": email, "password": "password123"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("old password: status %d, want 401", rec.Code)
	}
	newSession := env.login(t, email, "new-password-456")
	if rec := env.do(http.MethodGet, "/auth/me", nil, withCookie("session", newSession)); rec.Code != http.StatusOK {
		t.Errorf("new session: status %d", rec.Code)
	}
}

func TestPasswordReset_UnknownEmailIsSilent(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/auth/password/forgot", map[string]string{"email": "ghost@example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	if env.Notifier.count() != 0 {
		t.Error("no code may be sent for an unknown email")
	}

	rec = env.do(http.MethodPost, "/auth/password/verify", map[string]string{"email": "ghost@example.com", "otp": "123456"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("verify for unknown email: status %d, want 401", rec.Code)
	}
}

func TestPasswordReset_NotifierFailureIsSilent(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice@example.com", "password123", ac.RoleUser)
	env.Notifier.setFail(true)

	rec := env.do(http.MethodPost, "/auth/password/forgot", map[string]string{"email": "alice@example.com"})
	if rec.Code != http.StatusOK {
		t.Errorf("status %d, want 200", rec.Code)
	}
}

func TestLogout_ClearsCookie(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice@example.com", "password123", ac.RoleUser)
	session := env.login(t, "alice@example.com", "password123")

	rec := env.do(http.MethodPost, "/auth/logout", nil, withCookie("session", session))
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: status %d", rec.Code)
	}
	cleared := findCookie(rec, "session")
	if cleared == nil || cleared.Value != "" || cleared.MaxAge >= 0 {
		t.Errorf("logout must expire the session cookie, got %+v", cleared)
	}
}
