package authcore_test

import (
	"net/http"
	"testing"

	ac "github.com/panyam/authcore"
)

func withCSRF(c *ac.Config) { c.CSRFEnabled = true }

func TestCSRF_TokenEndpoint(t *testing.T) {
	env := newTestEnv(t, withCSRF)

	rec := env.do(http.MethodGet, "/auth/csrf", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	cookie := findCookie(rec, "csrf_token")
	if cookie == nil || cookie.Value == "" {
		t.Fatal("expected a csrf_token cookie")
	}
	if cookie.HttpOnly {
		t.Error("csrf cookie must be readable by scripts")
	}
	body := decodeBody(t, rec)
	if body["csrf_token"] != cookie.Value || body["header"] != "X-CSRF-Token" {
		t.Errorf("body %v does not match cookie %q", body, cookie.Value)
	}

	// An existing token is echoed back, not rotated
	rec = env.do(http.MethodGet, "/auth/csrf", nil, withCookie("csrf_token", "existing"))
	if findCookie(rec, "csrf_token") != nil {
		t.Error("no new cookie expected when one is present")
	}
	if decodeBody(t, rec)["csrf_token"] != "existing" {
		t.Error("expected the existing token")
	}
}

func TestCSRF_DoubleSubmit(t *testing.T) {
	env := newTestEnv(t, withCSRF)
	env.seedUser(t, "alice@example.com", "password123", ac.RoleUser)
	login := map[string]string{"email": "alice@example.com", "password": "password123"}

	tests := []struct {
		name      string
		mods      []func(*http.Request)
		forbidden bool
	}{
		{"no cookie no header", nil, true},
		{"cookie without header", []func(*http.Request){withCookie("csrf_token", "tok")}, true},
		{"header without cookie", []func(*http.Request){withHeader("X-CSRF-Token", "tok")}, true},
		{"mismatch", []func(*http.Request){withCookie("csrf_token", "tok"), withHeader("X-CSRF-Token", "other")}, true},
		{"match", []func(*http.Request){withCookie("csrf_token", "tok"), withHeader("X-CSRF-Token", "tok")}, false},
		{"bearer only", []func(*http.Request){withHeader("Authorization", "Bearer some-token")}, false},
		{"session cookie with bearer", []func(*http.Request){
			withCookie("session", "cookie-token"),
			withHeader("Authorization", "Bearer some-token"),
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/auth/login", login, tt.mods...)
			if tt.forbidden {
				if rec.Code != http.StatusForbidden || errorCode(t, rec) != ac.ErrCodeCSRFInvalid {
					t.Errorf("status %d body %s, want 403 csrf_invalid", rec.Code, rec.Body.String())
				}
			} else if rec.Code == http.StatusForbidden {
				t.Errorf("request was rejected by the csrf guard: %s", rec.Body.String())
			}
		})
	}
}

func TestCSRF_Disabled(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice@example.com", "password123", ac.RoleUser)

	rec := env.do(http.MethodPost, "/auth/login", map[string]string{"email": "alice@example.com", "password": "password123"})
	if rec.Code != http.StatusOK {
		t.Errorf("status %d, want 200 with the guard disabled", rec.Code)
	}
}

func TestCSRF_SafeRequestsGetACookie(t *testing.T) {
	env := newTestEnv(t, withCSRF)
	rec := env.do(http.MethodGet, "/auth/me", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}
	if findCookie(rec, "csrf_token") == nil {
		t.Error("safe requests without a csrf cookie should be issued one")
	}
}
