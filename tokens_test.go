package authcore_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ac "github.com/panyam/authcore"
)

func TestTokenManager_IssueAndValidate(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "alice@example.com", "password123", ac.RoleAdmin)
	ctx := context.Background()

	token, expiresAt, err := env.Core.Tokens.Issue(user)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if !expiresAt.Equal(env.Clock.Now().Add(ac.DefaultSessionTTL)) {
		t.Errorf("expiresAt = %v", expiresAt)
	}

	claims, err := env.Core.Tokens.Validate(ctx, token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if claims.UserID() != user.ID || claims.Role != ac.RoleAdmin || claims.Email != user.Email {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestTokenManager_Rejections(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "alice@example.com", "password123", ac.RoleUser)
	ctx := context.Background()

	token, _, err := env.Core.Tokens.Issue(user)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	t.Run("tampered", func(t *testing.T) {
		parts := strings.Split(token, ".")
		parts[2] = strings.Repeat("A", len(parts[2]))
		_, err := env.Core.Tokens.Validate(ctx, strings.Join(parts, "."))
		if !errors.Is(err, ac.ErrInvalidToken) {
			t.Errorf("err = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("other secret", func(t *testing.T) {
		other := ac.NewTokenManager(ac.Config{JWTSecret: strings.Repeat("x", 40)}.EnsureDefaults(), env.Store)
		forged, _, err := other.Issue(user)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := env.Core.Tokens.Validate(ctx, forged); !errors.Is(err, ac.ErrInvalidToken) {
			t.Errorf("err = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("unknown subject", func(t *testing.T) {
		ghost := *user
		ghost.ID = "ghost"
		forged, _, err := env.Core.Tokens.Issue(&ghost)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := env.Core.Tokens.Validate(ctx, forged); !errors.Is(err, ac.ErrInvalidToken) {
			t.Errorf("err = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		tokens := *env.Core.Tokens
		tokens.Now = func() time.Time { return env.Clock.Now().Add(ac.DefaultSessionTTL + time.Minute) }
		if _, err := tokens.Validate(ctx, token); !errors.Is(err, ac.ErrInvalidToken) {
			t.Errorf("err = %v, want ErrInvalidToken", err)
		}
	})
}

func TestTokenManager_StalenessSkew(t *testing.T) {
	tests := []struct {
		name      string
		changedIn time.Duration
		wantStale bool
	}{
		{"changed before issue", -time.Minute, false},
		{"changed within skew", 90 * time.Second, false},
		{"changed past skew", 3 * time.Minute, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			user := env.seedUser(t, "alice@example.com", "password123", ac.RoleUser)
			token, _, err := env.Core.Tokens.Issue(user)
			if err != nil {
				t.Fatal(err)
			}
			changedAt := env.Clock.Now().Add(tt.changedIn)
			if err := env.Store.UpdatePassword(context.Background(), user.ID, user.PasswordHash, changedAt); err != nil {
				t.Fatal(err)
			}
			_, err = env.Core.Tokens.Validate(context.Background(), token)
			if got := errors.Is(err, ac.ErrStaleSession); got != tt.wantStale {
				t.Errorf("stale = %v (err %v), want %v", got, err, tt.wantStale)
			}
		})
	}
}

func TestTokenManager_ResetTokens(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "alice@example.com", "password123", ac.RoleUser)
	ctx := context.Background()

	reset, _, err := env.Core.Tokens.IssueReset(user)
	if err != nil {
		t.Fatalf("IssueReset() error = %v", err)
	}
	got, err := env.Core.Tokens.ValidateReset(ctx, reset)
	if err != nil || got.ID != user.ID {
		t.Fatalf("ValidateReset() = %v, %v", got, err)
	}

	session, _, _ := env.Core.Tokens.Issue(user)
	if _, err := env.Core.Tokens.ValidateReset(ctx, session); !errors.Is(err, ac.ErrInvalidToken) {
		t.Errorf("session token accepted as reset token: %v", err)
	}

	tokens := *env.Core.Tokens
	tokens.Now = func() time.Time { return env.Clock.Now().Add(ac.DefaultResetTokenTTL + time.Minute) }
	if _, err := tokens.ValidateReset(ctx, reset); !errors.Is(err, ac.ErrInvalidToken) {
		t.Errorf("expired reset token: %v", err)
	}
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name       string
		cookie     string
		header     string
		wantToken  string
		wantSource ac.TokenSource
	}{
		{"none", "", "", "", ac.SourceNone},
		{"cookie", "c-tok", "", "c-tok", ac.SourceCookie},
		{"header", "", "Bearer h-tok", "h-tok", ac.SourceHeader},
		{"lowercase scheme", "", "bearer h-tok", "h-tok", ac.SourceHeader},
		{"cookie wins", "c-tok", "Bearer h-tok", "c-tok", ac.SourceCookie},
		{"basic ignored", "", "Basic dXNlcjpwYXNz", "", ac.SourceNone},
		{"empty bearer", "", "Bearer ", "", ac.SourceNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.cookie != "" {
				withCookie("session", tt.cookie)(r)
			}
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			token, source := ac.ExtractToken(r, "session")
			if token != tt.wantToken || source != tt.wantSource {
				t.Errorf("got (%q, %v), want (%q, %v)", token, source, tt.wantToken, tt.wantSource)
			}
		})
	}
}

func TestGenerateSecureToken(t *testing.T) {
	a, err := ac.GenerateSecureToken()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := ac.GenerateSecureToken()
	if len(a) != 64 || a == b {
		t.Errorf("tokens %q and %q should be distinct 64 char hex strings", a, b)
	}
}
