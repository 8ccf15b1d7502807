package authcore_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	ac "github.com/panyam/authcore"
	"github.com/panyam/authcore/stores/fs"
)

const testSecret = "test-secret-that-is-at-least-32-bytes-long"

// testClock is a settable clock shared by every component of a test core
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// sentCode is one code handed to the notifier
type sentCode struct {
	Kind      string
	To        string
	Code      string
	ExpiresAt time.Time
}

// captureNotifier records codes instead of sending them
type captureNotifier struct {
	mu   sync.Mutex
	sent []sentCode
	fail bool
}

func (n *captureNotifier) record(kind, to, code string, expiresAt time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("smtp unavailable")
	}
	n.sent = append(n.sent, sentCode{Kind: kind, To: to, Code: code, ExpiresAt: expiresAt})
	return nil
}

func (n *captureNotifier) SendRegistrationCode(ctx context.Context, to, name, code string, expiresAt time.Time) error {
	return n.record("register", to, code, expiresAt)
}

func (n *captureNotifier) SendLoginCode(ctx context.Context, to, code string, expiresAt time.Time) error {
	return n.record("login", to, code, expiresAt)
}

func (n *captureNotifier) SendPasswordResetCode(ctx context.Context, to, code string, expiresAt time.Time) error {
	return n.record("reset", to, code, expiresAt)
}

func (n *captureNotifier) setFail(fail bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fail = fail
}

// last returns the most recent code of a kind sent to an address
func (n *captureNotifier) last(kind, to string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].Kind == kind && n.sent[i].To == to {
			return n.sent[i].Code
		}
	}
	return ""
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type testEnv struct {
	Core     *ac.AuthCore
	Store    *fs.FSStore
	Notifier *captureNotifier
	Clock    *testClock
	Handler  http.Handler
}

// newTestEnv builds a core over a file store in a temp dir. CSRF is off
// unless the caller turns it on.
func newTestEnv(t *testing.T, mutate ...func(*ac.Config)) *testEnv {
	t.Helper()
	cfg := ac.Config{
		JWTSecret:   testSecret,
		BcryptCost:  4,
		FrontendURL: "https://app.example.com",
	}
	for _, m := range mutate {
		m(&cfg)
	}
	store := fs.NewFSStore(t.TempDir())
	notifier := &captureNotifier{}
	clock := newTestClock()
	core := ac.New(cfg, store, notifier)
	core.Local.SetClock(clock.Now)
	return &testEnv{
		Core:     core,
		Store:    store,
		Notifier: notifier,
		Clock:    clock,
		Handler:  core.Handler(),
	}
}

// seedUser stores a verified local user directly
func (e *testEnv) seedUser(t *testing.T, email, password, role string) *ac.User {
	t.Helper()
	hash, err := ac.BcryptHasher{Cost: 4}.Hash(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	now := e.Clock.Now()
	user := &ac.User{
		ID:                "user-" + email,
		Name:              "Test User",
		Email:             email,
		PasswordHash:      hash,
		Role:              role,
		EmailVerified:     true,
		PasswordChangedAt: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.Store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

// do sends a request through the router. body is JSON encoded when not nil.
func (e *testEnv) do(method, path string, body any, mods ...func(*http.Request)) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, mod := range mods {
		mod(req)
	}
	rec := httptest.NewRecorder()
	e.Handler.ServeHTTP(rec, req)
	return rec
}

// login runs the two step login and returns the session token from the cookie
func (e *testEnv) login(t *testing.T, email, password string) string {
	t.Helper()
	rec := e.do(http.MethodPost, "/auth/login", map[string]string{"email": email, "password": password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d, body %s", rec.Code, rec.Body.String())
	}
	code := e.Notifier.last("login", email)
	rec = e.do(http.MethodPost, "/auth/login/verify", map[string]string{"email": email, "otp": code})
	if rec.Code != http.StatusOK {
		t.Fatalf("login verify: status %d, body %s", rec.Code, rec.Body.String())
	}
	cookie := findCookie(rec, "session")
	if cookie == nil || cookie.Value == "" {
		t.Fatal("login verify did not set a session cookie")
	}
	return cookie.Value
}

func withCookie(name, value string) func(*http.Request) {
	return func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: name, Value: value})
	}
}

func withHeader(name, value string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set(name, value)
	}
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return body
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	code, _ := decodeBody(t, rec)["code"].(string)
	return code
}
