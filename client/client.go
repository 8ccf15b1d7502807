package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// APIError is an error body returned by the server
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
	Field   string `json:"field,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth server: %s (%s, HTTP %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("auth server: HTTP %d", e.Status)
}

// sessionResponse is the body of a verify endpoint in token-in-body mode
type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// AuthClient is an HTTP client that logs in with email, password and OTP and
// attaches the session token to its requests
type AuthClient struct {
	mu            sync.Mutex
	serverURL     string
	store         CredentialStore
	httpClient    *http.Client
	baseTransport http.RoundTripper
	authPrefix    string // e.g., "/auth"

	csrfCookie string
	csrfHeader string
	csrfToken  string
}

// ClientOption configures an AuthClient
type ClientOption func(*AuthClient)

// WithAuthPrefix sets where the auth routes are mounted
func WithAuthPrefix(prefix string) ClientOption {
	return func(c *AuthClient) {
		c.authPrefix = "/" + strings.Trim(prefix, "/")
	}
}

// WithHTTPClient sets a custom base HTTP client (for timeouts, TLS config, etc.)
// The transport from this client will be wrapped with auth handling.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *AuthClient) {
		if client != nil && client.Transport != nil {
			c.baseTransport = client.Transport
		}
		if client != nil {
			c.httpClient.Timeout = client.Timeout
			c.httpClient.CheckRedirect = client.CheckRedirect
		}
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *AuthClient) {
		c.baseTransport = transport
	}
}

// NewAuthClient creates a new authenticated HTTP client for a server
func NewAuthClient(serverURL string, store CredentialStore, opts ...ClientOption) *AuthClient {
	u, err := url.Parse(serverURL)
	if err == nil && u.Scheme != "" && u.Host != "" {
		serverURL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	}

	c := &AuthClient{
		serverURL:     serverURL,
		store:         store,
		httpClient:    &http.Client{},
		baseTransport: http.DefaultTransport,
		authPrefix:    "/auth",
	}
	for _, opt := range opts {
		opt(c)
	}

	c.httpClient.Transport = &AuthTransport{
		Base:           c.baseTransport,
		Source:         c.GetToken,
		OnUnauthorized: c.dropCredential,
	}
	return c
}

// HTTPClient returns the underlying HTTP client with auth handling
func (c *AuthClient) HTTPClient() *http.Client {
	return c.httpClient
}

// ServerURL returns the server URL this client is configured for
func (c *AuthClient) ServerURL() string {
	return c.serverURL
}

// GetToken returns the current session token or "" when there is no live session
func (c *AuthClient) GetToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil {
		return "", err
	}
	if cred == nil || cred.IsExpired() {
		return "", nil
	}
	return cred.Token, nil
}

// GetCredential returns the stored credential for this server
func (c *AuthClient) GetCredential() (*ServerCredential, error) {
	return c.store.GetCredential(c.serverURL)
}

// IsLoggedIn returns true if there is a valid (non-expired) credential
func (c *AuthClient) IsLoggedIn() bool {
	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil || cred == nil {
		return false
	}
	return !cred.IsExpired()
}

// Login is step one: it checks the password and has the server send a code
func (c *AuthClient) Login(ctx context.Context, email, password string) error {
	return c.post(ctx, "/login", map[string]string{"email": email, "password": password}, nil)
}

// VerifyLogin is step two: it trades the emailed code for a session and
// stores it
func (c *AuthClient) VerifyLogin(ctx context.Context, email, otp string) (*ServerCredential, error) {
	var resp sessionResponse
	if err := c.post(ctx, "/login/verify", map[string]string{"email": email, "otp": otp}, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("server did not return a token; is token-in-body mode enabled?")
	}

	cred := &ServerCredential{
		Token:     resp.Token,
		UserID:    resp.User.ID,
		UserEmail: resp.User.Email,
		ExpiresAt: resp.ExpiresAt,
		CreatedAt: time.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.SetCredential(c.serverURL, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}
	if err := c.store.Save(); err != nil {
		return nil, fmt.Errorf("failed to save credentials: %w", err)
	}
	return cred, nil
}

// Logout tells the server and forgets the stored credential. The local
// credential is removed even if the server call fails.
func (c *AuthClient) Logout(ctx context.Context) error {
	serverErr := c.post(ctx, "/logout", struct{}{}, nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.RemoveCredential(c.serverURL); err != nil {
		return err
	}
	if err := c.store.Save(); err != nil {
		return err
	}
	return serverErr
}

// dropCredential forgets the stored session if it is still the one the
// server rejected
func (c *AuthClient) dropCredential(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil || cred == nil || cred.Token != token {
		return
	}
	if err := c.store.RemoveCredential(c.serverURL); err == nil {
		c.store.Save()
	}
}

// ensureCSRF fetches a double-submit token once per client
func (c *AuthClient) ensureCSRF(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.csrfToken != "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+c.authPrefix+"/csrf", nil)
	if err != nil {
		return err
	}
	resp, err := (&http.Client{Transport: c.baseTransport}).Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}

	var body struct {
		Token  string `json:"csrf_token"`
		Header string `json:"header"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to parse csrf response: %w", err)
	}
	for _, cookie := range resp.Cookies() {
		if cookie.Value == body.Token {
			c.csrfCookie = cookie.Name
		}
	}
	c.csrfToken, c.csrfHeader = body.Token, body.Header
	return nil
}

// post sends a JSON body to an auth route and decodes the response into out
func (c *AuthClient) post(ctx context.Context, path string, in, out any) error {
	if err := c.ensureCSRF(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+c.authPrefix+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	c.mu.Lock()
	if c.csrfCookie != "" {
		req.AddCookie(&http.Cookie{Name: c.csrfCookie, Value: c.csrfToken})
	}
	if c.csrfHeader != "" {
		req.Header.Set(c.csrfHeader, c.csrfToken)
	}
	c.mu.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err == nil {
		json.Unmarshal(data, apiErr)
	}
	return apiErr
}
