package client

import (
	"net/http"
)

// AuthTransport wraps an http.RoundTripper to add Authorization headers.
// The token comes from Source on every request; OnUnauthorized is told when
// the server rejects it.
type AuthTransport struct {
	Base           http.RoundTripper
	Source         func() (string, error)
	OnUnauthorized func(token string)
}

// RoundTrip implements http.RoundTripper
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token := ""
	if t.Source != nil {
		var err error
		if token, err = t.Source(); err != nil {
			return nil, err
		}
	}
	if token != "" {
		// Clone the request to avoid mutating the original
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && token != "" && t.OnUnauthorized != nil {
		t.OnUnauthorized(token)
	}
	return resp, nil
}

// NewAuthTransport creates an AuthTransport sending a fixed token
func NewAuthTransport(token string) *AuthTransport {
	return NewAuthTransportWithBase(http.DefaultTransport, token)
}

// NewAuthTransportWithBase creates an AuthTransport with a custom base transport
func NewAuthTransportWithBase(base http.RoundTripper, token string) *AuthTransport {
	return &AuthTransport{
		Base:   base,
		Source: func() (string, error) { return token, nil },
	}
}
