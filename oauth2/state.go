package oauth2

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Transient cookies live for one round trip to the provider
const (
	StateCookie = "oauth_state"
	NonceCookie = "oauth_nonce"
	ModeCookie  = "oauth_mode"

	ModePopup = "popup"
)

// statePayload is carried through the provider in the state parameter
type statePayload struct {
	Redirect string `json:"redirect"`
	Salt     string `json:"salt"`
}

func encodeState(p statePayload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeState(s string) (statePayload, error) {
	var p statePayload
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return p, fmt.Errorf("malformed state: %w", err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("malformed state: %w", err)
	}
	return p, nil
}

// RedirectPolicy resolves post-login targets. Only relative paths and
// absolute URLs on an allowed origin are accepted; anything else falls back
// to Default.
type RedirectPolicy struct {
	AllowedOrigins []string

	// Relative targets are resolved against FrontendURL when set
	FrontendURL string

	Default string
}

// Resolve returns the absolute or relative URL to send the user agent to
func (p RedirectPolicy) Resolve(target string) string {
	if p.isAllowed(target) {
		return p.join(target)
	}
	return p.join(p.Default)
}

func (p RedirectPolicy) isAllowed(target string) bool {
	if target == "" {
		return false
	}
	if isRelativePath(target) {
		return true
	}
	u, err := url.Parse(target)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return false
	}
	origin := u.Scheme + "://" + u.Host
	for _, allowed := range p.AllowedOrigins {
		if strings.EqualFold(origin, strings.TrimSuffix(allowed, "/")) {
			return true
		}
	}
	return false
}

func (p RedirectPolicy) join(target string) string {
	if target == "" {
		target = "/"
	}
	if isRelativePath(target) && p.FrontendURL != "" {
		return strings.TrimSuffix(p.FrontendURL, "/") + target
	}
	return target
}

// isRelativePath rejects scheme-relative ("//host") and backslash tricks
func isRelativePath(target string) bool {
	return strings.HasPrefix(target, "/") &&
		!strings.HasPrefix(target, "//") &&
		!strings.HasPrefix(target, "/\\") &&
		!strings.ContainsAny(target, "\r\n")
}

// withError adds ?error=reason to target
func withError(target string, reason Reason) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set("error", string(reason))
	u.RawQuery = q.Encode()
	return u.String()
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
