package authcore

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
)

// CSRFGuard is a stateless double-submit check. Unsafe requests must echo the
// CSRF cookie in a header. The one Enabled flag covers every route the guard
// wraps.
type CSRFGuard struct {
	Enabled    bool
	Cookies    *CookieManager
	HeaderName string
	Logger     *slog.Logger
}

// NewCSRFGuard creates a guard from the config
func NewCSRFGuard(cfg Config, cookies *CookieManager) *CSRFGuard {
	return &CSRFGuard{
		Enabled:    cfg.CSRFEnabled,
		Cookies:    cookies,
		HeaderName: cfg.CSRFHeader,
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

func (g *CSRFGuard) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

// Middleware rejects unsafe requests whose header does not match the cookie.
// Safe requests without a CSRF cookie get one.
func (g *CSRFGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Enabled {
			next.ServeHTTP(w, r)
			return
		}
		cookie, _ := r.Cookie(g.Cookies.CSRFName)
		if isSafeMethod(r.Method) {
			if cookie == nil || cookie.Value == "" {
				token, err := g.issue(w)
				if err != nil {
					g.logger().Warn("failed to issue csrf token", "error", err)
				} else {
					// Handlers downstream see the token just issued
					r = r.Clone(r.Context())
					r.AddCookie(&http.Cookie{Name: g.Cookies.CSRFName, Value: token})
				}
			}
			next.ServeHTTP(w, r)
			return
		}

		// Requests authenticated only by a bearer header are exempt
		if g.isBearerOnly(r) {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get(g.HeaderName)
		if cookie == nil || cookie.Value == "" || header == "" ||
			subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
			g.logger().Warn("csrf check failed", "method", r.Method, "path", r.URL.Path)
			writeError(w, &AuthError{Kind: KindValidation, Code: ErrCodeCSRFInvalid, Message: "CSRF token missing or invalid"}, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *CSRFGuard) isBearerOnly(r *http.Request) bool {
	_, source := ExtractToken(r, g.Cookies.SessionName)
	return source == SourceHeader
}

func (g *CSRFGuard) issue(w http.ResponseWriter) (string, error) {
	token, err := GenerateSecureToken()
	if err != nil {
		return "", err
	}
	g.Cookies.SetCSRF(w, token)
	return token, nil
}

// HandleToken returns the current CSRF token, minting one if the request has
// none, so single page apps can read it without parsing cookies.
func (g *CSRFGuard) HandleToken(w http.ResponseWriter, r *http.Request) {
	token := ""
	if cookie, err := r.Cookie(g.Cookies.CSRFName); err == nil && cookie.Value != "" {
		token = cookie.Value
	} else {
		var err error
		if token, err = g.issue(w); err != nil {
			writeError(w, UpstreamError(ErrCodeStoreFailed, "Could not issue token", err), 0)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(map[string]any{
		"csrf_token": token,
		"header":     g.HeaderName,
	})
}
