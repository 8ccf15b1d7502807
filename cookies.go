package authcore

import (
	"net/http"
	"time"
)

// CookieManager sets and clears the session, CSRF and transient OAuth cookies
// with the security flags the deployment calls for.
type CookieManager struct {
	SessionName string
	CSRFName    string
	Domain      string
	Secure      bool

	// CrossSite issues SameSite=None cookies for frontends hosted on another
	// site than the API. Requires Secure.
	CrossSite bool
}

// NewCookieManager creates a CookieManager from the config
func NewCookieManager(cfg Config) *CookieManager {
	return &CookieManager{
		SessionName: cfg.SessionCookie,
		CSRFName:    cfg.CSRFCookie,
		Domain:      cfg.CookieDomain,
		Secure:      cfg.CookieSecure,
		CrossSite:   cfg.CrossSiteCookies && cfg.CookieSecure,
	}
}

func (c *CookieManager) sameSite() http.SameSite {
	if c.CrossSite {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

func (c *CookieManager) newCookie(name, value string, httpOnly bool, expiresAt time.Time) *http.Cookie {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		Secure:   c.Secure,
		HttpOnly: httpOnly,
		SameSite: c.sameSite(),
	}
	if !expiresAt.IsZero() {
		cookie.Expires = expiresAt
		cookie.MaxAge = int(time.Until(expiresAt).Seconds())
		if cookie.MaxAge <= 0 {
			cookie.MaxAge = -1
		}
	}
	return cookie
}

// SetSession attaches the session token
func (c *CookieManager) SetSession(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, c.newCookie(c.SessionName, token, true, expiresAt))
}

// ClearSession expires the session cookie
func (c *CookieManager) ClearSession(w http.ResponseWriter) {
	c.Clear(w, c.SessionName, true)
}

// SetCSRF sets the double-submit cookie. It is readable by scripts so the
// frontend can echo it in a header.
func (c *CookieManager) SetCSRF(w http.ResponseWriter, token string) {
	http.SetCookie(w, c.newCookie(c.CSRFName, token, false, time.Time{}))
}

// SetTransient sets a short lived HttpOnly cookie used during one OAuth round trip
func (c *CookieManager) SetTransient(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, c.newCookie(name, value, true, time.Now().Add(ttl)))
}

// Clear expires a cookie
func (c *CookieManager) Clear(w http.ResponseWriter, name string, httpOnly bool) {
	cookie := c.newCookie(name, "", httpOnly, time.Time{})
	cookie.MaxAge = -1
	cookie.Expires = time.Unix(0, 0)
	http.SetCookie(w, cookie)
}
