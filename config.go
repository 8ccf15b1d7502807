package authcore

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/crypto/bcrypt"
)

// Default durations and limits
const (
	DefaultSessionTTL     = 24 * time.Hour
	DefaultOTPTTL         = 10 * time.Minute
	DefaultResetTokenTTL  = 15 * time.Minute
	DefaultOAuthStateTTL  = 5 * time.Minute
	DefaultSkewTolerance  = 120 * time.Second
	DefaultOTPMaxAttempts = 5
)

// Config is read once at process start and shared as an immutable value.
// Nothing in this package mutates a Config after EnsureDefaults.
type Config struct {
	AppName string

	// Token signing
	JWTSecret string
	JWTIssuer string

	SessionTTL     time.Duration
	OTPTTL         time.Duration
	ResetTokenTTL  time.Duration
	OAuthStateTTL  time.Duration
	SkewTolerance  time.Duration
	OTPMaxAttempts int
	BcryptCost     int

	// Public URLs. FrontendURL is where users land after OAuth, BackendURL is
	// used to compute the OAuth redirect URI.
	FrontendURL     string
	BackendURL      string
	AllowedOrigins  []string
	DefaultRedirect string

	GoogleClientID     string
	GoogleClientSecret string

	// Cookie policy
	CookieSecure     bool
	CookieDomain     string
	CrossSiteCookies bool
	SessionCookie    string
	CSRFCookie       string
	CSRFHeader       string
	CSRFEnabled      bool

	// TokenInBody makes verify endpoints return the session token in the
	// response body for bearer-mode callers.
	TokenInBody bool
}

type authEnv struct {
	AppName            string        `env:"AUTHCORE_APP_NAME"            envDefault:"authcore"`
	JWTSecret          string        `env:"AUTHCORE_JWT_SECRET"`
	JWTIssuer          string        `env:"AUTHCORE_JWT_ISSUER"`
	SessionTTL         time.Duration `env:"AUTHCORE_SESSION_TTL"         envDefault:"24h"`
	OTPTTL             time.Duration `env:"AUTHCORE_OTP_TTL"             envDefault:"10m"`
	ResetTokenTTL      time.Duration `env:"AUTHCORE_RESET_TOKEN_TTL"     envDefault:"15m"`
	OAuthStateTTL      time.Duration `env:"AUTHCORE_OAUTH_STATE_TTL"     envDefault:"5m"`
	SkewTolerance      time.Duration `env:"AUTHCORE_SKEW_TOLERANCE"      envDefault:"120s"`
	OTPMaxAttempts     int           `env:"AUTHCORE_OTP_MAX_ATTEMPTS"    envDefault:"5"`
	BcryptCost         int           `env:"AUTHCORE_BCRYPT_COST"`
	FrontendURL        string        `env:"AUTHCORE_FRONTEND_URL"`
	BackendURL         string        `env:"AUTHCORE_BACKEND_URL"`
	AllowedOrigins     []string      `env:"AUTHCORE_ALLOWED_ORIGINS"     envSeparator:","`
	DefaultRedirect    string        `env:"AUTHCORE_DEFAULT_REDIRECT"    envDefault:"/"`
	GoogleClientID     string        `env:"AUTHCORE_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string        `env:"AUTHCORE_GOOGLE_CLIENT_SECRET"`
	CookieSecure       bool          `env:"AUTHCORE_COOKIE_SECURE"       envDefault:"true"`
	CookieDomain       string        `env:"AUTHCORE_COOKIE_DOMAIN"`
	CrossSiteCookies   bool          `env:"AUTHCORE_CROSS_SITE_COOKIES"`
	CSRFEnabled        bool          `env:"AUTHCORE_CSRF_ENABLED"        envDefault:"true"`
	TokenInBody        bool          `env:"AUTHCORE_TOKEN_IN_BODY"`
}

// LoadConfigFromEnv reads the configuration from AUTHCORE_* variables
func LoadConfigFromEnv() (Config, error) {
	var raw authEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parsing auth config: %w", err)
	}
	cfg := Config{
		AppName:            raw.AppName,
		JWTSecret:          strings.TrimSpace(raw.JWTSecret),
		JWTIssuer:          raw.JWTIssuer,
		SessionTTL:         raw.SessionTTL,
		OTPTTL:             raw.OTPTTL,
		ResetTokenTTL:      raw.ResetTokenTTL,
		OAuthStateTTL:      raw.OAuthStateTTL,
		SkewTolerance:      raw.SkewTolerance,
		OTPMaxAttempts:     raw.OTPMaxAttempts,
		BcryptCost:         raw.BcryptCost,
		FrontendURL:        strings.TrimSuffix(raw.FrontendURL, "/"),
		BackendURL:         strings.TrimSuffix(raw.BackendURL, "/"),
		AllowedOrigins:     trimCSV(raw.AllowedOrigins),
		DefaultRedirect:    raw.DefaultRedirect,
		GoogleClientID:     strings.TrimSpace(raw.GoogleClientID),
		GoogleClientSecret: strings.TrimSpace(raw.GoogleClientSecret),
		CookieSecure:       raw.CookieSecure,
		CookieDomain:       raw.CookieDomain,
		CrossSiteCookies:   raw.CrossSiteCookies,
		CSRFEnabled:        raw.CSRFEnabled,
		TokenInBody:        raw.TokenInBody,
	}
	cfg = cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// EnsureDefaults returns a copy of the config with unset fields defaulted
func (c Config) EnsureDefaults() Config {
	if c.AppName == "" {
		c.AppName = "authcore"
	}
	if c.JWTIssuer == "" {
		c.JWTIssuer = fmt.Sprintf("%s-issuer", c.AppName)
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.OTPTTL <= 0 {
		c.OTPTTL = DefaultOTPTTL
	}
	if c.ResetTokenTTL <= 0 {
		c.ResetTokenTTL = DefaultResetTokenTTL
	}
	if c.OAuthStateTTL <= 0 {
		c.OAuthStateTTL = DefaultOAuthStateTTL
	}
	if c.SkewTolerance <= 0 {
		c.SkewTolerance = DefaultSkewTolerance
	}
	if c.OTPMaxAttempts <= 0 {
		c.OTPMaxAttempts = DefaultOTPMaxAttempts
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = bcrypt.DefaultCost
	}
	if c.DefaultRedirect == "" {
		c.DefaultRedirect = "/"
	}
	if c.SessionCookie == "" {
		c.SessionCookie = "session"
	}
	if c.CSRFCookie == "" {
		c.CSRFCookie = "csrf_token"
	}
	if c.CSRFHeader == "" {
		c.CSRFHeader = "X-CSRF-Token"
	}
	// The frontend origin is always allowed as a post-login target
	if origin := originOf(c.FrontendURL); origin != "" && !containsString(c.AllowedOrigins, origin) {
		c.AllowedOrigins = append(append([]string{}, c.AllowedOrigins...), origin)
	}
	return c
}

// Validate reports configuration that would make the core insecure
func (c Config) Validate() error {
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("jwt secret must be at least 32 bytes")
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost %d out of range", c.BcryptCost)
	}
	if c.CrossSiteCookies && !c.CookieSecure {
		return fmt.Errorf("cross-site cookies require secure cookies")
	}
	return nil
}

// GoogleRedirectURI is the callback URL registered with Google
func (c Config) GoogleRedirectURI() string {
	return c.BackendURL + "/auth/google/callback"
}

func trimCSV(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSuffix(strings.TrimSpace(v), "/")
		if v != "" {
			result = append(result, v)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// originOf returns scheme://host of an absolute URL or "" if it is not one
func originOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
