package authcore

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// OAuthProvider is a federated login flow mountable under /auth/<name>
type OAuthProvider interface {
	Name() string
	HandleStart(w http.ResponseWriter, r *http.Request)
	HandleCallback(w http.ResponseWriter, r *http.Request)
}

// AuthCore composes the auth flows behind one router.
//
//	core := authcore.New(cfg, store, notifier)
//	core.AddProvider(googleFlow)
//	http.ListenAndServe(addr, core.Handler())
//
// Downstream handlers use core.Middleware.EnsureUser and RequireRole to
// consume the validated identity.
type AuthCore struct {
	Config     Config
	Store      CredentialStore
	Local      *LocalAuth
	Tokens     *TokenManager
	Cookies    *CookieManager
	CSRF       *CSRFGuard
	Middleware Middleware
	Providers  []OAuthProvider
	Logger     *slog.Logger
}

// New wires an AuthCore from the config. cfg is defaulted but not validated.
func New(cfg Config, store CredentialStore, notifier Notifier) *AuthCore {
	cfg = cfg.EnsureDefaults()
	local := NewLocalAuth(cfg, store, notifier)
	return &AuthCore{
		Config:  cfg,
		Store:   store,
		Local:   local,
		Tokens:  local.Tokens,
		Cookies: local.Cookies,
		CSRF:    NewCSRFGuard(cfg, local.Cookies),
		Middleware: Middleware{
			Tokens:     local.Tokens,
			CookieName: cfg.SessionCookie,
		},
	}
}

// WithLogger sets the logger on the core and every component
func (a *AuthCore) WithLogger(logger *slog.Logger) *AuthCore {
	a.Logger = logger
	a.Local.Logger = logger
	a.CSRF.Logger = logger
	a.Middleware.Logger = logger
	return a
}

func (a *AuthCore) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// AddProvider registers a federated login flow
func (a *AuthCore) AddProvider(p OAuthProvider) *AuthCore {
	a.Providers = append(a.Providers, p)
	return a
}

// Handler returns a router serving the auth routes under /auth
func (a *AuthCore) Handler() http.Handler {
	router := mux.NewRouter()
	a.Mount(router, "/auth")
	return router
}

// Mount adds the auth routes to router under prefix. The CSRF guard wraps
// every route.
func (a *AuthCore) Mount(router *mux.Router, prefix string) *mux.Router {
	prefix = "/" + strings.Trim(prefix, "/")
	a.logger().Info("mounting auth routes", "prefix", prefix)
	sub := router.PathPrefix(prefix).Subrouter()
	sub.Use(a.CSRF.Middleware)

	sub.HandleFunc("/csrf", a.CSRF.HandleToken).Methods(http.MethodGet)

	sub.HandleFunc("/register", a.Local.HandleRegister).Methods(http.MethodPost)
	sub.HandleFunc("/register/verify", a.Local.HandleVerifyRegistration).Methods(http.MethodPost)
	sub.HandleFunc("/register/resend", a.Local.HandleResendRegistration).Methods(http.MethodPost)

	sub.HandleFunc("/login", a.Local.HandleLogin).Methods(http.MethodPost)
	sub.HandleFunc("/login/verify", a.Local.HandleVerifyLogin).Methods(http.MethodPost)

	sub.HandleFunc("/password/forgot", a.Local.HandleForgotPassword).Methods(http.MethodPost)
	sub.HandleFunc("/password/verify", a.Local.HandleVerifyReset).Methods(http.MethodPost)
	sub.HandleFunc("/password/reset", a.Local.HandleResetPassword).Methods(http.MethodPost)

	sub.HandleFunc("/logout", a.onLogout).Methods(http.MethodPost)
	sub.Handle("/me", a.Middleware.EnsureUser(http.HandlerFunc(a.handleMe))).Methods(http.MethodGet)

	for _, p := range a.Providers {
		sub.HandleFunc("/"+p.Name(), p.HandleStart).Methods(http.MethodGet)
		sub.HandleFunc("/"+p.Name()+"/callback", p.HandleCallback).Methods(http.MethodGet)
	}
	return sub
}

// Logout only clears the cookie. The token itself stays valid until it
// expires or the password changes.
func (a *AuthCore) onLogout(w http.ResponseWriter, r *http.Request) {
	if claims, err := a.Middleware.Authenticate(r); err == nil {
		a.logger().Info("logging out user", "user_id", claims.UserID())
	}
	a.Cookies.ClearSession(w)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Logged out",
	})
}

func (a *AuthCore) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         claims.UserID(),
		"email":      claims.Email,
		"name":       claims.Name,
		"role":       claims.Role,
		"issued_at":  claims.IssuedAt.Time.UTC(),
		"expires_at": claims.ExpiresAt.Time.UTC(),
	})
}
