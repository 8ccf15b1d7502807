package oauth2

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	ac "github.com/panyam/authcore"
)

// GoogleFlow is the Google sign-in flow. It implements ac.OAuthProvider and
// mounts at /auth/google and /auth/google/callback.
type GoogleFlow struct {
	Exchanger Exchanger
	Verifier  IdentityVerifier
	Users     ac.UserStore
	Tokens    *ac.TokenManager
	Cookies   *ac.CookieManager
	Redirects RedirectPolicy

	// Lifetime of the transient state cookies
	StateTTL time.Duration

	// Popup pages post their result to this origin
	FrontendOrigin string

	Logger *slog.Logger

	// Now defaults to time.Now
	Now func() time.Time
}

// NewGoogleFlow wires the flow from the config. The verifier is separate so
// callers choose how Google's keys are fetched.
func NewGoogleFlow(cfg ac.Config, users ac.UserStore, tokens *ac.TokenManager, cookies *ac.CookieManager, verifier IdentityVerifier) *GoogleFlow {
	cfg = cfg.EnsureDefaults()
	return &GoogleFlow{
		Exchanger: NewGoogleConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURI()),
		Verifier:  verifier,
		Users:     users,
		Tokens:    tokens,
		Cookies:   cookies,
		Redirects: RedirectPolicy{
			AllowedOrigins: cfg.AllowedOrigins,
			FrontendURL:    cfg.FrontendURL,
			Default:        cfg.DefaultRedirect,
		},
		StateTTL:       cfg.OAuthStateTTL,
		FrontendOrigin: originOf(cfg.FrontendURL),
	}
}

func (g *GoogleFlow) Name() string { return "google" }

func (g *GoogleFlow) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

func (g *GoogleFlow) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g *GoogleFlow) stateTTL() time.Duration {
	if g.StateTTL <= 0 {
		return ac.DefaultOAuthStateTTL
	}
	return g.StateTTL
}

// HandleStart handles GET /auth/google. Query parameters: redirect (post
// login target, checked again on the way back) and mode=popup.
func (g *GoogleFlow) HandleStart(w http.ResponseWriter, r *http.Request) {
	nonce, err := ac.GenerateSecureToken()
	if err != nil {
		g.logger().Error("generating oauth nonce", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	salt, err := ac.GenerateSecureToken()
	if err != nil {
		g.logger().Error("generating oauth state", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	state, err := encodeState(statePayload{Redirect: r.URL.Query().Get("redirect"), Salt: salt})
	if err != nil {
		g.logger().Error("encoding oauth state", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ttl := g.stateTTL()
	g.Cookies.SetTransient(w, StateCookie, state, ttl)
	g.Cookies.SetTransient(w, NonceCookie, nonce, ttl)
	if r.URL.Query().Get("mode") == ModePopup {
		g.Cookies.SetTransient(w, ModeCookie, ModePopup, ttl)
	} else {
		g.Cookies.Clear(w, ModeCookie, true)
	}

	authURL := g.Exchanger.AuthCodeURL(state,
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback runs the callback stages and reports where the flow ended. It
// writes nothing to the response.
func (g *GoogleFlow) Callback(ctx context.Context, r *http.Request) Result {
	popup := cookieValue(r, ModeCookie) == ModePopup
	result := g.callback(ctx, r)
	result.Popup = popup
	return result
}

func (g *GoogleFlow) callback(ctx context.Context, r *http.Request) Result {
	// Validating
	query := r.URL.Query()
	code, state := query.Get("code"), query.Get("state")
	cookieState := cookieValue(r, StateCookie)
	if code == "" || state == "" || cookieState == "" ||
		subtle.ConstantTimeCompare([]byte(state), []byte(cookieState)) != 1 {
		return g.fail(failed(StageValidating, ReasonInvalidState, nil), "")
	}
	payload, err := decodeState(state)
	if err != nil {
		return g.fail(failed(StageValidating, ReasonInvalidState, err), "")
	}
	redirect := g.Redirects.Resolve(payload.Redirect)

	// Exchanging
	token, err := g.Exchanger.Exchange(ctx, code)
	if err != nil {
		return g.fail(failed(StageExchanging, ReasonTokenExchangeFailed, err), redirect)
	}

	// VerifyingIdentity
	rawIDToken := idTokenFrom(token)
	if rawIDToken == "" {
		return g.fail(failed(StageVerifyingIdentity, ReasonIdentityInvalid, errors.New("no id_token in token response")), redirect)
	}
	identity, err := g.Verifier.Verify(ctx, rawIDToken, cookieValue(r, NonceCookie))
	if err != nil {
		return g.fail(failed(StageVerifyingIdentity, ReasonIdentityInvalid, err), redirect)
	}

	// Linking
	user, err := ac.EnsureGoogleUser(ctx, g.Users, identity, g.now(), g.logger())
	if err != nil {
		reason := ReasonServerError
		if authErr := ac.AsAuthError(err); authErr.Kind == ac.KindConflict {
			reason = ReasonConflict
		}
		return g.fail(failed(StageLinking, reason, err), redirect)
	}

	// Issued
	sessionToken, expiresAt, err := g.Tokens.Issue(user)
	if err != nil {
		return g.fail(failed(StageIssued, ReasonServerError, err), redirect)
	}
	g.logger().Info("google sign-in", "user_id", user.ID)
	return Result{
		Stage:     StageIssued,
		User:      user,
		Token:     sessionToken,
		ExpiresAt: expiresAt,
		Redirect:  redirect,
	}
}

func (g *GoogleFlow) fail(result Result, redirect string) Result {
	if redirect == "" {
		redirect = g.Redirects.Resolve("")
	}
	result.Redirect = redirect
	g.logger().Warn("google sign-in failed",
		"stage", result.FailedAt, "reason", result.Reason, "error", result.Err)
	return result
}

// HandleCallback handles GET /auth/google/callback. Transient cookies are
// cleared on every outcome.
func (g *GoogleFlow) HandleCallback(w http.ResponseWriter, r *http.Request) {
	result := g.Callback(r.Context(), r)

	g.Cookies.Clear(w, StateCookie, true)
	g.Cookies.Clear(w, NonceCookie, true)
	g.Cookies.Clear(w, ModeCookie, true)
	if result.OK() {
		g.Cookies.SetSession(w, result.Token, result.ExpiresAt)
	}

	if result.Popup {
		msg := popupMessage{Type: "oauth", Status: "success", Redirect: result.Redirect}
		if !result.OK() {
			msg.Status = "error"
			msg.Reason = string(result.Reason)
		}
		if err := writePopupPage(w, g.FrontendOrigin, msg); err != nil {
			g.logger().Error("rendering popup page", "error", err)
		}
		return
	}

	target := result.Redirect
	if !result.OK() {
		target = withError(target, result.Reason)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
