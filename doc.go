// Package authcore is an authentication and session-lifecycle core for Go
// services.
//
// It provides OTP gated registration and login, Google OAuth federation,
// stateless JWT sessions, a password reset ceremony and a double-submit CSRF
// guard. Everything it needs to persist goes through the CredentialStore
// interfaces; code delivery goes through a Notifier.
//
// # Flows
//
// Registration: POST /auth/register stores a PendingRegistration and mails a
// code. POST /auth/register/verify checks the code and promotes the pending
// record to a User exactly once, returning a session.
//
// Login: POST /auth/login checks the password and mails a login code.
// POST /auth/login/verify exchanges the code for a session.
//
// Password reset: POST /auth/password/forgot mails a reset code (always 200),
// POST /auth/password/verify exchanges it for a short lived reset token and
// POST /auth/password/reset sets the new password. Changing the password
// invalidates every session issued before it.
//
// Google: GET /auth/google starts the flow, GET /auth/google/callback
// completes it. See the oauth2 package.
//
// # Basic Usage
//
//	cfg, err := authcore.LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store := fs.NewFSStore("/path/to/storage")
//	core := authcore.New(cfg, store, &authcore.ConsoleNotifier{})
//
//	router := mux.NewRouter()
//	core.Mount(router, "/auth")
//	router.Handle("/api/profile", core.Middleware.EnsureUser(profileHandler))
//
// # Sessions
//
// Session tokens are HS256 JWTs carrying sub, role, email, name and iat. They
// are not stored. A token is rejected when the user's password changed more
// than the skew tolerance after its iat. Tokens are read from the session
// cookie first and the Authorization header second.
//
// # Security
//
// Passwords and codes are hashed with bcrypt. Codes are six digits, expire
// after the OTP TTL and allow five attempts each. Unsafe requests must echo
// the csrf_token cookie in the X-CSRF-Token header unless they authenticate
// with a bearer header only.
//
// # Testing
//
// Handlers can be tested without a running HTTP server using httptest and
// the file based store in a temporary directory.
package authcore
