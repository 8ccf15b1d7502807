package authcore

import (
	"net/http"
	"strings"
)

// Built-in roles
const (
	RoleAdmin = "admin"
)

// ParseRoles parses a comma or space separated role list, dropping duplicates
func ParseRoles(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	seen := make(map[string]bool)
	result := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" && !seen[f] {
			seen[f] = true
			result = append(result, f)
		}
	}
	return result
}

// ContainsRole checks if a role is present in the list
func ContainsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// RequireRole lets through only sessions whose role is one of roles. It
// must run after EnsureUser or ExtractUser.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, AuthenticationError(ErrCodeInvalidToken, "Authentication required"), 0)
				return
			}
			if !ContainsRole(roles, claims.Role) {
				writeError(w, &AuthError{Kind: KindAuthentication, Code: ErrCodeForbidden, Message: "Insufficient role"}, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
