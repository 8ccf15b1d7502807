package oauth2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateRoundTrip(t *testing.T) {
	encoded, err := encodeState(statePayload{Redirect: "/next?x=1", Salt: "abc"})
	require.NoError(t, err)
	assert.NotContains(t, encoded, "=")

	decoded, err := decodeState(encoded)
	require.NoError(t, err)
	assert.Equal(t, "/next?x=1", decoded.Redirect)
	assert.Equal(t, "abc", decoded.Salt)

	_, err = decodeState("not base64 !!")
	assert.Error(t, err)
}

func TestRedirectPolicy(t *testing.T) {
	policy := RedirectPolicy{
		AllowedOrigins: []string{"https://app.example.com", "https://admin.example.com/"},
		FrontendURL:    "https://app.example.com",
		Default:        "/home",
	}
	cases := []struct {
		target string
		want   string
	}{
		{"/settings", "https://app.example.com/settings"},
		{"https://admin.example.com/x", "https://admin.example.com/x"},
		{"HTTPS://APP.example.com/y", "HTTPS://APP.example.com/y"},
		{"", "https://app.example.com/home"},
		{"//evil.example.net/x", "https://app.example.com/home"},
		{"/\\evil.example.net", "https://app.example.com/home"},
		{"https://evil.example.net/x", "https://app.example.com/home"},
		{"javascript:alert(1)", "https://app.example.com/home"},
		{"relative/path", "https://app.example.com/home"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, policy.Resolve(tc.target), tc.target)
	}

	// Without a frontend URL relative targets stay relative
	assert.Equal(t, "/home", RedirectPolicy{Default: "/home"}.Resolve("https://x.example.com"))
}

func TestWithError(t *testing.T) {
	assert.Equal(t, "/home?error=conflict", withError("/home", ReasonConflict))
	assert.Equal(t, "https://app.example.com/a?b=1&error=invalid_state",
		withError("https://app.example.com/a?b=1", ReasonInvalidState))
}
