package oauth2

import (
	"context"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Exchanger builds authorization URLs and trades codes for tokens.
// *oauth2.Config satisfies it.
type Exchanger interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// GoogleScopes are requested on every start
var GoogleScopes = []string{"openid", "email", "profile"}

// NewGoogleConfig returns the oauth2 config for Google's endpoint. The
// redirect URL must match the one registered with Google exactly.
func NewGoogleConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       GoogleScopes,
		Endpoint:     google.Endpoint,
	}
}

// idTokenFrom pulls the OpenID id_token out of a token response
func idTokenFrom(token *oauth2.Token) string {
	raw, _ := token.Extra("id_token").(string)
	return raw
}
