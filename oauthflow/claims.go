package oauthflow

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-session-vault/internal/utils"
)

// scopesFromToken extracts the granted scope list from a token response.
// Providers usually return a space-separated "scope" field; when they
// don't and the access token is a JWT, the scope claim inside it is used.
// Claims are read unverified — scopes here are display metadata, not an
// authorization decision.
func scopesFromToken(token *oauth2.Token) []string {
	if raw, ok := token.Extra("scope").(string); ok && raw != "" {
		return strings.Fields(raw)
	}
	return scopesFromJWT(token.AccessToken)
}

func scopesFromJWT(raw string) []string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil
	}

	for _, key := range []string{"scope", "scp"} {
		switch value := claims[key].(type) {
		case string:
			if value != "" {
				return strings.Fields(value)
			}
		case []any:
			if scopes := utils.ToStringSlice(value); len(scopes) > 0 {
				return scopes
			}
		}
	}
	return nil
}
