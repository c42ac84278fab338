package oauthflow

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func signedJWT(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return raw
}

func TestScopesFromTokenScopeField(t *testing.T) {
	token := (&oauth2.Token{AccessToken: "opaque"}).WithExtra(map[string]interface{}{"scope": "repo user read:org"})
	require.Equal(t, []string{"repo", "user", "read:org"}, scopesFromToken(token))
}

func TestScopesFromTokenFallsBackToJWT(t *testing.T) {
	token := &oauth2.Token{AccessToken: signedJWT(t, jwt.MapClaims{"scope": "openid profile"})}
	require.Equal(t, []string{"openid", "profile"}, scopesFromToken(token))
}

func TestScopesFromJWTScpArrayClaim(t *testing.T) {
	raw := signedJWT(t, jwt.MapClaims{"scp": []string{"mail.read", "mail.send"}})
	require.Equal(t, []string{"mail.read", "mail.send"}, scopesFromJWT(raw))
}

func TestScopesFromJWTNoClaim(t *testing.T) {
	require.Nil(t, scopesFromJWT(signedJWT(t, jwt.MapClaims{"sub": "user-1"})))
}

func TestScopesFromJWTNotAJWT(t *testing.T) {
	require.Nil(t, scopesFromJWT("gho_opaqueAccessToken"))
}
