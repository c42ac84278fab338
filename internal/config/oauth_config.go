package config

import (
	"strings"
	"time"
)

type OAuthConfig interface {
	GetIssuer() string
	GetClientID() string
	GetClientSecret() string
	GetScopes() []string
	GetCallbackPort() int
	GetStateTimeout() time.Duration
}

type OAuth struct{}

var _ OAuthConfig = OAuth{}

func (OAuth) GetIssuer() string {
	return GetEnv("OAUTH_ISSUER", "")
}

func (OAuth) GetClientID() string {
	return GetEnv("OAUTH_CLIENT_ID", "")
}

func (OAuth) GetClientSecret() string {
	return GetEnv("OAUTH_CLIENT_SECRET", "")
}

func (OAuth) GetScopes() []string {
	return strings.Fields(GetEnv("OAUTH_SCOPES", "openid profile"))
}

func (OAuth) GetCallbackPort() int {
	return 0 // Pick a free loopback port
}

func (OAuth) GetStateTimeout() time.Duration {
	return 10 * time.Minute
}
