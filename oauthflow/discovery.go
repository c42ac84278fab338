package oauthflow

import (
	"context"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// DiscoverEndpoints resolves the provider's authorization, token and
// device-authorization endpoints from its issuer URL via OIDC discovery.
func DiscoverEndpoints(ctx context.Context, issuer string) (oauth2.Endpoint, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return oauth2.Endpoint{}, errors.Wrap(err, "[DiscoverEndpoints] oidc.NewProvider")
	}

	endpoint := provider.Endpoint()

	// device_authorization_endpoint is not part of provider.Endpoint().
	var extra struct {
		DeviceAuthorizationEndpoint string `json:"device_authorization_endpoint"`
	}
	if err := provider.Claims(&extra); err == nil {
		endpoint.DeviceAuthURL = extra.DeviceAuthorizationEndpoint
	}

	return endpoint, nil
}
