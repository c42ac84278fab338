// Package oauthflow drives acquisition of a fresh bearer token via two
// alternative protocols: the authorization-code redirect flow with an
// anti-replay state nonce, and the RFC 8628 device authorization flow with
// cooperative polling. Both terminate in a store into the credential vault.
package oauthflow

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-session-vault/vault"
)

const (
	defaultStateTimeout = 10 * time.Minute
	defaultSlowDownStep = 5 * time.Second
	defaultPollInterval = 5 * time.Second
)

// Controller owns the transient flow state (state nonce, device flow) and
// hands successful tokens to the vault. The vault never calls back into the
// controller.
type Controller struct {
	mu    sync.Mutex
	cfg   oauth2.Config
	vault *vault.Vault

	httpClient   *http.Client
	nowTime      func() time.Time
	stateTimeout time.Duration
	slowDownStep time.Duration
	pollInterval time.Duration // overrides the provider's suggested interval

	authState *AuthState
	device    *DeviceFlowState
}

// Option modifies a Controller at construction time.
type Option func(*Controller)

// WithHTTPClient sets the HTTP client used for provider requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Controller) {
		c.httpClient = client
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(c *Controller) {
		c.nowTime = nowFunc
	}
}

// WithStateTimeout sets how long a redirect state nonce stays valid.
func WithStateTimeout(timeout time.Duration) Option {
	return func(c *Controller) {
		c.stateTimeout = timeout
	}
}

// WithSlowDownStep sets how much the poll interval grows on a slow_down
// response from the provider.
func WithSlowDownStep(step time.Duration) Option {
	return func(c *Controller) {
		c.slowDownStep = step
	}
}

// WithPollInterval overrides the provider's suggested device poll interval
// (primarily for testing)
func WithPollInterval(interval time.Duration) Option {
	return func(c *Controller) {
		c.pollInterval = interval
	}
}

// New creates a Controller for the given provider configuration, storing
// successful tokens into credentialVault.
func New(cfg oauth2.Config, credentialVault *vault.Vault, options ...Option) (*Controller, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("[oauthflow.New] client ID is required")
	}
	if credentialVault == nil {
		return nil, errors.New("[oauthflow.New] vault is required")
	}

	c := &Controller{
		cfg:          cfg,
		vault:        credentialVault,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		nowTime:      time.Now,
		stateTimeout: defaultStateTimeout,
		slowDownStep: defaultSlowDownStep,
	}

	for _, opt := range options {
		opt(c)
	}

	return c, nil
}

// requestContext routes oauth2 library calls through the controller's
// HTTP client.
func (c *Controller) requestContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *Controller) storeToken(token *oauth2.Token) error {
	scopes := scopesFromToken(token)
	if err := c.vault.Store(token.AccessToken, vault.Metadata{Scopes: scopes}); err != nil {
		return errors.Wrap(err, "[Controller] vault store")
	}
	return nil
}
