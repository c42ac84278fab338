package oauthflow

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-session-vault/cryptoengine"
)

const stateNonceLength = 32

// AuthState is the transient anti-replay record for the redirect flow. Only
// the hash of the state nonce is kept; the nonce itself travels through the
// provider redirect. Destroyed on the first callback, verified or not.
type AuthState struct {
	StateHash string
	CreatedAt time.Time
}

// BeginRedirect generates a fresh state nonce and returns the provider
// authorization URL the caller should navigate to. Control returns to the
// caller here; the flow resumes in CompleteRedirect when the provider
// redirects back.
func (c *Controller) BeginRedirect() (string, error) {
	nonce, err := cryptoengine.RandomToken(stateNonceLength)
	if err != nil {
		return "", errors.Wrap(err, "[Controller.BeginRedirect] state nonce")
	}

	c.mu.Lock()
	c.authState = &AuthState{
		StateHash: cryptoengine.Hash([]byte(nonce)),
		CreatedAt: c.nowTime(),
	}
	c.mu.Unlock()

	return c.cfg.AuthCodeURL(nonce), nil
}

// CompleteRedirect verifies the echoed state against the stored nonce and,
// on a match, exchanges the authorization code for a token and stores it.
// The AuthState is discarded whether verification succeeds or fails, so a
// replayed callback always fails with InvalidStateErr. No exchange is
// attempted on a state mismatch or a stale nonce.
func (c *Controller) CompleteRedirect(ctx context.Context, receivedCode, receivedState string) error {
	c.mu.Lock()
	authState := c.authState
	c.authState = nil
	c.mu.Unlock()

	if authState == nil || receivedCode == "" || receivedState == "" {
		return InvalidStateErr
	}
	if c.nowTime().Sub(authState.CreatedAt) > c.stateTimeout {
		log.Warn().Msg("oauthflow: redirect state nonce expired")
		return InvalidStateErr
	}
	// Compare hashes in constant time rather than the raw values.
	if !cryptoengine.SecureCompare(cryptoengine.Hash([]byte(receivedState)), authState.StateHash) {
		log.Warn().Msg("oauthflow: redirect state mismatch")
		return InvalidStateErr
	}

	token, err := c.cfg.Exchange(c.requestContext(ctx), receivedCode)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorDescription != "" {
			return errors.Wrapf(CodeExchangeErr, "%s: %s", retrieveErr.ErrorCode, retrieveErr.ErrorDescription)
		}
		return errors.Wrap(CodeExchangeErr, err.Error())
	}

	return c.storeToken(token)
}
