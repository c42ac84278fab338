package oauthflow

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

// DevicePrompt is what the caller displays to the user while polling runs.
type DevicePrompt struct {
	UserCode        string
	VerificationURI string
}

// DeviceFlowState is the transient, in-memory state of one device
// authorization attempt. Created by BeginDevice, mutated by each poll tick
// (interval back-off on slow_down), destroyed on success, cancellation or
// expiry.
type DeviceFlowState struct {
	DeviceCode      string
	UserCode        string
	VerificationURI string
	PollInterval    time.Duration
	ExpiresAt       time.Time

	cancelled  atomic.Bool
	cancelCh   chan struct{}
	cancelOnce sync.Once
}

// Cancel requests cancellation. Idempotent; the poll loop observes it at
// the next tick boundary and a result from an exchange already in flight is
// discarded rather than stored.
func (d *DeviceFlowState) Cancel() {
	d.cancelOnce.Do(func() {
		d.cancelled.Store(true)
		close(d.cancelCh)
	})
}

// Cancelled reports whether Cancel has been called.
func (d *DeviceFlowState) Cancelled() bool {
	return d.cancelled.Load()
}

// BeginDevice requests a device code from the provider and returns the
// prompt to display. Call PollDevice to run the authorization to completion.
func (c *Controller) BeginDevice(ctx context.Context) (*DevicePrompt, error) {
	resp, err := c.cfg.DeviceAuth(c.requestContext(ctx))
	if err != nil {
		return nil, errors.Wrap(err, "[Controller.BeginDevice] device authorization request")
	}

	interval := time.Duration(resp.Interval) * time.Second
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if c.pollInterval > 0 {
		interval = c.pollInterval
	}
	expiresAt := resp.Expiry
	if expiresAt.IsZero() {
		expiresAt = c.nowTime().Add(15 * time.Minute)
	}

	state := &DeviceFlowState{
		DeviceCode:      resp.DeviceCode,
		UserCode:        resp.UserCode,
		VerificationURI: resp.VerificationURI,
		PollInterval:    interval,
		ExpiresAt:       expiresAt,
		cancelCh:        make(chan struct{}),
	}

	c.mu.Lock()
	c.device = state
	c.mu.Unlock()

	return &DevicePrompt{UserCode: state.UserCode, VerificationURI: state.VerificationURI}, nil
}

// PollDevice runs the polling loop until a terminal state: token stored
// (nil), DeviceExpiredErr, DeviceDeniedErr, DeviceCancelledErr, a wrapped
// DeviceFlowFailedErr for other provider errors, or ctx.Err(). The loop
// sleeps between ticks, so cancellation is observed at tick boundaries and
// never interrupts an exchange mid-request.
func (c *Controller) PollDevice(ctx context.Context) error {
	c.mu.Lock()
	state := c.device
	c.mu.Unlock()
	if state == nil {
		return NoDeviceFlowErr
	}
	defer c.finishDevice(state)

	for {
		c.mu.Lock()
		interval := state.PollInterval
		c.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
		case <-state.cancelCh:
			timer.Stop()
			return DeviceCancelledErr
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}

		if state.Cancelled() {
			return DeviceCancelledErr
		}
		if c.nowTime().After(state.ExpiresAt) {
			return DeviceExpiredErr
		}

		token, pollErr := c.exchangeDeviceCode(ctx, state.DeviceCode)
		switch {
		case pollErr == nil:
			// A success that raced a cancellation is discarded, not stored.
			if state.Cancelled() {
				log.Info().Msg("oauthflow: discarding device token obtained after cancellation")
				return DeviceCancelledErr
			}
			return c.storeToken(token)
		case errors.Is(pollErr, errAuthorizationPending):
			continue
		case errors.Is(pollErr, errSlowDown):
			c.mu.Lock()
			state.PollInterval += c.slowDownStep
			c.mu.Unlock()
			continue
		case errors.Is(pollErr, DeviceExpiredErr), errors.Is(pollErr, DeviceDeniedErr):
			return pollErr
		default:
			return errors.Wrap(DeviceFlowFailedErr, pollErr.Error())
		}
	}
}

// CancelDevice cancels any device flow in progress. Safe to call when none is.
func (c *Controller) CancelDevice() {
	c.mu.Lock()
	state := c.device
	c.mu.Unlock()
	if state != nil {
		state.Cancel()
	}
}

func (c *Controller) finishDevice(state *DeviceFlowState) {
	c.mu.Lock()
	if c.device == state {
		c.device = nil
	}
	c.mu.Unlock()
}

// Non-terminal poll results, internal to the loop.
var (
	errAuthorizationPending = errors.New("authorization pending")
	errSlowDown             = errors.New("slow down")
)

type deviceTokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// exchangeDeviceCode performs one token-endpoint attempt for the device
// grant. The oauth2 package's own DeviceAccessToken loop is not used because
// the subsystem needs per-tick cancellation and back-off control.
func (c *Controller) exchangeDeviceCode(ctx context.Context, deviceCode string) (*oauth2.Token, error) {
	form := url.Values{
		"grant_type":  {deviceGrantType},
		"device_code": {deviceCode},
		"client_id":   {c.cfg.ClientID},
	}
	if c.cfg.ClientSecret != "" {
		form.Set("client_secret", c.cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "[Controller.exchangeDeviceCode] build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "[Controller.exchangeDeviceCode] token endpoint")
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "[Controller.exchangeDeviceCode] read response")
	}

	var resp deviceTokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, "[Controller.exchangeDeviceCode] decode response")
	}

	switch resp.Error {
	case "":
	case "authorization_pending":
		return nil, errAuthorizationPending
	case "slow_down":
		return nil, errSlowDown
	case "expired_token":
		return nil, DeviceExpiredErr
	case "access_denied":
		return nil, DeviceDeniedErr
	default:
		if resp.ErrorDescription != "" {
			return nil, errors.Errorf("%s: %s", resp.Error, resp.ErrorDescription)
		}
		return nil, errors.New(resp.Error)
	}

	if resp.AccessToken == "" {
		return nil, errors.New("token endpoint returned no access token")
	}

	token := &oauth2.Token{
		AccessToken:  resp.AccessToken,
		TokenType:    resp.TokenType,
		RefreshToken: resp.RefreshToken,
	}
	if resp.ExpiresIn > 0 {
		token.Expiry = c.nowTime().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return token.WithExtra(map[string]interface{}{"scope": resp.Scope}), nil
}
