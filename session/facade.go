// Package session is the only surface external collaborators consume: a
// facade composing the OAuth flow controller and the credential vault into
// "give me a valid bearer token or tell me why not" plus login/logout and
// expiry/refresh notifications.
package session

import (
	"context"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-session-vault/cryptoengine"
	"github.com/jrsteele09/go-session-vault/oauthflow"
	"github.com/jrsteele09/go-session-vault/vault"
)

// SecretLength is the size in bytes of a generated session secret.
const SecretLength = 32

// Mode selects the OAuth acquisition protocol.
type Mode string

const (
	ModeRedirect Mode = "redirect"
	ModeDevice   Mode = "device"
)

// AuthURLHandler receives the provider authorization URL the user must
// navigate to during the redirect flow.
type AuthURLHandler func(authURL string)

// DevicePromptHandler receives the user code and verification URI to
// display while the device flow polls.
type DevicePromptHandler func(userCode, verificationURI string)

// Service composes the flow controller and the vault. All methods are safe
// for concurrent use.
type Service struct {
	vault *vault.Vault
	flow  *oauthflow.Controller

	onAuthURL      AuthURLHandler
	onDevicePrompt DevicePromptHandler
}

// ServiceOption modifies a Service at construction time.
type ServiceOption func(*Service)

// WithAuthURLHandler sets the handler invoked with the authorization URL
// when a redirect login starts.
func WithAuthURLHandler(handler AuthURLHandler) ServiceOption {
	return func(s *Service) {
		s.onAuthURL = handler
	}
}

// WithDevicePromptHandler sets the handler invoked with the device prompt
// when a device login starts.
func WithDevicePromptHandler(handler DevicePromptHandler) ServiceOption {
	return func(s *Service) {
		s.onDevicePrompt = handler
	}
}

// New creates the facade over an already-constructed vault and controller.
func New(credentialVault *vault.Vault, flow *oauthflow.Controller, options ...ServiceOption) (*Service, error) {
	if credentialVault == nil {
		return nil, errors.New("[session.New] vault is required")
	}
	if flow == nil {
		return nil, errors.New("[session.New] flow controller is required")
	}

	s := &Service{
		vault: credentialVault,
		flow:  flow,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// NewSecret generates a fresh per-session secret. Generated once when the
// subsystem initializes, held only in memory, never persisted.
func NewSecret() ([]byte, error) {
	return cryptoengine.RandomBytes(SecretLength)
}

// Login dispatches to one of the two acquisition protocols.
//
// ModeDevice blocks until the device flow reaches a terminal state.
// ModeRedirect returns after handing the authorization URL to the
// registered handler; the flow resumes when CompleteRedirect is called with
// the provider's callback parameters.
func (s *Service) Login(ctx context.Context, mode Mode) error {
	switch mode {
	case ModeRedirect:
		authURL, err := s.flow.BeginRedirect()
		if err != nil {
			return errors.Wrap(err, "[Service.Login] begin redirect")
		}
		if s.onAuthURL != nil {
			s.onAuthURL(authURL)
		}
		return nil
	case ModeDevice:
		prompt, err := s.flow.BeginDevice(ctx)
		if err != nil {
			return errors.Wrap(err, "[Service.Login] begin device")
		}
		if s.onDevicePrompt != nil {
			s.onDevicePrompt(prompt.UserCode, prompt.VerificationURI)
		}
		return s.flow.PollDevice(ctx)
	default:
		return errors.Wrapf(UnknownModeErr, "%q", mode)
	}
}

// CompleteRedirect resumes a redirect login with the code and state the
// provider sent back.
func (s *Service) CompleteRedirect(ctx context.Context, code, state string) error {
	return s.flow.CompleteRedirect(ctx, code, state)
}

// IsAuthenticated reports whether a valid credential is currently stored.
func (s *Service) IsAuthenticated() bool {
	return s.vault.Retrieve() != nil
}

// Token returns the bearer credential, or NotAuthenticatedErr. Callers must
// treat the error as "prompt re-login", never retry without backoff.
func (s *Service) Token() (string, error) {
	env := s.vault.Retrieve()
	if env == nil {
		return "", NotAuthenticatedErr
	}
	return env.Token, nil
}

// Scopes returns the granted scope list of the active credential, or nil.
func (s *Service) Scopes() []string {
	env := s.vault.Retrieve()
	if env == nil {
		return nil
	}
	return env.ScopeList
}

// Refresh extends the active session by one full timeout window.
func (s *Service) Refresh(newToken string) error {
	return s.vault.Refresh(newToken)
}

// Logout cancels any in-flight device poll and clears the credential.
// Idempotent.
func (s *Service) Logout() {
	s.flow.CancelDevice()
	s.vault.Clear()
}

// OnExpire registers an expiry listener on the underlying vault.
func (s *Service) OnExpire(listener vault.Listener) {
	s.vault.OnExpire(listener)
}

// OnRefresh registers a refresh listener on the underlying vault.
func (s *Service) OnRefresh(listener vault.Listener) {
	s.vault.OnRefresh(listener)
}

// OnCountdown registers a countdown listener on the underlying vault.
func (s *Service) OnCountdown(listener vault.CountdownListener) {
	s.vault.OnCountdown(listener)
}

// Close stops the vault's background timers.
func (s *Service) Close() {
	s.vault.Close()
}
