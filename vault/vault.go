// Package vault manages the single credential slot: it encrypts a token
// envelope with the per-session secret, persists it alongside a plaintext
// meta record, enforces expiry and integrity on every read, and runs the
// background cleanup sweep and countdown tick.
//
// Every storage or crypto failure degrades to "no credential". Ambiguous
// states resolve to logged-out, never to a silently-wrong credential.
package vault

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-session-vault/cryptoengine"
)

const (
	defaultSessionTimeout    = 30 * time.Minute
	defaultStaleCeiling      = 24 * time.Hour
	defaultCleanupInterval   = 1 * time.Minute
	defaultCountdownInterval = 1 * time.Second
)

// Vault owns the per-session secret and the envelope slot. The slot moves
// through Empty -> Active -> Expired/Cleared; there are no other states.
type Vault struct {
	mu          sync.Mutex
	secret      []byte
	storage     Storage
	origin      string
	fingerprint string // expected user-agent binding, optional

	sessionTimeout    time.Duration
	staleCeiling      time.Duration
	cleanupInterval   time.Duration
	countdownInterval time.Duration
	nowTime           func() time.Time

	onExpire    []Listener
	onRefresh   []Listener
	onCountdown []CountdownListener

	running bool
	stop    chan struct{}
}

// Option modifies a Vault at construction time.
type Option func(*Vault)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(v *Vault) {
		v.nowTime = nowFunc
	}
}

// WithSessionTimeout sets the rolling session timeout applied at store/refresh.
func WithSessionTimeout(timeout time.Duration) Option {
	return func(v *Vault) {
		v.sessionTimeout = timeout
	}
}

// WithStaleCeiling sets the absolute staleness ceiling. This is enforced
// independently of the rolling timeout: however often a session refreshes,
// an envelope older than the ceiling is discarded.
func WithStaleCeiling(ceiling time.Duration) Option {
	return func(v *Vault) {
		v.staleCeiling = ceiling
	}
}

// WithCleanupInterval sets how often the background sweep runs.
func WithCleanupInterval(interval time.Duration) Option {
	return func(v *Vault) {
		v.cleanupInterval = interval
	}
}

// WithCountdownInterval sets the countdown tick period.
func WithCountdownInterval(interval time.Duration) Option {
	return func(v *Vault) {
		v.countdownInterval = interval
	}
}

// WithFingerprint binds the vault to an opaque user-agent value. Envelopes
// record its hash on store and must match it on every retrieve.
func WithFingerprint(fingerprint string) Option {
	return func(v *Vault) {
		v.fingerprint = fingerprint
	}
}

// New creates a Vault bound to origin, owning secret, persisting into storage.
// The secret is the per-session random value; it lives only in this process
// and is never written anywhere.
func New(secret []byte, storage Storage, origin string, options ...Option) (*Vault, error) {
	if len(secret) == 0 {
		return nil, errors.New("[vault.New] secret is required")
	}
	if storage == nil {
		return nil, errors.New("[vault.New] storage is required")
	}
	if origin == "" {
		return nil, errors.New("[vault.New] origin is required")
	}

	v := &Vault{
		secret:            append([]byte(nil), secret...),
		storage:           storage,
		origin:            origin,
		sessionTimeout:    defaultSessionTimeout,
		staleCeiling:      defaultStaleCeiling,
		cleanupInterval:   defaultCleanupInterval,
		countdownInterval: defaultCountdownInterval,
		nowTime:           time.Now,
	}

	for _, opt := range options {
		opt(v)
	}

	return v, nil
}

// Store builds a fresh envelope for token, encrypts it and writes the
// blob+meta pair. Either both records land or neither does. Starts the
// background sweep and countdown tick if they are not already running.
func (v *Vault) Store(token string, meta Metadata) error {
	if token == "" {
		return errors.New("[Vault.Store] token is required")
	}

	v.mu.Lock()
	err := v.writeEnvelopeLocked(token, meta.Scopes)
	v.mu.Unlock()
	if err != nil {
		return err
	}

	v.startTimers()
	return nil
}

// Retrieve returns the active envelope or nil. Expiry, decryption failures,
// origin/fingerprint mismatches, meta inconsistency and staleness beyond the
// absolute ceiling all clear the slot and return nil rather than erroring,
// because storage corruption must never be fatal to the caller. A successful
// read slides LastActivityAt; expiry stays fixed at issuance.
func (v *Vault) Retrieve() *TokenEnvelope {
	v.mu.Lock()
	env, events := v.retrieveLocked()
	v.mu.Unlock()

	v.emit(events)
	return env
}

// Refresh re-stores the active envelope, extending expiry by one full
// timeout window from now. newToken replaces the credential when non-empty;
// otherwise the existing token is kept. Returns NoActiveSessionErr when the
// slot is not Active.
func (v *Vault) Refresh(newToken string) error {
	v.mu.Lock()
	env, events := v.retrieveLocked()
	if env == nil {
		v.mu.Unlock()
		v.emit(events)
		return NoActiveSessionErr
	}

	token := env.Token
	if newToken != "" {
		token = newToken
	}

	err := v.writeEnvelopeLocked(token, env.ScopeList)
	refreshedAt := v.nowTime()
	v.mu.Unlock()

	v.emit(events)
	if err != nil {
		return errors.Wrap(err, "[Vault.Refresh] re-store")
	}

	v.emit([]Event{{Kind: EventRefreshed, At: refreshedAt}})
	return nil
}

// Clear wipes both records. Idempotent and always safe to call.
func (v *Vault) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.clearLocked()
}

// Remaining returns the time left until expiry, or zero when the slot is
// not Active. Reads only the meta record, never the blob.
func (v *Vault) Remaining() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()

	meta, ok := v.readMetaLocked()
	if !ok || !meta.IsActive {
		return 0
	}
	remaining := meta.ExpiresAt.Sub(v.nowTime())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// OnExpire registers a listener for the Active -> Expired transition.
func (v *Vault) OnExpire(listener Listener) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onExpire = append(v.onExpire, listener)
}

// OnRefresh registers a listener invoked after a successful Refresh.
func (v *Vault) OnRefresh(listener Listener) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onRefresh = append(v.onRefresh, listener)
}

// OnCountdown registers a listener invoked on every countdown tick while
// the slot is Active.
func (v *Vault) OnCountdown(listener CountdownListener) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onCountdown = append(v.onCountdown, listener)
}

// Close stops the background timers. The stored credential is untouched;
// call Clear for that. Safe to call more than once.
func (v *Vault) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.running {
		close(v.stop)
		v.running = false
	}
}

func (v *Vault) writeEnvelopeLocked(token string, scopes []string) error {
	now := v.nowTime()

	var fingerprintHash string
	if v.fingerprint != "" {
		fingerprintHash = cryptoengine.Hash([]byte(v.fingerprint))
	}

	env := TokenEnvelope{
		ID:                   uuid.New().String(),
		Version:              EnvelopeVersion,
		Token:                token,
		IssuedAt:             now,
		ExpiresAt:            now.Add(v.sessionTimeout),
		Origin:               v.origin,
		UserAgentFingerprint: fingerprintHash,
		ScopeList:            scopes,
	}

	plaintext, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "[Vault] marshal envelope")
	}

	box, err := cryptoengine.Encrypt(plaintext, v.secret)
	if err != nil {
		return errors.Wrap(err, "[Vault] encrypt envelope")
	}

	blob, err := json.Marshal(box)
	if err != nil {
		return errors.Wrap(err, "[Vault] marshal blob")
	}

	meta, err := json.Marshal(SessionMeta{
		ExpiresAt:      env.ExpiresAt,
		LastActivityAt: now,
		IsActive:       true,
	})
	if err != nil {
		return errors.Wrap(err, "[Vault] marshal meta")
	}

	if err := v.storage.Set(BlobKey, string(blob)); err != nil {
		return errors.Wrap(err, "[Vault] write blob")
	}
	if err := v.storage.Set(MetaKey, string(meta)); err != nil {
		// Roll the blob back so the pair never goes inconsistent.
		if delErr := v.storage.Delete(BlobKey); delErr != nil {
			log.Error().Err(delErr).Msg("vault: blob rollback failed")
		}
		return errors.Wrap(err, "[Vault] write meta")
	}
	return nil
}

func (v *Vault) retrieveLocked() (*TokenEnvelope, []Event) {
	metaStr, err := v.storage.Get(MetaKey)
	if errors.Is(err, KeyNotFoundErr) {
		return nil, nil
	}
	if err != nil {
		log.Warn().Err(err).Msg("vault: meta read failed, treating as logged out")
		return nil, nil
	}

	var meta SessionMeta
	if err := json.Unmarshal([]byte(metaStr), &meta); err != nil {
		log.Warn().Err(err).Msg("vault: malformed meta, clearing")
		v.clearLocked()
		return nil, nil
	}
	if !meta.IsActive {
		return nil, nil
	}

	now := v.nowTime()
	if now.After(meta.ExpiresAt) {
		v.clearLocked()
		return nil, []Event{{Kind: EventExpired, At: now}}
	}

	blobStr, err := v.storage.Get(BlobKey)
	if err != nil {
		log.Warn().Err(err).Msg("vault: active meta without readable blob, clearing")
		v.clearLocked()
		return nil, nil
	}

	var box cryptoengine.SealedBox
	if err := json.Unmarshal([]byte(blobStr), &box); err != nil {
		log.Warn().Err(err).Msg("vault: malformed blob, clearing")
		v.clearLocked()
		return nil, nil
	}

	plaintext, err := cryptoengine.Decrypt(&box, v.secret)
	if err != nil {
		log.Warn().Err(err).Msg("vault: decryption failed, clearing")
		v.clearLocked()
		return nil, nil
	}

	var env TokenEnvelope
	if err := json.Unmarshal(plaintext, &env); err != nil {
		log.Warn().Err(err).Msg("vault: malformed envelope, clearing")
		v.clearLocked()
		return nil, nil
	}

	if !env.Valid() {
		log.Warn().Int("version", env.Version).Msg("vault: envelope failed validation, clearing")
		v.clearLocked()
		return nil, nil
	}
	if env.Origin != v.origin {
		log.Warn().Str("origin", env.Origin).Msg("vault: origin mismatch, clearing")
		v.clearLocked()
		return nil, nil
	}
	if v.fingerprint != "" && env.UserAgentFingerprint != cryptoengine.Hash([]byte(v.fingerprint)) {
		log.Warn().Msg("vault: fingerprint mismatch, clearing")
		v.clearLocked()
		return nil, nil
	}
	if !env.ExpiresAt.Equal(meta.ExpiresAt) {
		log.Warn().Msg("vault: meta/envelope expiry mismatch, clearing")
		v.clearLocked()
		return nil, nil
	}
	// Absolute ceiling, independent of the rolling timeout.
	if now.Sub(env.IssuedAt) > v.staleCeiling {
		log.Warn().Time("issuedAt", env.IssuedAt).Msg("vault: envelope beyond staleness ceiling, clearing")
		v.clearLocked()
		return nil, nil
	}
	if now.After(env.ExpiresAt) {
		v.clearLocked()
		return nil, []Event{{Kind: EventExpired, At: now}}
	}

	// Sliding activity, not sliding expiry.
	meta.LastActivityAt = now
	if updated, err := json.Marshal(meta); err == nil {
		if err := v.storage.Set(MetaKey, string(updated)); err != nil {
			log.Warn().Err(err).Msg("vault: lastActivity update failed")
		}
	}

	return &env, nil
}

// checkExpiryLocked is the sweep's cheap expiry check: meta only, no decrypt.
func (v *Vault) checkExpiryLocked() []Event {
	meta, ok := v.readMetaLocked()
	if !ok || !meta.IsActive {
		return nil
	}
	now := v.nowTime()
	if now.After(meta.ExpiresAt) {
		v.clearLocked()
		return []Event{{Kind: EventExpired, At: now}}
	}
	return nil
}

func (v *Vault) readMetaLocked() (SessionMeta, bool) {
	metaStr, err := v.storage.Get(MetaKey)
	if err != nil {
		return SessionMeta{}, false
	}
	var meta SessionMeta
	if err := json.Unmarshal([]byte(metaStr), &meta); err != nil {
		return SessionMeta{}, false
	}
	return meta, true
}

func (v *Vault) clearLocked() {
	if err := v.storage.Delete(BlobKey); err != nil {
		log.Error().Err(err).Msg("vault: blob delete failed")
	}
	if err := v.storage.Delete(MetaKey); err != nil {
		log.Error().Err(err).Msg("vault: meta delete failed")
	}
}

func (v *Vault) startTimers() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.running {
		return
	}
	v.stop = make(chan struct{})
	v.running = true
	go v.run(v.stop)
}

func (v *Vault) run(stop chan struct{}) {
	cleanup := time.NewTicker(v.cleanupInterval)
	defer cleanup.Stop()
	countdown := time.NewTicker(v.countdownInterval)
	defer countdown.Stop()

	for {
		select {
		case <-cleanup.C:
			v.sweep()
		case <-countdown.C:
			v.countdownTick()
		case <-stop:
			return
		}
	}
}

func (v *Vault) sweep() {
	v.mu.Lock()
	events := v.checkExpiryLocked()
	v.mu.Unlock()
	v.emit(events)
}

func (v *Vault) countdownTick() {
	v.mu.Lock()
	meta, ok := v.readMetaLocked()
	active := ok && meta.IsActive
	remaining := time.Duration(0)
	if active {
		remaining = meta.ExpiresAt.Sub(v.nowTime())
		if remaining < 0 {
			remaining = 0
		}
	}
	listeners := append([]CountdownListener(nil), v.onCountdown...)
	v.mu.Unlock()

	if !active {
		return
	}
	for _, listener := range listeners {
		invokeCountdown(listener, remaining)
	}
}

func (v *Vault) emit(events []Event) {
	for _, event := range events {
		v.mu.Lock()
		var listeners []Listener
		switch event.Kind {
		case EventExpired:
			listeners = append(listeners, v.onExpire...)
		case EventRefreshed:
			listeners = append(listeners, v.onRefresh...)
		}
		v.mu.Unlock()

		for _, listener := range listeners {
			invokeListener(listener, event)
		}
	}
}

// Listener panics are recovered and logged; they must never corrupt the
// vault's own state.
func invokeListener(listener Listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", string(event.Kind)).Msg("vault: listener panicked")
		}
	}()
	listener(event)
}

func invokeCountdown(listener CountdownListener, remaining time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("vault: countdown listener panicked")
		}
	}()
	listener(remaining)
}
