package vault_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-session-vault/vault"
)

const (
	testSecret = "per-session-test-secret"
	testOrigin = "https://app.example.com"
	testToken  = "abc"
)

// fakeClock is an adjustable time source for WithNowTime.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testFixture struct {
	clock   *fakeClock
	storage *vault.InMemoryStorage
	vault   *vault.Vault
}

func setupTestFixture(t *testing.T, options ...vault.Option) *testFixture {
	t.Helper()

	clock := newFakeClock()
	storage := vault.NewInMemoryStorage()

	opts := append([]vault.Option{vault.WithNowTime(clock.Now)}, options...)
	v, err := vault.New([]byte(testSecret), storage, testOrigin, opts...)
	require.NoError(t, err)
	t.Cleanup(v.Close)

	return &testFixture{clock: clock, storage: storage, vault: v}
}

func (f *testFixture) requireCleared(t *testing.T) {
	t.Helper()
	_, err := f.storage.Get(vault.BlobKey)
	require.ErrorIs(t, err, vault.KeyNotFoundErr)
	_, err = f.storage.Get(vault.MetaKey)
	require.ErrorIs(t, err, vault.KeyNotFoundErr)
}

func TestStoreAndRetrieve(t *testing.T) {
	f := setupTestFixture(t)

	require.NoError(t, f.vault.Store(testToken, vault.Metadata{Scopes: []string{"repo", "user"}}))

	env := f.vault.Retrieve()
	require.NotNil(t, env)
	require.Equal(t, testToken, env.Token)
	require.Equal(t, []string{"repo", "user"}, env.ScopeList)
	require.Equal(t, testOrigin, env.Origin)
	require.Equal(t, vault.EnvelopeVersion, env.Version)
	require.NotEmpty(t, env.ID)
	require.True(t, env.IssuedAt.Equal(f.clock.Now()))
	require.True(t, env.ExpiresAt.Equal(f.clock.Now().Add(30*time.Minute)))
}

func TestRetrieveEmptyVault(t *testing.T) {
	f := setupTestFixture(t)
	require.Nil(t, f.vault.Retrieve())
}

func TestStoreEmptyToken(t *testing.T) {
	f := setupTestFixture(t)
	require.Error(t, f.vault.Store("", vault.Metadata{}))
}

func TestRetrieveAfterExpiryFiresExpireOnce(t *testing.T) {
	f := setupTestFixture(t)

	expiries := 0
	f.vault.OnExpire(func(event vault.Event) {
		expiries++
		require.Equal(t, vault.EventExpired, event.Kind)
	})

	require.NoError(t, f.vault.Store(testToken, vault.Metadata{}))
	f.clock.Advance(31 * time.Minute)

	require.Nil(t, f.vault.Retrieve())
	require.Equal(t, 1, expiries)
	f.requireCleared(t)

	// Slot is Empty now; a second read must not fire again.
	require.Nil(t, f.vault.Retrieve())
	require.Equal(t, 1, expiries)
}

func TestRefreshExtendsFromRefreshTime(t *testing.T) {
	f := setupTestFixture(t)

	refreshes := 0
	f.vault.OnRefresh(func(vault.Event) { refreshes++ })

	require.NoError(t, f.vault.Store(testToken, vault.Metadata{Scopes: []string{"repo"}}))
	f.clock.Advance(10 * time.Minute)

	require.NoError(t, f.vault.Refresh(""))
	require.Equal(t, 1, refreshes)

	env := f.vault.Retrieve()
	require.NotNil(t, env)
	require.Equal(t, testToken, env.Token)
	require.Equal(t, []string{"repo"}, env.ScopeList)
	// A full window from the refresh call time, not from original issuance.
	require.True(t, env.ExpiresAt.Equal(f.clock.Now().Add(30*time.Minute)))
}

func TestRefreshWithNewToken(t *testing.T) {
	f := setupTestFixture(t)

	require.NoError(t, f.vault.Store(testToken, vault.Metadata{}))
	require.NoError(t, f.vault.Refresh("def"))

	env := f.vault.Retrieve()
	require.NotNil(t, env)
	require.Equal(t, "def", env.Token)
}

func TestRefreshWithoutActiveSession(t *testing.T) {
	f := setupTestFixture(t)
	require.ErrorIs(t, f.vault.Refresh("def"), vault.NoActiveSessionErr)
}

func TestRefreshAfterExpiry(t *testing.T) {
	f := setupTestFixture(t)

	require.NoError(t, f.vault.Store(testToken, vault.Metadata{}))
	f.clock.Advance(31 * time.Minute)

	require.ErrorIs(t, f.vault.Refresh("def"), vault.NoActiveSessionErr)
}

func TestCorruptBlobClearsBothKeys(t *testing.T) {
	f := setupTestFixture(t)

	require.NoError(t, f.vault.Store(testToken, vault.Metadata{}))
	require.NoError(t, f.storage.Set(vault.BlobKey, `{"ciphertext":"Z2FyYmFnZQ==","nonce":"AAAAAAAAAAAAAAAA","salt":"AAAAAAAAAAAAAAAAAAAAAA=="}`))

	require.Nil(t, f.vault.Retrieve())
	f.requireCleared(t)
}

func TestMalformedBlobClearsBothKeys(t *testing.T) {
	f := setupTestFixture(t)

	require.NoError(t, f.vault.Store(testToken, vault.Metadata{}))
	require.NoError(t, f.storage.Set(vault.BlobKey, "not json at all"))

	require.Nil(t, f.vault.Retrieve())
	f.requireCleared(t)
}

func TestMalformedMetaClearsBothKeys(t *testing.T) {
	f := setupTestFixture(t)

	require.NoError(t, f.vault.Store(testToken, vault.Metadata{}))
	require.NoError(t, f.storage.Set(vault.MetaKey, "{broken"))

	require.Nil(t, f.vault.Retrieve())
	f.requireCleared(t)
}

func TestMetaEnvelopeMismatchIsTamperEvidence(t *testing.T) {
	f := setupTestFixture(t)

	require.NoError(t, f.vault.Store(testToken, vault.Metadata{}))

	// Rewrite the plaintext meta with a pushed-out expiry. The envelope
	// inside the blob still carries the original one.
	forged := f.clock.Now().Add(2 * time.Hour)
	require.NoError(t, f.storage.Set(vault.MetaKey,
		`{"expiresAt":"`+forged.Format(time.RFC3339Nano)+`","lastActivityAt":"`+f.clock.Now().Format(time.RFC3339Nano)+`","isActive":true}`))

	require.Nil(t, f.vault.Retrieve())
	f.requireCleared(t)
}

func TestOriginMismatchDiscardsEnvelope(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.vault.Store(testToken, vault.Metadata{}))

	other, err := vault.New([]byte(testSecret), f.storage, "https://evil.example.com", vault.WithNowTime(f.clock.Now))
	require.NoError(t, err)
	defer other.Close()

	require.Nil(t, other.Retrieve())
	f.requireCleared(t)
}

func TestWrongSecretDiscardsEnvelope(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.vault.Store(testToken, vault.Metadata{}))

	other, err := vault.New([]byte("a different session secret"), f.storage, testOrigin, vault.WithNowTime(f.clock.Now))
	require.NoError(t, err)
	defer other.Close()

	require.Nil(t, other.Retrieve())
	f.requireCleared(t)
}

func TestFingerprintMismatchDiscardsEnvelope(t *testing.T) {
	clock := newFakeClock()
	storage := vault.NewInMemoryStorage()

	first, err := vault.New([]byte(testSecret), storage, testOrigin,
		vault.WithNowTime(clock.Now), vault.WithFingerprint("agent-a"))
	require.NoError(t, err)
	defer first.Close()
	require.NoError(t, first.Store(testToken, vault.Metadata{}))

	second, err := vault.New([]byte(testSecret), storage, testOrigin,
		vault.WithNowTime(clock.Now), vault.WithFingerprint("agent-b"))
	require.NoError(t, err)
	defer second.Close()

	require.Nil(t, second.Retrieve())
}

func TestStaleCeilingIndependentOfRollingTimeout(t *testing.T) {
	// A rolling timeout longer than the ceiling: the ceiling must still win.
	f := setupTestFixture(t,
		vault.WithSessionTimeout(48*time.Hour),
		vault.WithStaleCeiling(24*time.Hour),
	)

	require.NoError(t, f.vault.Store(testToken, vault.Metadata{}))
	f.clock.Advance(25 * time.Hour)

	require.Nil(t, f.vault.Retrieve())
	f.requireCleared(t)
}

func TestSlidingActivityNotSlidingExpiry(t *testing.T) {
	f := setupTestFixture(t)

	require.NoError(t, f.vault.Store(testToken, vault.Metadata{}))
	issued := f.clock.Now()

	f.clock.Advance(10 * time.Minute)
	env := f.vault.Retrieve()
	require.NotNil(t, env)
	// Reading must not push expiry out.
	require.True(t, env.ExpiresAt.Equal(issued.Add(30*time.Minute)))

	f.clock.Advance(21 * time.Minute)
	require.Nil(t, f.vault.Retrieve())
}

func TestClearIsIdempotent(t *testing.T) {
	f := setupTestFixture(t)

	f.vault.Clear()
	require.NoError(t, f.vault.Store(testToken, vault.Metadata{}))
	f.vault.Clear()
	f.vault.Clear()

	require.Nil(t, f.vault.Retrieve())
	f.requireCleared(t)
}

func TestRemaining(t *testing.T) {
	f := setupTestFixture(t)

	require.Zero(t, f.vault.Remaining())

	require.NoError(t, f.vault.Store(testToken, vault.Metadata{}))
	require.Equal(t, 30*time.Minute, f.vault.Remaining())

	f.clock.Advance(10 * time.Minute)
	require.Equal(t, 20*time.Minute, f.vault.Remaining())

	f.clock.Advance(25 * time.Minute)
	require.Zero(t, f.vault.Remaining())
}

// flakyStorage fails meta writes to exercise the pair-write rollback.
type flakyStorage struct {
	*vault.InMemoryStorage
	failMeta bool
}

func (s *flakyStorage) Set(key, value string) error {
	if s.failMeta && key == vault.MetaKey {
		return errors.New("disk full")
	}
	return s.InMemoryStorage.Set(key, value)
}

func TestStoreRollsBackBlobWhenMetaWriteFails(t *testing.T) {
	clock := newFakeClock()
	storage := &flakyStorage{InMemoryStorage: vault.NewInMemoryStorage(), failMeta: true}

	v, err := vault.New([]byte(testSecret), storage, testOrigin, vault.WithNowTime(clock.Now))
	require.NoError(t, err)
	defer v.Close()

	require.Error(t, v.Store(testToken, vault.Metadata{}))

	// Neither record may survive a half-failed write.
	_, err = storage.Get(vault.BlobKey)
	require.ErrorIs(t, err, vault.KeyNotFoundErr)
	_, err = storage.Get(vault.MetaKey)
	require.ErrorIs(t, err, vault.KeyNotFoundErr)
}

func TestBackgroundSweepFiresExpiry(t *testing.T) {
	f := setupTestFixture(t, vault.WithCleanupInterval(10*time.Millisecond))

	expired := make(chan vault.Event, 1)
	f.vault.OnExpire(func(event vault.Event) {
		select {
		case expired <- event:
		default:
		}
	})

	require.NoError(t, f.vault.Store(testToken, vault.Metadata{}))
	f.clock.Advance(31 * time.Minute)

	// Expiry must be enforced without anyone calling Retrieve.
	select {
	case event := <-expired:
		require.Equal(t, vault.EventExpired, event.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("background sweep never fired expiry")
	}
	f.requireCleared(t)
}

func TestCountdownTick(t *testing.T) {
	f := setupTestFixture(t, vault.WithCountdownInterval(10*time.Millisecond))

	ticks := make(chan time.Duration, 1)
	f.vault.OnCountdown(func(remaining time.Duration) {
		select {
		case ticks <- remaining:
		default:
		}
	})

	require.NoError(t, f.vault.Store(testToken, vault.Metadata{}))

	select {
	case remaining := <-ticks:
		require.Equal(t, 30*time.Minute, remaining)
	case <-time.After(2 * time.Second):
		t.Fatal("countdown never ticked")
	}
}

func TestListenerPanicDoesNotBreakVault(t *testing.T) {
	f := setupTestFixture(t)

	f.vault.OnExpire(func(vault.Event) { panic("listener bug") })

	require.NoError(t, f.vault.Store(testToken, vault.Metadata{}))
	f.clock.Advance(31 * time.Minute)
	require.Nil(t, f.vault.Retrieve())

	// The vault must still accept a new session afterwards.
	require.NoError(t, f.vault.Store("fresh", vault.Metadata{}))
	env := f.vault.Retrieve()
	require.NotNil(t, env)
	require.Equal(t, "fresh", env.Token)
}
