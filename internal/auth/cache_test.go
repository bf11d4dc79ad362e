package auth

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bearsqa/bears-go/internal/tokenfile"
)

func cacheTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// fakeProvider counts calls and serves scripted token pairs or errors.
type fakeProvider struct {
	mu           sync.Mutex
	loginCalls   atomic.Int32
	refreshCalls atomic.Int32

	loginPair   TokenPair
	loginErr    error
	refreshPair TokenPair
	refreshErr  error

	// refreshCreds records the credentials the last Refresh call carried.
	refreshCreds Credentials

	// block, when non-nil, is closed by the test to release in-flight calls.
	block chan struct{}
}

func (f *fakeProvider) Login(_ context.Context, _ Credentials) (TokenPair, error) {
	f.loginCalls.Add(1)

	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.loginPair, f.loginErr
}

func (f *fakeProvider) Refresh(_ context.Context, creds Credentials, _ string) (TokenPair, error) {
	f.refreshCalls.Add(1)

	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.refreshCreds = creds

	return f.refreshPair, f.refreshErr
}

func testCreds() Credentials {
	return Credentials{User: "tester", Password: "secret"}
}

func TestAccessToken_InitialLoginThenCached(t *testing.T) {
	provider := &fakeProvider{
		loginPair: TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"},
	}
	cache := NewCache(provider, testCreds(), cacheTestLogger())

	require.Equal(t, StateUnauthenticated, cache.State())

	tok, err := cache.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok)
	assert.Equal(t, int32(1), provider.loginCalls.Load())
	assert.Equal(t, StateValid, cache.State())

	// Second call within the threshold: zero additional provider calls.
	tok2, err := cache.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok2)
	assert.Equal(t, int32(1), provider.loginCalls.Load())
	assert.Equal(t, int32(0), provider.refreshCalls.Load())
}

func TestAccessToken_StaleTriggersRefreshNotLogin(t *testing.T) {
	provider := &fakeProvider{
		loginPair:   TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"},
		refreshPair: TokenPair{AccessToken: "access-2"},
	}
	cache := NewCache(provider, testCreds(), cacheTestLogger())

	_, err := cache.AccessToken(context.Background())
	require.NoError(t, err)

	// Age the record past the threshold without sleeping.
	cache.now = func() time.Time { return time.Now().Add(DefaultRefreshThreshold + time.Second) }
	require.Equal(t, StateStale, cache.State())

	tok, err := cache.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok)
	assert.Equal(t, int32(1), provider.loginCalls.Load())
	assert.Equal(t, int32(1), provider.refreshCalls.Load())

	// The refresh response omitted a refresh token; the old one is kept.
	cache.mu.RLock()
	assert.Equal(t, "refresh-1", cache.rec.RefreshToken)
	cache.mu.RUnlock()
}

func TestAccessToken_RefreshCarriesCredentials(t *testing.T) {
	provider := &fakeProvider{
		loginPair:   TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"},
		refreshPair: TokenPair{AccessToken: "access-2"},
	}
	creds := Credentials{User: "tester", Password: "secret", AccountName: "acme"}
	cache := NewCache(provider, creds, cacheTestLogger())

	_, err := cache.AccessToken(context.Background())
	require.NoError(t, err)

	cache.now = func() time.Time { return time.Now().Add(DefaultRefreshThreshold + time.Second) }

	_, err = cache.AccessToken(context.Background())
	require.NoError(t, err)

	// The account name must reach the refresh exchange so the provider can
	// pick the right response shape.
	provider.mu.Lock()
	assert.Equal(t, "acme", provider.refreshCreds.AccountName)
	assert.Equal(t, "tester", provider.refreshCreds.User)
	provider.mu.Unlock()
}

func TestAccessToken_LoginFailureStaysUnauthenticated(t *testing.T) {
	provider := &fakeProvider{
		loginErr: &AuthError{Op: "login", StatusCode: 500, Err: ErrLoginFailed},
	}
	cache := NewCache(provider, testCreds(), cacheTestLogger())

	_, err := cache.AccessToken(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLoginFailed))
	assert.Equal(t, StateUnauthenticated, cache.State())

	// Caller-driven retry with a now-working provider succeeds and caches.
	provider.mu.Lock()
	provider.loginErr = nil
	provider.loginPair = TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"}
	provider.mu.Unlock()

	tok, err := cache.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok)
	assert.Equal(t, StateValid, cache.State())
	assert.Equal(t, int32(2), provider.loginCalls.Load())
}

func TestAccessToken_RefreshFailureKeepsOldRecordAndErrors(t *testing.T) {
	provider := &fakeProvider{
		loginPair:  TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"},
		refreshErr: &AuthError{Op: "refresh", StatusCode: 502, Err: ErrRefreshFailed},
	}
	cache := NewCache(provider, testCreds(), cacheTestLogger())

	_, err := cache.AccessToken(context.Background())
	require.NoError(t, err)

	cache.now = func() time.Time { return time.Now().Add(DefaultRefreshThreshold + time.Second) }

	// The stale token must not be silently served past its refresh point.
	_, err = cache.AccessToken(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRefreshFailed))
	assert.Equal(t, StateStale, cache.State())

	// The old pair survives as last known good.
	cache.mu.RLock()
	assert.Equal(t, "access-1", cache.rec.AccessToken)
	assert.Equal(t, "refresh-1", cache.rec.RefreshToken)
	cache.mu.RUnlock()
}

func TestAccessToken_ConcurrentStaleCallersSingleRefresh(t *testing.T) {
	const callers = 8

	provider := &fakeProvider{
		loginPair:   TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"},
		refreshPair: TokenPair{AccessToken: "access-2", RefreshToken: "refresh-2"},
		block:       make(chan struct{}),
	}
	cache := NewCache(provider, testCreds(), cacheTestLogger())

	// Seed a record without blocking: release the first login immediately.
	go func() { provider.block <- struct{}{} }()

	_, err := cache.AccessToken(context.Background())
	require.NoError(t, err)

	cache.now = func() time.Time { return time.Now().Add(DefaultRefreshThreshold + time.Second) }

	var wg sync.WaitGroup

	tokens := make([]string, callers)
	errs := make([]error, callers)

	for i := range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			tokens[i], errs[i] = cache.AccessToken(context.Background())
		}()
	}

	// Let the goroutines pile up on the in-flight refresh, then release it.
	time.Sleep(100 * time.Millisecond)
	close(provider.block)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "access-2", tokens[i])
	}

	assert.Equal(t, int32(1), provider.refreshCalls.Load())
	assert.Equal(t, int32(1), provider.loginCalls.Load())
}

func TestAccessToken_ConcurrentUnauthenticatedSingleLogin(t *testing.T) {
	const callers = 6

	provider := &fakeProvider{
		loginPair: TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"},
		block:     make(chan struct{}),
	}
	cache := NewCache(provider, testCreds(), cacheTestLogger())

	var wg sync.WaitGroup

	tokens := make([]string, callers)
	errs := make([]error, callers)

	for i := range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			tokens[i], errs[i] = cache.AccessToken(context.Background())
		}()
	}

	time.Sleep(100 * time.Millisecond)
	close(provider.block)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "access-1", tokens[i])
	}

	assert.Equal(t, int32(1), provider.loginCalls.Load())
}

func TestWithRefreshThreshold_ConfigurableStaleness(t *testing.T) {
	provider := &fakeProvider{
		loginPair:   TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"},
		refreshPair: TokenPair{AccessToken: "access-2"},
	}
	cache := NewCache(provider, testCreds(), cacheTestLogger(), WithRefreshThreshold(time.Minute))

	_, err := cache.AccessToken(context.Background())
	require.NoError(t, err)

	cache.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	require.Equal(t, StateStale, cache.State())

	tok, err := cache.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok)
}

func TestTokenPath_PersistAndPreload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	provider := &fakeProvider{
		loginPair: TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"},
	}
	cache := NewCache(provider, testCreds(), cacheTestLogger(), WithTokenPath(path))

	_, err := cache.AccessToken(context.Background())
	require.NoError(t, err)

	rec, meta, err := tokenfile.Load(path)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "access-1", rec.AccessToken)
	assert.Equal(t, "tester", meta["user"])

	// A second cache over the same path starts VALID without logging in.
	fresh := NewCache(&fakeProvider{}, testCreds(), cacheTestLogger(), WithTokenPath(path))
	assert.Equal(t, StateValid, fresh.State())

	tok, err := fresh.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok)
}

func TestInvalidate_DropsRecordAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	provider := &fakeProvider{
		loginPair: TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"},
	}
	cache := NewCache(provider, testCreds(), cacheTestLogger(), WithTokenPath(path))

	_, err := cache.AccessToken(context.Background())
	require.NoError(t, err)

	require.NoError(t, cache.Invalidate())
	assert.Equal(t, StateUnauthenticated, cache.State())

	rec, _, err := tokenfile.Load(path)
	require.NoError(t, err)
	assert.Nil(t, rec)
}
