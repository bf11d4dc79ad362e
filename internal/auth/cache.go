package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bearsqa/bears-go/internal/tokenfile"
)

// DefaultRefreshThreshold is how old an access token may grow before the
// next access forces a refresh exchange. Overridable per environment with
// the refresh_time config key (seconds) via WithRefreshThreshold.
const DefaultRefreshThreshold = 15 * time.Minute

// State describes the cache lifecycle for introspection and tests.
type State int

const (
	// StateUnauthenticated means no token record exists yet.
	StateUnauthenticated State = iota
	// StateValid means the record's age is below the refresh threshold.
	StateValid
	// StateStale means the record must be refreshed before its token can be
	// served again.
	StateStale
)

func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateStale:
		return "stale"
	default:
		return "unauthenticated"
	}
}

// Cache holds exactly one token record, lazily fetched from the provider and
// replaced wholesale on refresh or re-login. Construct one per identity; it
// is long-lived for the process and safe for concurrent use: concurrent
// callers hitting an empty or stale cache collapse into a single outbound
// provider call, all receiving the same token.
type Cache struct {
	provider  Provider
	creds     Credentials
	threshold time.Duration
	tokenPath string
	logger    *slog.Logger

	// now is a clock hook so tests can age the record without sleeping.
	now func() time.Time

	mu    sync.RWMutex
	rec   *tokenfile.Record
	group singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithRefreshThreshold overrides the staleness threshold. Non-positive
// values are ignored.
func WithRefreshThreshold(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.threshold = d
		}
	}
}

// WithTokenPath enables persistence: a saved record is preloaded at
// construction and every new record is written back, so separate process
// invocations reuse tokens instead of logging in each time.
func WithTokenPath(path string) Option {
	return func(c *Cache) {
		c.tokenPath = path
	}
}

// NewCache creates a token cache around the given provider and credentials.
func NewCache(provider Provider, creds Credentials, logger *slog.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Cache{
		provider:  provider,
		creds:     creds,
		threshold: DefaultRefreshThreshold,
		logger:    logger,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.tokenPath != "" {
		rec, _, err := tokenfile.Load(c.tokenPath)
		if err != nil {
			c.logger.Warn("ignoring unreadable token file", slog.String("error", err.Error()))
		} else if rec != nil {
			c.rec = rec
			c.logger.Debug("preloaded saved token record",
				slog.Time("created_at", rec.CreatedAt),
			)
		}
	}

	return c
}

// State reports the current lifecycle state.
func (c *Cache) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.stateLocked()
}

func (c *Cache) stateLocked() State {
	switch {
	case c.rec == nil:
		return StateUnauthenticated
	case c.rec.Age(c.now()) < c.threshold:
		return StateValid
	default:
		return StateStale
	}
}

// AccessToken returns a non-expired access token, logging in on first use
// and refreshing once the record's age crosses the threshold. A failed
// exchange surfaces as *AuthError and never alters the existing record, so
// the old pair stays the last known good value — but a stale token is never
// served past its refresh point.
func (c *Cache) AccessToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	if c.stateLocked() == StateValid {
		token := c.rec.AccessToken
		c.mu.RUnlock()

		return token, nil
	}

	c.mu.RUnlock()

	// Collapse concurrent fetches into one provider call; every waiter gets
	// the same token or the same error.
	v, err, _ := c.group.Do("token", func() (interface{}, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// fetch runs inside the singleflight group. It re-checks state first:
// a waiter queued behind a completed fetch must not trigger another one.
func (c *Cache) fetch(ctx context.Context) (string, error) {
	c.mu.RLock()

	state := c.stateLocked()

	var refreshToken string
	if c.rec != nil {
		refreshToken = c.rec.RefreshToken
	}

	c.mu.RUnlock()

	if state == StateValid {
		c.mu.RLock()
		defer c.mu.RUnlock()

		return c.rec.AccessToken, nil
	}

	var (
		pair TokenPair
		err  error
	)

	if state == StateUnauthenticated {
		c.logger.Info("no token record, performing initial login",
			slog.String("user", c.creds.User),
		)

		pair, err = c.provider.Login(ctx, c.creds)
	} else {
		c.logger.Info("token record is stale, refreshing",
			slog.Duration("threshold", c.threshold),
		)

		pair, err = c.provider.Refresh(ctx, c.creds, refreshToken)
	}

	if err != nil {
		// The old record is kept untouched; state remains as it was.
		return "", err
	}

	rec := &tokenfile.Record{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		CreatedAt:    c.now(),
	}

	// Refresh responses may omit a new refresh token; keep the old one.
	if rec.RefreshToken == "" {
		rec.RefreshToken = refreshToken
	}

	c.mu.Lock()
	c.rec = rec
	c.mu.Unlock()

	c.persist(rec)

	return rec.AccessToken, nil
}

// persist writes the record through tokenfile when persistence is enabled.
// Failures are logged, not fatal: the in-memory record is already current.
func (c *Cache) persist(rec *tokenfile.Record) {
	if c.tokenPath == "" {
		return
	}

	meta := map[string]string{"user": c.creds.User}
	if c.creds.AccountName != "" {
		meta["account_name"] = c.creds.AccountName
	}

	if err := tokenfile.Save(c.tokenPath, rec, meta); err != nil {
		c.logger.Warn("failed to persist token record", slog.String("error", err.Error()))
	}
}

// Invalidate drops the in-memory record and removes the persisted file, so
// the next access performs a fresh login.
func (c *Cache) Invalidate() error {
	c.mu.Lock()
	c.rec = nil
	c.mu.Unlock()

	if c.tokenPath == "" {
		return nil
	}

	return tokenfile.Remove(c.tokenPath)
}
