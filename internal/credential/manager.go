package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cowechat/internal/domain"
	"cowechat/internal/metrics"
)

// Fetcher obtains a new token response object from the token endpoint.
type Fetcher interface {
	FetchToken(ctx context.Context, corpID, secret string) (map[string]any, error)
}

// Manager implements the token retrieval algorithm on top of a TokenCache.
type Manager struct {
	identity domain.Identity
	cache    TokenCache
	fetcher  Fetcher
	logger   *slog.Logger

	now func() time.Time
	loc *time.Location
}

type ManagerConfig struct {
	Identity domain.Identity
	Cache    TokenCache
	Fetcher  Fetcher
	Logger   *slog.Logger

	// Now and Location default to time.Now and time.Local.
	Now      func() time.Time
	Location *time.Location
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.Identity.Validate(); err != nil {
		return nil, err
	}
	if cfg.Cache == nil || cfg.Fetcher == nil {
		return nil, errors.New("credential manager needs a cache and a fetcher")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Manager{
		identity: cfg.Identity,
		cache:    cfg.Cache,
		fetcher:  cfg.Fetcher,
		logger:   cfg.Logger,
		now:      cfg.Now,
		loc:      cfg.Location,
	}, nil
}

// EnsureToken returns the cached token while it is valid and otherwise
// fetches, persists and returns a new one.
func (m *Manager) EnsureToken(ctx context.Context) (string, error) {
	rec, err := m.cache.Load(ctx)
	if reason := m.invalidReason(rec, err); reason != "" {
		m.logger.Info("cached token unusable, fetching new token", "reason", reason)
		return m.Refresh(ctx)
	}

	token, ok := rec.Token()
	if !ok {
		m.logger.Error("cached record has no access_token")
		return "", ErrNoToken
	}
	metrics.TokenCacheHits.Inc()
	m.logger.Info("token served from cache")
	return token, nil
}

// Refresh unconditionally fetches a new token, overwrites the cache with the
// full response object, then reads the token back from the cache.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	metrics.TokenFetches.Inc()
	resp, err := m.fetcher.FetchToken(ctx, m.identity.CorpID, m.identity.Secret)
	if err != nil {
		metrics.TokenFetchErrors.Inc()
		m.logger.Error("token fetch failed", "err", err)
		return "", fmt.Errorf("fetch access token: %w", err)
	}

	rec := Record(resp)
	if rec == nil {
		rec = Record{}
	}
	rec.stamp(m.now().In(m.loc))
	if err := m.cache.Save(ctx, rec); err != nil {
		m.logger.Error("token cache write failed", "err", err)
		return "", err
	}

	// The persisted record is authoritative, not the in-memory response.
	stored, err := m.cache.Load(ctx)
	if err != nil {
		m.logger.Error("token cache read-back failed", "err", err)
		return "", err
	}
	token, ok := stored.Token()
	if !ok {
		m.logger.Error("token endpoint returned no access_token", "errmsg", stored.Status())
		return "", fmt.Errorf("%w (errmsg: %q)", ErrNoToken, stored.Status())
	}
	return token, nil
}

// invalidReason returns "" when rec can be served, otherwise why not.
func (m *Manager) invalidReason(rec Record, loadErr error) string {
	switch {
	case errors.Is(loadErr, ErrCacheMiss):
		return "no cache record"
	case loadErr != nil:
		m.logger.Warn("token cache unreadable", "err", loadErr)
		return "cache unreadable"
	}

	if status := rec.Status(); status != statusOK {
		m.logger.Error("cache holds an error response instead of a token", "errmsg", status)
		return "status " + fmt.Sprintf("%q", status)
	}

	issued, err := rec.IssuedAt(m.loc)
	if err != nil {
		m.logger.Warn("cache date unreadable", "err", err)
		return "bad date"
	}
	age := m.now().Sub(issued)
	metrics.TokenAgeSeconds.Set(int64(age.Seconds()))
	switch {
	case age < 0:
		return "issued in the future"
	case age >= Validity:
		return "expired"
	}
	return ""
}
