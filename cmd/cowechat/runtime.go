package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"cowechat/internal/config"
	"cowechat/internal/credential"
	"cowechat/internal/domain"
	"cowechat/internal/history"
	"cowechat/internal/logging"
	"cowechat/internal/notify"
	"cowechat/internal/wecom"

	"github.com/redis/go-redis/v9"
)

// runtime holds what one command invocation needs. Everything is built
// from the loaded config; nothing is kept in package state.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	history *history.SQLiteStore
	closers []io.Closer

	tokenCache credential.TokenCache
	cacheWhere string
}

// setup loads the config (defaults when the default file is absent),
// applies identity flags and opens the log file.
func setup() (*runtime, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	switch {
	case err == nil:
	case configPath == "" && errors.Is(err, fs.ErrNotExist):
		cfg = config.Defaults()
		cfg.History.DBPath = config.ExpandPath(cfg.History.DBPath)
	default:
		return nil, err
	}

	if corpID != "" {
		cfg.Identity.CorpID = corpID
	}
	if corpSecret != "" {
		cfg.Identity.Secret = corpSecret
	}
	if agentID != "" {
		if !domain.ValidAgentID(agentID) {
			return nil, fmt.Errorf("--agent-id %q: %w", agentID, domain.ErrInvalidAgentID)
		}
		cfg.Identity.AgentID = config.FlexString(agentID)
	}
	if showMetrics {
		cfg.Metrics.Enabled = true
	}
	if cfg.Metrics.Enabled {
		showMetrics = true
	}

	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Dir:    cfg.Log.Dir,
		Stderr: cfg.Log.Stderr,
	})
	if err != nil {
		return nil, err
	}
	return &runtime{cfg: cfg, logger: logger, closers: []io.Closer{closer}}, nil
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i].Close()
	}
}

func (rt *runtime) identity() domain.Identity {
	return domain.Identity{
		CorpID:  rt.cfg.Identity.CorpID,
		Secret:  rt.cfg.Identity.Secret,
		AgentID: string(rt.cfg.Identity.AgentID),
	}
}

func (rt *runtime) api() *wecom.Client {
	return wecom.NewClient(wecom.ClientConfig{
		BaseURL: rt.cfg.API.BaseURL,
		Timeout: time.Duration(rt.cfg.API.TimeoutSeconds) * time.Second,
		Logger:  rt.logger.With("component", "wecom"),
	})
}

// cache returns the configured token cache backend, building it once.
func (rt *runtime) cache() (credential.TokenCache, string, error) {
	if rt.tokenCache != nil {
		return rt.tokenCache, rt.cacheWhere, nil
	}
	cache, where, err := rt.newCache()
	if err != nil {
		return nil, "", err
	}
	rt.tokenCache, rt.cacheWhere = cache, where
	return cache, where, nil
}

func (rt *runtime) newCache() (credential.TokenCache, string, error) {
	switch rt.cfg.Cache.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     rt.cfg.Cache.RedisAddr,
			Password: rt.cfg.Cache.RedisPassword,
			DB:       rt.cfg.Cache.RedisDB,
		})
		rt.closers = append(rt.closers, rdb)
		return credential.NewRedisCache(rdb, rt.cfg.Cache.RedisKey), "redis://" + rt.cfg.Cache.RedisAddr, nil
	case "file", "":
		dir := rt.cfg.Cache.Dir
		if dir == "" {
			dir = credential.ResolveCacheDir()
		}
		path := filepath.Join(dir, credential.CacheFileName)
		return credential.NewFileCache(path), path, nil
	}
	return nil, "", fmt.Errorf("unknown cache backend %q", rt.cfg.Cache.Backend)
}

func (rt *runtime) openHistory() (*history.SQLiteStore, error) {
	if rt.history != nil {
		return rt.history, nil
	}
	store, err := history.NewSQLiteStore(rt.cfg.History.DBPath, rt.logger.With("component", "history"))
	if err != nil {
		return nil, err
	}
	rt.history = store
	rt.closers = append(rt.closers, store)
	return store, nil
}

// client builds a logged-in notify client.
func (rt *runtime) client(ctx context.Context) (*notify.Client, error) {
	cache, _, err := rt.cache()
	if err != nil {
		return nil, err
	}

	ncfg := notify.Config{
		Identity:         rt.identity(),
		API:              rt.api(),
		Cache:            cache,
		RetryAttempts:    rt.cfg.Send.RetryAttempts,
		RetryBackoff:     time.Duration(rt.cfg.Send.RetryBackoffMillis) * time.Millisecond,
		RatePerMinute:    rt.cfg.Send.RatePerMinute,
		RateBurst:        rt.cfg.Send.RateBurst,
		VideoTitle:       rt.cfg.Send.VideoTitle,
		VideoDescription: rt.cfg.Send.VideoDescription,
		Logger:           rt.logger,
	}
	if rt.cfg.History.Enabled {
		store, err := rt.openHistory()
		if err != nil {
			rt.logger.Warn("delivery history unavailable", "err", err)
		} else {
			ncfg.History = store
		}
	}
	return notify.New(ctx, ncfg)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
