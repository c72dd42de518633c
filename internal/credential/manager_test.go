package credential

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cowechat/internal/domain"
)

type fakeFetcher struct {
	calls int
	resp  map[string]any
	err   error
}

func (f *fakeFetcher) FetchToken(ctx context.Context, corpID, secret string) (map[string]any, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]any, len(f.resp))
	for k, v := range f.resp {
		out[k] = v
	}
	return out, nil
}

func okResponse(token string) map[string]any {
	return map[string]any{
		"errcode":      float64(0),
		"errmsg":       "ok",
		"access_token": token,
		"expires_in":   float64(7200),
	}
}

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, cache TokenCache, f Fetcher) *Manager {
	t.Helper()
	m, err := NewManager(ManagerConfig{
		Identity: domain.Identity{CorpID: "corp", Secret: "secret", AgentID: "1000002"},
		Cache:    cache,
		Fetcher:  f,
		Logger:   testLogger(),
		Now:      func() time.Time { return testNow },
		Location: time.UTC,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func seed(t *testing.T, cache TokenCache, rec Record) {
	t.Helper()
	if err := cache.Save(context.Background(), rec); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
}

func TestNewManager_MissingIdentity(t *testing.T) {
	_, err := NewManager(ManagerConfig{
		Identity: domain.Identity{CorpID: "corp"},
		Cache:    NewFileCache(filepath.Join(t.TempDir(), CacheFileName)),
		Fetcher:  &fakeFetcher{},
	})
	if !errors.Is(err, domain.ErrMissingIdentity) {
		t.Fatalf("expected ErrMissingIdentity, got %v", err)
	}
}

func TestEnsureToken_FirstFetchWritesCache(t *testing.T) {
	cache := NewFileCache(filepath.Join(t.TempDir(), CacheFileName))
	f := &fakeFetcher{resp: okResponse("tok-1")}
	m := newTestManager(t, cache, f)

	token, err := m.EnsureToken(context.Background())
	if err != nil {
		t.Fatalf("EnsureToken: %v", err)
	}
	if token != "tok-1" {
		t.Errorf("expected tok-1, got %q", token)
	}
	if f.calls != 1 {
		t.Errorf("expected 1 fetch, got %d", f.calls)
	}

	rec, err := cache.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.Status() != "ok" {
		t.Errorf("expected status ok, got %q", rec.Status())
	}
	issued, err := rec.IssuedAt(time.UTC)
	if err != nil {
		t.Fatalf("IssuedAt: %v", err)
	}
	if age := testNow.Sub(issued); age != 0 {
		t.Errorf("expected zero age, got %v", age)
	}
	if rec["expires_in"] != float64(7200) {
		t.Errorf("expected full response persisted, got %v", rec)
	}
}

func TestEnsureToken_ReusesFreshCache(t *testing.T) {
	cache := NewFileCache(filepath.Join(t.TempDir(), CacheFileName))
	rec := Record(okResponse("cached"))
	rec.stamp(testNow.Add(-time.Hour))
	seed(t, cache, rec)

	f := &fakeFetcher{resp: okResponse("fresh")}
	m := newTestManager(t, cache, f)

	token, err := m.EnsureToken(context.Background())
	if err != nil {
		t.Fatalf("EnsureToken: %v", err)
	}
	if token != "cached" {
		t.Errorf("expected cached token, got %q", token)
	}
	if f.calls != 0 {
		t.Errorf("expected no fetch, got %d", f.calls)
	}
}

func TestEnsureToken_JustUnderValidity(t *testing.T) {
	cache := NewFileCache(filepath.Join(t.TempDir(), CacheFileName))
	rec := Record(okResponse("cached"))
	rec.stamp(testNow.Add(-Validity + time.Second))
	seed(t, cache, rec)

	f := &fakeFetcher{resp: okResponse("fresh")}
	if _, err := newTestManager(t, cache, f).EnsureToken(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.calls != 0 {
		t.Errorf("7199s old token should be reused, got %d fetches", f.calls)
	}
}

func TestEnsureToken_ExpiredCacheRefreshesOnce(t *testing.T) {
	cache := NewFileCache(filepath.Join(t.TempDir(), CacheFileName))
	rec := Record(okResponse("stale"))
	rec.stamp(testNow.Add(-Validity))
	seed(t, cache, rec)

	f := &fakeFetcher{resp: okResponse("fresh")}
	m := newTestManager(t, cache, f)

	token, err := m.EnsureToken(context.Background())
	if err != nil {
		t.Fatalf("EnsureToken: %v", err)
	}
	if token != "fresh" {
		t.Errorf("expected fresh token, got %q", token)
	}
	if f.calls != 1 {
		t.Errorf("expected exactly 1 fetch, got %d", f.calls)
	}

	// The refreshed record is now valid and served from cache.
	if _, err := m.EnsureToken(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.calls != 1 {
		t.Errorf("expected refreshed token to be reused, got %d fetches", f.calls)
	}
}

func TestEnsureToken_ErrorStatusRefreshes(t *testing.T) {
	cache := NewFileCache(filepath.Join(t.TempDir(), CacheFileName))
	rec := Record{"errcode": float64(40001), "errmsg": "invalid credential"}
	rec.stamp(testNow)
	seed(t, cache, rec)

	f := &fakeFetcher{resp: okResponse("fresh")}
	token, err := newTestManager(t, cache, f).EnsureToken(context.Background())
	if err != nil {
		t.Fatalf("EnsureToken: %v", err)
	}
	if token != "fresh" || f.calls != 1 {
		t.Errorf("expected one refresh returning fresh, got %q after %d calls", token, f.calls)
	}
}

func TestEnsureToken_MalformedCacheRefreshes(t *testing.T) {
	path := filepath.Join(t.TempDir(), CacheFileName)
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	f := &fakeFetcher{resp: okResponse("fresh")}
	token, err := newTestManager(t, NewFileCache(path), f).EnsureToken(context.Background())
	if err != nil {
		t.Fatalf("malformed cache should not be fatal: %v", err)
	}
	if token != "fresh" || f.calls != 1 {
		t.Errorf("expected refresh, got %q after %d calls", token, f.calls)
	}
}

func TestEnsureToken_MissingDateRefreshes(t *testing.T) {
	cache := NewFileCache(filepath.Join(t.TempDir(), CacheFileName))
	seed(t, cache, Record(okResponse("undated")))

	f := &fakeFetcher{resp: okResponse("fresh")}
	if _, err := newTestManager(t, cache, f).EnsureToken(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.calls != 1 {
		t.Errorf("expected refresh for undated record, got %d", f.calls)
	}
}

func TestEnsureToken_FutureDateRefreshes(t *testing.T) {
	cache := NewFileCache(filepath.Join(t.TempDir(), CacheFileName))
	rec := Record(okResponse("skewed"))
	rec.stamp(testNow.Add(time.Hour))
	seed(t, cache, rec)

	f := &fakeFetcher{resp: okResponse("fresh")}
	if _, err := newTestManager(t, cache, f).EnsureToken(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.calls != 1 {
		t.Errorf("expected refresh for future-dated record, got %d", f.calls)
	}
}

func TestEnsureToken_FetchErrorLeavesCacheAlone(t *testing.T) {
	path := filepath.Join(t.TempDir(), CacheFileName)
	f := &fakeFetcher{err: errors.New("connection refused")}

	_, err := newTestManager(t, NewFileCache(path), f).EnsureToken(context.Background())
	if err == nil {
		t.Fatal("expected error on transport failure")
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Errorf("cache should not be written on fetch failure")
	}
}

func TestRefresh_NoTokenInResponse(t *testing.T) {
	cache := NewFileCache(filepath.Join(t.TempDir(), CacheFileName))
	f := &fakeFetcher{resp: map[string]any{"errcode": float64(40013), "errmsg": "invalid corpid"}}

	_, err := newTestManager(t, cache, f).Refresh(context.Background())
	if !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}

	// The error response is still persisted so the next check sees a bad status.
	rec, err := cache.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status() != "invalid corpid" {
		t.Errorf("expected persisted errmsg, got %q", rec.Status())
	}
}

// rewritingCache stores a different token than it is given, to show the
// manager returns what was persisted.
type rewritingCache struct {
	rec Record
}

func (c *rewritingCache) Load(ctx context.Context) (Record, error) {
	if c.rec == nil {
		return nil, ErrCacheMiss
	}
	return c.rec, nil
}

func (c *rewritingCache) Save(ctx context.Context, rec Record) error {
	cp := Record{}
	for k, v := range rec {
		cp[k] = v
	}
	cp["access_token"] = "persisted"
	c.rec = cp
	return nil
}

func TestRefresh_ReturnsPersistedToken(t *testing.T) {
	f := &fakeFetcher{resp: okResponse("in-memory")}
	token, err := newTestManager(t, &rewritingCache{}, f).Refresh(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if token != "persisted" {
		t.Errorf("expected token read back from cache, got %q", token)
	}
}

func TestRefresh_AlwaysFetches(t *testing.T) {
	cache := NewFileCache(filepath.Join(t.TempDir(), CacheFileName))
	rec := Record(okResponse("cached"))
	rec.stamp(testNow)
	seed(t, cache, rec)

	f := &fakeFetcher{resp: okResponse("fresh")}
	token, err := newTestManager(t, cache, f).Refresh(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if token != "fresh" || f.calls != 1 {
		t.Errorf("expected forced fetch, got %q after %d calls", token, f.calls)
	}
}
