package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"cowechat/internal/config"
	"cowechat/internal/credential"
)

func testRuntime(t *testing.T, baseURL string) *runtime {
	t.Helper()
	cfg := config.Defaults()
	cfg.Identity = config.IdentityConfig{CorpID: "corp", Secret: "secret", AgentID: "1000002"}
	cfg.API.BaseURL = baseURL
	cfg.Cache.Dir = t.TempDir()
	cfg.History.Enabled = false
	rt := &runtime{cfg: cfg, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	t.Cleanup(rt.Close)
	return rt
}

func TestRuntimeCache_BuiltOnce(t *testing.T) {
	rt := testRuntime(t, "http://127.0.0.1:0")
	first, where, err := rt.cache()
	if err != nil {
		t.Fatal(err)
	}
	second, _, err := rt.cache()
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("expected the same cache instance on every call")
	}
	if where != filepath.Join(rt.cfg.Cache.Dir, credential.CacheFileName) {
		t.Errorf("unexpected cache location %s", where)
	}
}

func TestCheckTokenEndpoint_ContactsEndpointDespiteValidCache(t *testing.T) {
	var tokenCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		w.Write([]byte(`{"errcode":0,"errmsg":"ok","access_token":"fresh-token","expires_in":7200}`))
	}))
	defer srv.Close()

	rt := testRuntime(t, srv.URL)
	cache, _, err := rt.cache()
	if err != nil {
		t.Fatal(err)
	}
	seed := credential.Record{
		"errcode":      0.0,
		"errmsg":       "ok",
		"access_token": "cached-token",
		"expires_in":   7200.0,
		"date":         time.Now().Format(credential.DateLayout),
	}
	if err := cache.Save(context.Background(), seed); err != nil {
		t.Fatal(err)
	}

	detail, err := checkTokenEndpoint(context.Background(), rt)
	if err != nil {
		t.Fatalf("checkTokenEndpoint: %v", err)
	}
	if tokenCalls.Load() != 1 {
		t.Errorf("expected exactly 1 token call, got %d", tokenCalls.Load())
	}
	if detail == "" {
		t.Error("expected a detail string")
	}

	rec, err := cache.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tok, _ := rec.Token(); tok != "fresh-token" {
		t.Errorf("expected refreshed token in cache, got %q", tok)
	}
}

func TestCheckTokenEndpoint_RejectedIdentityFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errcode":40001,"errmsg":"invalid credential"}`))
	}))
	defer srv.Close()

	if _, err := checkTokenEndpoint(context.Background(), testRuntime(t, srv.URL)); err == nil {
		t.Fatal("expected an error for a rejected identity")
	}
}
