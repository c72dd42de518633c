package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// CacheFileName is the name of the single-record cache file.
const CacheFileName = ".token_cache"

// TokenCache persists exactly one credential record. Save replaces the
// previous record wholesale.
type TokenCache interface {
	Load(ctx context.Context) (Record, error)
	Save(ctx context.Context, rec Record) error
}

// FileCache stores the record as pretty-printed JSON in a single file.
// There is no locking; concurrent writers race and the last one wins.
type FileCache struct {
	path string
}

func NewFileCache(path string) *FileCache {
	return &FileCache{path: path}
}

func (c *FileCache) Path() string { return c.path }

func (c *FileCache) Load(ctx context.Context) (Record, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("read token cache: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse token cache %s: %w", c.path, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("parse token cache %s: empty document", c.path)
	}
	return rec, nil
}

func (c *FileCache) Save(ctx context.Context, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal token cache: %w", err)
	}
	if dir := filepath.Dir(c.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create token cache directory: %w", err)
		}
	}
	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		return fmt.Errorf("write token cache: %w", err)
	}
	return nil
}

// ResolveCacheDir picks the directory holding the cache file: the TMP
// environment override, else the user's home directory, else the working
// directory.
func ResolveCacheDir() string {
	return resolveCacheDir(os.Getenv, os.UserHomeDir, os.Getwd)
}

func resolveCacheDir(getenv func(string) string, home, wd func() (string, error)) string {
	if dir := getenv("TMP"); dir != "" {
		return dir
	}
	if dir, err := home(); err == nil && dir != "" {
		return dir
	}
	if dir, err := wd(); err == nil {
		return dir
	}
	return "."
}

// DefaultCachePath is ResolveCacheDir joined with CacheFileName.
func DefaultCachePath() string {
	return filepath.Join(ResolveCacheDir(), CacheFileName)
}
