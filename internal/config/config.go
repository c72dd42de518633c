package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"cowechat/internal/domain"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for cowechat.
type Config struct {
	Identity IdentityConfig `json:"identity" yaml:"identity"`
	API      APIConfig      `json:"api" yaml:"api"`
	Send     SendConfig     `json:"send" yaml:"send"`
	Cache    CacheConfig    `json:"cache" yaml:"cache"`
	Log      LogConfig      `json:"log" yaml:"log"`
	History  HistoryConfig  `json:"history" yaml:"history"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

// IdentityConfig is the application identity registered with the platform.
type IdentityConfig struct {
	CorpID  string     `json:"corpId" yaml:"corpId"`
	Secret  string     `json:"secret" yaml:"secret"`
	AgentID FlexString `json:"agentId" yaml:"agentId"`
}

type APIConfig struct {
	BaseURL        string `json:"baseUrl" yaml:"baseUrl"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

type SendConfig struct {
	RetryAttempts      int     `json:"retryAttempts" yaml:"retryAttempts"`
	RetryBackoffMillis int     `json:"retryBackoffMillis" yaml:"retryBackoffMillis"` // 0 = retry immediately
	RatePerMinute      float64 `json:"ratePerMinute" yaml:"ratePerMinute"`           // 0 = unthrottled
	RateBurst          int     `json:"rateBurst" yaml:"rateBurst"`
	VideoTitle         string  `json:"videoTitle" yaml:"videoTitle"`
	VideoDescription   string  `json:"videoDescription" yaml:"videoDescription"`
}

type CacheConfig struct {
	Backend       string `json:"backend" yaml:"backend"` // "file" | "redis"
	Dir           string `json:"dir" yaml:"dir"`         // empty = $TMP, home, or cwd
	RedisAddr     string `json:"redisAddr" yaml:"redisAddr"`
	RedisPassword string `json:"redisPassword" yaml:"redisPassword"`
	RedisDB       int    `json:"redisDb" yaml:"redisDb"`
	RedisKey      string `json:"redisKey" yaml:"redisKey"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Dir    string `json:"dir" yaml:"dir"` // empty = working directory
	Stderr bool   `json:"stderr" yaml:"stderr"`
}

type HistoryConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	DBPath        string `json:"dbPath" yaml:"dbPath"`
	RetentionDays int    `json:"retentionDays" yaml:"retentionDays"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// FlexString is a string that also unmarshals from a JSON number, so an
// agent id can be written either as 1000002 or "1000002".
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("agent id must be a string or a number: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

// DefaultConfigDir returns the default config directory (~/.cowechat).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cowechat"
	}
	return filepath.Join(home, ".cowechat")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON or YAML (by extension) config file on top of Defaults.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Cache.Dir = ExpandPath(cfg.Cache.Dir)
	cfg.Log.Dir = ExpandPath(cfg.Log.Dir)
	cfg.History.DBPath = ExpandPath(cfg.History.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without a default is left untouched.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Save writes cfg as JSON, or YAML when path ends in .yaml/.yml.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	// The file holds the application secret.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has usable values. Identity is checked
// when a client is built, so an empty template still validates.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.API.TimeoutSeconds < 1 || cfg.API.TimeoutSeconds > 600 {
		errs = append(errs, "api.timeoutSeconds must be between 1 and 600")
	}
	if cfg.API.BaseURL != "" && !strings.HasPrefix(cfg.API.BaseURL, "http://") && !strings.HasPrefix(cfg.API.BaseURL, "https://") {
		errs = append(errs, "api.baseUrl must start with http:// or https://")
	}
	if cfg.Send.RetryAttempts < 1 || cfg.Send.RetryAttempts > 20 {
		errs = append(errs, "send.retryAttempts must be between 1 and 20")
	}
	if cfg.Send.RetryBackoffMillis < 0 {
		errs = append(errs, "send.retryBackoffMillis must be >= 0")
	}
	if cfg.Send.RatePerMinute < 0 || cfg.Send.RateBurst < 0 {
		errs = append(errs, "send.ratePerMinute and send.rateBurst must be >= 0")
	}

	switch cfg.Cache.Backend {
	case "file":
	case "redis":
		if cfg.Cache.RedisAddr == "" {
			errs = append(errs, "cache.redisAddr is required for the redis backend")
		}
	default:
		errs = append(errs, "cache.backend must be one of: file, redis")
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}

	if cfg.History.Enabled {
		if cfg.History.DBPath == "" {
			errs = append(errs, "history.dbPath is required when history is enabled")
		}
		if cfg.History.RetentionDays < 1 {
			errs = append(errs, "history.retentionDays must be >= 1")
		}
	}

	if !domain.ValidAgentID(string(cfg.Identity.AgentID)) {
		errs = append(errs, "identity.agentId must be numeric")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
