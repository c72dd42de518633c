package config

func Defaults() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        "https://qyapi.weixin.qq.com",
			TimeoutSeconds: 30,
		},
		Send: SendConfig{
			RetryAttempts:      5,
			RetryBackoffMillis: 200,
			RateBurst:          10,
			VideoTitle:         "Title",
			VideoDescription:   "Description",
		},
		Cache: CacheConfig{
			Backend:  "file",
			RedisKey: "cowechat:token_cache",
		},
		Log: LogConfig{
			Level: "info",
		},
		History: HistoryConfig{
			Enabled:       true,
			DBPath:        "~/.cowechat/history.db",
			RetentionDays: 90,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}
