package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        int
	NatsURL     string
	NatsToken   string
	DatabaseURL string
	LogLevel    string
	APIToken    string

	LarkBaseURL     string
	LarkAppID       string
	LarkAppSecret   string
	LarkAccessToken string
	BitableAppToken string
	BitableTableID  string
	BitableViewID   string

	PageSize       int
	MaxRecords     int
	StartupTimeout time.Duration
	Timezone       string

	AIProxyURL   string
	AIModel      string
	AIAPIKey     string
	AITimeout    time.Duration
	SettingsPath string

	SlackBotToken string
	SlackChannel  string
}

func Load() Config {
	return Config{
		Port:        envInt("CHATLENS_PORT", 8760),
		NatsURL:     envStr("NATS_URL", ""),
		NatsToken:   envStr("NATS_TOKEN", ""),
		DatabaseURL: envStr("DATABASE_URL", ""),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		APIToken:    envStr("CHATLENS_API_TOKEN", ""),

		LarkBaseURL:     envStr("LARK_BASE_URL", "https://open.feishu.cn"),
		LarkAppID:       envStr("LARK_APP_ID", ""),
		LarkAppSecret:   envStr("LARK_APP_SECRET", ""),
		LarkAccessToken: envStr("LARK_ACCESS_TOKEN", ""),
		BitableAppToken: envStr("BITABLE_APP_TOKEN", ""),
		BitableTableID:  envStr("BITABLE_TABLE_ID", ""),
		BitableViewID:   envStr("BITABLE_VIEW_ID", ""),

		PageSize:       envInt("CHATLENS_PAGE_SIZE", 200),
		MaxRecords:     envInt("CHATLENS_MAX_RECORDS", 1000000),
		StartupTimeout: envDuration("CHATLENS_STARTUP_TIMEOUT", 30*time.Second),
		Timezone:       envStr("CHATLENS_TIMEZONE", "Asia/Shanghai"),

		AIProxyURL:   envStr("AI_PROXY_URL", "https://api.deepseek.com/chat/completions"),
		AIModel:      envStr("AI_MODEL", "deepseek-chat"),
		AIAPIKey:     envStr("AI_API_KEY", ""),
		AITimeout:    envDuration("AI_TIMEOUT", 5*time.Minute),
		SettingsPath: envStr("CHATLENS_SETTINGS_PATH", "~/.chatlens/settings.json"),

		SlackBotToken: envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:  envStr("SLACK_ANALYSIS_CHANNEL", ""),
	}
}

// Location returns the configured timezone, falling back to UTC when it
// cannot be loaded.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envDuration accepts Go durations ("45s") or a bare number of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
