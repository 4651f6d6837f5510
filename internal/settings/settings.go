package settings

import (
	"context"
	"strings"
)

// Key is the settings key the AI configuration is stored under.
const Key = "wechat_plugin_ai_config"

const (
	DefaultProxyURL = "https://api.deepseek.com/chat/completions"
	DefaultModel    = "deepseek-chat"
)

// AIConfig is the chat-completion endpoint used for analysis.
type AIConfig struct {
	ProxyURL string `json:"proxyUrl"`
	Model    string `json:"model"`
	APIKey   string `json:"apiKey"`
}

// Redacted returns a copy safe to show to clients: the key is masked.
func (c AIConfig) Redacted() AIConfig {
	if c.APIKey == "" {
		return c
	}
	k := c.APIKey
	if len(k) > 4 {
		k = k[len(k)-4:]
	}
	c.APIKey = strings.Repeat("*", 8) + k
	return c
}

// Store persists the AI configuration.
type Store interface {
	LoadAIConfig(ctx context.Context) (AIConfig, error)
	SaveAIConfig(ctx context.Context, cfg AIConfig) error
}

// Resolve merges configurations field by field. Saved settings win over
// request parameters, which win over defaults. Empty values fall through.
func Resolve(saved, params, defaults AIConfig) AIConfig {
	return AIConfig{
		ProxyURL: first(saved.ProxyURL, params.ProxyURL, defaults.ProxyURL),
		Model:    first(saved.Model, params.Model, defaults.Model),
		APIKey:   first(saved.APIKey, params.APIKey, defaults.APIKey),
	}
}

func first(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
