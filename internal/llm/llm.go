// Package llm 根据 "provider:model" 标识构造 eino 的 ToolCallingChatModel
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

const (
	ProviderArk       = "ark"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	DefaultModel       = "anthropic:claude-3-7-sonnet-latest"
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 1000
)

var ErrUnknownProvider = errors.New("unknown model provider")

// Config 对应配置文件中的 llm 段
type Config struct {
	// Model 形如 provider:model-id，例如 anthropic:claude-3-7-sonnet-latest
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`

	// 各 provider 的密钥，APIKey 为空时按 provider 取用
	ArkAPIKey       string `mapstructure:"ark_api_key"`
	OpenAIAPIKey    string `mapstructure:"openai_api_key"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
}

// ParseModel 拆分 provider:model；没有前缀时按模型名推断
func ParseModel(id string) (provider string, name string, err error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", "", errors.New("model identifier is empty")
	}
	if p, n, ok := strings.Cut(id, ":"); ok {
		p = strings.ToLower(strings.TrimSpace(p))
		n = strings.TrimSpace(n)
		if n == "" {
			return "", "", fmt.Errorf("model identifier %q has no model name", id)
		}
		switch p {
		case ProviderArk, ProviderOpenAI, ProviderAnthropic:
			return p, n, nil
		default:
			return "", "", fmt.Errorf("%w: %q", ErrUnknownProvider, p)
		}
	}

	lower := strings.ToLower(id)
	switch {
	case strings.HasPrefix(lower, "claude"):
		return ProviderAnthropic, id, nil
	case strings.HasPrefix(lower, "gpt"), strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"), strings.HasPrefix(lower, "o4"):
		return ProviderOpenAI, id, nil
	case strings.HasPrefix(lower, "doubao"), strings.HasPrefix(lower, "ep-"):
		return ProviderArk, id, nil
	default:
		return "", "", fmt.Errorf("%w: cannot infer provider for %q, use provider:model", ErrUnknownProvider, id)
	}
}

func (c Config) apiKey(provider string) string {
	if c.APIKey != "" {
		return c.APIKey
	}
	switch provider {
	case ProviderArk:
		return c.ArkAPIKey
	case ProviderOpenAI:
		return c.OpenAIAPIKey
	case ProviderAnthropic:
		return c.AnthropicAPIKey
	}
	return ""
}

// New 构造模型。凭据缺失、provider 未知等错误在这里直接返回
func New(ctx context.Context, cfg Config) (model.ToolCallingChatModel, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	provider, name, err := ParseModel(cfg.Model)
	if err != nil {
		return nil, err
	}
	key := cfg.apiKey(provider)
	if key == "" {
		return nil, fmt.Errorf("api key for provider %q is not set", provider)
	}

	switch provider {
	case ProviderArk:
		temperature := cfg.Temperature
		maxTokens := cfg.MaxTokens
		cm, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
			APIKey:      key,
			Model:       name,
			BaseURL:     cfg.BaseURL,
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("init ark chat model: %w", err)
		}
		return cm, nil
	case ProviderOpenAI:
		return NewOpenAI(OpenAIConfig{
			APIKey:      key,
			BaseURL:     cfg.BaseURL,
			Model:       name,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}), nil
	case ProviderAnthropic:
		return NewAnthropic(AnthropicConfig{
			APIKey:      key,
			BaseURL:     cfg.BaseURL,
			Model:       name,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
}
