package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/wwwzy/mcpagent/internal/agent"
	"github.com/wwwzy/mcpagent/internal/llm"
	"github.com/wwwzy/mcpagent/internal/logging"
	"github.com/wwwzy/mcpagent/internal/registry"
	"github.com/wwwzy/mcpagent/internal/retention"
	"github.com/wwwzy/mcpagent/internal/session"
	"github.com/wwwzy/mcpagent/internal/storage"
)

const (
	DefaultServerName = "microsoft.docs.mcp"
	DefaultServerURL  = "https://learn.microsoft.com/api/mcp"
)

type AgentConfig struct {
	Name            string `mapstructure:"name"`
	MaxSteps        int    `mapstructure:"max_steps"`
	MaxHistory      int    `mapstructure:"max_history"`
	SequentialTools bool   `mapstructure:"sequential_tools"`
	SystemPrompt    string `mapstructure:"system_prompt"`
}

// MCPServer 是 mcp_servers 列表中的一项。
// 服务名里常带 "."（如 microsoft.docs.mcp），与 viper 的 key 分隔符冲突，所以用列表而不是 map
type MCPServer struct {
	Name      string `mapstructure:"name"`
	URL       string `mapstructure:"url"`
	Transport string `mapstructure:"transport"`
}

type Config struct {
	LogLevel   string           `mapstructure:"log_level"`
	LogFormat  string           `mapstructure:"log_format"`
	LLM        llm.Config       `mapstructure:"llm"`
	Agent      AgentConfig      `mapstructure:"agent"`
	MCPServers []MCPServer      `mapstructure:"mcp_servers"`
	Storage    storage.Config   `mapstructure:"storage"`
	Retention  retention.Config `mapstructure:"retention"`
}

func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		// 默认搜索路径
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.mcpagent")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("MCPAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv 只覆盖 viper 已知的 key，所以所有可配置项都要有默认值
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		// 配置文件未找到，使用默认值
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 只检查结构性错误；模型凭据在构造模型时检查，tools/storage 等命令不需要它
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case logging.FormatText, logging.FormatJSON, "":
	default:
		return fmt.Errorf("log_format must be %s or %s, got %q", logging.FormatText, logging.FormatJSON, c.LogFormat)
	}

	if _, _, err := llm.ParseModel(c.LLM.Model); err != nil {
		return fmt.Errorf("llm.model: %w", err)
	}
	if c.LLM.MaxTokens <= 0 {
		return errors.New("llm.max_tokens must be positive")
	}
	if c.Agent.MaxSteps <= 0 {
		return errors.New("agent.max_steps must be positive")
	}
	if c.Agent.MaxHistory <= 0 {
		return errors.New("agent.max_history must be positive")
	}

	seen := make(map[string]bool, len(c.MCPServers))
	for i, s := range c.MCPServers {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("mcp_servers[%d].name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("mcp_servers: duplicate server %q", s.Name)
		}
		seen[s.Name] = true
		if s.URL == "" {
			return fmt.Errorf("mcp_servers[%d] (%s): url is required", i, s.Name)
		}
		if s.Transport != "" && s.Transport != registry.TransportStreamableHTTP {
			return fmt.Errorf("mcp_servers[%d] (%s): unsupported transport %q", i, s.Name, s.Transport)
		}
	}

	if c.Storage.Enabled && !c.Storage.InMemory && c.Storage.Path == "" {
		return errors.New("storage.path is required when storage is enabled")
	}
	return nil
}

// Servers 转换为 registry 使用的按名字索引的配置
func (c *Config) Servers() map[string]registry.ServerConfig {
	out := make(map[string]registry.ServerConfig, len(c.MCPServers))
	for _, s := range c.MCPServers {
		out[s.Name] = registry.ServerConfig{URL: s.URL, Transport: s.Transport}
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", logging.FormatText)

	// -------------------------------------------------------------------------
	// LLM Defaults
	// -------------------------------------------------------------------------
	v.SetDefault("llm.model", llm.DefaultModel)
	v.SetDefault("llm.temperature", llm.DefaultTemperature)
	v.SetDefault("llm.max_tokens", llm.DefaultMaxTokens)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.ark_api_key", "")
	v.SetDefault("llm.openai_api_key", "")
	v.SetDefault("llm.anthropic_api_key", "")

	// 各 provider 的通用环境变量
	_ = v.BindEnv("llm.ark_api_key", "MCPAGENT_LLM_ARK_API_KEY", "ARK_API_KEY")
	_ = v.BindEnv("llm.openai_api_key", "MCPAGENT_LLM_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("llm.anthropic_api_key", "MCPAGENT_LLM_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")

	// -------------------------------------------------------------------------
	// Agent Defaults
	// -------------------------------------------------------------------------
	v.SetDefault("agent.name", "mcpagent")
	v.SetDefault("agent.max_steps", agent.DefaultMaxSteps)
	v.SetDefault("agent.max_history", session.DefaultMaxHistory)
	v.SetDefault("agent.sequential_tools", false)
	v.SetDefault("agent.system_prompt", "")

	// -------------------------------------------------------------------------
	// MCP Servers Defaults
	// -------------------------------------------------------------------------
	v.SetDefault("mcp_servers", []map[string]any{{
		"name":      DefaultServerName,
		"url":       DefaultServerURL,
		"transport": registry.TransportStreamableHTTP,
	}})

	// -------------------------------------------------------------------------
	// Storage Defaults (存储默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.path", "mcpagent.db")
	v.SetDefault("storage.in_memory", false)
	v.SetDefault("storage.enable_wal", true)
	v.SetDefault("storage.busy_timeout", 5*time.Second)
	v.SetDefault("storage.slow_query", 200*time.Millisecond)

	// -------------------------------------------------------------------------
	// Retention Defaults (数据清理默认值)
	// -------------------------------------------------------------------------
	r := retention.DefaultConfig()
	v.SetDefault("retention.enabled", r.Enabled)
	v.SetDefault("retention.interval", r.Interval)
	v.SetDefault("retention.audit_keep", r.AuditKeep)
	v.SetDefault("retention.turns_keep", r.TurnsKeep)
	v.SetDefault("retention.batch_rows", r.BatchRows)
	v.SetDefault("retention.idle_sleep", r.IdleSleep)
	v.SetDefault("retention.workers", r.Workers)
}

func DefaultConfig() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: logging.FormatText,
		LLM: llm.Config{
			Model:       llm.DefaultModel,
			Temperature: llm.DefaultTemperature,
			MaxTokens:   llm.DefaultMaxTokens,
		},
		Agent: AgentConfig{
			Name:       "mcpagent",
			MaxSteps:   agent.DefaultMaxSteps,
			MaxHistory: session.DefaultMaxHistory,
		},
		MCPServers: []MCPServer{{
			Name:      DefaultServerName,
			URL:       DefaultServerURL,
			Transport: registry.TransportStreamableHTTP,
		}},
		Storage: storage.Config{
			Enabled:     true,
			Path:        "mcpagent.db",
			EnableWAL:   true,
			BusyTimeout: 5 * time.Second,
			SlowQuery:   200 * time.Millisecond,
		},
		Retention: retention.DefaultConfig(),
	}
}
