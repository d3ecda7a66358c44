package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wwwzy/mcpagent/internal/agent"
	"github.com/wwwzy/mcpagent/internal/llm"
	"github.com/wwwzy/mcpagent/internal/logging"
	"github.com/wwwzy/mcpagent/internal/registry"
	"github.com/wwwzy/mcpagent/internal/retention"
	"github.com/wwwzy/mcpagent/internal/storage"
)

// Version 由构建时 -ldflags 注入，并作为 MCP clientInfo.version 上报
var Version = "dev"

// runtime 持有一次命令执行所需的全部组件
type runtime struct {
	logger   *slog.Logger
	store    *storage.Storage
	registry *registry.Registry
}

// signalContext 在收到 SIGINT/SIGTERM 时取消
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newLogger(w io.Writer) (*slog.Logger, error) {
	return logging.New(w, cfg.LogLevel, cfg.LogFormat)
}

// newRuntime 依次初始化日志、存储与工具注册表。
// 存储打不开时降级为不记录审计，不影响对话
func newRuntime(ctx context.Context, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{logger: logger}

	if cfg.Storage.Enabled {
		scfg := cfg.Storage
		scfg.Logger = logger
		store, err := storage.Open(ctx, scfg)
		if err != nil {
			logger.Warn("open storage failed, audit disabled", slog.String("path", cfg.Storage.Path), slog.Any("error", err))
		} else {
			rt.store = store
		}
	}

	reg, err := registry.New(cfg.Servers(),
		registry.WithLogger(logger),
		registry.WithClientVersion(Version),
	)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("创建工具注册表失败: %w", err)
	}
	rt.registry = reg
	return rt, nil
}

// newAgent 构造模型与 Agent；modelID 非空时覆盖配置中的 llm.model
func (rt *runtime) newAgent(ctx context.Context, modelID string) (*agent.Agent, error) {
	llmCfg := cfg.LLM
	if modelID != "" {
		llmCfg.Model = modelID
	}
	cm, err := llm.New(ctx, llmCfg)
	if err != nil {
		return nil, fmt.Errorf("初始化模型失败: %w", err)
	}

	acfg := agent.Config{
		Name:            cfg.Agent.Name,
		ModelName:       llmCfg.Model,
		Model:           cm,
		Tools:           rt.registry,
		MaxSteps:        cfg.Agent.MaxSteps,
		SystemPrompt:    cfg.Agent.SystemPrompt,
		SequentialTools: cfg.Agent.SequentialTools,
		Logger:          rt.logger,
	}
	// 避免把值为 nil 的 *storage.Storage 装进接口
	if rt.store != nil {
		acfg.Audit = rt.store
	}
	a, err := agent.New(ctx, acfg)
	if err != nil {
		return nil, fmt.Errorf("构建 Agent 失败: %w", err)
	}
	return a, nil
}

// startRetention 在后台周期清理审计与轮次记录，ctx 取消时退出
func (rt *runtime) startRetention(ctx context.Context) {
	if rt.store == nil || !cfg.Retention.Enabled {
		return
	}
	rcfg := cfg.Retention
	rcfg.OnError = func(err error) {
		rt.logger.Warn("retention failed", slog.Any("error", err))
	}
	collector, err := retention.NewCollector(rt.store, rcfg)
	if err != nil {
		rt.logger.Warn("retention disabled", slog.Any("error", err))
		return
	}
	go func() {
		if err := collector.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			rt.logger.Warn("retention stopped", slog.Any("error", err))
		}
	}()
}

func (rt *runtime) Close() error {
	var errs []error
	if rt.registry != nil {
		errs = append(errs, rt.registry.Close())
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	return errors.Join(errs...)
}
