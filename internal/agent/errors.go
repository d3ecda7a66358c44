package agent

import (
	"errors"

	"github.com/wwwzy/mcpagent/internal/registry"
)

var (
	// ErrRegistryUnavailable 工具发现失败，本轮降级为无工具
	ErrRegistryUnavailable = registry.ErrRegistryUnavailable
	// ErrToolInvocation 单个工具调用失败，以错误结果回填，不中断本轮
	ErrToolInvocation = registry.ErrToolInvocation
	// ErrModelInvocation 模型调用或工具绑定失败，本轮终止
	ErrModelInvocation = errors.New("model invocation failed")
	// ErrMaxIterationsExceeded 循环次数超限，以助手消息结束本轮
	ErrMaxIterationsExceeded = errors.New("max iterations exceeded")
)
