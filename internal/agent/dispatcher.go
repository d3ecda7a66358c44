package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// Dispatcher 按工具名执行一批 tool call，底层是 eino 的 ToolsNode。
// 由 Binder 在每次重新绑定时重建
type Dispatcher struct {
	node   *compose.ToolsNode
	names  map[string]bool
	logger *slog.Logger
}

type dispatchOptions struct {
	sequential bool
	audit      AuditSink
	logger     *slog.Logger
}

func newDispatcher(ctx context.Context, tools []tool.BaseTool, opts dispatchOptions) (*Dispatcher, error) {
	d := &Dispatcher{
		names:  make(map[string]bool, len(tools)),
		logger: opts.logger,
	}

	wrapped := make([]tool.BaseTool, 0, len(tools))
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		it, ok := t.(tool.InvokableTool)
		if !ok {
			d.logger.Warn("skip non-invokable tool", slog.String("tool", info.Name))
			continue
		}
		if opts.audit != nil {
			it = wrapWithAudit(it, info.Name, opts.audit, opts.logger)
		}
		wrapped = append(wrapped, &safeTool{impl: it, name: info.Name, logger: opts.logger})
		d.names[info.Name] = true
	}

	if len(wrapped) == 0 {
		return d, nil
	}
	tn, err := compose.NewToolNode(ctx, &compose.ToolsNodeConfig{
		Tools:               wrapped,
		ExecuteSequentially: opts.sequential,
	})
	if err != nil {
		return nil, fmt.Errorf("create tools node: %w", err)
	}
	d.node = tn
	return d, nil
}

// Dispatch 执行 calls 并按请求顺序返回结果消息，每个 call 恰好对应一条 Tool 消息。
// 单个工具失败、未知工具名都会得到错误结果而不是 error；
// 只有 ctx 被取消时才返回 error
func (d *Dispatcher) Dispatch(ctx context.Context, calls []schema.ToolCall) ([]*schema.Message, error) {
	known := make([]schema.ToolCall, 0, len(calls))
	for _, c := range calls {
		if d.names[c.Function.Name] {
			known = append(known, c)
		}
	}

	var (
		outputs []*schema.Message
		failure string
	)
	if len(known) > 0 {
		out, err := d.node.Invoke(ctx, &schema.Message{Role: schema.Assistant, ToolCalls: known})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			d.logger.Warn("tools node failed", slog.Any("error", err))
			failure = err.Error()
		}
		outputs = out
	}

	return d.correlate(calls, outputs, failure), nil
}

// correlate 按 ToolCallID 把结果对回请求，并恢复请求顺序
func (d *Dispatcher) correlate(calls []schema.ToolCall, outputs []*schema.Message, failure string) []*schema.Message {
	byID := make(map[string][]*schema.Message, len(outputs))
	for _, m := range outputs {
		if m == nil {
			continue
		}
		byID[m.ToolCallID] = append(byID[m.ToolCallID], m)
	}

	results := make([]*schema.Message, 0, len(calls))
	for _, c := range calls {
		name := c.Function.Name
		if !d.names[name] {
			results = append(results, errorResult(c, fmt.Sprintf("tool %q not found", name)))
			continue
		}
		queue := byID[c.ID]
		if len(queue) == 0 {
			msg := "tool produced no result"
			if failure != "" {
				msg = failure
			}
			results = append(results, errorResult(c, msg))
			continue
		}
		m := queue[0]
		byID[c.ID] = queue[1:]
		if m.ToolName == "" {
			m.ToolName = name
		}
		results = append(results, m)
	}
	return results
}

func errorResult(c schema.ToolCall, msg string) *schema.Message {
	return schema.ToolMessage(errorPayload(msg), c.ID, schema.WithToolName(c.Function.Name))
}

func errorPayload(msg string) string {
	b, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return `{"error":"tool invocation failed"}`
	}
	return string(b)
}

// safeTool 把工具的 error 和 panic 转成错误结果，保证 ToolsNode 不会因单个工具中断
type safeTool struct {
	impl   tool.InvokableTool
	name   string
	logger *slog.Logger
}

func (t *safeTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return t.impl.Info(ctx)
}

func (t *safeTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("tool panicked", slog.String("tool", t.name), slog.Any("panic", r))
			out, err = errorPayload(fmt.Sprintf("%v: %s: panic: %v", ErrToolInvocation, t.name, r)), nil
		}
	}()

	result, runErr := t.impl.InvokableRun(ctx, normalizeArgs(argumentsInJSON), opts...)
	if runErr != nil {
		t.logger.Warn("tool invocation failed",
			slog.String("tool", t.name),
			slog.String("trace_id", GetTraceID(ctx)),
			slog.Any("error", runErr))
		return errorPayload(runErr.Error()), nil
	}
	return result, nil
}

func normalizeArgs(args string) string {
	s := strings.TrimSpace(args)
	if s == "" || s == "null" || s == "{" {
		return "{}"
	}
	return s
}
