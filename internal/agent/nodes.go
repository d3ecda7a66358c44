package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
)

// fetchTools 拉取工具快照。失败不致命：保留上一次（或空）工具集继续
func (e *execution) fetchTools(ctx context.Context) (StateUpdate, error) {
	if e.agent.tools == nil {
		return StateUpdate{}, nil
	}
	set, err := e.agent.tools.FetchTools(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return StateUpdate{}, ctx.Err()
		}
		attrs := []any{slog.Any("error", err)}
		if !errors.Is(err, ErrRegistryUnavailable) {
			attrs = append(attrs, slog.Bool("unexpected", true))
		}
		e.logger.Warn("tool discovery failed, continuing without fresh tools", attrs...)
		return StateUpdate{}, nil
	}
	e.logger.Debug("tools fetched", slog.Uint64("generation", set.Generation), slog.Int("tools", set.Len()))
	return StateUpdate{Tools: set}, nil
}

// callModel 确保工具已绑定，然后用完整消息序列调用模型
func (e *execution) callModel(ctx context.Context, state AgentState) (StateUpdate, error) {
	cm, dispatcher, err := e.agent.binder.Ensure(ctx, state.Tools)
	if err != nil {
		return StateUpdate{}, err
	}
	e.dispatcher = dispatcher

	messages, err := renderPrompt(ctx, e.agent.template, sanitizeToolCallArgs(state.Messages))
	if err != nil {
		return StateUpdate{}, fmt.Errorf("%w: format prompt: %w", ErrModelInvocation, err)
	}

	resp, err := cm.Generate(ctx, messages)
	if err != nil {
		if ctx.Err() != nil {
			return StateUpdate{}, ctx.Err()
		}
		return StateUpdate{}, fmt.Errorf("%w: %w", ErrModelInvocation, err)
	}
	if resp == nil {
		return StateUpdate{}, fmt.Errorf("%w: empty response", ErrModelInvocation)
	}
	if resp.Role == "" {
		resp.Role = schema.Assistant
	}
	ensureToolCallIDs(resp)

	e.logger.Debug("model responded",
		slog.Int("tool_calls", len(resp.ToolCalls)),
		slog.Int("content_len", len(resp.Content)))
	return StateUpdate{Messages: []*schema.Message{resp}}, nil
}

// executeTools 执行最后一条助手消息中的全部 tool call；
// 尚未绑定分发器或没有 tool call 时不产生任何消息
func (e *execution) executeTools(ctx context.Context, state AgentState) (StateUpdate, error) {
	last := lastMessage(state.Messages)
	if e.dispatcher == nil || !hasToolCalls(last) {
		return StateUpdate{}, nil
	}

	results, err := e.dispatcher.Dispatch(ctx, last.ToolCalls)
	if err != nil {
		return StateUpdate{}, err
	}
	return StateUpdate{Messages: results}, nil
}

// ensureToolCallIDs 为缺少 ID 的 tool call 补上全局唯一的 ID，结果才能按 ID 对回；
// 会话历史跨轮保留，ID 在整个对话中也不能重复。
// resp 刚由模型生成、尚未进入状态，可以原地修改
func ensureToolCallIDs(resp *schema.Message) {
	for i := range resp.ToolCalls {
		if resp.ToolCalls[i].ID == "" {
			resp.ToolCalls[i].ID = "call_" + uuid.NewString()
		}
	}
}

// sanitizeToolCallArgs 把历史中非法或为空的 tool call 参数替换为 {}。
// 已进入状态的消息不修改，需要修正时复制一份
func sanitizeToolCallArgs(input []*schema.Message) []*schema.Message {
	sanitized := input
	changed := false
	for i, m := range input {
		if m == nil || m.Role != schema.Assistant || len(m.ToolCalls) == 0 {
			continue
		}
		var calls []schema.ToolCall
		for j := range m.ToolCalls {
			args := strings.TrimSpace(m.ToolCalls[j].Function.Arguments)
			if args != "" && args != "null" && json.Valid([]byte(args)) {
				continue
			}
			if calls == nil {
				calls = append([]schema.ToolCall(nil), m.ToolCalls...)
			}
			calls[j].Function.Arguments = "{}"
		}
		if calls == nil {
			continue
		}
		if !changed {
			sanitized = append([]*schema.Message(nil), input...)
			changed = true
		}
		nm := *m
		nm.ToolCalls = calls
		sanitized[i] = &nm
	}
	return sanitized
}
