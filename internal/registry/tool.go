package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/eino-contrib/jsonschema"
)

// ErrToolInvocation 表示单次工具调用失败（协议错误或工具返回 isError）
var ErrToolInvocation = errors.New("tool invocation failed")

// ToolSet 是某一次拉取得到的完整工具快照。
// Generation 由 Registry 单调递增分配：快照内容不变时保持不变，
// 上层据此判断是否需要重新绑定模型
type ToolSet struct {
	Generation uint64
	Tools      []tool.BaseTool
}

func (s *ToolSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Tools)
}

// Infos 返回工具的 schema 描述，顺序与 Tools 一致
func (s *ToolSet) Infos(ctx context.Context) ([]*schema.ToolInfo, error) {
	if s == nil {
		return nil, nil
	}
	infos := make([]*schema.ToolInfo, 0, len(s.Tools))
	for _, t := range s.Tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

type toolCaller interface {
	callTool(ctx context.Context, server string, name string, args map[string]any) (CallResult, error)
}

// Tool 把一个 MCP 工具适配为 eino 的 InvokableTool
type Tool struct {
	server string
	// name 为暴露给模型的名字，remote 为服务端上的原始名字（重名时两者不同）
	name   string
	remote string
	desc   string
	params *schema.ParamsOneOf
	caller toolCaller
}

func newTool(server string, name string, def MCPTool, caller toolCaller) *Tool {
	return &Tool{
		server: server,
		name:   name,
		remote: def.Name,
		desc:   def.Description,
		params: paramsFromSchema(def.InputSchema),
		caller: caller,
	}
}

func (t *Tool) Server() string { return t.server }

func (t *Tool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name:        t.name,
		Desc:        t.desc,
		ParamsOneOf: t.params,
	}, nil
}

func (t *Tool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	args := map[string]any{}
	if s := strings.TrimSpace(argumentsInJSON); s != "" && s != "null" {
		if err := json.Unmarshal([]byte(s), &args); err != nil {
			return "", fmt.Errorf("%w: %s: invalid arguments: %v", ErrToolInvocation, t.name, err)
		}
	}

	result, err := t.caller.callTool(ctx, t.server, t.remote, args)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrToolInvocation, t.name, err)
	}

	text := joinText(result.Content)
	if result.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", fmt.Errorf("%w: %s: %s", ErrToolInvocation, t.name, text)
	}
	return text, nil
}

func joinText(items []ContentItem) string {
	var b strings.Builder
	for _, item := range items {
		if item.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(item.Text)
	}
	return b.String()
}

// paramsFromSchema 解析 MCP inputSchema；无法解析时返回 nil（视为无参数）
func paramsFromSchema(raw json.RawMessage) *schema.ParamsOneOf {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var js jsonschema.Schema
	if err := json.Unmarshal(raw, &js); err != nil {
		return nil
	}
	return schema.NewParamsOneOfByJSONSchema(&js)
}

// sanitizeName 将非 [A-Za-z0-9_-] 字符替换为下划线
func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, s)
}
