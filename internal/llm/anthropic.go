package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

type AnthropicConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
}

// AnthropicModel 通过 Messages API 实现 ToolCallingChatModel
type AnthropicModel struct {
	client *anthropic.Client
	cfg    AnthropicConfig
	tools  []*schema.ToolInfo
}

func NewAnthropic(cfg AnthropicConfig) *AnthropicModel {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicModel{client: &client, cfg: cfg}
}

func (m *AnthropicModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	cp := *m
	cp.tools = append([]*schema.ToolInfo(nil), tools...)
	return &cp, nil
}

func (m *AnthropicModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	params, err := m.buildParams(input, opts...)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	out := &schema.Message{
		Role: schema.Assistant,
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: string(resp.StopReason),
			Usage: &schema.TokenUsage{
				PromptTokens:     int(resp.Usage.InputTokens),
				CompletionTokens: int(resp.Usage.OutputTokens),
				TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
			},
		},
	}
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			tu := block.AsToolUse()
			args := "{}"
			if len(tu.Input) > 0 {
				args = string(tu.Input)
			}
			out.ToolCalls = append(out.ToolCalls, schema.ToolCall{
				ID:   tu.ID,
				Type: "function",
				Function: schema.FunctionCall{
					Name:      tu.Name,
					Arguments: args,
				},
			})
		}
	}
	out.Content = text.String()
	return out, nil
}

func (m *AnthropicModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return streamOf(ctx, func(ctx context.Context) (*schema.Message, error) {
		return m.Generate(ctx, input, opts...)
	})
}

func (m *AnthropicModel) buildParams(input []*schema.Message, opts ...model.Option) (anthropic.MessageNewParams, error) {
	o := callOptions(m.cfg.Model, m.cfg.Temperature, m.cfg.MaxTokens, opts...)

	system, messages := anthropicMessages(input)
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(*o.Model),
		Messages:    messages,
		MaxTokens:   int64(*o.MaxTokens),
		Temperature: anthropic.Float(float64(*o.Temperature)),
	}
	if len(system) > 0 {
		params.System = system
	}

	tools := m.tools
	if len(o.Tools) > 0 {
		tools = o.Tools
	}
	for _, info := range tools {
		p, err := toolParameters(info)
		if err != nil {
			return params, err
		}
		inputSchema := anthropic.ToolInputSchemaParam{
			Type:       constant.Object("object"),
			Properties: p["properties"],
		}
		if req, ok := p["required"].([]any); ok {
			for _, r := range req {
				if s, ok := r.(string); ok {
					inputSchema.Required = append(inputSchema.Required, s)
				}
			}
		}
		t := anthropic.ToolUnionParamOfTool(inputSchema, info.Name)
		if info.Desc != "" {
			t.OfTool.Description = anthropic.String(info.Desc)
		}
		params.Tools = append(params.Tools, t)
	}
	return params, nil
}

// anthropicMessages 把系统消息抽到 System，并把连续的 Tool 消息合并成一条 user 消息里的 tool_result
func anthropicMessages(input []*schema.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var (
		system      []anthropic.TextBlockParam
		messages    []anthropic.MessageParam
		toolResults []anthropic.ContentBlockParamUnion
	)
	flushResults := func() {
		if len(toolResults) > 0 {
			messages = append(messages, anthropic.NewUserMessage(toolResults...))
			toolResults = nil
		}
	}

	for _, msg := range input {
		if msg == nil {
			continue
		}
		if msg.Role == schema.Tool {
			toolResults = append(toolResults, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, isErrorPayload(msg.Content)))
			continue
		}
		flushResults()

		switch msg.Role {
		case schema.System:
			if msg.Content != "" {
				system = append(system, anthropic.TextBlockParam{Text: msg.Content})
			}
		case schema.Assistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var in any = map[string]any{}
				if tc.Function.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Function.Arguments), &in); err != nil {
						in = map[string]any{}
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, in, tc.Function.Name))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			if msg.Content != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}
		}
	}
	flushResults()
	return system, messages
}

// isErrorPayload 识别分发器生成的 {"error": "..."} 结果
func isErrorPayload(content string) bool {
	if !strings.HasPrefix(strings.TrimSpace(content), `{"error"`) {
		return false
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return false
	}
	_, ok := v["error"]
	return ok && len(v) == 1
}
