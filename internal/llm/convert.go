package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// toolParameters 把 eino 的参数描述转换为 JSON Schema 对象；无参数时返回空 object
func toolParameters(info *schema.ToolInfo) (map[string]any, error) {
	empty := map[string]any{"type": "object", "properties": map[string]any{}}
	if info == nil || info.ParamsOneOf == nil {
		return empty, nil
	}
	js, err := info.ParamsOneOf.ToJSONSchema()
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", info.Name, err)
	}
	if js == nil {
		return empty, nil
	}
	raw, err := json.Marshal(js)
	if err != nil {
		return nil, fmt.Errorf("tool %s: marshal schema: %w", info.Name, err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("tool %s: %w", info.Name, err)
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	return out, nil
}

// callOptions 合并构造时的默认值与单次调用传入的 model.Option
func callOptions(name string, temperature float32, maxTokens int, opts ...model.Option) *model.Options {
	return model.GetCommonOptions(&model.Options{
		Model:       &name,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	}, opts...)
}

// streamOf 以单个完整消息构造流；不提供逐 token 输出
func streamOf(ctx context.Context, gen func(context.Context) (*schema.Message, error)) (*schema.StreamReader[*schema.Message], error) {
	msg, err := gen(ctx)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}
