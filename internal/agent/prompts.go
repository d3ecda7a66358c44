package agent

import (
	"context"
	"runtime"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// 系统提示词使用 FString 语法，可用变量: {time}, {os}, {arch}；字面量花括号写作 {{ }}
const historyPlaceholder = "history"

// newChatTemplate 创建 "System + History" 模板；systemPrompt 为空时返回 nil，消息原样发给模型
func newChatTemplate(systemPrompt string) prompt.ChatTemplate {
	if strings.TrimSpace(systemPrompt) == "" {
		return nil
	}
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.MessagesPlaceholder(historyPlaceholder, false),
	)
}

func renderPrompt(ctx context.Context, tpl prompt.ChatTemplate, history []*schema.Message) ([]*schema.Message, error) {
	if tpl == nil {
		return history, nil
	}
	return tpl.Format(ctx, map[string]any{
		"os":               runtime.GOOS,
		"arch":             runtime.GOARCH,
		"time":             time.Now().Format(time.RFC3339),
		historyPlaceholder: history,
	})
}
