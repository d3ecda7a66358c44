package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/wwwzy/mcpagent/internal/session"
)

// ChatBackend 是界面依赖的会话能力，*session.Session 实现了它
type ChatBackend interface {
	Send(ctx context.Context, text string) string
	History() []session.Entry
	Clear()
	LastExchange() (session.Exchange, bool)
	Info() session.Info
}

type ChatUI interface {
	Run(ctx context.Context, backend ChatBackend, opts ChatOptions) error
}

type ChatOptions struct {
	// Title 显示在欢迎语和 TUI 标题栏
	Title string
	// SwitchModel 处理 "model <provider:model>" 命令，为 nil 时不支持切换
	SwitchModel func(ctx context.Context, modelID string) error
}

func (o ChatOptions) title() string {
	if o.Title == "" {
		return "MCP Agent"
	}
	return o.Title
}

// Command 是对话中的内置命令
type Command int

const (
	CommandNone Command = iota
	CommandQuit
	CommandHistory
	CommandClear
	CommandInfo
	CommandModel
)

func ParseCommand(line string) Command {
	lower := strings.ToLower(strings.TrimSpace(line))
	if strings.HasPrefix(lower, "model ") {
		return CommandModel
	}
	switch lower {
	case "quit", "exit", "bye":
		return CommandQuit
	case "history":
		return CommandHistory
	case "clear":
		return CommandClear
	case "info":
		return CommandInfo
	default:
		return CommandNone
	}
}

const helpText = `Type 'quit', 'exit', or 'bye' to end the session.
Type 'history' to see chat history.
Type 'clear' to clear chat history.
Type 'info' to see current agent/model information.
Type 'model <provider:model>' to switch the model, keeping the history.`

// ModelArg 取出 "model <id>" 命令的参数
func ModelArg(line string) string {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

// SwitchModel 执行模型切换命令并返回要展示的提示
func SwitchModel(ctx context.Context, opts ChatOptions, line string) string {
	id := ModelArg(line)
	if opts.SwitchModel == nil {
		return "Model switching is not available."
	}
	if id == "" {
		return "Usage: model <provider:model>"
	}
	if err := opts.SwitchModel(ctx, id); err != nil {
		return fmt.Sprintf("Failed to switch model: %v", err)
	}
	return "Switched model to " + id
}

func FormatHistory(entries []session.Entry) string {
	if len(entries) == 0 {
		return "No chat history available."
	}
	var b strings.Builder
	b.WriteString("Chat History:\n")
	for _, e := range entries {
		name := "Assistant"
		if e.Role == "user" {
			name = "You"
		}
		fmt.Fprintf(&b, "%s: %s\n", name, e.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func FormatInfo(info session.Info) string {
	var b strings.Builder
	b.WriteString("Current Agent Information:\n")
	fmt.Fprintf(&b, "Agent: %s\n", info.Agent)
	fmt.Fprintf(&b, "Model: %s\n", info.Model)
	fmt.Fprintf(&b, "Session: %s\n", info.SessionID)
	fmt.Fprintf(&b, "History: %d/%d messages", info.Messages, info.MaxHistory)
	return b.String()
}
