// Package session 在 Agent 之上维护一段有上限的对话历史，对外提供 Send/History 等对话接口
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/wwwzy/mcpagent/internal/agent"
	"github.com/wwwzy/mcpagent/internal/logging"
	"github.com/wwwzy/mcpagent/internal/storage"
)

const (
	DefaultMaxHistory = 50

	fallbackReply = "I apologize, but I couldn't generate a proper response."
)

// Runner 是 Session 依赖的 Agent 能力，*agent.Agent 实现了它
type Runner interface {
	Invoke(ctx context.Context, seed []*schema.Message) (agent.AgentState, error)
	Name() string
	ModelName() string
}

// Journal 记录每一轮对话，*storage.Storage 实现了它
type Journal interface {
	InsertTurnRecord(ctx context.Context, rec *storage.TurnRecord) error
}

type Entry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Exchange struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

type Info struct {
	SessionID  string
	Agent      string
	Model      string
	MaxHistory int
	Messages   int
}

type Config struct {
	ID         string
	Agent      Runner
	MaxHistory int
	// Journal 为 nil 时不记录轮次
	Journal Journal
	Logger  *slog.Logger
}

type Session struct {
	mu sync.Mutex

	id         string
	agent      Runner
	maxHistory int
	history    []*schema.Message

	journal Journal
	logger  *slog.Logger
}

func New(cfg Config) (*Session, error) {
	if cfg.Agent == nil {
		return nil, errors.New("session: agent is required")
	}
	s := &Session{
		id:         cfg.ID,
		agent:      cfg.Agent,
		maxHistory: cfg.MaxHistory,
		journal:    cfg.Journal,
		logger:     logging.OrDefault(cfg.Logger),
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.maxHistory <= 0 {
		s.maxHistory = DefaultMaxHistory
	}
	return s, nil
}

// Send 执行一轮对话并返回回复文本。除 ctx 取消外，错误都会以助手消息的形式写入历史并作为回复返回
func (s *Session) Send(ctx context.Context, text string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	traceID := agent.GetTraceID(ctx)
	if traceID == "" {
		traceID = uuid.NewString()
		ctx = agent.WithTraceID(ctx, traceID)
	}
	started := time.Now()

	working := make([]*schema.Message, 0, len(s.history)+1)
	working = append(working, s.history...)
	working = append(working, schema.UserMessage(text))

	state, err := s.agent.Invoke(ctx, working)
	if ctxErr := ctx.Err(); ctxErr != nil {
		// 被取消的一轮不写入历史
		s.logger.Warn("turn cancelled", slog.String("trace_id", traceID), slog.Any("error", ctxErr))
		return errorReply(ctxErr)
	}

	produced := state.Messages
	if len(produced) < len(working) {
		produced = working
	}

	var reply string
	if err != nil {
		s.logger.Warn("turn failed", slog.String("trace_id", traceID), slog.Any("error", err))
		reply = errorReply(err)
		produced = append(produced[:len(produced):len(produced)], schema.AssistantMessage(reply, nil))
	} else {
		reply = lastContent(produced)
		if reply == "" {
			reply = fallbackReply
		}
	}

	s.history = trimHistory(produced, s.maxHistory)
	s.record(ctx, traceID, text, reply, produced[len(working)-1:], err, started)
	return reply
}

// History 返回 user/assistant 文本消息，跳过工具结果和空内容的助手消息
func (s *Session) History() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.history))
	for _, msg := range s.history {
		switch msg.Role {
		case schema.User:
			out = append(out, Entry{Role: string(schema.User), Content: msg.Content})
		case schema.Assistant:
			if msg.Content == "" {
				continue
			}
			out = append(out, Entry{Role: string(schema.Assistant), Content: msg.Content})
		}
	}
	return out
}

func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// LastExchange 分别向前查找最近的用户消息和最近的非空助手消息，两者不要求相邻
func (s *Session) LastExchange() (Exchange, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) < 2 {
		return Exchange{}, false
	}
	var ex Exchange
	var haveUser, haveAssistant bool
	for i := len(s.history) - 1; i >= 0 && !(haveUser && haveAssistant); i-- {
		msg := s.history[i]
		switch {
		case msg.Role == schema.User && !haveUser:
			ex.User, haveUser = msg.Content, true
		case msg.Role == schema.Assistant && !haveAssistant && msg.Content != "":
			ex.Assistant, haveAssistant = msg.Content, true
		}
	}
	return ex, haveUser && haveAssistant
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		SessionID:  s.id,
		Agent:      s.agent.Name(),
		Model:      s.agent.ModelName(),
		MaxHistory: s.maxHistory,
		Messages:   len(s.history),
	}
}

// SetAgent 切换后续轮次使用的 Agent，历史保留
func (s *Session) SetAgent(a Runner) error {
	if a == nil {
		return errors.New("session: agent is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agent = a
	return nil
}

func (s *Session) record(ctx context.Context, traceID, question, reply string, turn []*schema.Message, runErr error, started time.Time) {
	if s.journal == nil {
		return
	}
	rec := &storage.TurnRecord{
		TraceID:    traceID,
		SessionID:  s.id,
		Model:      s.agent.ModelName(),
		Question:   question,
		Reply:      reply,
		Messages:   len(turn),
		Status:     storage.StatusSuccess,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	for _, msg := range turn {
		rec.ToolCalls += len(msg.ToolCalls)
	}
	if runErr != nil {
		rec.Status = storage.StatusFailed
		rec.ErrorMessage = runErr.Error()
	}
	if err := s.journal.InsertTurnRecord(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Warn("write turn record failed", slog.String("trace_id", traceID), slog.Any("error", err))
	}
}

func errorReply(err error) string {
	return fmt.Sprintf("Error occurred: %v", err)
}

func lastContent(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i] != nil && msgs[i].Content != "" {
			return msgs[i].Content
		}
	}
	return ""
}

// trimHistory 保留最近 limit 条消息。截断后历史必须从用户消息开始：
// 开头残留的工具结果、助手消息一并丢弃，工具结果不会出现在它的调用之前
func trimHistory(msgs []*schema.Message, limit int) []*schema.Message {
	start := 0
	if len(msgs) > limit {
		start = len(msgs) - limit
	}
	if start > 0 {
		for start < len(msgs) && msgs[start].Role != schema.User {
			start++
		}
	}
	out := make([]*schema.Message, len(msgs)-start)
	copy(out, msgs[start:])
	return out
}
