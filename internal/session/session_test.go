package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwzy/mcpagent/internal/agent"
	"github.com/wwwzy/mcpagent/internal/logging"
	"github.com/wwwzy/mcpagent/internal/registry"
	"github.com/wwwzy/mcpagent/internal/storage"
)

type stubModel struct {
	mu    sync.Mutex
	calls int
	reply func(call int, input []*schema.Message) (*schema.Message, error)
}

func (m *stubModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	call := m.calls
	m.calls++
	m.mu.Unlock()
	return m.reply(call, input)
}

func (m *stubModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *stubModel) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

func scripted(msgs ...*schema.Message) *stubModel {
	return &stubModel{reply: func(call int, _ []*schema.Message) (*schema.Message, error) {
		if call >= len(msgs) {
			return nil, errors.New("unexpected model call")
		}
		return msgs[call], nil
	}}
}

type stubTool struct {
	name string
	run  func(args string) (string, error)
}

func (t *stubTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: t.name, Desc: t.name}, nil
}

func (t *stubTool) InvokableRun(_ context.Context, args string, _ ...tool.Option) (string, error) {
	return t.run(args)
}

type stubSource struct {
	set *registry.ToolSet
	err error
}

func (s *stubSource) FetchTools(context.Context) (*registry.ToolSet, error) {
	return s.set, s.err
}

type memoryJournal struct {
	mu      sync.Mutex
	records []storage.TurnRecord
}

func (j *memoryJournal) InsertTurnRecord(_ context.Context, rec *storage.TurnRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, *rec)
	return nil
}

// echoRunner 回显最后一条用户消息，不经过真实 Agent
type echoRunner struct {
	err error
}

func (r *echoRunner) Invoke(_ context.Context, seed []*schema.Message) (agent.AgentState, error) {
	if r.err != nil {
		return agent.AgentState{Messages: seed}, r.err
	}
	last := seed[len(seed)-1].Content
	return agent.AgentState{Messages: append(seed[:len(seed):len(seed)], schema.AssistantMessage("echo: "+last, nil))}, nil
}

func (r *echoRunner) Name() string      { return "echo" }
func (r *echoRunner) ModelName() string { return "stub:echo" }

func newAgent(t *testing.T, cm model.ToolCallingChatModel, src agent.ToolSource) *agent.Agent {
	t.Helper()
	a, err := agent.New(context.Background(), agent.Config{
		Name:      "test",
		ModelName: "stub:model",
		Model:     cm,
		Tools:     src,
		Logger:    logging.Discard(),
	})
	require.NoError(t, err)
	return a
}

func newSession(t *testing.T, r Runner, maxHistory int) *Session {
	t.Helper()
	s, err := New(Config{Agent: r, MaxHistory: maxHistory, Logger: logging.Discard()})
	require.NoError(t, err)
	return s
}

func TestNewRequiresAgent(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	s := newSession(t, &echoRunner{}, 0)
	assert.Equal(t, DefaultMaxHistory, s.Info().MaxHistory)
	assert.NotEmpty(t, s.Info().SessionID)
}

func TestHistoryBoundedFIFO(t *testing.T) {
	s := newSession(t, &echoRunner{}, 5)
	for i := 0; i < 10; i++ {
		reply := s.Send(context.Background(), fmt.Sprintf("m%d", i))
		assert.Equal(t, fmt.Sprintf("echo: m%d", i), reply)
		assert.LessOrEqual(t, len(s.History()), 5)
	}

	// 最旧的先被丢弃；m7 的回复失去了它的提问，也一起丢弃
	h := s.History()
	require.Len(t, h, 4)
	assert.Equal(t, Entry{Role: "user", Content: "m8"}, h[0])
	assert.Equal(t, Entry{Role: "user", Content: "m9"}, h[2])
	assert.Equal(t, Entry{Role: "assistant", Content: "echo: m9"}, h[3])
}

func TestTrimHistoryDropsOrphanToolResults(t *testing.T) {
	msgs := []*schema.Message{
		schema.UserMessage("q"),
		schema.AssistantMessage("", []schema.ToolCall{{ID: "c1"}, {ID: "c2"}}),
		schema.ToolMessage("r1", "c1"),
		schema.ToolMessage("r2", "c2"),
		schema.AssistantMessage("done", nil),
		schema.UserMessage("q2"),
		schema.AssistantMessage("a2", nil),
	}
	out := trimHistory(msgs, 5)
	require.Len(t, out, 2)
	assert.Equal(t, schema.User, out[0].Role)
	assert.Equal(t, "q2", out[0].Content)

	out = trimHistory(msgs, 6)
	require.Len(t, out, 2)
	assert.Equal(t, "q2", out[0].Content)

	// 截断点之后没有用户消息时不保留任何消息
	assert.Empty(t, trimHistory(msgs[:5], 3))

	out = trimHistory(msgs, 10)
	assert.Len(t, out, 7)
	out[0] = nil
	assert.NotNil(t, msgs[0])
}

func TestScenarioDirectAnswer(t *testing.T) {
	a := newAgent(t, scripted(schema.AssistantMessage("4", nil)), nil)
	s := newSession(t, a, 0)

	assert.Equal(t, "4", s.Send(context.Background(), "2+2?"))
	assert.Equal(t, 2, s.Info().Messages)
	assert.Equal(t, []Entry{{Role: "user", Content: "2+2?"}, {Role: "assistant", Content: "4"}}, s.History())
}

func TestScenarioToolRoundTrip(t *testing.T) {
	search := &stubTool{name: "search_docs", run: func(args string) (string, error) {
		if !strings.Contains(args, `"X"`) {
			return "", fmt.Errorf("unexpected args %s", args)
		}
		return "found", nil
	}}
	cm := &stubModel{reply: func(call int, input []*schema.Message) (*schema.Message, error) {
		switch call {
		case 0:
			return schema.AssistantMessage("", []schema.ToolCall{{
				ID:       "call_1",
				Function: schema.FunctionCall{Name: "search_docs", Arguments: `{"q":"X"}`},
			}}), nil
		case 1:
			last := input[len(input)-1]
			return schema.AssistantMessage("Here: "+last.Content, nil), nil
		}
		return nil, errors.New("unexpected model call")
	}}
	src := &stubSource{set: &registry.ToolSet{Generation: 1, Tools: []tool.BaseTool{search}}}
	s := newSession(t, newAgent(t, cm, src), 0)

	assert.Equal(t, "Here: found", s.Send(context.Background(), "docs for X"))
	assert.Equal(t, 4, s.Info().Messages)

	s.mu.Lock()
	roles := make([]schema.RoleType, 0, len(s.history))
	for _, m := range s.history {
		roles = append(roles, m.Role)
	}
	toolMsg := s.history[2]
	s.mu.Unlock()
	assert.Equal(t, []schema.RoleType{schema.User, schema.Assistant, schema.Tool, schema.Assistant}, roles)
	assert.Equal(t, "call_1", toolMsg.ToolCallID)
	assert.Equal(t, "found", toolMsg.Content)
}

func TestScenarioRegistryUnavailable(t *testing.T) {
	cm := &stubModel{reply: func(_ int, _ []*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage("no tools needed", nil), nil
	}}
	src := &stubSource{err: fmt.Errorf("%w: all 1 servers failed", registry.ErrRegistryUnavailable)}
	s := newSession(t, newAgent(t, cm, src), 0)

	assert.Equal(t, "no tools needed", s.Send(context.Background(), "hello"))
	assert.Equal(t, 2, s.Info().Messages)
}

func TestScenarioToolErrorKeepsSiblings(t *testing.T) {
	ok := &stubTool{name: "ok", run: func(string) (string, error) { return "fine", nil }}
	bad := &stubTool{name: "bad", run: func(string) (string, error) { return "", errors.New("boom") }}
	cm := &stubModel{reply: func(call int, input []*schema.Message) (*schema.Message, error) {
		if call == 0 {
			return schema.AssistantMessage("", []schema.ToolCall{
				{ID: "a", Function: schema.FunctionCall{Name: "bad", Arguments: "{}"}},
				{ID: "b", Function: schema.FunctionCall{Name: "ok", Arguments: "{}"}},
			}), nil
		}
		return schema.AssistantMessage("handled", nil), nil
	}}
	src := &stubSource{set: &registry.ToolSet{Generation: 1, Tools: []tool.BaseTool{ok, bad}}}
	s := newSession(t, newAgent(t, cm, src), 0)

	assert.Equal(t, "handled", s.Send(context.Background(), "go"))

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.history, 5)
	assert.Equal(t, "a", s.history[2].ToolCallID)
	assert.Contains(t, s.history[2].Content, "boom")
	assert.Contains(t, s.history[2].Content, `"error"`)
	assert.Equal(t, "b", s.history[3].ToolCallID)
	assert.Equal(t, "fine", s.history[3].Content)
}

func TestModelErrorBecomesReply(t *testing.T) {
	cm := &stubModel{reply: func(int, []*schema.Message) (*schema.Message, error) {
		return nil, errors.New("rate limited")
	}}
	j := &memoryJournal{}
	s, err := New(Config{Agent: newAgent(t, cm, nil), Journal: j, Logger: logging.Discard()})
	require.NoError(t, err)

	reply := s.Send(context.Background(), "hi")
	assert.True(t, strings.HasPrefix(reply, "Error occurred: "))
	assert.Contains(t, reply, "rate limited")

	h := s.History()
	require.Len(t, h, 2)
	assert.Equal(t, reply, h[1].Content)

	require.Len(t, j.records, 1)
	assert.Equal(t, storage.StatusFailed, j.records[0].Status)
	assert.Equal(t, "hi", j.records[0].Question)
}

func TestEmptyReplyFallsBack(t *testing.T) {
	a := newAgent(t, scripted(schema.AssistantMessage("", nil)), nil)
	s := newSession(t, a, 0)
	// 空的助手消息被跳过，向前找到的是用户消息
	assert.Equal(t, "q", s.Send(context.Background(), "q"))

	empty := newSession(t, &emptyRunner{}, 0)
	assert.Equal(t, fallbackReply, empty.Send(context.Background(), ""))
}

type emptyRunner struct{}

func (emptyRunner) Invoke(_ context.Context, seed []*schema.Message) (agent.AgentState, error) {
	return agent.AgentState{Messages: append(seed[:len(seed):len(seed)], schema.AssistantMessage("", nil))}, nil
}
func (emptyRunner) Name() string      { return "empty" }
func (emptyRunner) ModelName() string { return "stub:empty" }

func TestCancelledTurnNotCommitted(t *testing.T) {
	s := newSession(t, &echoRunner{}, 0)
	s.Send(context.Background(), "first")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reply := s.Send(ctx, "second")
	assert.Equal(t, "Error occurred: context canceled", reply)
	assert.Len(t, s.History(), 2)
}

func TestLastExchange(t *testing.T) {
	s := newSession(t, &echoRunner{}, 0)
	_, ok := s.LastExchange()
	assert.False(t, ok)

	s.Send(context.Background(), "one")
	s.Send(context.Background(), "two")
	ex, ok := s.LastExchange()
	require.True(t, ok)
	assert.Equal(t, Exchange{User: "two", Assistant: "echo: two"}, ex)

	s.Clear()
	assert.Empty(t, s.History())
	_, ok = s.LastExchange()
	assert.False(t, ok)
}

func TestJournalAndSetAgent(t *testing.T) {
	j := &memoryJournal{}
	s, err := New(Config{ID: "s1", Agent: &echoRunner{}, Journal: j, Logger: logging.Discard()})
	require.NoError(t, err)

	ctx := agent.WithTraceID(context.Background(), "trace-1")
	s.Send(ctx, "hello")
	require.Len(t, j.records, 1)
	rec := j.records[0]
	assert.Equal(t, "trace-1", rec.TraceID)
	assert.Equal(t, "s1", rec.SessionID)
	assert.Equal(t, "stub:echo", rec.Model)
	assert.Equal(t, "echo: hello", rec.Reply)
	assert.Equal(t, 2, rec.Messages)
	assert.Equal(t, storage.StatusSuccess, rec.Status)

	assert.Error(t, s.SetAgent(nil))
	require.NoError(t, s.SetAgent(emptyRunner{}))
	info := s.Info()
	assert.Equal(t, "empty", info.Agent)
	assert.Equal(t, "stub:empty", info.Model)
	assert.Equal(t, 2, info.Messages)
}
