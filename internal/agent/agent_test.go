package agent

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwzy/mcpagent/internal/logging"
	"github.com/wwwzy/mcpagent/internal/registry"
	"github.com/wwwzy/mcpagent/internal/storage"
)

// scriptedModel 按调用次数返回预设回复
type scriptedModel struct {
	script *modelScript
	tools  []*schema.ToolInfo
}

type modelScript struct {
	mu        sync.Mutex
	reply     func(call int, input []*schema.Message) (*schema.Message, error)
	calls     int
	inputs    [][]*schema.Message
	withTools int
}

func newScriptedModel(reply func(call int, input []*schema.Message) (*schema.Message, error)) *scriptedModel {
	return &scriptedModel{script: &modelScript{reply: reply}}
}

func replies(msgs ...*schema.Message) *scriptedModel {
	return newScriptedModel(func(call int, _ []*schema.Message) (*schema.Message, error) {
		if call >= len(msgs) {
			return nil, errors.New("unexpected model call")
		}
		return msgs[call], nil
	})
}

func (m *scriptedModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.script.mu.Lock()
	call := m.script.calls
	m.script.calls++
	m.script.inputs = append(m.script.inputs, input)
	m.script.mu.Unlock()
	return m.script.reply(call, input)
}

func (m *scriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *scriptedModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.script.mu.Lock()
	m.script.withTools++
	m.script.mu.Unlock()
	return &scriptedModel{script: m.script, tools: tools}, nil
}

func (m *scriptedModel) Calls() int {
	m.script.mu.Lock()
	defer m.script.mu.Unlock()
	return m.script.calls
}

func (m *scriptedModel) WithToolsCalls() int {
	m.script.mu.Lock()
	defer m.script.mu.Unlock()
	return m.script.withTools
}

// funcTool 是测试用的 InvokableTool
type funcTool struct {
	name   string
	params *schema.ParamsOneOf
	calls  atomic.Int32
	run    func(ctx context.Context, args string) (string, error)
}

func newFuncTool(name string, run func(ctx context.Context, args string) (string, error)) *funcTool {
	return &funcTool{name: name, run: run}
}

func (t *funcTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: t.name, Desc: "test tool " + t.name, ParamsOneOf: t.params}, nil
}

func (t *funcTool) InvokableRun(ctx context.Context, args string, _ ...tool.Option) (string, error) {
	t.calls.Add(1)
	return t.run(ctx, args)
}

// staticSource 返回固定的工具快照或错误
type staticSource struct {
	set   *registry.ToolSet
	err   error
	calls atomic.Int32
}

func (s *staticSource) FetchTools(context.Context) (*registry.ToolSet, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.set, nil
}

func toolSet(gen uint64, tools ...tool.BaseTool) *registry.ToolSet {
	return &registry.ToolSet{Generation: gen, Tools: tools}
}

func toolCall(id, name, args string) schema.ToolCall {
	return schema.ToolCall{ID: id, Function: schema.FunctionCall{Name: name, Arguments: args}}
}

func newTestAgent(t *testing.T, cfg Config) *Agent {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	return a
}

func TestReduceMessages(t *testing.T) {
	a := []*schema.Message{schema.UserMessage("a"), schema.AssistantMessage("b", nil)}
	b := []*schema.Message{schema.UserMessage("c")}

	assert.Equal(t, a, ReduceMessages(a, nil))
	assert.Equal(t, a, ReduceMessages(a, []*schema.Message{}))

	got := ReduceMessages(a, b)
	require.Len(t, got, len(a)+len(b))
	assert.Equal(t, "c", got[2].Content)

	// 结果不与入参共享底层数组
	got[0] = schema.UserMessage("changed")
	assert.Equal(t, "a", a[0].Content)
}

func TestReduceTools(t *testing.T) {
	a := toolSet(1)
	b := toolSet(2)

	assert.Same(t, a, ReduceTools(a, nil))
	assert.Same(t, b, ReduceTools(a, b))
	assert.Nil(t, ReduceTools(nil, nil))
}

func TestReducersApply(t *testing.T) {
	r := DefaultReducers()
	set := toolSet(3)
	state := AgentState{Messages: []*schema.Message{schema.UserMessage("hi")}, Tools: set}

	got := r.Apply(state, StateUpdate{})
	assert.Len(t, got.Messages, 1)
	assert.Same(t, set, got.Tools)

	got = r.Apply(state, StateUpdate{Messages: []*schema.Message{schema.AssistantMessage("yo", nil)}, Tools: toolSet(4)})
	assert.Len(t, got.Messages, 2)
	assert.Equal(t, uint64(4), got.Tools.Generation)
}

func TestNext(t *testing.T) {
	withCalls := AgentState{Messages: []*schema.Message{
		schema.AssistantMessage("", []schema.ToolCall{toolCall("1", "x", "{}")}),
	}}
	final := AgentState{Messages: []*schema.Message{schema.AssistantMessage("done", nil)}}

	assert.Equal(t, StepCallModel, next(StepFetchTools, final))
	assert.Equal(t, StepExecuteTools, next(StepCallModel, withCalls))
	assert.Equal(t, StepDone, next(StepCallModel, final))
	assert.Equal(t, StepCallModel, next(StepExecuteTools, final))
	assert.Equal(t, StepDone, next(StepDone, final))
	assert.Panics(t, func() { next(Step(42), final) })
}

func TestBinder_ReusesBindingForSameGeneration(t *testing.T) {
	ctx := context.Background()
	m := replies()
	b := newBinder(m, dispatchOptions{})
	echo := newFuncTool("echo", func(_ context.Context, args string) (string, error) { return args, nil })

	first, d1, err := b.Ensure(ctx, toolSet(1, echo))
	require.NoError(t, err)
	second, d2, err := b.Ensure(ctx, toolSet(1, echo))
	require.NoError(t, err)

	assert.Equal(t, 1, b.Binds())
	assert.Equal(t, 1, m.WithToolsCalls())
	assert.Same(t, first, second)
	assert.Same(t, d1, d2)

	_, d3, err := b.Ensure(ctx, toolSet(2, echo))
	require.NoError(t, err)
	assert.Equal(t, 2, b.Binds())
	assert.Equal(t, 2, m.WithToolsCalls())
	assert.NotSame(t, d1, d3)
}

func TestBinder_EmptySetStillBinds(t *testing.T) {
	m := replies()
	b := newBinder(m, dispatchOptions{})

	_, ok := b.Generation()
	assert.False(t, ok)

	bound, d, err := b.Ensure(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Binds())
	assert.Equal(t, 0, m.WithToolsCalls())
	assert.Same(t, m, bound)
	assert.NotNil(t, d)

	_, _, err = b.Ensure(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Binds())
}

func TestExecuteTools_NoOp(t *testing.T) {
	ctx := context.Background()
	echo := newFuncTool("echo", func(_ context.Context, args string) (string, error) { return args, nil })
	a := newTestAgent(t, Config{Model: replies()})

	withCalls := AgentState{Messages: []*schema.Message{
		schema.AssistantMessage("", []schema.ToolCall{toolCall("1", "echo", "{}")}),
	}}

	// 尚未绑定分发器
	exec := &execution{agent: a, logger: logging.Discard()}
	up, err := exec.executeTools(ctx, withCalls)
	require.NoError(t, err)
	assert.Empty(t, up.Messages)

	// 已绑定，但最后一条消息没有 tool call
	_, d, err := a.binder.Ensure(ctx, toolSet(1, echo))
	require.NoError(t, err)
	exec.dispatcher = d
	up, err = exec.executeTools(ctx, AgentState{Messages: []*schema.Message{schema.AssistantMessage("hi", nil)}})
	require.NoError(t, err)
	assert.Empty(t, up.Messages)
	assert.Equal(t, int32(0), echo.calls.Load())
}

// 场景 1：没有工具调用，直接回答
func TestRun_DirectAnswer(t *testing.T) {
	m := replies(schema.AssistantMessage("4", nil))
	a := newTestAgent(t, Config{Model: m, Tools: &staticSource{set: toolSet(1)}})

	state, err := a.Run(context.Background(), "2+2?")
	require.NoError(t, err)
	require.Len(t, state.Messages, 2)
	assert.Equal(t, schema.User, state.Messages[0].Role)
	assert.Equal(t, "4", state.Messages[1].Content)
	assert.Equal(t, 1, m.Calls())
}

// 场景 2：一次工具调用后给出最终答案
func TestRun_SingleToolRoundTrip(t *testing.T) {
	search := newFuncTool("search_docs", func(_ context.Context, args string) (string, error) {
		var in map[string]string
		if err := json.Unmarshal([]byte(args), &in); err != nil {
			return "", err
		}
		if in["q"] != "X" {
			return "", errors.New("unexpected query")
		}
		return "found", nil
	})
	m := newScriptedModel(func(call int, input []*schema.Message) (*schema.Message, error) {
		if call == 0 {
			return schema.AssistantMessage("", []schema.ToolCall{toolCall("call_1", "search_docs", `{"q":"X"}`)}), nil
		}
		last := input[len(input)-1]
		return schema.AssistantMessage("Here: "+last.Content, nil), nil
	})
	a := newTestAgent(t, Config{Model: m, Tools: &staticSource{set: toolSet(1, search)}})

	state, err := a.Run(context.Background(), "docs for X")
	require.NoError(t, err)
	require.Len(t, state.Messages, 4)

	assert.Equal(t, schema.Assistant, state.Messages[1].Role)
	require.Len(t, state.Messages[1].ToolCalls, 1)

	result := state.Messages[2]
	assert.Equal(t, schema.Tool, result.Role)
	assert.Equal(t, "call_1", result.ToolCallID)
	assert.Equal(t, "search_docs", result.ToolName)
	assert.Equal(t, "found", result.Content)

	assert.Equal(t, "Here: found", state.Messages[3].Content)
	assert.Equal(t, 1, a.Binder().Binds())
}

// 场景 3：工具发现失败，本轮无工具完成
func TestRun_RegistryUnavailable(t *testing.T) {
	m := newScriptedModel(func(_ int, _ []*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage("no tools, but here is an answer", nil), nil
	})
	src := &staticSource{err: registry.ErrRegistryUnavailable}
	a := newTestAgent(t, Config{Model: m, Tools: src})

	state, err := a.Run(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, state.Messages, 2)
	assert.Equal(t, "no tools, but here is an answer", state.Messages[1].Content)
	assert.Nil(t, state.Tools)
	assert.Equal(t, 0, m.WithToolsCalls())
	assert.Equal(t, 1, a.Binder().Binds())
}

// 场景 4：一个工具失败，同批其它工具正常返回
func TestRun_ToolFailureIsCaptured(t *testing.T) {
	ok := newFuncTool("ok", func(context.Context, string) (string, error) { return "fine", nil })
	bad := newFuncTool("bad", func(context.Context, string) (string, error) {
		return "", errors.New("backend exploded")
	})
	m := newScriptedModel(func(call int, _ []*schema.Message) (*schema.Message, error) {
		if call == 0 {
			return schema.AssistantMessage("", []schema.ToolCall{
				toolCall("c1", "bad", "{}"),
				toolCall("c2", "ok", "{}"),
			}), nil
		}
		return schema.AssistantMessage("done", nil), nil
	})
	a := newTestAgent(t, Config{Model: m, Tools: &staticSource{set: toolSet(1, ok, bad)}})

	state, err := a.Run(context.Background(), "do both")
	require.NoError(t, err)
	require.Len(t, state.Messages, 5)

	failed, succeeded := state.Messages[2], state.Messages[3]
	assert.Equal(t, "c1", failed.ToolCallID)
	assert.Contains(t, failed.Content, `"error"`)
	assert.Contains(t, failed.Content, "backend exploded")
	assert.Equal(t, "c2", succeeded.ToolCallID)
	assert.Equal(t, "fine", succeeded.Content)
	assert.Equal(t, "done", state.Messages[4].Content)
	assert.Equal(t, int32(1), ok.calls.Load())
}

func TestRun_UnknownToolGetsErrorPayload(t *testing.T) {
	m := newScriptedModel(func(call int, _ []*schema.Message) (*schema.Message, error) {
		if call == 0 {
			return schema.AssistantMessage("", []schema.ToolCall{toolCall("c1", "ghost", "{}")}), nil
		}
		return schema.AssistantMessage("sorry", nil), nil
	})
	a := newTestAgent(t, Config{Model: m})

	state, err := a.Run(context.Background(), "call ghost")
	require.NoError(t, err)
	require.Len(t, state.Messages, 4)
	assert.Equal(t, "c1", state.Messages[2].ToolCallID)
	assert.Contains(t, state.Messages[2].Content, `tool \"ghost\" not found`)
}

func TestDispatch_ResultsFollowRequestOrder(t *testing.T) {
	slow := newFuncTool("slow", func(context.Context, string) (string, error) {
		time.Sleep(50 * time.Millisecond)
		return "slow result", nil
	})
	fast := newFuncTool("fast", func(context.Context, string) (string, error) { return "fast result", nil })

	d, err := newDispatcher(context.Background(), []tool.BaseTool{slow, fast}, dispatchOptions{logger: logging.Discard()})
	require.NoError(t, err)

	out, err := d.Dispatch(context.Background(), []schema.ToolCall{
		toolCall("a", "slow", "{}"),
		toolCall("b", "fast", "{}"),
		toolCall("c", "slow", ""),
	})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{out[0].ToolCallID, out[1].ToolCallID, out[2].ToolCallID})
	assert.Equal(t, "slow result", out[0].Content)
	assert.Equal(t, "fast result", out[1].Content)
}

func TestCorrelate_ByCallID(t *testing.T) {
	d := &Dispatcher{names: map[string]bool{"x": true, "y": true}, logger: logging.Discard()}
	calls := []schema.ToolCall{toolCall("1", "x", "{}"), toolCall("2", "y", "{}"), toolCall("3", "x", "{}")}
	outputs := []*schema.Message{
		schema.ToolMessage("r2", "2"),
		schema.ToolMessage("r1", "1"),
	}

	got := d.correlate(calls, outputs, "")
	require.Len(t, got, 3)
	assert.Equal(t, "r1", got[0].Content)
	assert.Equal(t, "x", got[0].ToolName)
	assert.Equal(t, "r2", got[1].Content)
	assert.Equal(t, "3", got[2].ToolCallID)
	assert.Contains(t, got[2].Content, "no result")
}

func TestRun_MaxSteps(t *testing.T) {
	loop := newFuncTool("loop", func(context.Context, string) (string, error) { return "again", nil })
	m := newScriptedModel(func(call int, _ []*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage("", []schema.ToolCall{toolCall("", "loop", "{}")}), nil
	})
	a := newTestAgent(t, Config{Model: m, Tools: &staticSource{set: toolSet(1, loop)}, MaxSteps: 3})

	state, err := a.Run(context.Background(), "spin")
	require.NoError(t, err)
	assert.Equal(t, 3, m.Calls())
	assert.Equal(t, int32(3), loop.calls.Load())

	last := state.Messages[len(state.Messages)-1]
	assert.Equal(t, schema.Assistant, last.Role)
	assert.Equal(t, "Agent stopped: max iterations exceeded (3)", last.Content)

	// 模型没给 ID 时会补上，结果仍能对回
	first := state.Messages[1].ToolCalls[0].ID
	assert.True(t, strings.HasPrefix(first, "call_"))
	assert.Equal(t, first, state.Messages[2].ToolCallID)

	// 补出的 ID 跨轮次也不重复
	again, err := a.Run(context.Background(), "spin")
	require.NoError(t, err)
	assert.NotEqual(t, first, again.Messages[1].ToolCalls[0].ID)
	assert.NotEqual(t, first, state.Messages[3].ToolCalls[0].ID)
}

func TestRun_ModelError(t *testing.T) {
	m := newScriptedModel(func(int, []*schema.Message) (*schema.Message, error) {
		return nil, errors.New("rate limited")
	})
	a := newTestAgent(t, Config{Model: m})

	state, err := a.Run(context.Background(), "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelInvocation)
	assert.Contains(t, err.Error(), "rate limited")
	assert.Len(t, state.Messages, 1)
}

func TestRun_CancelledContext(t *testing.T) {
	m := replies(schema.AssistantMessage("never", nil))
	a := newTestAgent(t, Config{Model: m})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Run(ctx, "hi")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, m.Calls())
}

func TestRun_RebindsOnlyWhenGenerationChanges(t *testing.T) {
	echo := newFuncTool("echo", func(_ context.Context, args string) (string, error) { return args, nil })
	src := &staticSource{set: toolSet(7, echo)}
	m := newScriptedModel(func(int, []*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage("ok", nil), nil
	})
	a := newTestAgent(t, Config{Model: m, Tools: src})

	for i := 0; i < 3; i++ {
		_, err := a.Run(context.Background(), "ping")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, a.Binder().Binds())
	assert.Equal(t, int32(3), src.calls.Load())

	src.set = toolSet(8, echo)
	_, err := a.Run(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, 2, a.Binder().Binds())
}

func TestRun_SystemPrompt(t *testing.T) {
	m := replies(schema.AssistantMessage("ok", nil))
	a := newTestAgent(t, Config{Model: m, SystemPrompt: "You run on {os}."})

	_, err := a.Run(context.Background(), "hi")
	require.NoError(t, err)

	input := m.script.inputs[0]
	require.Len(t, input, 2)
	assert.Equal(t, schema.System, input[0].Role)
	assert.NotContains(t, input[0].Content, "{os}")
	assert.Equal(t, "hi", input[1].Content)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)

	a := newTestAgent(t, Config{Model: replies()})
	assert.Equal(t, DefaultMaxSteps, a.MaxSteps())
	assert.Equal(t, "mcpagent", a.Name())
}

func TestSanitizeToolCallArgs(t *testing.T) {
	orig := schema.AssistantMessage("", []schema.ToolCall{
		toolCall("1", "x", ""),
		toolCall("2", "x", `{"ok":1}`),
		toolCall("3", "x", `{broken`),
	})
	input := []*schema.Message{schema.UserMessage("u"), orig}

	out := sanitizeToolCallArgs(input)
	assert.NotSame(t, orig, out[1])
	assert.Equal(t, "{}", out[1].ToolCalls[0].Function.Arguments)
	assert.Equal(t, `{"ok":1}`, out[1].ToolCalls[1].Function.Arguments)
	assert.Equal(t, "{}", out[1].ToolCalls[2].Function.Arguments)

	// 原消息不变
	assert.Equal(t, "", orig.ToolCalls[0].Function.Arguments)
	assert.Equal(t, `{broken`, orig.ToolCalls[2].Function.Arguments)

	clean := []*schema.Message{schema.UserMessage("u")}
	assert.Same(t, clean[0], sanitizeToolCallArgs(clean)[0])
}

type memorySink struct {
	mu      sync.Mutex
	records map[uint64]*storage.AuditRecord
	nextID  uint64
}

func (s *memorySink) InsertAuditRecord(_ context.Context, rec *storage.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *memorySink) UpdateAuditRecord(_ context.Context, id uint64, up storage.AuditUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[id]
	if up.Status != nil {
		rec.Status = *up.Status
	}
	if up.ErrorMessage != nil {
		rec.ErrorMessage = *up.ErrorMessage
	}
	if up.ResultJSON != nil {
		rec.ResultJSON = *up.ResultJSON
	}
	return nil
}

func TestRun_AuditsToolCalls(t *testing.T) {
	ok := newFuncTool("ok", func(context.Context, string) (string, error) { return "fine", nil })
	bad := newFuncTool("bad", func(context.Context, string) (string, error) { return "", errors.New("nope") })
	m := newScriptedModel(func(call int, _ []*schema.Message) (*schema.Message, error) {
		if call == 0 {
			return schema.AssistantMessage("", []schema.ToolCall{toolCall("c1", "ok", `{"a":1}`), toolCall("c2", "bad", "{}")}), nil
		}
		return schema.AssistantMessage("done", nil), nil
	})
	sink := &memorySink{records: map[uint64]*storage.AuditRecord{}}
	a := newTestAgent(t, Config{Model: m, Tools: &staticSource{set: toolSet(1, ok, bad)}, Audit: sink})

	ctx := WithTraceID(context.Background(), "trace-42")
	_, err := a.Run(ctx, "go")
	require.NoError(t, err)

	require.Len(t, sink.records, 2)
	byAction := map[string]*storage.AuditRecord{}
	for _, r := range sink.records {
		byAction[r.Action] = r
	}
	assert.Equal(t, storage.StatusSuccess, byAction["ok"].Status)
	assert.Equal(t, "fine", byAction["ok"].ResultJSON)
	assert.Equal(t, `{"a":1}`, byAction["ok"].ParamsJSON)
	assert.Equal(t, "trace-42", byAction["ok"].TraceID)
	assert.Equal(t, storage.StatusFailed, byAction["bad"].Status)
	assert.Equal(t, "nope", byAction["bad"].ErrorMessage)
}

// TestRealAgentFlow 使用真实的 Ark 模型做集成测试，需要 ARK_API_KEY 和 ARK_MODEL_ID
func TestRealAgentFlow(t *testing.T) {
	apiKey := os.Getenv("ARK_API_KEY")
	modelID := os.Getenv("ARK_MODEL_ID")
	if apiKey == "" || modelID == "" {
		t.Skip("Skipping real agent test: ARK_API_KEY or ARK_MODEL_ID not set")
	}

	ctx := context.Background()
	cm, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{APIKey: apiKey, Model: modelID})
	require.NoError(t, err)

	add := newFuncTool("add", func(_ context.Context, args string) (string, error) {
		var in struct{ A, B float64 }
		if err := json.Unmarshal([]byte(args), &in); err != nil {
			return "", err
		}
		b, _ := json.Marshal(in.A + in.B)
		return string(b), nil
	})
	add.params = schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
		"a": {Type: schema.Number, Required: true},
		"b": {Type: schema.Number, Required: true},
	})
	a := newTestAgent(t, Config{Model: cm, Tools: &staticSource{set: toolSet(1, add)}})

	state, err := a.Run(ctx, "Use the add tool to compute 17 + 25 and tell me the result.")
	require.NoError(t, err)
	for i, msg := range state.Messages {
		t.Logf("[%d] Role=%s Content=%s ToolCalls=%v", i, msg.Role, msg.Content, msg.ToolCalls)
	}
	last := state.Messages[len(state.Messages)-1]
	assert.Equal(t, schema.Assistant, last.Role)
	assert.Contains(t, last.Content, "42")
}
