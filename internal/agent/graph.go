package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/wwwzy/mcpagent/internal/logging"
	"github.com/wwwzy/mcpagent/internal/registry"
)

const DefaultMaxSteps = 20

// Step 是执行状态机的状态
type Step int

const (
	StepFetchTools Step = iota
	StepCallModel
	StepExecuteTools
	StepDone
)

func (s Step) String() string {
	switch s {
	case StepFetchTools:
		return "fetch_tools"
	case StepCallModel:
		return "call_model"
	case StepExecuteTools:
		return "execute_tools"
	case StepDone:
		return "done"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// next 是唯一的状态转移函数。CallModel 是唯一的分支点：
// 最后一条助手消息带 tool call 时进入 ExecuteTools，否则结束
func next(step Step, state AgentState) Step {
	switch step {
	case StepFetchTools:
		return StepCallModel
	case StepCallModel:
		if hasToolCalls(lastMessage(state.Messages)) {
			return StepExecuteTools
		}
		return StepDone
	case StepExecuteTools:
		return StepCallModel
	case StepDone:
		return StepDone
	default:
		panic(fmt.Sprintf("agent: unknown step %d", int(step)))
	}
}

// ToolSource 提供当前工具快照，*registry.Registry 实现了它
type ToolSource interface {
	FetchTools(ctx context.Context) (*registry.ToolSet, error)
}

type Config struct {
	// Name 为展示用的 Agent 名字
	Name string
	// ModelName 为展示用的模型标识（provider:model）
	ModelName string
	Model     model.ToolCallingChatModel
	// Tools 为 nil 时不做工具发现
	Tools ToolSource

	// MaxSteps 限制单次运行中模型调用的次数，<=0 使用 DefaultMaxSteps
	MaxSteps int
	// SystemPrompt 非空时作为系统消息放在历史之前
	SystemPrompt string
	// SequentialTools 为 true 时同一批 tool call 串行执行
	SequentialTools bool

	Audit  AuditSink
	Logger *slog.Logger
}

// Agent 以 FetchTools → CallModel → (ExecuteTools → CallModel)* → Done 的循环处理一轮对话。
// 每次 Run/Invoke 使用全新的 AgentState，结束后返回给调用方，不在 Agent 中保留
type Agent struct {
	name      string
	modelName string
	tools     ToolSource
	maxSteps  int
	template  prompt.ChatTemplate
	reducers  Reducers
	binder    *Binder
	logger    *slog.Logger
}

func New(ctx context.Context, cfg Config) (*Agent, error) {
	if cfg.Model == nil {
		return nil, errors.New("agent: chat model is required")
	}
	logger := logging.OrDefault(cfg.Logger)

	a := &Agent{
		name:      cfg.Name,
		modelName: cfg.ModelName,
		tools:     cfg.Tools,
		maxSteps:  cfg.MaxSteps,
		template:  newChatTemplate(cfg.SystemPrompt),
		reducers:  DefaultReducers(),
		logger:    logger,
		binder: newBinder(cfg.Model, dispatchOptions{
			sequential: cfg.SequentialTools,
			audit:      cfg.Audit,
			logger:     logger,
		}),
	}
	if a.name == "" {
		a.name = "mcpagent"
	}
	if a.maxSteps <= 0 {
		a.maxSteps = DefaultMaxSteps
	}
	// 提前渲染一次，模板变量写错在构造时就报出来
	if _, err := renderPrompt(ctx, a.template, nil); err != nil {
		return nil, fmt.Errorf("agent: invalid system prompt: %w", err)
	}
	return a, nil
}

func (a *Agent) Name() string      { return a.name }
func (a *Agent) ModelName() string { return a.modelName }
func (a *Agent) MaxSteps() int     { return a.maxSteps }
func (a *Agent) Binder() *Binder   { return a.binder }

// Run 以单条用户消息开始一次运行
func (a *Agent) Run(ctx context.Context, question string) (AgentState, error) {
	return a.Invoke(ctx, []*schema.Message{schema.UserMessage(question)})
}

// Invoke 以 seed 作为初始消息序列运行状态机直到 Done。
// 返回的 error 只来自模型调用失败或 ctx 取消；此时 AgentState 为出错前的状态
func (a *Agent) Invoke(ctx context.Context, seed []*schema.Message) (AgentState, error) {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, uuid.NewString())
	}
	exec := &execution{agent: a, logger: a.logger.With(slog.String("trace_id", GetTraceID(ctx)))}

	state := a.reducers.Apply(AgentState{}, StateUpdate{Messages: seed})
	step := StepFetchTools
	for step != StepDone {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		up, err := exec.do(ctx, step, state)
		if err != nil {
			exec.logger.Warn("agent step failed", slog.String("step", step.String()), slog.Any("error", err))
			return state, err
		}
		state = a.reducers.Apply(state, up)

		if exec.stopped {
			break
		}
		step = next(step, state)
	}
	return state, nil
}

// execution 保存单次运行内部的临时数据（分发器、调用计数），不属于对话状态
type execution struct {
	agent      *Agent
	logger     *slog.Logger
	dispatcher *Dispatcher
	modelCalls int
	stopped    bool
}

func (e *execution) do(ctx context.Context, step Step, state AgentState) (StateUpdate, error) {
	e.logger.Debug("agent step", slog.String("step", step.String()), slog.Int("messages", len(state.Messages)))
	switch step {
	case StepFetchTools:
		return e.fetchTools(ctx)
	case StepCallModel:
		if e.modelCalls >= e.agent.maxSteps {
			e.stopped = true
			e.logger.Warn("agent stopped", slog.Int("max_steps", e.agent.maxSteps))
			return StateUpdate{Messages: []*schema.Message{
				schema.AssistantMessage(fmt.Sprintf("Agent stopped: %v (%d)", ErrMaxIterationsExceeded, e.agent.maxSteps), nil),
			}}, nil
		}
		e.modelCalls++
		return e.callModel(ctx, state)
	case StepExecuteTools:
		return e.executeTools(ctx, state)
	default:
		return StateUpdate{}, fmt.Errorf("agent: no handler for step %s", step)
	}
}

func lastMessage(msgs []*schema.Message) *schema.Message {
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func hasToolCalls(m *schema.Message) bool {
	return m != nil && m.Role == schema.Assistant && len(m.ToolCalls) > 0
}
