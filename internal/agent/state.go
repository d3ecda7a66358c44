package agent

import (
	"github.com/cloudwego/eino/schema"

	"github.com/wwwzy/mcpagent/internal/registry"
)

// AgentState 是一次 Run/Invoke 中在各步骤间流转的状态
type AgentState struct {
	// 对话消息 (User / Assistant / Tool)，只追加
	Messages []*schema.Message `json:"messages"`

	// 最近一次拉取到的完整工具快照，nil 表示从未拉取成功
	Tools *registry.ToolSet `json:"-"`
}

// StateUpdate 是某一步骤产生的增量，零值表示不修改状态
type StateUpdate struct {
	Messages []*schema.Message
	Tools    *registry.ToolSet
}

// Reducers 是按字段注册的合并函数。
//
// 执行器在每个步骤完成后调用 Apply，把步骤的 StateUpdate 折叠进当前状态。
// 当前拓扑每次合并只有一个前驱，不存在并发写；若以后引入扇入，
// 同一字段的多个增量必须按前驱的固定顺序依次折叠，Messages 的结果才是确定的。
type Reducers struct {
	Messages func(existing, incoming []*schema.Message) []*schema.Message
	Tools    func(existing, incoming *registry.ToolSet) *registry.ToolSet
}

func DefaultReducers() Reducers {
	return Reducers{
		Messages: ReduceMessages,
		Tools:    ReduceTools,
	}
}

func (r Reducers) Apply(state AgentState, up StateUpdate) AgentState {
	return AgentState{
		Messages: r.Messages(state.Messages, up.Messages),
		Tools:    r.Tools(state.Tools, up.Tools),
	}
}

// ReduceMessages 返回 existing ++ incoming 的新切片，不修改也不别名任何入参
func ReduceMessages(existing, incoming []*schema.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(existing)+len(incoming))
	out = append(out, existing...)
	return append(out, incoming...)
}

// ReduceTools 整体替换：incoming 非 nil 时取 incoming，否则保留 existing
func ReduceTools(existing, incoming *registry.ToolSet) *registry.ToolSet {
	if incoming != nil {
		return incoming
	}
	return existing
}
