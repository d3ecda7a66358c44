package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"

	"github.com/wwwzy/mcpagent/internal/logging"
	"github.com/wwwzy/mcpagent/internal/registry"
)

// Binder 记录当前绑定到模型的工具集，只在 generation 变化时重新绑定。
//
// 第一次调用总会绑定（即使工具集为空），之后下游使用的模型句柄都来自 Binder。
// 空工具集不调用 WithTools，直接把原始模型作为绑定结果，但仍计入 Binds。
type Binder struct {
	base model.ToolCallingChatModel
	opts dispatchOptions

	mu         sync.Mutex
	bound      model.ToolCallingChatModel
	dispatcher *Dispatcher
	generation uint64
	hasBinding bool
	binds      int
}

func newBinder(base model.ToolCallingChatModel, opts dispatchOptions) *Binder {
	opts.logger = logging.OrDefault(opts.logger)
	return &Binder{base: base, opts: opts}
}

// Ensure 返回与 set 对应的模型句柄和工具分发器；set 为 nil 时视为 generation 0 的空工具集
func (b *Binder) Ensure(ctx context.Context, set *registry.ToolSet) (model.ToolCallingChatModel, *Dispatcher, error) {
	var gen uint64
	if set != nil {
		gen = set.Generation
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.hasBinding && b.generation == gen {
		return b.bound, b.dispatcher, nil
	}

	bound := b.base
	if set.Len() > 0 {
		infos, err := set.Infos(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrModelInvocation, err)
		}
		bound, err = b.base.WithTools(infos)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: bind tools: %w", ErrModelInvocation, err)
		}
	}

	dispatcher, err := newDispatcher(ctx, toolsOf(set), b.opts)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrModelInvocation, err)
	}

	b.bound = bound
	b.dispatcher = dispatcher
	b.generation = gen
	b.hasBinding = true
	b.binds++
	b.opts.logger.Debug("tools bound",
		slog.Uint64("generation", gen),
		slog.Int("tools", set.Len()),
		slog.Int("binds", b.binds))
	return bound, dispatcher, nil
}

// Binds 返回累计绑定次数
func (b *Binder) Binds() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.binds
}

// Generation 返回当前绑定的工具集 generation，未绑定时 ok 为 false
func (b *Binder) Generation() (gen uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation, b.hasBinding
}

func toolsOf(set *registry.ToolSet) []tool.BaseTool {
	if set == nil {
		return nil
	}
	return set.Tools
}
