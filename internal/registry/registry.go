package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/cloudwego/eino/components/tool"
	"golang.org/x/sync/errgroup"

	"github.com/wwwzy/mcpagent/internal/logging"
)

// ErrRegistryUnavailable 表示所有已配置的 Server 都无法响应
var ErrRegistryUnavailable = errors.New("tool registry unavailable")

const TransportStreamableHTTP = "streamable_http"

// ServerConfig 描述如何连接一个 MCP Server
type ServerConfig struct {
	URL       string `mapstructure:"url"`
	Transport string `mapstructure:"transport"`
}

type TransportFactory func(name string, cfg ServerConfig) (Transport, error)

type Option func(*Registry)

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

func WithHTTPClient(c *http.Client) Option {
	return func(r *Registry) { r.httpClient = c }
}

// WithTransportFactory 替换默认的 transport 构造逻辑（测试用）
func WithTransportFactory(f TransportFactory) Option {
	return func(r *Registry) { r.newTransport = f }
}

func WithClientVersion(v string) Option {
	return func(r *Registry) { r.version = v }
}

// Registry 聚合多个 MCP Server 的工具。
// 每次 FetchTools 都会重新向所有 Server 发起 tools/list，本层不缓存工具列表；
// 只保留已握手的连接，失败后下次调用时重连
type Registry struct {
	names   []string
	servers map[string]ServerConfig

	logger       *slog.Logger
	httpClient   *http.Client
	newTransport TransportFactory
	version      string

	mu      sync.Mutex
	clients map[string]*Client

	genMu      sync.Mutex
	generation uint64
	digest     string
}

func New(servers map[string]ServerConfig, opts ...Option) (*Registry, error) {
	r := &Registry{
		servers: make(map[string]ServerConfig, len(servers)),
		clients: make(map[string]*Client),
		version: "dev",
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrDefault(r.logger)
	if r.newTransport == nil {
		r.newTransport = r.defaultTransport
	}

	for name, cfg := range servers {
		if cfg.Transport == "" {
			cfg.Transport = TransportStreamableHTTP
		}
		if cfg.Transport != TransportStreamableHTTP {
			return nil, fmt.Errorf("mcp server %q: unsupported transport %q", name, cfg.Transport)
		}
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcp server %q: url is required", name)
		}
		r.servers[name] = cfg
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// uniqueName 返回在 seen 中未被占用的工具名：
// 先用原名，冲突时加 <server>__ 前缀，仍冲突则追加 _2、_3 ...
func uniqueName(seen map[string]bool, server, name string) string {
	if !seen[name] {
		return name
	}
	prefixed := sanitizeName(server) + "__" + name
	candidate := prefixed
	for n := 2; seen[candidate]; n++ {
		candidate = fmt.Sprintf("%s_%d", prefixed, n)
	}
	return candidate
}

// Servers 返回按名字排序的 Server 列表
func (r *Registry) Servers() []string {
	return append([]string(nil), r.names...)
}

type serverResult struct {
	tools []MCPTool
	err   error
}

// FetchTools 并发查询所有 Server 并按 Server 名字顺序合并。
// 只要有一个 Server 成功就返回（部分结果可接受）；全部失败时返回 ErrRegistryUnavailable
func (r *Registry) FetchTools(ctx context.Context) (*ToolSet, error) {
	results := make([]serverResult, len(r.names))

	var g errgroup.Group
	for i, name := range r.names {
		g.Go(func() error {
			tools, err := r.listServerTools(ctx, name)
			results[i] = serverResult{tools: tools, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var (
		tools  []tool.BaseTool
		seen   = map[string]bool{}
		failed int
		digest = sha256.New()
	)
	for i, name := range r.names {
		res := results[i]
		if res.err != nil {
			failed++
			r.logger.Warn("mcp server unavailable", slog.String("server", name), slog.Any("error", res.err))
			continue
		}
		for _, def := range res.tools {
			exposed := uniqueName(seen, name, def.Name)
			seen[exposed] = true
			tools = append(tools, newTool(name, exposed, def, r))

			fmt.Fprintf(digest, "%s\x00%s\x00%s\x00%s\x00", name, exposed, def.Description, def.InputSchema)
		}
	}

	if len(r.names) > 0 && failed == len(r.names) {
		return nil, fmt.Errorf("%w: all %d servers failed", ErrRegistryUnavailable, failed)
	}

	return &ToolSet{
		Generation: r.advance(hex.EncodeToString(digest.Sum(nil))),
		Tools:      tools,
	}, nil
}

// advance 仅在快照摘要变化时递增 generation
func (r *Registry) advance(digest string) uint64 {
	r.genMu.Lock()
	defer r.genMu.Unlock()
	if digest != r.digest || r.generation == 0 {
		r.generation++
		r.digest = digest
	}
	return r.generation
}

func (r *Registry) listServerTools(ctx context.Context, name string) ([]MCPTool, error) {
	c, err := r.client(ctx, name)
	if err != nil {
		return nil, err
	}
	tools, err := c.ListTools(ctx)
	if err != nil {
		r.drop(name, c)
		return nil, err
	}
	return tools, nil
}

func (r *Registry) callTool(ctx context.Context, server string, name string, args map[string]any) (CallResult, error) {
	c, err := r.client(ctx, server)
	if err != nil {
		return CallResult{}, err
	}
	res, err := c.CallTool(ctx, name, args)
	if err != nil {
		var rpcErr *RPCError
		if !errors.As(err, &rpcErr) {
			// 传输层错误：丢弃连接，下次重新握手
			r.drop(server, c)
		}
		return CallResult{}, err
	}
	return res, nil
}

// client 返回已握手的连接，不存在时新建
func (r *Registry) client(ctx context.Context, name string) (*Client, error) {
	r.mu.Lock()
	c, ok := r.clients[name]
	r.mu.Unlock()
	if ok {
		return c, nil
	}

	cfg, ok := r.servers[name]
	if !ok {
		return nil, fmt.Errorf("unknown mcp server %q", name)
	}
	tr, err := r.newTransport(name, cfg)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}
	c = NewClient(tr)
	if err := c.Connect(ctx, r.version); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("connect %s: %w", name, err)
	}
	r.logger.Debug("mcp server connected",
		slog.String("server", name),
		slog.String("server_name", c.ServerInfo().Name),
		slog.String("server_version", c.ServerInfo().Version))

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.clients[name]; ok {
		// 并发握手，保留先到的连接
		_ = c.Close()
		return existing, nil
	}
	r.clients[name] = c
	return c, nil
}

func (r *Registry) drop(name string, c *Client) {
	r.mu.Lock()
	if r.clients[name] == c {
		delete(r.clients, name)
	}
	r.mu.Unlock()
	_ = c.Close()
}

// Close 关闭所有连接
func (r *Registry) Close() error {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.mu.Unlock()

	var errs []error
	for _, c := range clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) defaultTransport(_ string, cfg ServerConfig) (Transport, error) {
	switch cfg.Transport {
	case TransportStreamableHTTP:
		return NewHTTPTransport(cfg.URL, r.httpClient), nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}
