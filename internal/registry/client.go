package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
)

const clientName = "mcpagent"

// Client 与单个 MCP Server 通信：initialize 握手、tools/list、tools/call
type Client struct {
	transport Transport
	nextID    atomic.Int64

	serverInfo ServerInfo
}

func NewClient(transport Transport) *Client {
	return &Client{transport: transport}
}

// Connect 完成 initialize 握手并发送 notifications/initialized
func (c *Client) Connect(ctx context.Context, version string) error {
	params, err := json.Marshal(map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]string{
			"name":    clientName,
			"version": version,
		},
	})
	if err != nil {
		return err
	}

	var result initializeResult
	if err := c.call(ctx, "initialize", params, &result); err != nil {
		return err
	}
	c.serverInfo = result.ServerInfo

	if err := c.transport.Notify(ctx, &Notification{Method: "notifications/initialized"}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	return nil
}

// ListTools 拉取完整工具列表（跟随 nextCursor 分页）
func (c *Client) ListTools(ctx context.Context) ([]MCPTool, error) {
	var (
		all    []MCPTool
		cursor string
	)
	for {
		var params json.RawMessage
		if cursor != "" {
			params, _ = json.Marshal(map[string]string{"cursor": cursor})
		}

		var page listToolsResult
		if err := c.call(ctx, "tools/list", params, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Tools...)

		if page.NextCursor == "" || page.NextCursor == cursor {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

// CallTool 调用远端工具。协议层错误以 error 返回，
// 工具自身的失败体现在 CallResult.IsError
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (CallResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	params, err := json.Marshal(map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return CallResult{}, fmt.Errorf("marshal tool arguments: %w", err)
	}

	var result CallResult
	if err := c.call(ctx, "tools/call", params, &result); err != nil {
		return CallResult{}, err
	}
	return result, nil
}

func (c *Client) ServerInfo() ServerInfo {
	return c.serverInfo
}

func (c *Client) Close() error {
	return c.transport.Close()
}

func (c *Client) call(ctx context.Context, method string, params json.RawMessage, out any) error {
	resp, err := c.transport.Send(ctx, &Request{
		ID:     c.nextID.Add(1),
		Method: method,
		Params: params,
	})
	if err != nil {
		return fmt.Errorf("%s request: %w", method, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s: %w", method, resp.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("parse %s result: %w", method, err)
	}
	return nil
}
