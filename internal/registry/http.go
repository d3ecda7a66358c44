package registry

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

const (
	headerSessionID = "Mcp-Session-Id"
	acceptValue     = "application/json, text/event-stream"
	contentTypeJSON = "application/json"
	contentTypeSSE  = "text/event-stream"

	// 单行 SSE 最大 1MB
	maxSSELineSize = 1 << 20
	maxErrorBody   = 512
)

// HTTPTransport 实现 MCP Streamable HTTP：每个 JSON-RPC 消息一次 POST，
// 响应可能是 application/json，也可能是 text/event-stream
type HTTPTransport struct {
	url        string
	httpClient *http.Client

	mu        sync.RWMutex
	sessionID string
}

func NewHTTPTransport(url string, httpClient *http.Client) *HTTPTransport {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPTransport{
		url:        strings.TrimRight(url, "/"),
		httpClient: httpClient,
	}
}

func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	req.JSONRPC = jsonRPCVersion
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpResp, err := t.post(ctx, body, acceptValue)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if err := checkStatus(httpResp); err != nil {
		return nil, fmt.Errorf("%s: %w", req.Method, err)
	}

	ct := httpResp.Header.Get("Content-Type")
	if strings.HasPrefix(ct, contentTypeSSE) {
		return readSSEResponse(httpResp.Body, req.ID)
	}

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", req.Method, err)
	}
	return &resp, nil
}

func (t *HTTPTransport) Notify(ctx context.Context, n *Notification) error {
	n.JSONRPC = jsonRPCVersion
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	httpResp, err := t.post(ctx, body, acceptValue)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()
	_, _ = io.Copy(io.Discard, httpResp.Body)

	return checkStatus(httpResp)
}

// Close 若服务端分配过会话，发送 DELETE 结束会话
func (t *HTTPTransport) Close() error {
	t.mu.RLock()
	sid := t.sessionID
	t.mu.RUnlock()
	if sid == "" {
		return nil
	}

	req, err := http.NewRequest(http.MethodDelete, t.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set(headerSessionID, sid)
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func (t *HTTPTransport) post(ctx context.Context, body []byte, accept string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentTypeJSON)
	httpReq.Header.Set("Accept", accept)

	t.mu.RLock()
	if t.sessionID != "" {
		httpReq.Header.Set(headerSessionID, t.sessionID)
	}
	t.mu.RUnlock()

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http post: %w", err)
	}

	if sid := httpResp.Header.Get(headerSessionID); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}
	return httpResp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
}

// readSSEResponse 读取 SSE 事件流，返回第一个 ID 匹配的响应；
// 其它事件（服务端通知、进度）直接忽略
func readSSEResponse(body io.Reader, reqID int64) (*Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineSize)

	var dataLines []string
	flush := func() (*Response, bool) {
		if len(dataLines) == 0 {
			return nil, false
		}
		data := strings.Join(dataLines, "\n")
		dataLines = dataLines[:0]

		var resp Response
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			return nil, false
		}
		if resp.ID != reqID || (resp.Result == nil && resp.Error == nil) {
			return nil, false
		}
		return &resp, true
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if resp, ok := flush(); ok {
				return resp, nil
			}
		case strings.HasPrefix(line, ":"):
			// 注释行
		case strings.HasPrefix(line, "data:"):
			value := strings.TrimPrefix(line, "data:")
			value = strings.TrimPrefix(value, " ")
			dataLines = append(dataLines, value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read sse stream: %w", err)
	}
	if resp, ok := flush(); ok {
		return resp, nil
	}
	return nil, fmt.Errorf("sse stream ended without response for id %d", reqID)
}
