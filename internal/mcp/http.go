package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
)

// HTTPTransport posts each request to the server URL. Responses may be
// plain JSON or a text/event-stream carrying the reply.
type HTTPTransport struct {
	cfg    *ServerConfig
	client *http.Client

	mu        sync.Mutex
	connected bool
}

// NewHTTPTransport returns a transport for cfg. A nil client gets one with
// the configured request timeout.
func NewHTTPTransport(cfg *ServerConfig, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeoutDuration()}
	}
	return &HTTPTransport{cfg: cfg, client: client}
}

func (t *HTTPTransport) Connect(context.Context) error {
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

func (t *HTTPTransport) Disconnect() error {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	t.client.CloseIdleConnections()
	return nil
}

func (t *HTTPTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	if !t.Connected() {
		return nil, ErrNotConnected
	}
	httpResp, err := t.post(ctx, req)
	if err != nil {
		if isTimeout(err) {
			return errorResponse(req.ID, CodeRequestTimeout,
				fmt.Sprintf("Request timed out after %gs", t.cfg.RequestTimeoutDuration().Seconds())), nil
		}
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("mcp %s: HTTP %d: %s", t.cfg.Name, httpResp.StatusCode, strings.TrimSpace(string(body)))
	}

	if strings.HasPrefix(httpResp.Header.Get("Content-Type"), "text/event-stream") {
		return parseEventStreamReply(req.ID, httpResp.Body)
	}

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("mcp %s: decode response: %w", t.cfg.Name, err)
	}
	return &resp, nil
}

func (t *HTTPTransport) Notify(ctx context.Context, req *Request) error {
	if !t.Connected() {
		return ErrNotConnected
	}
	resp, err := t.post(ctx, req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

func (t *HTTPTransport) post(ctx context.Context, req *Request) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("mcp %s: marshal: %w", t.cfg.Name, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("mcp %s: build request: %w", t.cfg.Name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	applyHeaders(httpReq, t.cfg)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("mcp %s: %w", t.cfg.Name, err)
	}
	return resp, nil
}

func applyHeaders(r *http.Request, cfg *ServerConfig) {
	if name, value, ok := cfg.AuthHeader(); ok {
		r.Header.Set(name, value)
	}
	for k, v := range cfg.Headers {
		r.Header.Set(k, v)
	}
}

// parseEventStreamReply scans data lines and returns the first one that is
// a JSON-RPC message.
func parseEventStreamReply(id string, r io.Reader) (*Response, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var head map[string]json.RawMessage
		if err := json.Unmarshal([]byte(data), &head); err != nil {
			continue
		}
		if _, ok := head["jsonrpc"]; !ok {
			continue
		}
		var resp Response
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			continue
		}
		return &resp, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	return errorResponse(id, CodeInvalidRequest, "No valid response in SSE stream"), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
