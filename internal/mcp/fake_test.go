package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// fakeServer answers requests in-process.
type fakeServer struct {
	mu        sync.Mutex
	caps      map[string]any
	tools     []Tool
	calls     []string
	ids       []string
	failSends int // number of Send calls to fail with an I/O error
	initErr   *RPCError
	callErr   *RPCError
	connected bool
	notified  []string
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		caps: map[string]any{"tools": map[string]any{}},
		tools: []Tool{{
			Name:        "search",
			Description: "Search docs",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "Query text"},
					"limit": map[string]any{"type": "integer", "default": 5},
				},
				"required": []any{"query"},
			},
		}},
	}
}

func (f *fakeServer) Connect(context.Context) error {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeServer) Disconnect() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeServer) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeServer) Notify(_ context.Context, req *Request) error {
	f.mu.Lock()
	f.notified = append(f.notified, req.Method)
	f.mu.Unlock()
	return nil
}

func (f *fakeServer) Send(_ context.Context, req *Request) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.Method)
	f.ids = append(f.ids, req.ID)
	if f.failSends > 0 {
		f.failSends--
		return nil, errors.New("connection reset")
	}

	reply := func(v any) (*Response, error) {
		data, _ := json.Marshal(v)
		id, _ := json.Marshal(req.ID)
		return &Response{JSONRPC: "2.0", ID: id, Result: data}, nil
	}
	fail := func(e *RPCError) (*Response, error) {
		return &Response{JSONRPC: "2.0", Error: e}, nil
	}

	switch req.Method {
	case "initialize":
		if f.initErr != nil {
			return fail(f.initErr)
		}
		return reply(map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities":    f.caps,
			"serverInfo":      map[string]string{"name": "fake", "version": "0.1"},
		})
	case "tools/list":
		return reply(map[string]any{"tools": f.tools})
	case "tools/call":
		if f.callErr != nil {
			return fail(f.callErr)
		}
		p := req.Params.(callToolParams)
		q, _ := p.Arguments["query"].(string)
		return reply(CallToolResult{Content: []Content{
			{Type: "text", Text: "result for " + q},
			{Type: "image", Data: "xx"},
			{Type: "text", Text: "page 2"},
		}})
	case "resources/list":
		return reply(map[string]any{"resources": []Resource{{URI: "file:///a", Name: "a"}}})
	case "resources/read":
		return reply(map[string]any{"contents": []ResourceContents{{URI: "file:///a", Text: "hello"}}})
	case "ping":
		return reply(map[string]any{})
	}
	return fail(&RPCError{Code: CodeMethodNotFound, Message: "method not found"})
}

func (f *fakeServer) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func fastConfig(name string) *ServerConfig {
	zero := 0
	return &ServerConfig{Name: name, Transport: TransportHTTP, URL: "http://unused", MaxRetries: &zero, RetryDelay: 0.001}
}

func newTestClient(srv *fakeServer, cfg *ServerConfig) *Client {
	c, err := NewClient(cfg, WithTransport(srv))
	if err != nil {
		panic(err)
	}
	return c
}
