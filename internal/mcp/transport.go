package mcp

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Transport carries JSON-RPC messages to one MCP server.
//
// Send returns a Go error only for I/O failures, which callers may retry.
// Protocol-level failures, including timeouts, come back as a Response
// with Error set.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Send(ctx context.Context, req *Request) (*Response, error)
	Notify(ctx context.Context, req *Request) error
	Connected() bool
}

// NewTransport builds the transport selected by cfg.
func NewTransport(cfg *ServerConfig, log *zap.SugaredLogger) (Transport, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	switch cfg.TransportKind() {
	case TransportStdio:
		return NewStdioTransport(cfg, log), nil
	case TransportHTTP:
		return NewHTTPTransport(cfg, nil), nil
	case TransportSSE:
		return NewSSETransport(cfg, nil), nil
	default:
		return nil, fmt.Errorf("mcp: unknown transport %q for server %s", cfg.Transport, cfg.Name)
	}
}

// sendWithRetry makes up to retries+1 attempts, waiting delay*(attempt+1)
// between failed attempts. Error responses are returned without retrying.
func sendWithRetry(ctx context.Context, t Transport, req *Request, retries int, delay time.Duration, log *zap.SugaredLogger) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		resp, err := t.Send(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if attempt == retries {
			break
		}
		wait := delay * time.Duration(attempt+1)
		log.Debugw("mcp request failed, retrying", "method", req.Method, "attempt", attempt+1, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("%s failed after %d attempts: %w", req.Method, retries+1, lastErr)
}
