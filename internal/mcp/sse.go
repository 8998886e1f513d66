package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// SSETransport posts each request and reads the reply from the
// server-sent event stream returned for it.
type SSETransport struct {
	*HTTPTransport
}

func NewSSETransport(cfg *ServerConfig, client *http.Client) *SSETransport {
	return &SSETransport{HTTPTransport: NewHTTPTransport(cfg, client)}
}

func (t *SSETransport) Send(ctx context.Context, req *Request) (*Response, error) {
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
	return readSSEReply(req.ID, httpResp.Body)
}

type sseEvent struct {
	name string
	data string
}

// readSSEReply returns the reply to id from an event stream. The first
// message event (named "message" or unnamed) that carries the id, or any
// result or error at all, is taken as the reply even when its own id
// differs; an "error" event fails the request.
func readSSEReply(id string, r io.Reader) (*Response, error) {
	var found *Response
	var failed string

	err := scanEvents(r, func(ev sseEvent) bool {
		switch ev.name {
		case "error":
			failed = ev.data
			if failed == "" {
				failed = "error event"
			}
			return false
		case "", "message":
			var resp Response
			if err := json.Unmarshal([]byte(ev.data), &resp); err != nil {
				return true
			}
			matches := resp.JSONRPC != "" && resp.IDString() == id
			answer := resp.Result != nil || resp.Error != nil
			if matches || answer {
				resp.ID = json.RawMessage(strconv.Quote(id))
				found = &resp
				return false
			}
		}
		return true
	})
	if found != nil {
		return found, nil
	}
	if failed != "" {
		return errorResponse(id, CodeInternalError, failed), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	return errorResponse(id, CodeInternalError, "No response received from SSE stream"), nil
}

// scanEvents parses an event stream and calls fn for each dispatched event
// until fn returns false.
func scanEvents(r io.Reader, fn func(sseEvent) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	var ev sseEvent
	var data []string
	dispatch := func() bool {
		if len(data) == 0 {
			ev = sseEvent{}
			return true
		}
		ev.data = strings.Join(data, "\n")
		cont := fn(ev)
		ev, data = sseEvent{}, nil
		return cont
	}
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if !dispatch() {
				return nil
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			ev.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	dispatch()
	return nil
}
