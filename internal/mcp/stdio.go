package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// stopGrace is how long Disconnect waits after SIGTERM before killing.
const stopGrace = 5 * time.Second

// StdioTransport talks to a subprocess over newline-delimited JSON on its
// stdin and stdout.
type StdioTransport struct {
	cfg *ServerConfig
	log *zap.SugaredLogger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	pending map[string]chan *Response
	done    chan struct{}
	readers sync.WaitGroup
	wg      sync.WaitGroup
	writeMu sync.Mutex
}

func NewStdioTransport(cfg *ServerConfig, log *zap.SugaredLogger) *StdioTransport {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &StdioTransport{cfg: cfg, log: log.With("mcp_server", cfg.Name)}
}

func (t *StdioTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd != nil {
		return nil
	}

	cmd := exec.Command(t.cfg.Command, t.cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range t.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Dir = t.cfg.Cwd

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("mcp %s: stdin pipe: %w", t.cfg.Name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("mcp %s: stdout pipe: %w", t.cfg.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("mcp %s: stderr pipe: %w", t.cfg.Name, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("mcp %s: start %s: %w", t.cfg.Name, t.cfg.Command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.pending = make(map[string]chan *Response)
	t.done = make(chan struct{})

	t.readers.Add(2)
	go t.readLoop(stdout)
	go t.logStderr(stderr)
	t.wg.Add(1)
	go t.wait(cmd)

	t.log.Infow("mcp stdio server started", "command", t.cfg.Command, "pid", cmd.Process.Pid)
	return nil
}

func (t *StdioTransport) readLoop(r io.Reader) {
	defer t.readers.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			t.log.Debugw("ignoring non-JSON line from mcp server", "line", string(line))
			continue
		}
		id := resp.IDString()
		if id == "" {
			// Server notification.
			continue
		}
		t.mu.Lock()
		ch, ok := t.pending[id]
		delete(t.pending, id)
		t.mu.Unlock()
		if ok {
			ch <- &resp
		}
	}
}

func (t *StdioTransport) logStderr(r io.Reader) {
	defer t.readers.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		t.log.Debugw("mcp server stderr", "line", scanner.Text())
	}
}

// wait reaps the process once its output is drained and fails every
// in-flight request.
func (t *StdioTransport) wait(cmd *exec.Cmd) {
	defer t.wg.Done()
	t.readers.Wait()
	err := cmd.Wait()
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[string]chan *Response)
	close(t.done)
	t.mu.Unlock()
	for id, ch := range pending {
		ch <- errorResponse(id, CodeInternalError, "MCP server process exited")
	}
	if err != nil {
		t.log.Debugw("mcp stdio server exited", "error", err)
	}
}

func (t *StdioTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

func (t *StdioTransport) write(req *Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("mcp %s: marshal: %w", t.cfg.Name, err)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("mcp %s: write: %w", t.cfg.Name, err)
	}
	return nil
}

func (t *StdioTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	if !t.Connected() {
		return nil, ErrNotConnected
	}
	ch := make(chan *Response, 1)
	t.mu.Lock()
	if t.pending == nil {
		t.mu.Unlock()
		return nil, ErrNotConnected
	}
	t.pending[req.ID] = ch
	done := t.done
	t.mu.Unlock()

	if err := t.write(req); err != nil {
		t.forget(req.ID)
		return nil, err
	}

	timeout := t.cfg.RequestTimeoutDuration()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		t.forget(req.ID)
		return errorResponse(req.ID, CodeRequestTimeout, fmt.Sprintf("Request timed out after %gs", timeout.Seconds())), nil
	case <-ctx.Done():
		t.forget(req.ID)
		return nil, ctx.Err()
	case <-done:
		// wait() may have already answered the request.
		select {
		case resp := <-ch:
			return resp, nil
		default:
			return errorResponse(req.ID, CodeInternalError, "MCP server process exited"), nil
		}
	}
}

func (t *StdioTransport) forget(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

func (t *StdioTransport) Notify(_ context.Context, req *Request) error {
	if !t.Connected() {
		return ErrNotConnected
	}
	return t.write(req)
}

// Disconnect closes stdin, asks the process to terminate and kills it if
// it has not exited within the grace period.
func (t *StdioTransport) Disconnect() error {
	t.mu.Lock()
	cmd, stdin, done := t.cmd, t.stdin, t.done
	t.cmd = nil
	t.mu.Unlock()
	if cmd == nil {
		return nil
	}

	stdin.Close()
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(stopGrace):
		t.log.Warnw("mcp stdio server did not exit, killing", "pid", cmd.Process.Pid)
		_ = cmd.Process.Kill()
		<-done
	}
	t.wg.Wait()

	t.mu.Lock()
	t.pending = nil
	t.mu.Unlock()
	t.log.Infow("mcp stdio server stopped")
	return nil
}
