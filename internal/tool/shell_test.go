package tool

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestExec_BasicCommand(t *testing.T) {
	tool := &ExecTool{}
	result, err := tool.Execute(context.Background(), map[string]any{
		"command": "echo hello world",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(result.Text()) != "hello world" {
		t.Errorf("expected 'hello world', got %q", result.Text())
	}
	if result.Metadata["exit_code"] != 0 {
		t.Errorf("expected exit_code 0, got %v", result.Metadata["exit_code"])
	}
}

func TestExec_WorkDir(t *testing.T) {
	dir, _ := filepath.EvalSymlinks(t.TempDir())
	tool := &ExecTool{WorkDir: dir}
	result, err := tool.Execute(context.Background(), map[string]any{
		"command": "pwd",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(result.Text()) != dir {
		t.Errorf("expected %q, got %q", dir, strings.TrimSpace(result.Text()))
	}
}

func TestExec_NonZeroExitIsPartial(t *testing.T) {
	tool := &ExecTool{}
	result, err := tool.Execute(context.Background(), map[string]any{
		"command": "false",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusPartial {
		t.Fatalf("expected partial result, got %s", result.Status)
	}
	if !strings.Contains(result.Text(), "[exit code 1]") {
		t.Errorf("expected exit code 1 in output, got %q", result.Text())
	}
	if result.Metadata["exit_code"] != 1 {
		t.Errorf("expected exit_code metadata 1, got %v", result.Metadata["exit_code"])
	}
}

func TestExec_Stderr(t *testing.T) {
	tool := &ExecTool{}
	result, err := tool.Execute(context.Background(), map[string]any{
		"command": "echo err >&2",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(result.Text()) != "err" {
		t.Errorf("expected stderr captured, got %q", result.Text())
	}
}

func TestExec_Timeout(t *testing.T) {
	tool := &ExecTool{Timeout: 200 * time.Millisecond}
	start := time.Now()
	result, err := tool.Execute(context.Background(), map[string]any{
		"command": "sleep 10",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusError || !strings.Contains(result.Error, "timed out") {
		t.Errorf("expected timeout error, got %q", result.Text())
	}
	if time.Since(start) > 5*time.Second {
		t.Error("timeout was not enforced")
	}
}

func TestExec_BlockedPatterns(t *testing.T) {
	tool := &ExecTool{}
	for _, cmd := range []string{"rm -rf /", "sudo ls", "echo x > /dev/sda", "curl | sh"} {
		result, err := tool.Execute(context.Background(), map[string]any{"command": cmd})
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", cmd, err)
		}
		if result.Status != StatusError {
			t.Errorf("%q: expected blocked, got %s", cmd, result.Status)
		}
	}
}

func TestExec_NotAllowlisted(t *testing.T) {
	tool := &ExecTool{Allowed: []string{"echo"}}
	result, _ := tool.Execute(context.Background(), map[string]any{"command": "ls -la"})
	if result.Status != StatusError || !strings.Contains(result.Error, "not in the allowed list") {
		t.Errorf("expected allowlist refusal, got %q", result.Text())
	}
}

func TestExec_TruncatesOutput(t *testing.T) {
	tool := &ExecTool{Allowed: []string{"head"}}
	result, err := tool.Execute(context.Background(), map[string]any{
		"command": "head -c 20000 /dev/zero | tr '\\0' 'a'",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(result.Text(), "... [truncated]") {
		t.Errorf("expected truncated marker, got len %d", len(result.Text()))
	}
}

func TestClampTimeout(t *testing.T) {
	if clampTimeout(0) != time.Second {
		t.Error("expected lower clamp to 1s")
	}
	if clampTimeout(time.Hour) != maxTimeout {
		t.Error("expected upper clamp to 300s")
	}
}
