package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	defaultTimeout = 60 * time.Second
	maxTimeout     = 300 * time.Second
	maxOutputSize  = 10 * 1024 // 10KB
)

// DefaultAllowedCommands is the base-command allowlist for run_command.
var DefaultAllowedCommands = []string{
	"pytest", "python", "python3", "pip", "ruff", "black", "mypy", "pylint", "flake8",
	"npm", "npx", "node", "yarn", "pnpm", "bun", "bunx", "eslint", "prettier", "tsc", "jest", "vitest",
	"php", "composer", "artisan", "phpunit", "pest", "phpstan",
	"make", "cargo", "go", "gradle", "mvn",
	"git",
	"docker", "podman", "kubectl", "helm",
	"cat", "head", "tail", "grep", "find", "ls", "echo", "pwd", "wc",
	"sort", "uniq", "diff", "tree", "which", "env", "sleep", "true", "false",
}

// blockedPatterns are shell fragments that are never executed.
var blockedPatterns = []string{
	"rm -rf /",
	"rm -rf ~",
	"rm -rf *",
	"sudo ",
	"su ",
	"> /dev/",
	"| /dev/",
	"mkfs",
	"dd if=",
	"chmod 777",
	"chmod -r 777",
	":(){",
	"curl | sh", "wget | sh", "curl | bash", "wget | bash",
	"eval ",
	">/etc/", ">> /etc/",
	"shutdown", "reboot", "halt", "poweroff",
}

// ExecTool runs allowlisted shell commands inside the workspace.
type ExecTool struct {
	WorkDir string
	Timeout time.Duration
	Allowed []string // base commands; nil means DefaultAllowedCommands
}

func (t *ExecTool) Name() string { return "run_command" }
func (t *ExecTool) Description() string {
	return "Run a shell command in the workspace (tests, linters, builds). Only allowlisted commands run."
}
func (t *ExecTool) Params() []Param {
	return []Param{
		{Name: "command", Type: "string", Description: "Command to run, e.g. 'go test ./...'", Required: true},
		{Name: "cwd", Type: "string", Description: "Working directory relative to the workspace"},
		{Name: "timeout", Type: "integer", Description: "Timeout in seconds (default 60, max 300)"},
	}
}

// CheckCommand reports why command may not run, or nil if it may.
func (t *ExecTool) CheckCommand(command string) error {
	lower := strings.ToLower(strings.TrimSpace(command))
	if lower == "" {
		return errors.New("empty command")
	}
	for _, pat := range blockedPatterns {
		if strings.Contains(lower, pat) {
			return fmt.Errorf("blocked pattern detected: %q", strings.TrimSpace(pat))
		}
	}
	fields := strings.Fields(command)
	base := filepath.Base(fields[0])
	allowed := t.Allowed
	if allowed == nil {
		allowed = DefaultAllowedCommands
	}
	for _, a := range allowed {
		if a == base {
			return nil
		}
	}
	sorted := append([]string(nil), allowed...)
	sort.Strings(sorted)
	return fmt.Errorf("command %q is not in the allowed list. Allowed: %s", base, strings.Join(sorted, ", "))
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	command := getString(args, "command")
	if err := t.CheckCommand(command); err != nil {
		return Errorf("run_command: %v", err), nil
	}

	timeout := t.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	if secs := getInt(args, "timeout", 0); secs != 0 {
		timeout = clampTimeout(time.Duration(secs) * time.Second)
	}

	dir := t.WorkDir
	if cwd := getString(args, "cwd"); cwd != "" {
		resolved, err := checkPath(cwd, t.WorkDir)
		if err != nil {
			return Errorf("run_command: %v", err), nil
		}
		dir = resolved
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.WaitDelay = 2 * time.Second
	if dir != "" {
		os.MkdirAll(dir, 0o755)
		cmd.Dir = dir
	}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()

	output := buf.String()
	if len(output) > maxOutputSize {
		output = output[:maxOutputSize] + "\n... [truncated]"
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Errorf("Command timed out after %ds", int(timeout.Seconds())), nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Partial(fmt.Sprintf("%s\n[exit code %d]", output, exitErr.ExitCode()),
				fmt.Sprintf("exit code %d", exitErr.ExitCode())).
				WithMeta("exit_code", exitErr.ExitCode()), nil
		}
		return nil, fmt.Errorf("run_command: %w", err)
	}

	return Success(output).WithMeta("exit_code", 0), nil
}

func clampTimeout(d time.Duration) time.Duration {
	if d < time.Second {
		return time.Second
	}
	if d > maxTimeout {
		return maxTimeout
	}
	return d
}
