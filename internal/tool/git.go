package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const gitTimeout = 30 * time.Second

// Git runs git commands in one repository directory.
type Git struct {
	Dir     string
	Timeout time.Duration
}

// Run executes git with args and returns stdout and stderr separately.
func (g *Git) Run(ctx context.Context, args ...string) (string, string, error) {
	timeout := g.Timeout
	if timeout == 0 {
		timeout = gitTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return stdout.String(), stderr.String(), fmt.Errorf("git %s: timed out", args[0])
		}
		if errors.Is(err, exec.ErrNotFound) {
			return "", "", errors.New("git not found. Is git installed?")
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return stdout.String(), stderr.String(), fmt.Errorf("git %s: %s", args[0], msg)
	}
	return stdout.String(), stderr.String(), nil
}

// GitTools returns every git tool bound to g.
func GitTools(g *Git) []Tool {
	return []Tool{
		&GitStatusTool{g},
		&GitDiffTool{g},
		&GitBranchTool{g},
		&GitCommitTool{g},
		&GitLogTool{g},
		&GitResetTool{g},
		&GitCheckoutFileTool{g},
		&GitCurrentBranchTool{g},
	}
}

func gitFailure(err error) *Result {
	return Errorf("%v", err)
}

// validRef rejects names git would parse as options.
func validRef(name string) error {
	if name == "" {
		return errors.New("name is required")
	}
	if strings.HasPrefix(name, "-") || strings.ContainsAny(name, " \t\n~^:?*[\\") {
		return fmt.Errorf("invalid ref name %q", name)
	}
	return nil
}

// --- git_status ---

type GitStatusTool struct{ git *Git }

func (t *GitStatusTool) Name() string { return "git_status" }
func (t *GitStatusTool) Description() string {
	return "Show the working tree status (modified, new and deleted files)"
}
func (t *GitStatusTool) Params() []Param {
	return []Param{{Name: "short", Type: "boolean", Description: "Short format with status codes only"}}
}

func (t *GitStatusTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	gitArgs := []string{"status"}
	if getBool(args, "short") {
		gitArgs = append(gitArgs, "--short")
	}
	out, _, err := t.git.Run(ctx, gitArgs...)
	if err != nil {
		return gitFailure(err), nil
	}
	return Success(out), nil
}

// --- git_diff ---

type GitDiffTool struct{ git *Git }

func (t *GitDiffTool) Name() string        { return "git_diff" }
func (t *GitDiffTool) Description() string { return "Show unstaged (or staged) changes" }
func (t *GitDiffTool) Params() []Param {
	return []Param{
		{Name: "file_path", Type: "string", Description: "Limit the diff to one file"},
		{Name: "staged", Type: "boolean", Description: "Show staged changes instead"},
	}
}

func (t *GitDiffTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	gitArgs := []string{"diff"}
	if getBool(args, "staged") {
		gitArgs = append(gitArgs, "--cached")
	}
	if p := getString(args, "file_path"); p != "" {
		gitArgs = append(gitArgs, "--", p)
	}
	out, _, err := t.git.Run(ctx, gitArgs...)
	if err != nil {
		return gitFailure(err), nil
	}
	if strings.TrimSpace(out) == "" {
		return Success("No changes."), nil
	}
	if len(out) > maxOutputSize {
		out = out[:maxOutputSize] + "\n... [truncated]"
	}
	return Success(out), nil
}

// --- git_branch ---

type GitBranchTool struct{ git *Git }

func (t *GitBranchTool) Name() string { return "git_branch" }
func (t *GitBranchTool) Description() string {
	return "Create, switch, list or delete branches"
}
func (t *GitBranchTool) Params() []Param {
	return []Param{
		{Name: "action", Type: "string", Description: "create, switch, list or delete", Required: true},
		{Name: "branch_name", Type: "string", Description: "Branch to act on (not needed for list)"},
		{Name: "base_branch", Type: "string", Description: "Start point for create"},
		{Name: "force", Type: "boolean", Description: "Force delete an unmerged branch"},
	}
}

func (t *GitBranchTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	action := getString(args, "action")
	name := getString(args, "branch_name")

	if action == "list" {
		out, _, err := t.git.Run(ctx, "branch", "--list")
		if err != nil {
			return gitFailure(err), nil
		}
		return Success(out), nil
	}
	if err := validRef(name); err != nil {
		return Errorf("git_branch: %v", err), nil
	}

	var gitArgs []string
	switch action {
	case "create":
		gitArgs = []string{"checkout", "-b", name}
		if base := getString(args, "base_branch"); base != "" {
			if err := validRef(base); err != nil {
				return Errorf("git_branch: %v", err), nil
			}
			gitArgs = append(gitArgs, base)
		}
	case "switch":
		gitArgs = []string{"checkout", name}
	case "delete":
		flag := "-d"
		if getBool(args, "force") {
			flag = "-D"
		}
		gitArgs = []string{"branch", flag, name}
	default:
		return Errorf("git_branch: unknown action %q (want create, switch, list or delete)", action), nil
	}

	if _, _, err := t.git.Run(ctx, gitArgs...); err != nil {
		return gitFailure(err), nil
	}
	return Success(fmt.Sprintf("Branch %s: %s", action, name)).WithMeta("branch", name), nil
}

// --- git_commit ---

type GitCommitTool struct{ git *Git }

func (t *GitCommitTool) Name() string { return "git_commit" }
func (t *GitCommitTool) Description() string {
	return "Stage files (all changes if none given) and create a commit"
}
func (t *GitCommitTool) Params() []Param {
	return []Param{
		{Name: "message", Type: "string", Description: "Commit message", Required: true},
		{Name: "files", Type: "array", ItemsType: "string", Description: "Files to stage; empty stages everything"},
		{Name: "ticket_id", Type: "string", Description: "Ticket reference prepended to the message"},
	}
}

func (t *GitCommitTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	message := strings.TrimSpace(getString(args, "message"))
	if message == "" {
		return Errorf("git_commit: message is required"), nil
	}
	ticketID := getString(args, "ticket_id")
	if ticketID == "" {
		ticketID = CurrentTicketFromContext(ctx)
	}
	if ticketID != "" && !strings.HasPrefix(message, "["+ticketID+"]") {
		message = fmt.Sprintf("[%s] %s", ticketID, message)
	}

	addArgs := []string{"add", "-A"}
	if files := getStringSlice(args, "files"); len(files) > 0 {
		addArgs = append([]string{"add", "--"}, files...)
	}
	if _, _, err := t.git.Run(ctx, addArgs...); err != nil {
		return gitFailure(err), nil
	}
	if _, _, err := t.git.Run(ctx, "commit", "-m", message); err != nil {
		return gitFailure(err), nil
	}
	hash, _, err := t.git.Run(ctx, "rev-parse", "--short", "HEAD")
	if err != nil {
		return gitFailure(err), nil
	}
	hash = strings.TrimSpace(hash)
	return Success(fmt.Sprintf("Committed %s: %s", hash, message)).WithMeta("commit", hash), nil
}

// --- git_log ---

type GitLogTool struct{ git *Git }

func (t *GitLogTool) Name() string        { return "git_log" }
func (t *GitLogTool) Description() string { return "Show recent commits" }
func (t *GitLogTool) Params() []Param {
	return []Param{
		{Name: "count", Type: "integer", Description: "Number of commits (default 10)", Default: 10},
		{Name: "oneline", Type: "boolean", Description: "One line per commit", Default: true},
		{Name: "file_path", Type: "string", Description: "Only commits touching this file"},
	}
}

func (t *GitLogTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	count := getInt(args, "count", 10)
	if count < 1 || count > 100 {
		count = 10
	}
	gitArgs := []string{"log", fmt.Sprintf("-%d", count)}
	if getBool(args, "oneline") {
		gitArgs = append(gitArgs, "--oneline")
	}
	if p := getString(args, "file_path"); p != "" {
		gitArgs = append(gitArgs, "--", p)
	}
	out, _, err := t.git.Run(ctx, gitArgs...)
	if err != nil {
		return gitFailure(err), nil
	}
	return Success(out), nil
}

// --- git_reset ---

type GitResetTool struct{ git *Git }

func (t *GitResetTool) Name() string { return "git_reset" }
func (t *GitResetTool) Description() string {
	return "Reset the current branch to a target (soft, mixed or hard)"
}
func (t *GitResetTool) Params() []Param {
	return []Param{
		{Name: "mode", Type: "string", Description: "soft, mixed or hard (default mixed)", Default: "mixed"},
		{Name: "target", Type: "string", Description: "Commit to reset to (default HEAD)", Default: "HEAD"},
	}
}

func (t *GitResetTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	mode := getString(args, "mode")
	if mode == "" {
		mode = "mixed"
	}
	switch mode {
	case "soft", "mixed", "hard":
	default:
		return Errorf("git_reset: invalid mode %q", mode), nil
	}
	target := getString(args, "target")
	if target == "" {
		target = "HEAD"
	}
	if strings.HasPrefix(target, "-") {
		return Errorf("git_reset: invalid target %q", target), nil
	}
	if _, _, err := t.git.Run(ctx, "reset", "--"+mode, target); err != nil {
		return gitFailure(err), nil
	}
	return Success(fmt.Sprintf("Reset (%s) to %s", mode, target)), nil
}

// --- git_checkout_file ---

type GitCheckoutFileTool struct{ git *Git }

func (t *GitCheckoutFileTool) Name() string { return "git_checkout_file" }
func (t *GitCheckoutFileTool) Description() string {
	return "Restore a file from a ref, discarding local modifications"
}
func (t *GitCheckoutFileTool) Params() []Param {
	return []Param{
		{Name: "file_path", Type: "string", Description: "File to restore", Required: true},
		{Name: "ref", Type: "string", Description: "Ref to restore from (default HEAD)", Default: "HEAD"},
	}
}

func (t *GitCheckoutFileTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	path := getString(args, "file_path")
	if _, err := checkPath(path, t.git.Dir); err != nil {
		return Errorf("git_checkout_file: %v", err), nil
	}
	ref := getString(args, "ref")
	if ref == "" {
		ref = "HEAD"
	}
	if strings.HasPrefix(ref, "-") {
		return Errorf("git_checkout_file: invalid ref %q", ref), nil
	}
	if _, _, err := t.git.Run(ctx, "checkout", ref, "--", path); err != nil {
		return gitFailure(err), nil
	}
	return Success(fmt.Sprintf("Restored %s from %s", path, ref)), nil
}

// --- git_current_branch ---

type GitCurrentBranchTool struct{ git *Git }

func (t *GitCurrentBranchTool) Name() string        { return "git_current_branch" }
func (t *GitCurrentBranchTool) Description() string { return "Show the name of the checked-out branch" }
func (t *GitCurrentBranchTool) Params() []Param     { return nil }

func (t *GitCurrentBranchTool) Execute(ctx context.Context, _ map[string]any) (*Result, error) {
	out, _, err := t.git.Run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return gitFailure(err), nil
	}
	branch := strings.TrimSpace(out)
	return Success(branch).WithMeta("branch", branch), nil
}
