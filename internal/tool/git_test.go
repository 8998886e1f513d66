package tool

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// initRepo creates a repository with one commit and returns its Git runner.
func initRepo(t *testing.T) *Git {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	g := &Git{Dir: t.TempDir()}
	ctx := context.Background()
	for _, args := range [][]string{
		{"init", "-q"},
		{"config", "user.email", "dev@example.com"},
		{"config", "user.name", "dev"},
		{"config", "commit.gpgsign", "false"},
	} {
		if _, _, err := g.Run(ctx, args...); err != nil {
			t.Fatalf("git %v: %v", args, err)
		}
	}
	os.WriteFile(filepath.Join(g.Dir, "main.go"), []byte("package main\n"), 0o644)
	if _, _, err := g.Run(ctx, "add", "-A"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := g.Run(ctx, "commit", "-q", "-m", "init"); err != nil {
		t.Fatal(err)
	}
	return g
}

func runTool(t *testing.T, tl Tool, args map[string]any) *Result {
	t.Helper()
	res, err := Run(context.Background(), tl, args)
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", tl.Name(), err)
	}
	return res
}

func TestGitStatus_CleanAndDirty(t *testing.T) {
	g := initRepo(t)
	status := &GitStatusTool{g}

	res := runTool(t, status, nil)
	if !strings.Contains(res.Text(), "nothing to commit") {
		t.Errorf("expected clean tree, got %q", res.Text())
	}

	os.WriteFile(filepath.Join(g.Dir, "main.go"), []byte("package main\n// changed\n"), 0o644)
	res = runTool(t, status, nil)
	if strings.Contains(res.Text(), "nothing to commit") {
		t.Errorf("expected dirty tree, got %q", res.Text())
	}
}

func TestGitBranch_CreateExisting(t *testing.T) {
	g := initRepo(t)
	branch := &GitBranchTool{g}
	base := runTool(t, &GitCurrentBranchTool{g}, nil).Text()

	res := runTool(t, branch, map[string]any{"action": "create", "branch_name": "feature/t-1-login"})
	if !res.OK() {
		t.Fatalf("expected create to succeed: %s", res.Text())
	}
	runTool(t, branch, map[string]any{"action": "switch", "branch_name": base})
	res = runTool(t, branch, map[string]any{"action": "create", "branch_name": "feature/t-1-login"})
	if res.OK() || !strings.Contains(res.Error, "already exists") {
		t.Fatalf("expected already-exists failure, got %q", res.Text())
	}

	res = runTool(t, branch, map[string]any{"action": "switch", "branch_name": "feature/t-1-login"})
	if !res.OK() {
		t.Fatalf("expected switch to succeed: %s", res.Text())
	}
	if cur := runTool(t, &GitCurrentBranchTool{g}, nil).Text(); cur != "feature/t-1-login" {
		t.Errorf("expected feature branch checked out, got %q", cur)
	}
}

func TestGitBranch_RejectsOptionNames(t *testing.T) {
	g := initRepo(t)
	res := runTool(t, &GitBranchTool{g}, map[string]any{"action": "create", "branch_name": "--force"})
	if res.Status != StatusError {
		t.Errorf("expected invalid name rejection, got %q", res.Text())
	}
}

func TestGitCommit_PrefixesTicket(t *testing.T) {
	g := initRepo(t)
	os.WriteFile(filepath.Join(g.Dir, "api.go"), []byte("package main\n"), 0o644)

	ctx := WithCurrentTicket(context.Background(), "T-7")
	res, err := (&GitCommitTool{g}).Execute(ctx, map[string]any{"message": "add api"})
	if err != nil || !res.OK() {
		t.Fatalf("commit failed: %v %q", err, res.Text())
	}
	if res.Metadata["commit"] == "" {
		t.Error("expected commit hash metadata")
	}

	log := runTool(t, &GitLogTool{g}, map[string]any{"count": 1, "oneline": true})
	if !strings.Contains(log.Text(), "[T-7] add api") {
		t.Errorf("expected ticket prefix in log, got %q", log.Text())
	}
}

func TestGitResetAndCheckout_DiscardChanges(t *testing.T) {
	g := initRepo(t)
	path := filepath.Join(g.Dir, "main.go")
	os.WriteFile(path, []byte("broken"), 0o644)
	g.Run(context.Background(), "add", "-A")

	if res := runTool(t, &GitResetTool{g}, map[string]any{}); !res.OK() {
		t.Fatalf("reset failed: %s", res.Text())
	}
	if res := runTool(t, &GitCheckoutFileTool{g}, map[string]any{"file_path": "main.go"}); !res.OK() {
		t.Fatalf("checkout failed: %s", res.Text())
	}
	data, _ := os.ReadFile(path)
	if string(data) != "package main\n" {
		t.Errorf("expected original content, got %q", data)
	}
}

func TestGitReset_InvalidMode(t *testing.T) {
	g := initRepo(t)
	res := runTool(t, &GitResetTool{g}, map[string]any{"mode": "merge"})
	if res.Status != StatusError {
		t.Errorf("expected invalid mode error, got %q", res.Text())
	}
}
