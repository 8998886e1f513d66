package protocol

import "testing"

func TestToolAllowed(t *testing.T) {
	t.Run("no lists allows all", func(t *testing.T) {
		spec := RoleSpec{}
		for _, name := range []string{"read_file", "run_command", "git_branch", "anything"} {
			if !spec.ToolAllowed(name) {
				t.Errorf("expected %q to be allowed with no lists", name)
			}
		}
	})

	t.Run("whitelist only allows listed", func(t *testing.T) {
		spec := RoleSpec{ToolsWhitelist: []string{"read_file", "write_file"}}
		if !spec.ToolAllowed("read_file") {
			t.Error("expected read_file to be allowed")
		}
		if spec.ToolAllowed("run_command") {
			t.Error("expected run_command to be denied")
		}
	})

	t.Run("whitelist wins over blacklist", func(t *testing.T) {
		spec := RoleSpec{
			ToolsWhitelist: []string{"read_file"},
			ToolsBlacklist: []string{"read_file"},
		}
		if !spec.ToolAllowed("read_file") {
			t.Error("expected whitelist to take precedence")
		}
	})

	t.Run("blacklist denies listed", func(t *testing.T) {
		spec := RoleSpec{ToolsBlacklist: []string{"git_reset"}}
		if spec.ToolAllowed("git_reset") {
			t.Error("expected git_reset to be denied")
		}
		if !spec.ToolAllowed("git_status") {
			t.Error("expected git_status to be allowed")
		}
	})
}

func TestParseRole(t *testing.T) {
	for _, r := range Roles {
		got, err := ParseRole(string(r))
		if err != nil {
			t.Fatalf("ParseRole(%q): %v", r, err)
		}
		if got != r {
			t.Errorf("expected %q, got %q", r, got)
		}
	}
	if _, err := ParseRole("qa_engineer"); err == nil {
		t.Error("expected error for unknown role")
	}
}
