package ticket

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/h1v3-io/swarm/pkg/protocol"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWatcher_FilesExistingAndNewTickets(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "login.yaml"), []byte(loginYAML), 0o644)
	os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644)

	w := NewWatcher(dir, s, zap.NewNop().Sugar())
	w.debounce = 30 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitFor(t, func() bool { return w.Created() == 1 })
	if _, err := s.Get("HIVE-001"); err != nil {
		t.Fatalf("expected existing file to be filed: %v", err)
	}

	doc := "id: HIVE-002\ntitle: Logout\n"
	os.WriteFile(filepath.Join(dir, "logout.yml"), []byte(doc), 0o644)
	waitFor(t, func() bool { return w.Created() == 2 })

	got, err := s.Get("HIVE-002")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != protocol.StatusBacklog {
		t.Errorf("expected backlog status, got %q", got.Status)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcher_DoesNotOverwriteExisting(t *testing.T) {
	s := newTestStore(t)
	tk := protocol.NewTicket("HIVE-001", "User login")
	tk.Status = protocol.StatusInProgress
	if err := s.Save(tk); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "login.yaml")
	os.WriteFile(path, []byte(loginYAML), 0o644)

	w := NewWatcher(dir, s, zap.NewNop().Sugar())
	w.file(path)

	if w.Created() != 0 {
		t.Errorf("expected nothing filed, got %d", w.Created())
	}
	got, _ := s.Get("HIVE-001")
	if got.Status != protocol.StatusInProgress {
		t.Errorf("existing ticket was overwritten: %q", got.Status)
	}
}

func TestWatcher_SkipsInvalidFiles(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	os.WriteFile(path, []byte("title: no id\n"), 0o644)

	w := NewWatcher(dir, s, zap.NewNop().Sugar())
	w.file(path)
	w.file(filepath.Join(dir, "missing.yaml"))

	if w.Created() != 0 {
		t.Errorf("expected invalid files to be skipped, got %d", w.Created())
	}
}

func TestWatcher_Due(t *testing.T) {
	w := NewWatcher(t.TempDir(), nil, zap.NewNop().Sugar())
	now := time.Now()
	w.pending["old.yaml"] = now.Add(-time.Second)
	w.pending["fresh.yaml"] = now

	due := w.due(now)
	if len(due) != 1 || due[0] != "old.yaml" {
		t.Errorf("unexpected due paths %v", due)
	}
	if _, ok := w.pending["fresh.yaml"]; !ok {
		t.Error("fresh path should stay pending")
	}
}
