package agent

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/h1v3-io/swarm/internal/tool"
)

// hasChanges reports whether git_status shows uncommitted work. Without a
// usable git_status tool the workspace counts as clean.
func hasChanges(ctx context.Context, reg *tool.Registry, log *zap.SugaredLogger) bool {
	if reg == nil || !reg.Has("git_status") {
		return false
	}
	res, err := reg.Execute(ctx, "git_status", map[string]any{})
	if err != nil || !res.OK() {
		log.Debugw("git status unavailable", "error", failureText(res, err))
		return false
	}
	return !strings.Contains(strings.ToLower(res.Text()), "nothing to commit")
}

// WithRollback runs fn. If fn fails and left changes in a previously clean
// workspace, the changes are discarded. The error from fn is always
// returned unchanged.
func WithRollback(ctx context.Context, reg *tool.Registry, log *zap.SugaredLogger, op string, fn func(context.Context) error) error {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	dirtyBefore := hasChanges(ctx, reg, log)

	err := fn(ctx)
	if err == nil {
		return nil
	}
	log.Errorw("operation failed", "operation", op, "error", err)

	// Cleanup runs even when ctx was cancelled.
	cleanup := context.WithoutCancel(ctx)
	if dirtyBefore || !hasChanges(cleanup, reg, log) {
		return err
	}

	log.Warnw("rolling back workspace changes", "operation", op)
	rollback(cleanup, reg, log)
	return err
}

func rollback(ctx context.Context, reg *tool.Registry, log *zap.SugaredLogger) {
	if reg.Has("git_reset") {
		res, err := reg.Execute(ctx, "git_reset", map[string]any{"mode": "mixed", "target": "HEAD"})
		if err == nil && res.OK() {
			log.Infow("rollback: staging reset")
		} else {
			log.Warnw("rollback: git reset failed", "error", failureText(res, err))
		}
	}
	if reg.Has("run_command") {
		res, err := reg.Execute(ctx, "run_command", map[string]any{"command": "git checkout .", "timeout": 30})
		if err == nil && res.OK() {
			log.Infow("rollback: working tree restored")
		} else {
			log.Warnw("rollback: git checkout failed", "error", failureText(res, err))
		}
	}
}
