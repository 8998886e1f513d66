package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/h1v3-io/swarm/internal/tool"
	"github.com/h1v3-io/swarm/pkg/protocol"
)

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// BranchName returns the feature branch for t:
// feature/{id}-{slug of title, at most 30 chars}.
func BranchName(t *protocol.Ticket) string {
	slug := slugify(t.Title, 30)
	id := strings.ToLower(t.ID)
	if slug == "" {
		return "feature/" + id
	}
	return fmt.Sprintf("feature/%s-%s", id, slug)
}

// slugify lowercases s, joins its runs of letters and digits with dashes
// and cuts the result to n bytes.
func slugify(s string, n int) string {
	slug := strings.Trim(slugInvalid.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if len(slug) > n {
		slug = strings.TrimRight(slug[:n], "-")
	}
	return slug
}

// EnsureFeatureBranch creates branch, or switches to it when it already
// exists. Failures are logged and reported as false.
func EnsureFeatureBranch(ctx context.Context, reg *tool.Registry, log *zap.SugaredLogger, branch string) bool {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if reg == nil || !reg.Has("git_branch") {
		return false
	}

	res, err := reg.Execute(ctx, "git_branch", map[string]any{"action": "create", "branch_name": branch})
	if err == nil && res.OK() {
		log.Infow("feature branch created", "branch", branch)
		return true
	}

	msg := failureText(res, err)
	if strings.Contains(msg, "already exists") {
		sw, err := reg.Execute(ctx, "git_branch", map[string]any{"action": "switch", "branch_name": branch})
		if err == nil && sw.OK() {
			log.Infow("switched to feature branch", "branch", branch)
			return true
		}
		msg = failureText(sw, err)
	}

	log.Warnw("feature branch unavailable", "branch", branch, "error", msg)
	return false
}
