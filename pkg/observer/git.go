package observer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"vigil/pkg/protocol"

	"go.uber.org/zap"
)

// repoState is the last HEAD seen for one work tree.
type repoState struct {
	head   string
	branch string
}

// gitPoller reports new commits and branch switches in the work trees that
// contain the watched roots.
type gitPoller struct {
	runner   CommandRunner
	interval time.Duration
	base     string
	logger   *zap.Logger

	toplevel map[string]string // root -> work tree, "" while not a repo
	repos    map[string]*repoState
}

func newGitPoller(runner CommandRunner, interval time.Duration, base string, logger *zap.Logger) *gitPoller {
	return &gitPoller{
		runner:   runner,
		interval: interval,
		base:     base,
		logger:   logger,
		toplevel: make(map[string]string),
		repos:    make(map[string]*repoState),
	}
}

func (g *gitPoller) run(ctx context.Context, roots []string, out chan<- protocol.Observation) {
	// Baseline: the first poll only records state.
	g.poll(ctx, roots)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, obs := range g.poll(ctx, roots) {
				select {
				case out <- obs:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// poll checks every work tree once and returns an Observation per change.
func (g *gitPoller) poll(ctx context.Context, roots []string) []protocol.Observation {
	seen := make(map[string]bool)
	var changes []protocol.Observation
	for _, root := range roots {
		top := g.resolve(ctx, root)
		if top == "" || seen[top] {
			continue
		}
		seen[top] = true

		head, err := g.git(ctx, top, "rev-parse", "HEAD")
		if err != nil {
			// Empty repository or transient failure.
			g.logger.Debug("git head", zap.String("repo", top), zap.Error(err))
			continue
		}
		branch, _ := g.git(ctx, top, "rev-parse", "--abbrev-ref", "HEAD")

		prev, known := g.repos[top]
		g.repos[top] = &repoState{head: head, branch: branch}
		if !known || (prev.head == head && prev.branch == branch) {
			continue
		}

		subject, _ := g.git(ctx, top, "log", "-1", "--format=%s")
		summary := fmt.Sprintf("HEAD %s -> %s on %s: %s", protocol.ShortID(prev.head), protocol.ShortID(head), branch, subject)
		if prev.branch != branch {
			summary = fmt.Sprintf("branch %s -> %s, HEAD %s: %s", prev.branch, branch, protocol.ShortID(head), subject)
		}
		g.logger.Info("vcs change", zap.String("repo", top), zap.String("summary", summary))

		path := relativeTo(g.base, top)
		if path == "" {
			path = "."
		}
		changes = append(changes, protocol.NewObservation(protocol.SourceVCS, path, protocol.KindCommitted, summary, time.Now()))
	}
	return changes
}

func (g *gitPoller) resolve(ctx context.Context, root string) string {
	if top := g.toplevel[root]; top != "" {
		return top
	}
	top, err := g.git(ctx, root, "rev-parse", "--show-toplevel")
	if err != nil {
		return ""
	}
	top = filepath.Clean(top)
	g.toplevel[root] = top
	return top
}

func (g *gitPoller) git(ctx context.Context, dir string, args ...string) (string, error) {
	out, err := g.runner.Run(ctx, "git", append([]string{"-C", dir}, args...)...)
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}
