// Package observer turns raw filesystem and version-control activity in the
// watched workspace into a stream of debounced Observations.
package observer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"vigil/pkg/logging"
	"vigil/pkg/protocol"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// CommandRunner runs an external command and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Config tunes the observer.
type Config struct {
	// Base is the directory Observation paths are reported relative to
	// (normally the knowledge-base root). Paths outside Base are reported
	// absolute.
	Base string

	Debounce        time.Duration // default 500ms
	VCSPollInterval time.Duration // default 10s; negative disables the git poller

	InitialBackoff time.Duration // first Add retry delay (default 500ms)
	MaxBackoff     time.Duration // cap for Add retries (default 30s)
}

func (c Config) withDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = 500 * time.Millisecond
	}
	if c.VCSPollInterval == 0 {
		c.VCSPollInterval = 10 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	return c
}

// Observer watches workspace roots.
type Observer struct {
	cfg    Config
	runner CommandRunner
	logger *zap.Logger
}

// New creates an Observer. runner may be nil, which disables the git poller.
func New(cfg Config, runner CommandRunner, logger *zap.Logger) *Observer {
	return &Observer{cfg: cfg.withDefaults(), runner: runner, logger: logging.OrNop(logger)}
}

// Start begins watching paths and returns the Observation stream. The
// stream stays open until ctx is cancelled, then it is closed.
func (o *Observer) Start(ctx context.Context, paths, ignore []string) (<-chan protocol.Observation, error) {
	if len(paths) == 0 {
		return nil, errors.New("observer: no watch paths")
	}
	for _, p := range ignore {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("observer: bad ignore pattern %q: %w", p, doublestar.ErrBadPattern)
		}
	}

	roots := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("observer: resolve %s: %w", p, err)
		}
		if info, err := os.Stat(abs); err != nil || !info.IsDir() {
			return nil, fmt.Errorf("observer: watch path %s is not a directory", p)
		}
		roots = append(roots, abs)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("observer: create watcher: %w", err)
	}

	w := &watch{
		obs:     o,
		watcher: watcher,
		roots:   roots,
		ignore:  ignore,
		dirs:    make(map[string]bool),
		retries: make(map[string]*retry),
		deb:     newDebouncer(o.cfg.Debounce),
	}
	w.walkRoots()

	out := make(chan protocol.Observation, 64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() { _ = watcher.Close() }()
		w.loop(ctx, out)
	}()

	if o.runner != nil && o.cfg.VCSPollInterval > 0 {
		g := newGitPoller(o.runner, o.cfg.VCSPollInterval, o.cfg.Base, o.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.run(ctx, roots, out)
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	o.logger.Info("observer started",
		zap.Strings("roots", roots),
		zap.Int("dirs", len(w.dirs)),
		zap.Duration("debounce", o.cfg.Debounce))
	return out, nil
}

// --- watch loop ---

type retry struct {
	next  time.Time
	delay time.Duration
}

// watch is the state owned by the fsnotify goroutine.
type watch struct {
	obs     *Observer
	watcher *fsnotify.Watcher
	roots   []string
	ignore  []string
	dirs    map[string]bool
	retries map[string]*retry
	deb     *debouncer
}

func (w *watch) loop(ctx context.Context, out chan<- protocol.Observation) {
	tick := w.obs.cfg.Debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.obs.logger.Warn("watcher error, rescanning roots", zap.Error(err))
			w.walkRoots()

		case now := <-ticker.C:
			w.retryAdds(now)
			for _, c := range w.deb.settled(now) {
				obs := protocol.NewObservation(protocol.SourceFilesystem, w.report(c.path), c.kind, summarize(c.path, c.kind), c.at)
				select {
				case out <- obs:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (w *watch) handle(ev fsnotify.Event) {
	if ev.Name == "" || w.ignored(ev.Name) {
		return
	}
	now := time.Now()

	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Lstat(ev.Name)
		if err == nil && info.IsDir() {
			// Files may land before the watch is in place; the walk
			// reports them as created.
			w.walk(ev.Name, func(file string) { w.deb.add(file, protocol.KindCreated, now) })
			return
		}
		w.deb.add(ev.Name, protocol.KindCreated, now)
	case ev.Has(fsnotify.Write):
		w.deb.add(ev.Name, protocol.KindModified, now)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if w.dirs[ev.Name] {
			delete(w.dirs, ev.Name)
			delete(w.retries, ev.Name)
			return
		}
		w.deb.add(ev.Name, protocol.KindDeleted, now)
	}
}

// walkRoots adds every non-ignored directory under the roots.
func (w *watch) walkRoots() {
	for _, r := range w.roots {
		w.walk(r, nil)
	}
}

// walk adds dir and its non-ignored subdirectories. onFile, if set, is
// called for each regular file found.
func (w *watch) walk(dir string, onFile func(string)) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			w.obs.logger.Debug("walk", zap.String("path", p), zap.Error(err))
			return nil
		}
		if p != dir && w.ignored(p) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			w.add(p)
			return nil
		}
		if onFile != nil && d.Type().IsRegular() {
			onFile(p)
		}
		return nil
	})
}

func (w *watch) add(dir string) {
	if err := w.watcher.Add(dir); err != nil {
		r, ok := w.retries[dir]
		if !ok {
			r = &retry{delay: w.obs.cfg.InitialBackoff}
			w.retries[dir] = r
		} else {
			r.delay = min(r.delay*2, w.obs.cfg.MaxBackoff)
		}
		r.next = time.Now().Add(r.delay)
		w.obs.logger.Warn("watch add failed",
			zap.String("dir", dir),
			zap.Duration("retry_in", r.delay),
			zap.Error(err))
		return
	}
	w.dirs[dir] = true
	delete(w.retries, dir)
}

func (w *watch) retryAdds(now time.Time) {
	for dir, r := range w.retries {
		if now.Before(r.next) {
			continue
		}
		if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
			delete(w.retries, dir)
			continue
		}
		w.add(dir)
	}
}

// ignored matches p against the ignore patterns as a slash path relative to
// whichever root contains it.
func (w *watch) ignored(p string) bool {
	for _, root := range w.roots {
		if rel, ok := within(root, p); ok && rel != "." {
			return matchAny(w.ignore, rel)
		}
	}
	return false
}

func matchAny(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return true
		}
	}
	return false
}

// report converts an absolute path to the form downstream components see.
func (w *watch) report(p string) string {
	return relativeTo(w.obs.cfg.Base, p)
}

func relativeTo(base, p string) string {
	if base == "" {
		return p
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return p
	}
	if rel, ok := within(absBase, p); ok {
		return rel
	}
	return p
}

// within returns p relative to root as a slash path, and whether p lies
// inside root at all.
func within(root, p string) (string, bool) {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func summarize(p string, kind protocol.Kind) string {
	if kind == protocol.KindDeleted {
		return "file removed"
	}
	info, err := os.Stat(p)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%d bytes, modified %s", info.Size(), info.ModTime().UTC().Format(time.RFC3339))
}
