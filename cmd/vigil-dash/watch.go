package main

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"
)

// fsChangeMsg is sent when the state database changes on disk.
type fsChangeMsg struct{}

// debounceDuration collapses the burst of writes one daemon cycle makes.
const debounceDuration = 100 * time.Millisecond

// newStateWatcher watches the directory holding the state database.
// Returns nil if the directory doesn't exist or watcher creation fails;
// the dashboard then refreshes on its poll timer only.
func newStateWatcher(dbPath string) *fsnotify.Watcher {
	dir := filepath.Dir(dbPath)
	if _, err := os.Stat(dir); err != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("fsnotify: failed to create watcher: %v (falling back to polling)", err)
		return nil
	}

	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		log.Printf("fsnotify: failed to watch %s: %v (falling back to polling)", dir, err)
		return nil
	}

	return watcher
}

// isStateFile matches the database and its -wal and -shm companions.
func isStateFile(dbPath string) func(string) bool {
	base := filepath.Base(dbPath)
	return func(name string) bool {
		return strings.HasPrefix(filepath.Base(name), base)
	}
}

// waitForChange returns a tea.Cmd that blocks until a matching file changes,
// then reports a single fsChangeMsg once the burst has settled. The model
// re-issues it after every change. Returns nil for a nil watcher.
func waitForChange(watcher *fsnotify.Watcher, match func(string) bool) tea.Cmd {
	if watcher == nil {
		return nil
	}
	return func() tea.Msg {
		timer := time.NewTimer(0)
		if !timer.Stop() {
			<-timer.C
		}
		defer timer.Stop()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if !match(event.Name) {
					continue
				}
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounceDuration)

			case <-timer.C:
				return fsChangeMsg{}

			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				log.Printf("fsnotify: watcher error: %v", err)
				return nil
			}
		}
	}
}
