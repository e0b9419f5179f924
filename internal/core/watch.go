package core

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"grafema/internal/logging"
	"grafema/internal/scan"
)

// DefaultDebounce batches bursts of filesystem events (editor saves,
// branch switches) into a single re-analysis.
const DefaultDebounce = 500 * time.Millisecond

// Watch re-runs the pipeline whenever project files change, until the
// context is canceled. Events under the .grafema workspace (our own
// database and logs) are ignored.
func (e *Engine) Watch(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dirs, err := scan.Dirs(e.cfg.Project.Root, e.cfg.Project.Ignore)
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			logging.Get(logging.CategoryWatch).Warn("Cannot watch %s: %v", dir, err)
		}
	}
	logging.Watch("Watching %d directories under %s", len(dirs), e.cfg.Project.Root)

	var timer *time.Timer
	var timerC <-chan time.Time

	trigger := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerC = timer.C
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(debounce)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if e.ignoredEvent(event) {
				continue
			}
			logging.Watch("Change detected: %s %s", event.Op, event.Name)
			if event.Op.Has(fsnotify.Create) {
				// A new directory needs its own watch.
				if dirs, err := scan.Dirs(e.cfg.Project.Root, e.cfg.Project.Ignore); err == nil {
					for _, dir := range dirs {
						_ = watcher.Add(dir)
					}
				}
			}
			trigger()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Get(logging.CategoryWatch).Warn("Watcher error: %v", err)

		case <-timerC:
			timerC = nil
			timer = nil
			logging.Watch("Re-analyzing after change burst")
			if _, err := e.Analyze(ctx); err != nil {
				logging.Get(logging.CategoryWatch).Error("Re-analysis failed: %v", err)
			}
		}
	}
}

// ignoredEvent filters out our own workspace and noisy artifacts.
func (e *Engine) ignoredEvent(event fsnotify.Event) bool {
	rel, err := filepath.Rel(e.cfg.Project.Root, event.Name)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".grafema" || strings.HasPrefix(rel, ".grafema/") {
		return true
	}
	if strings.HasPrefix(rel, ".git/") {
		return true
	}
	return false
}
