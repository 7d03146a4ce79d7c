package testlist

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/arccode/factory-sub002/pkg/logger"
)

// DefaultWatchDelay coalesces bursts of file events, e.g. editors that
// write a temporary file then rename it.
const DefaultWatchDelay = 200 * time.Millisecond

// Watcher invalidates a Manager when test list files change.
type Watcher struct {
	manager  *Manager
	delay    time.Duration
	onChange func(ids []string)
}

// NewWatcher creates a Watcher. onChange receives the ids of changed
// documents, or the ACTIVE marker name, after the manager is invalidated.
func NewWatcher(m *Manager, onChange func(ids []string)) *Watcher {
	return &Watcher{manager: m, delay: DefaultWatchDelay, onChange: onChange}
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	for _, dir := range w.manager.Loader().Watched() {
		if err := fw.Add(dir); err != nil {
			return err
		}
		logger.Debug("Watching %s for test list changes", dir)
	}

	pending := make(map[string]bool)
	var timer <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			id, relevant := watchedID(ev.Name)
			if !relevant || ev.Op == fsnotify.Chmod {
				continue
			}
			pending[id] = true
			if timer == nil {
				timer = time.After(w.delay)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Test list watcher: %v", err)

		case <-timer:
			timer = nil
			ids := make([]string, 0, len(pending))
			for id := range pending {
				ids = append(ids, id)
			}
			pending = make(map[string]bool)

			logger.Info("Test list files changed: %v", ids)
			w.manager.Invalidate()
			if w.onChange != nil {
				w.onChange(ids)
			}
		}
	}
}

func watchedID(name string) (string, bool) {
	base := filepath.Base(name)
	if base == ActiveMarker {
		return base, true
	}
	if strings.HasSuffix(base, FileSuffix) {
		return strings.TrimSuffix(base, FileSuffix), true
	}
	return "", false
}
