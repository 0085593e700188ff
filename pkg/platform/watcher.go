package platform

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// IndexWatcher watches the project directory for edits to the index files
// (scene files change constantly and are re-checked per transition instead).
// Changes are debounced and delivered on a buffered channel; the review loop
// drains it between prompts and runs the staleness re-check.
type IndexWatcher struct {
	projectDir string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	closed  bool
}

// NewIndexWatcher creates a watcher over the project directory.
func NewIndexWatcher(projectDir string) (*IndexWatcher, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project path: %w", err)
	}
	return &IndexWatcher{projectDir: abs}, nil
}

// Watch starts the watch loop and returns the change channel. The channel
// closes when the context ends or the watcher is closed.
func (w *IndexWatcher) Watch(ctx context.Context) (<-chan struct{}, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, fmt.Errorf("watcher is closed")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create index watcher: %w", err)
	}
	w.watcher = watcher

	// Watch the directory; watching files directly misses editors that
	// replace on save.
	if err := watcher.Add(w.projectDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch project directory %s: %w", w.projectDir, err)
	}

	ch := make(chan struct{}, 1)
	go w.watchLoop(ctx, watcher, ch)

	slog.Debug("watching project indexes", "dir", w.projectDir)
	return ch, nil
}

func (w *IndexWatcher) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, ch chan<- struct{}) {
	defer close(ch)
	defer watcher.Close()

	indexed := make(map[string]bool, 8)
	for _, name := range IndexFiles() {
		indexed[name] = true
	}

	var debounce *time.Timer
	const debounceDelay = 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !indexed[filepath.Base(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				select {
				case ch <- struct{}{}:
					slog.Debug("index file changed", "file", filepath.Base(event.Name))
				default:
					// A change is already pending.
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("index watcher error", "error", err)
		}
	}
}

// Close stops the watcher and releases resources.
func (w *IndexWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	if w.watcher != nil {
		err := w.watcher.Close()
		w.watcher = nil
		return err
	}
	return nil
}
