// Package watcher triggers rescans when files under a source directory change.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// DefaultDebounce is how long a directory must stay quiet before OnChange
// fires.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches one directory (not recursive) and reports settled changes.
type Watcher struct {
	dir      string
	debounce time.Duration
	onChange func(dir string)
	logger   hclog.Logger

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	pending *time.Timer
}

// New creates a watcher for dir. onChange runs on a timer goroutine once
// events stop arriving for debounce.
func New(dir string, debounce time.Duration, onChange func(dir string), logger hclog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watch directory: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("watch directory: %s is not a directory", dir)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		onChange: onChange,
		logger:   logger.Named("watcher"),
		watcher:  fw,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start adds the watch and runs the event loop.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to add watch: %w", err)
	}
	w.wg.Add(1)
	go w.loop()
	w.logger.Info("watching source directory", "dir", w.dir)
	return nil
}

// Stop ends the event loop and drops any pending notification.
func (w *Watcher) Stop() error {
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()

	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if relevant(event) {
				w.logger.Trace("source changed", "path", event.Name, "op", event.Op.String())
				w.schedule()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx.Err() != nil {
		return
	}
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounce, func() {
		if w.ctx.Err() != nil {
			return
		}
		w.logger.Debug("source directory settled", "dir", w.dir)
		w.onChange(w.dir)
	})
}

// relevant drops chmod-only events and hidden or partial files, which
// include the engine's own in-progress outputs.
func relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".part") {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}
