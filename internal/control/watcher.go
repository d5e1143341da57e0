package control

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"cleanloop/internal/iteration"
	"cleanloop/pkg/logging"
)

const sourceControlFile = "control-file"

// FileWatcher applies commands written to a YAML control file. It watches
// the file's directory with fsnotify so that editors replacing the file are
// seen, and falls back to polling when a watch cannot be set up.
//
// A file that already exists when the watcher starts is taken as the
// baseline and not applied.
type FileWatcher struct {
	mu sync.Mutex

	path         string
	tok          *iteration.Token
	debounce     time.Duration
	pollInterval time.Duration
	forcePoll    bool

	watcher *fsnotify.Watcher
	timer   *time.Timer
	last    string
	stopCh  chan struct{}
	done    chan struct{}
	running bool
}

// WatcherOption configures a FileWatcher.
type WatcherOption func(*FileWatcher)

// WithDebounce sets how long to wait for further writes before reading.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithPollInterval sets the polling period used without fsnotify.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithPolling disables fsnotify.
func WithPolling() WatcherOption {
	return func(w *FileWatcher) {
		w.forcePoll = true
	}
}

// NewFileWatcher creates a watcher for path that drives tok.
func NewFileWatcher(path string, tok *iteration.Token, opts ...WatcherOption) *FileWatcher {
	w := &FileWatcher{
		path:         filepath.Clean(path),
		tok:          tok,
		debounce:     200 * time.Millisecond,
		pollInterval: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. It returns once the watch is in place.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create control directory %s: %w", dir, err)
	}
	w.last, _ = w.readKey()

	var watcher *fsnotify.Watcher
	if !w.forcePoll {
		var err error
		watcher, err = fsnotify.NewWatcher()
		if err == nil {
			if err = watcher.Add(dir); err != nil {
				watcher.Close()
				watcher = nil
			}
		}
		if err != nil {
			logging.Warn("Control", "Cannot watch %s (%v), polling every %s instead", dir, err, w.pollInterval)
		}
	}

	w.watcher = watcher
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})
	w.running = true

	if watcher != nil {
		go w.processEvents(ctx, watcher)
		logging.Info("Control", "Watching control file %s", w.path)
	} else {
		go w.poll(ctx)
		logging.Info("Control", "Polling control file %s", w.path)
	}
	return nil
}

// Stop ends the watch and waits for the event loop to exit.
func (w *FileWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if w.watcher != nil {
		if err := w.watcher.Close(); err != nil {
			logging.Error("Control", err, "Error closing control file watcher")
		}
		w.watcher = nil
	}
	done := w.done
	w.mu.Unlock()
	<-done
}

func (w *FileWatcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.schedule()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("Control", err, "Control file watcher error")
		}
	}
}

func (w *FileWatcher) poll(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// schedule debounces bursts of writes from a single save.
func (w *FileWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.check)
}

// readKey identifies one version of the file by modification time and content.
func (w *FileWatcher) readKey() (string, []byte) {
	info, err := os.Stat(w.path)
	if err != nil {
		return "", nil
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return "", nil
	}
	return fmt.Sprintf("%d:%s", info.ModTime().UnixNano(), data), data
}

func (w *FileWatcher) check() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	key, data := w.readKey()
	if key == "" || key == w.last {
		w.mu.Unlock()
		return
	}
	w.last = key
	w.mu.Unlock()

	cmd, err := ParseFile(data)
	if err != nil {
		logging.Warn("Control", "Ignoring control file %s: %v", w.path, err)
		return
	}
	msg, err := Apply(w.tok, cmd, sourceControlFile)
	if err != nil {
		logging.Warn("Control", "Control file %s rejected: %v", w.path, err)
		return
	}
	logging.Info("Control", "Control file %s: %s", w.path, msg)
}
