package agent

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/Gal-Doron/Baragon-test-8/pkg/observability"
)

const watchDebounce = 500 * time.Millisecond

// DirectoryWatcher detects out-of-band edits to the managed config
// directories. Change events are debounced and handed to onChange on the
// watcher's own goroutine.
type DirectoryWatcher struct {
	dirs     []string
	onChange func()
	logger   *zap.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewDirectoryWatcher creates a watcher for the given directories.
func NewDirectoryWatcher(dirs []string, onChange func(), logger *zap.Logger) *DirectoryWatcher {
	return &DirectoryWatcher{
		dirs:     dirs,
		onChange: onChange,
		logger:   logger,
	}
}

// Start begins watching. It fails when a directory cannot be watched.
func (w *DirectoryWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		return fmt.Errorf("directory watcher already started")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	for _, dir := range w.dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	w.watcher = watcher
	w.done = make(chan struct{})
	go w.loop(watcher, w.done)

	w.logger.Info("Watching config directories", zap.Strings("dirs", w.dirs))
	return nil
}

// Stop ends watching. Safe to call before Start and to call twice.
func (w *DirectoryWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher == nil {
		return nil
	}

	err := w.watcher.Close()
	<-w.done
	w.watcher = nil
	w.done = nil
	return err
}

func (w *DirectoryWatcher) loop(watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	var debounceCh <-chan time.Time

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			observability.DirectoryEventsTotal.Inc()
			w.logger.Debug("Config directory changed",
				zap.String("file", event.Name),
				zap.String("op", event.Op.String()),
			)
			if debounce == nil {
				debounce = time.NewTimer(watchDebounce)
				debounceCh = debounce.C
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(watchDebounce)
			}

		case <-debounceCh:
			w.onChange()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Filesystem watcher error", zap.Error(err))
		}
	}
}
