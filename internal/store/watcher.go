package store

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"warden/pkg/logging"
)

// DefaultDebounceInterval is how long the watcher waits after the last file
// event before reloading, so editors that write in several steps trigger
// one reload instead of a burst.
const DefaultDebounceInterval = 500 * time.Millisecond

// WatcherConfig configures an account file watcher.
type WatcherConfig struct {
	// Debounce overrides DefaultDebounceInterval when positive.
	Debounce time.Duration

	// OnReload is called after each successful reload. Optional.
	OnReload func()
}

// Watcher reloads a Store when its backing file changes on disk, letting a
// long-running daemon pick up edits made by the CLI or by hand. The store's
// own writes land as rename events too; reloading after them is a no-op.
type Watcher struct {
	store  *Store
	config WatcherConfig

	mu        sync.Mutex
	fsWatcher *fsnotify.Watcher
	stopCh    chan struct{}
	running   bool

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// NewWatcher creates a watcher for the store's backing file.
func NewWatcher(store *Store, config WatcherConfig) *Watcher {
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounceInterval
	}
	return &Watcher{store: store, config: config}
}

// Start begins watching. The parent directory is watched rather than the
// file itself: atomic writes replace the file by rename, which would
// silently drop a watch on the old inode.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsWatcher.Add(filepath.Dir(w.store.Path())); err != nil {
		fsWatcher.Close()
		return err
	}

	w.fsWatcher = fsWatcher
	w.stopCh = make(chan struct{})
	w.running = true

	go w.processEvents(fsWatcher.Events, fsWatcher.Errors)

	logging.Info("Store", "Watching %s for account changes", w.store.Path())
	return nil
}

// processEvents handles fsnotify events until Stop.
func (w *Watcher) processEvents(events <-chan fsnotify.Event, errors <-chan error) {
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-errors:
			if !ok {
				return
			}
			logging.Error("Store", err, "account file watcher error")
		}
	}
}

// handleEvent filters for the accounts file and schedules a debounced
// reload.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Base(event.Name) != filepath.Base(w.store.Path()) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	logging.Debug("Store", "Accounts file changed: %s", event.Name)
	w.scheduleReload()
}

// scheduleReload resets the debounce timer; the reload fires once the file
// has been quiet for the debounce interval.
func (w *Watcher) scheduleReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.config.Debounce, func() {
		w.mu.Lock()
		running := w.running
		w.mu.Unlock()
		if !running {
			return
		}

		if err := w.store.Reload(); err != nil {
			logging.Error("Store", err, "failed to reload accounts after file change")
			return
		}
		logging.Debug("Store", "Accounts reloaded after file change")
		if w.config.OnReload != nil {
			w.config.OnReload()
		}
	})
}

// Stop halts the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	w.debounceMu.Unlock()

	if w.fsWatcher != nil {
		if err := w.fsWatcher.Close(); err != nil {
			logging.Warn("Store", "Error closing account file watcher: %v", err)
		}
		w.fsWatcher = nil
	}

	logging.Info("Store", "Stopped account file watcher")
}
