package daemon

import (
	"fmt"
	"path/filepath"
	gosync "sync"

	"github.com/fsnotify/fsnotify"

	"github.com/memsister/memsister/internal/logging"
	"github.com/memsister/memsister/internal/sync"
)

// Watcher turns filesystem events in the watch directory into wake signals
// for the scan loop. It never processes files itself.
//
// Signals are coalesced: any number of events between two scans produce a
// single pending wake.
type Watcher struct {
	watcher *fsnotify.Watcher
	logger  *logging.Logger
	wake    chan struct{}
	done    chan struct{}
	wg      gosync.WaitGroup
	mu      gosync.Mutex
	running bool
	dir     string
}

// NewWatcher creates a Watcher. It must be started with Start before it
// emits anything.
func NewWatcher(logger *logging.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &Watcher{
		watcher: watcher,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching dir.
func (w *Watcher) Start(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if err := w.watcher.Add(abs); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", abs, err)
	}

	w.dir = abs
	w.running = true
	w.wg.Add(1)
	go w.processEvents()

	return nil
}

// Stop stops watching and waits for the event goroutine to exit. It is
// safe to call on a watcher that was never started.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	if wasRunning {
		close(w.done)
	}

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.wg.Wait()
	return nil
}

// Wake returns the channel that receives wake signals. It is never closed.
func (w *Watcher) Wake() <-chan struct{} {
	return w.wake
}

// IsRunning returns true if the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.relevant(event) {
				w.signal()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error: %v", err)
		}
	}
}

// relevant reports whether event may have produced or changed a candidate.
// Renames to *_old and removals are our own doing or irrelevant.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}
	if filepath.Dir(event.Name) != w.dir {
		return false
	}
	return sync.IsCandidateName(filepath.Base(event.Name))
}

// signal queues a wake unless one is already pending.
func (w *Watcher) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}
