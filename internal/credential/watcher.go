package credential

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/selfvisor/internal/event"
	"github.com/Iron-Ham/selfvisor/internal/logging"
)

// DefaultDebounce coalesces the burst of events a single file write produces.
const DefaultDebounce = 100 * time.Millisecond

// Watcher observes credential files on disk and publishes a
// CredentialChangedEvent when one is written, typically by a worker
// reporting handshake progress.
type Watcher struct {
	root     string
	fileName string
	debounce time.Duration
	bus      *event.Bus
	logger   *logging.Logger

	mu      sync.Mutex
	watched map[string]int64 // user directory -> user id
	ready   chan struct{}
}

// NewWatcher creates a Watcher for the user directories below root.
// A zero debounce uses DefaultDebounce.
func NewWatcher(root, fileName string, debounce time.Duration, bus *event.Bus, logger *logging.Logger) *Watcher {
	if fileName == "" {
		fileName = DefaultFileName
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Watcher{
		root:     root,
		fileName: fileName,
		debounce: debounce,
		bus:      bus,
		logger:   logger.WithPhase("watcher"),
		watched:  make(map[string]int64),
		ready:    make(chan struct{}),
	}
}

// Run watches until ctx is cancelled. The users directory is created if
// missing so that users registered later are picked up.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.root, dirPerm); err != nil {
		return fmt.Errorf("create users directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(w.root); err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}

	entries, err := os.ReadDir(w.root)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			w.addUserDir(fw, filepath.Join(w.root, entry.Name()))
		}
	}

	w.logger.Info("watching credential files", "root", w.root)
	close(w.ready)
	w.loop(ctx, fw)
	return nil
}

// Ready is closed once the initial watches are in place.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// WatchedCount returns the number of user directories being watched.
func (w *Watcher) WatchedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watched)
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C // drain initial timer
	defer debounceTimer.Stop()

	pending := make(map[string]int64) // file path -> user id

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if filepath.Dir(ev.Name) == filepath.Clean(w.root) {
				if ev.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						w.addUserDir(fw, ev.Name)
					}
				}
				continue
			}

			if filepath.Base(ev.Name) != w.fileName {
				continue
			}
			userID, ok := w.userFor(filepath.Dir(ev.Name))
			if !ok {
				continue
			}

			pending[ev.Name] = userID
			debounceTimer.Reset(w.debounce)

		case <-debounceTimer.C:
			for path, userID := range pending {
				w.logger.WithUser(userID).Debug("credential file changed", "path", path)
				if w.bus != nil {
					w.bus.Publish(event.NewCredentialChangedEvent(userID, path))
				}
			}
			pending = make(map[string]int64)

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) addUserDir(fw *fsnotify.Watcher, dir string) {
	userID, ok := ParseUserDir(filepath.Base(dir))
	if !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.watched[dir]; exists {
		return
	}
	if err := fw.Add(dir); err != nil {
		w.logger.WithUser(userID).Warn("failed to watch user directory", "dir", dir, "error", err)
		return
	}
	w.watched[dir] = userID
}

func (w *Watcher) userFor(dir string) (int64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, ok := w.watched[dir]
	return id, ok
}
