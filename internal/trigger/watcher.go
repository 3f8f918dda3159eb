package trigger

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// FileWatcher watches the local database file and its WAL for writes made
// by other processes sharing the database.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	logger  zerolog.Logger
	events  chan string
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewFileWatcher creates a watcher for the database at dbPath. It must be
// started with Start before it emits events.
func NewFileWatcher(dbPath string, logger zerolog.Logger) (*FileWatcher, error) {
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dbPath, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &FileWatcher{
		watcher: w,
		path:    abs,
		logger:  logger.With().Str("component", "watcher").Logger(),
		events:  make(chan string, 100),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the database directory.
func (fw *FileWatcher) Start() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}
	dir := filepath.Dir(fw.path)
	if err := fw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()
	return nil
}

// Stop stops watching and blocks until the event goroutine exits. The
// Events channel is closed afterwards.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return fw.watcher.Close()
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)
	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	fw.wg.Wait()
	close(fw.events)
	return nil
}

// Events emits the path of every database file written.
func (fw *FileWatcher) Events() <-chan string {
	return fw.events
}

// IsRunning reports whether the watcher is started.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

// Forward sends a Change with an empty kind to bus for every event until
// ctx is cancelled or the watcher stops.
func (fw *FileWatcher) Forward(ctx context.Context, bus *Bus) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-fw.events:
			if !ok {
				return
			}
			bus.Notify(Change{})
		}
	}
}

func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if !fw.relevant(event) {
				continue
			}
			select {
			case fw.events <- event.Name:
			case <-fw.done:
				return
			default:
				// A change is already queued.
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

// relevant reports whether event is a write to the database or its WAL.
func (fw *FileWatcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	name, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	return name == fw.path || strings.HasPrefix(name, fw.path+"-")
}
