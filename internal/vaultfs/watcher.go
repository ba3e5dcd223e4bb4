// Package vaultfs bridges the filesystem and the sync engine: a recursive
// fsnotify-backed watcher that emits coalesced change events, and an
// atomic Markdown file writer.
package vaultfs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventType enumerates the kinds of filesystem change the watcher reports.
type EventType int

const (
	Added EventType = iota
	Changed
	Deleted
)

func (t EventType) String() string {
	switch t {
	case Added:
		return "added"
	case Changed:
		return "changed"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is a single filesystem change for a Markdown file, coalesced so
// that the engine never sees more than one event per path per burst
// window. Content is populated for Added/Changed; empty for Deleted.
type Event struct {
	AbsolutePath string
	Type         EventType
	Content      string
}

// Watcher recursively watches a set of root directories for .md file
// changes, skipping denied directory names, and coalesces bursts of events
// for the same path before emitting them on Events.
type Watcher struct {
	fsWatcher  *fsnotify.Watcher
	deniedDirs map[string]bool
	coalesce   time.Duration
	logger     *slog.Logger

	Events chan Event
	Errors chan error

	mu      sync.Mutex
	pending map[string]fsnotify.Op
	stopCh  chan struct{}
	stopped sync.Once
}

// New creates a Watcher. coalesceWindow bounds how long a burst of events
// for one path is allowed to accumulate before the watcher picks the
// winning op and emits a single Event.
func New(deniedDirNames []string, coalesceWindow time.Duration, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	denied := make(map[string]bool, len(deniedDirNames))
	for _, d := range deniedDirNames {
		denied[d] = true
	}
	return &Watcher{
		fsWatcher:  fw,
		deniedDirs: denied,
		coalesce:   coalesceWindow,
		logger:     logger.With("component", "vaultfs"),
		Events:     make(chan Event, 64),
		Errors:     make(chan error, 8),
		pending:    make(map[string]fsnotify.Op),
		stopCh:     make(chan struct{}),
	}, nil
}

// AddRoot recursively registers root and every non-denied subdirectory
// with the underlying fsnotify watcher.
func (w *Watcher) AddRoot(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if path != root && w.deniedDirs[info.Name()] {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

// Run drains fsnotify's event and error channels, coalescing bursts, until
// ctx is cancelled or Stop is called.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.coalesce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.queue(ev)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fsnotify error", "error", err)
			select {
			case w.Errors <- err:
			default:
			}
		case <-ticker.C:
			w.flush()
		}
	}
}

// Stop halts Run and closes the underlying fsnotify watcher.
func (w *Watcher) Stop() {
	w.stopped.Do(func() {
		close(w.stopCh)
		_ = w.fsWatcher.Close()
	})
}

func (w *Watcher) queue(ev fsnotify.Event) {
	if !strings.HasSuffix(ev.Name, ".md") {
		return
	}
	if w.pathDenied(ev.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// Deleted always wins and is never downgraded by a later op within the
	// same coalescing window; everything else keeps the latest op seen.
	if existing, ok := w.pending[ev.Name]; ok && existing&fsnotify.Remove != 0 {
		return
	}
	w.pending[ev.Name] = ev.Op

	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !w.deniedDirs[info.Name()] {
			_ = w.fsWatcher.Add(ev.Name)
		}
	}
}

func (w *Watcher) pathDenied(path string) bool {
	for dir := filepath.Dir(path); dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		if w.deniedDirs[filepath.Base(dir)] {
			return true
		}
	}
	return false
}

func (w *Watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]fsnotify.Op)
	w.mu.Unlock()

	for path, op := range pending {
		evt, ok := w.toEvent(path, op)
		if !ok {
			continue
		}
		select {
		case w.Events <- evt:
		default:
			w.logger.Warn("event channel full, dropping event", "path", path)
		}
	}
}

func (w *Watcher) toEvent(path string, op fsnotify.Op) (Event, bool) {
	if op&fsnotify.Remove != 0 || op&fsnotify.Rename != 0 {
		return Event{AbsolutePath: path, Type: Deleted}, true
	}

	content, err := os.ReadFile(path) // #nosec G304 -- path comes from our own watch set
	if err != nil {
		if os.IsNotExist(err) {
			return Event{AbsolutePath: path, Type: Deleted}, true
		}
		w.logger.Warn("failed to read changed file", "path", path, "error", err)
		return Event{}, false
	}

	evtType := Changed
	if op&fsnotify.Create != 0 {
		evtType = Added
	}
	return Event{AbsolutePath: path, Type: evtType, Content: string(content)}, true
}
