package schema

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nerrad567/gray-logic-resgraph/internal/pattern"
	"github.com/nerrad567/gray-logic-resgraph/internal/resource"
)

// defaultDebounce coalesces the burst of events an editor save produces.
const defaultDebounce = 250 * time.Millisecond

// Logger is the logging interface used by the watcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Watcher reloads definition files when they change and applies new types
// and patterns to the registries.
//
// Directories are watched rather than files, so editors that save by
// rename are seen. Events for other files in those directories are ignored.
type Watcher struct {
	paths   []string
	watched map[string]bool // cleaned absolute paths
	types   *resource.Types
	catalog *pattern.Catalog

	mu       sync.Mutex
	logger   Logger
	debounce time.Duration
	onReload func(Result, error)
}

// NewWatcher creates a watcher for paths.
func NewWatcher(paths []string, types *resource.Types, catalog *pattern.Catalog) (*Watcher, error) {
	watched := make(map[string]bool, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", p, err)
		}
		watched[abs] = true
	}
	return &Watcher{
		paths:    append([]string(nil), paths...),
		watched:  watched,
		types:    types,
		catalog:  catalog,
		logger:   noopLogger{},
		debounce: defaultDebounce,
	}, nil
}

// SetLogger sets the logger.
func (w *Watcher) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	w.mu.Lock()
	w.logger = logger
	w.mu.Unlock()
}

// SetDebounce sets the quiet period before a reload.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	w.debounce = d
	w.mu.Unlock()
}

// OnReload sets a callback run after every reload triggered by a file change.
func (w *Watcher) OnReload(fn func(Result, error)) {
	w.mu.Lock()
	w.onReload = fn
	w.mu.Unlock()
}

// Reload loads all files and applies them. A file that fails to load is
// reported without blocking the others.
func (w *Watcher) Reload() (Result, error) {
	var files []*File
	var errs []error
	for _, p := range w.paths {
		f, err := LoadFile(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		files = append(files, f)
	}
	res, err := Apply(w.types, w.catalog, files)
	return res, errors.Join(append(errs, err)...)
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fsw.Close()

	dirs := make(map[string]bool)
	for p := range w.watched {
		dirs[filepath.Dir(p)] = true
	}
	for d := range dirs {
		if err := fsw.Add(d); err != nil {
			return fmt.Errorf("watching %s: %w", d, err)
		}
	}

	w.mu.Lock()
	debounce := w.debounce
	w.mu.Unlock()

	// Armed only once a relevant event arrives.
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log().Warn("definition watcher error", "error", err)

		case <-timer.C:
			w.reloadAndReport()
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	abs, err := filepath.Abs(ev.Name)
	return err == nil && w.watched[abs]
}

func (w *Watcher) reloadAndReport() {
	res, err := w.Reload()
	logger := w.log()
	if err != nil {
		logger.Warn("definition reload incomplete", "error", err)
	}
	if !res.Empty() {
		logger.Info("definitions reloaded",
			"types", res.Types,
			"patterns", res.Patterns,
			"replaced", res.Replaced,
		)
	}

	w.mu.Lock()
	fn := w.onReload
	w.mu.Unlock()
	if fn != nil {
		fn(res, err)
	}
}

func (w *Watcher) log() Logger {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.logger
}
