// Package watch runs the repair loop continuously: it monitors a target
// directory and re-processes any source file that is created or modified.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ppiankov/fixforge/internal/artifact"
)

// debounceDefault is the debounce interval for file events. Editors fire
// several write events per save; only the last one triggers a run.
const debounceDefault = 200 * time.Millisecond

// pollDefault is the polling interval when fsnotify is unavailable.
const pollDefault = 5 * time.Second

// ExecFunc runs the repair loop for one changed artifact.
// Injected by cli to break the import cycle.
type ExecFunc func(ctx context.Context, art artifact.Artifact) error

// Config holds watch daemon configuration.
type Config struct {
	TargetDir string        // directory to monitor
	StateDir  string        // PID lock location
	PollMode  bool          // fall back to polling if fsnotify unavailable
	Debounce  time.Duration // defaults to debounceDefault
	ExecFn    ExecFunc
}

// Watcher monitors a directory and auto-repairs changed source files.
type Watcher struct {
	cfg Config
}

// New creates a watcher with validated configuration.
func New(cfg Config) (*Watcher, error) {
	if cfg.TargetDir == "" {
		return nil, fmt.Errorf("target directory is required")
	}
	if cfg.StateDir == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	if cfg.ExecFn == nil {
		return nil, fmt.Errorf("execution function is required")
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = debounceDefault
	}
	return &Watcher{cfg: cfg}, nil
}

// Run starts the watch daemon. Blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	info, err := os.Stat(w.cfg.TargetDir)
	if err != nil {
		return fmt.Errorf("target dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("target %s is not a directory", w.cfg.TargetDir)
	}

	pidPath := filepath.Join(w.cfg.StateDir, "watch.pid")
	if err := acquirePIDLock(pidPath); err != nil {
		return fmt.Errorf("acquire PID lock: %w", err)
	}
	defer func() { _ = os.Remove(pidPath) }()

	slog.Info("watch starting", "dir", w.cfg.TargetDir, "debounce", w.cfg.Debounce)

	if w.cfg.PollMode {
		return w.runPollWatcher(ctx)
	}
	return w.runFSWatcher(ctx)
}

// runFSWatcher watches the target directory using fsnotify.
func (w *Watcher) runFSWatcher(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(w.cfg.TargetDir); err != nil {
		return fmt.Errorf("watch dir: %w", err)
	}

	slog.Info("watching for source changes", "mode", "fsnotify", "dir", w.cfg.TargetDir)

	var mu sync.Mutex
	pending := make(map[string]*time.Timer)

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			for _, t := range pending {
				t.Stop()
			}
			mu.Unlock()
			slog.Info("watch stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !artifact.IsSource(filepath.Base(event.Name)) {
				continue
			}

			path := event.Name
			mu.Lock()
			if t, exists := pending[path]; exists {
				t.Stop()
			}
			pending[path] = time.AfterFunc(w.cfg.Debounce, func() {
				w.process(ctx, path)
				mu.Lock()
				delete(pending, path)
				mu.Unlock()
			})
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("watcher error", "error", err)
		}
	}
}

// runPollWatcher watches the target directory using mod-time polling.
func (w *Watcher) runPollWatcher(ctx context.Context) error {
	slog.Info("watching for source changes", "mode", "poll", "dir", w.cfg.TargetDir, "interval", pollDefault)

	seen := make(map[string]time.Time)

	// baseline: files present at startup only run once modified
	if arts, err := artifact.Discover(w.cfg.TargetDir); err == nil {
		for _, art := range arts {
			if info, err := os.Stat(art.Path); err == nil {
				seen[art.Path] = info.ModTime()
			}
		}
	}

	ticker := time.NewTicker(pollDefault)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("watch stopped")
			return nil
		case <-ticker.C:
			arts, err := artifact.Discover(w.cfg.TargetDir)
			if err != nil {
				continue
			}
			for _, art := range arts {
				info, err := os.Stat(art.Path)
				if err != nil {
					continue
				}
				prev, known := seen[art.Path]
				if known && !info.ModTime().After(prev) {
					continue
				}
				seen[art.Path] = info.ModTime()
				w.process(ctx, art.Path)
			}
		}
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	slog.Info("source changed", "file", filepath.Base(path))
	if err := w.cfg.ExecFn(ctx, artifact.Artifact{Path: path}); err != nil {
		slog.Error("repair failed", "file", filepath.Base(path), "error", err)
	}
}

// acquirePIDLock writes the current PID and checks for stale locks.
func acquirePIDLock(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	if data, err := os.ReadFile(path); err == nil {
		pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err == nil {
			if process, err := os.FindProcess(pid); err == nil {
				if err := process.Signal(syscall.Signal(0)); err == nil {
					return fmt.Errorf("another watch is running (PID %d)", pid)
				}
			}
		}
		_ = os.Remove(path)
	}

	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600)
}
