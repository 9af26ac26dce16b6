package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/fixforge/internal/artifact"
)

func fakeExecFn(ch chan<- string) ExecFunc {
	return func(_ context.Context, art artifact.Artifact) error {
		ch <- art.Path
		return nil
	}
}

func TestNewValidation(t *testing.T) {
	noop := func(context.Context, artifact.Artifact) error { return nil }

	t.Run("missing target dir", func(t *testing.T) {
		_, err := New(Config{StateDir: "/tmp/state", ExecFn: noop})
		if err == nil {
			t.Error("expected error for missing target dir")
		}
	})
	t.Run("missing state dir", func(t *testing.T) {
		_, err := New(Config{TargetDir: "/tmp/src", ExecFn: noop})
		if err == nil {
			t.Error("expected error for missing state dir")
		}
	})
	t.Run("missing exec func", func(t *testing.T) {
		_, err := New(Config{TargetDir: "/tmp/src", StateDir: "/tmp/state"})
		if err == nil {
			t.Error("expected error for missing exec func")
		}
	})
	t.Run("valid config", func(t *testing.T) {
		w, err := New(Config{TargetDir: "/tmp/src", StateDir: "/tmp/state", ExecFn: noop})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if w.cfg.Debounce != debounceDefault {
			t.Errorf("expected default debounce, got %v", w.cfg.Debounce)
		}
	})
}

func TestFSWatcherDetectsSourceChange(t *testing.T) {
	target := t.TempDir()
	events := make(chan string, 10)

	w, err := New(Config{
		TargetDir: target,
		StateDir:  t.TempDir(),
		Debounce:  20 * time.Millisecond,
		ExecFn:    fakeExecFn(events),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// give the watcher time to register
	time.Sleep(200 * time.Millisecond)

	srcPath := filepath.Join(target, "module.py")
	if err := os.WriteFile(srcPath, []byte("print('hi')\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-events:
		if got != srcPath {
			t.Errorf("expected %s, got %s", srcPath, got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not detect new source file")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned error: %v", err)
	}
}

func TestFSWatcherIgnoresNonSource(t *testing.T) {
	target := t.TempDir()
	events := make(chan string, 10)

	w, err := New(Config{
		TargetDir: target,
		StateDir:  t.TempDir(),
		Debounce:  20 * time.Millisecond,
		ExecFn:    fakeExecFn(events),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(200 * time.Millisecond)

	// harness files and non-Python files must not trigger runs
	for _, name := range []string{"test_module.py", "notes.txt", "conftest.py"} {
		if err := os.WriteFile(filepath.Join(target, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case got := <-events:
		t.Errorf("unexpected event for %s", got)
	case <-time.After(500 * time.Millisecond):
	}

	cancel()
	<-done
}

func TestDebounceCollapsesBursts(t *testing.T) {
	target := t.TempDir()
	events := make(chan string, 10)

	w, err := New(Config{
		TargetDir: target,
		StateDir:  t.TempDir(),
		Debounce:  300 * time.Millisecond,
		ExecFn:    fakeExecFn(events),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(200 * time.Millisecond)

	// rapid successive writes, as an editor save would produce
	srcPath := filepath.Join(target, "busy.py")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(srcPath, []byte("pass\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	// one run after the debounce window
	select {
	case <-events:
	case <-time.After(3 * time.Second):
		t.Fatal("debounced run never fired")
	}

	select {
	case <-events:
		t.Error("burst produced more than one run")
	case <-time.After(500 * time.Millisecond):
	}

	cancel()
	<-done
}

func TestRunRejectsMissingTarget(t *testing.T) {
	w, err := New(Config{
		TargetDir: filepath.Join(t.TempDir(), "nope"),
		StateDir:  t.TempDir(),
		ExecFn:    func(context.Context, artifact.Artifact) error { return nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Run(context.Background()); err == nil {
		t.Error("expected error for missing target dir")
	}
}

func TestPIDLock(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "test.pid")

	// First acquisition should succeed.
	if err := acquirePIDLock(pidPath); err != nil {
		t.Fatalf("first lock: %v", err)
	}

	// Second acquisition by same process should fail (process is still running).
	if err := acquirePIDLock(pidPath); err == nil {
		t.Error("expected error on duplicate PID lock")
	}

	// Clean up.
	_ = os.Remove(pidPath)

	// Stale PID lock should be cleaned up.
	if err := os.WriteFile(pidPath, []byte("999999999"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := acquirePIDLock(pidPath); err != nil {
		t.Fatalf("stale lock cleanup: %v", err)
	}
	_ = os.Remove(pidPath)
}
