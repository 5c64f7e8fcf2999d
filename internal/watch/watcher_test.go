package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func startWatcher(t *testing.T) *Watcher {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	w, err := New(logger, 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func TestWatchFile_DebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "databases.json")
	_ = os.WriteFile(path, []byte("[]"), 0o644)

	w := startWatcher(t)
	var calls atomic.Int32
	if err := w.WatchFile("registry", path, func() { calls.Add(1) }); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		_ = os.WriteFile(path, []byte("[ ]"), 0o644)
	}

	eventually(t, 2*time.Second, 20*time.Millisecond, func() bool {
		return calls.Load() >= 1
	}, "file change not reported")
	time.Sleep(200 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1 (debounced)", n)
	}
}

func TestWatchFile_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "databases.json")
	_ = os.WriteFile(path, []byte("[]"), 0o644)

	w := startWatcher(t)
	var calls atomic.Int32
	if err := w.WatchFile("registry", path, func() { calls.Add(1) }); err != nil {
		t.Fatal(err)
	}

	_ = os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o644)
	time.Sleep(300 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Errorf("calls = %d, want 0 for unrelated file", n)
	}
}

func TestWatchFile_AtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "databases.json")
	_ = os.WriteFile(path, []byte("[]"), 0o644)

	w := startWatcher(t)
	var calls atomic.Int32
	if err := w.WatchFile("registry", path, func() { calls.Add(1) }); err != nil {
		t.Fatal(err)
	}

	tmp := filepath.Join(dir, ".tmp")
	_ = os.WriteFile(tmp, []byte(`[{"uuid":"x"}]`), 0o644)
	_ = os.Rename(tmp, path)

	eventually(t, 2*time.Second, 20*time.Millisecond, func() bool {
		return calls.Load() >= 1
	}, "rename over watched file not reported")
}

func TestWatchDir_Unwatch(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t)
	var calls atomic.Int32
	if err := w.WatchDir("db1", dir, func() { calls.Add(1) }); err != nil {
		t.Fatal(err)
	}

	_ = os.WriteFile(filepath.Join(dir, "000001.vlog"), []byte("x"), 0o644)
	eventually(t, 2*time.Second, 20*time.Millisecond, func() bool {
		return calls.Load() == 1
	}, "dir change not reported")

	w.Unwatch("db1")
	w.Unwatch("unknown")
	_ = os.WriteFile(filepath.Join(dir, "000002.vlog"), []byte("y"), 0o644)
	time.Sleep(300 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d after unwatch, want 1", n)
	}
}

func TestWatchDir_MissingDir(t *testing.T) {
	w := startWatcher(t)
	if err := w.WatchDir("db", filepath.Join(t.TempDir(), "missing"), func() {}); err == nil {
		t.Error("expected error watching a missing directory")
	}
}
