package reload

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

type countingRestarter struct {
	count atomic.Int32
}

func (r *countingRestarter) RestartFresh() error {
	r.count.Add(1)
	return nil
}

func TestWatcherRestartsOnFileWrite(t *testing.T) {
	dir := t.TempDir()
	libFile := filepath.Join(dir, "library.lua")
	if err := os.WriteFile(libFile, []byte("-- v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := &countingRestarter{}
	w, err := New(r, dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(libFile, []byte("-- v2"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.count.Load() > 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected a restart to be triggered after the file write settled")
}

func TestWatcherToleratesMissingPath(t *testing.T) {
	r := &countingRestarter{}
	w, err := New(r, filepath.Join(t.TempDir(), "does-not-exist-yet"))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	w.Stop()
}
