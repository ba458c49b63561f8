package memengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tonk-labs/vfsrt/engine"
)

func TestFSWatcherSeedsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>hi</h1>"), 0o644); err != nil {
		t.Fatalf("write seed file: %v", err)
	}

	e := New()
	fw, err := NewFSWatcher(dir, "/app", e)
	if err != nil {
		t.Fatalf("NewFSWatcher: %v", err)
	}
	defer fw.Stop()

	doc, err := e.ReadFile(context.Background(), "/app/index.html")
	if err != nil {
		t.Fatalf("expected seeded file to be readable: %v", err)
	}
	if doc.MIME() != "text/html" {
		t.Fatalf("unexpected mime: %s", doc.MIME())
	}
}

func TestFSWatcherMirrorsWritesAfterStart(t *testing.T) {
	dir := t.TempDir()

	e := New()
	fw, err := NewFSWatcher(dir, "/app", e)
	if err != nil {
		t.Fatalf("NewFSWatcher: %v", err)
	}
	fw.Start()
	defer fw.Stop()

	ctx := context.Background()
	ch := make(chan engine.ChangeData, 1)
	if _, err := e.WatchDirectory("/app", func(c engine.ChangeData) { ch <- c }); err != nil {
		t.Fatalf("WatchDirectory: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "new.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write new file: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the mirrored write to fire a directory change")
	}

	doc, err := e.ReadFile(ctx, "/app/new.txt")
	if err != nil {
		t.Fatalf("expected mirrored file to be readable: %v", err)
	}
	if doc.Bytes == nil {
		t.Fatalf("expected mirrored file to carry bytes")
	}
}

func TestFSWatcherMirrorsDeletes(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "gone.txt")
	if err := os.WriteFile(target, []byte("bye"), 0o644); err != nil {
		t.Fatalf("write seed file: %v", err)
	}

	e := New()
	fw, err := NewFSWatcher(dir, "/app", e)
	if err != nil {
		t.Fatalf("NewFSWatcher: %v", err)
	}
	fw.Start()
	defer fw.Stop()

	if err := os.Remove(target); err != nil {
		t.Fatalf("remove: %v", err)
	}

	ctx := context.Background()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if exists, _ := e.Exists(ctx, "/app/gone.txt"); !exists {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected deletion to be mirrored into the engine")
}
