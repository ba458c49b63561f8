package memengine

import (
	"context"
	"testing"

	"github.com/tonk-labs/vfsrt/engine"
)

func TestCreateReadFile(t *testing.T) {
	e := New()
	ctx := context.Background()

	if err := e.CreateFileWithBytes(ctx, "/x", engine.MIMEContent{MIME: "text/plain"}, []byte("hi")); err != nil {
		t.Fatalf("create: %v", err)
	}

	doc, err := e.ReadFile(ctx, "/x")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if doc.Bytes == nil || *doc.Bytes != "aGk=" {
		t.Fatalf("unexpected bytes: %+v", doc)
	}
	if doc.MIME() != "text/plain" {
		t.Fatalf("unexpected mime: %s", doc.MIME())
	}
}

func TestExistsMiss(t *testing.T) {
	e := New()
	ok, err := e.Exists(context.Background(), "/nope")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if ok {
		t.Fatalf("expected false for missing path")
	}
}

func TestWatchFileFires(t *testing.T) {
	e := New()
	ctx := context.Background()
	_ = e.CreateFile(ctx, "/y", engine.MIMEContent{MIME: "text/plain"})

	var got engine.DocumentData
	ch := make(chan struct{}, 1)
	handle, err := e.WatchFile("/y", func(d engine.DocumentData) {
		got = d
		ch <- struct{}{}
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	_ = e.UpdateFile(ctx, "/y", engine.MIMEContent{MIME: "text/markdown"})
	<-ch
	if got.MIME() != "text/markdown" {
		t.Fatalf("callback saw stale value: %+v", got)
	}

	handle.Stop()
	handle.Stop() // idempotent
}

func TestWatchDirectoryFires(t *testing.T) {
	e := New()
	ctx := context.Background()

	events := make(chan engine.ChangeData, 4)
	handle, err := e.WatchDirectory("/dir", func(c engine.ChangeData) { events <- c })
	if err != nil {
		t.Fatalf("watch dir: %v", err)
	}
	defer handle.Stop()

	if err := e.CreateFile(ctx, "/dir/a.txt", engine.MIMEContent{MIME: "text/plain"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	ev := <-events
	if ev.Kind != engine.ChangeCreated || ev.Path != "/dir/a.txt" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestListDirectory(t *testing.T) {
	e := New()
	ctx := context.Background()
	_ = e.CreateFile(ctx, "/app/index.html", engine.MIMEContent{MIME: "text/html"})
	_ = e.CreateFile(ctx, "/app/assets/app.js", engine.MIMEContent{MIME: "text/javascript"})

	entries, err := e.ListDirectory(ctx, "/app")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(entries), entries)
	}
}

func TestToBytesRoundTrip(t *testing.T) {
	e := New()
	ctx := context.Background()
	_ = e.CreateFileWithBytes(ctx, "/x", engine.MIMEContent{MIME: "text/plain"}, []byte("hi"))

	raw, manifest, err := e.ToBytes(ctx)
	if err != nil {
		t.Fatalf("tobytes: %v", err)
	}

	f := NewFactory()
	restored, err := f.FromBytes(ctx, raw)
	if err != nil {
		t.Fatalf("fromBytes: %v", err)
	}
	doc, err := restored.ReadFile(ctx, "/x")
	if err != nil {
		t.Fatalf("read restored: %v", err)
	}
	if doc.MIME() != "text/plain" || doc.Bytes == nil || *doc.Bytes != "aGk=" {
		t.Fatalf("round trip mismatch: %+v", doc)
	}

	bundle, err := f.BundleFromBytes(ctx, raw)
	if err != nil {
		t.Fatalf("bundleFromBytes: %v", err)
	}
	if bundle.GetManifest().RootID != manifest.RootID {
		t.Fatalf("manifest rootId mismatch")
	}
}

func TestForkToBytesNewRootID(t *testing.T) {
	e := New()
	ctx := context.Background()
	_, orig, err := e.ToBytes(ctx)
	if err != nil {
		t.Fatalf("tobytes: %v", err)
	}
	_, fork, err := e.ForkToBytes(ctx)
	if err != nil {
		t.Fatalf("forktobytes: %v", err)
	}
	if fork.RootID == orig.RootID {
		t.Fatalf("fork should mint a new rootId")
	}
}

func TestRenamePropagatesToDirWatchers(t *testing.T) {
	e := New()
	ctx := context.Background()
	_ = e.CreateFile(ctx, "/a/old.txt", engine.MIMEContent{MIME: "text/plain"})

	events := make(chan engine.ChangeData, 4)
	_, _ = e.WatchDirectory("/a", func(c engine.ChangeData) { events <- c })
	_, _ = e.WatchDirectory("/b", func(c engine.ChangeData) { events <- c })

	if err := e.Rename(ctx, "/a/old.txt", "/b/new.txt"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	for i := 0; i < 2; i++ {
		ev := <-events
		if ev.Kind != engine.ChangeRenamed {
			t.Fatalf("expected renamed event, got %+v", ev)
		}
	}
}
