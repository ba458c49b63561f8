package watch

import (
	"context"
	"testing"

	"github.com/tonk-labs/vfsrt/engine"
	"github.com/tonk-labs/vfsrt/engine/memengine"
)

func TestWatchFileFiresAndUnwatchStops(t *testing.T) {
	eng := memengine.New()
	ctx := context.Background()
	if err := eng.CreateFile(ctx, "/y", map[string]any{"mime": "text/plain"}); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	r := NewRegistry()
	fired := make(chan engine.DocumentData, 4)
	if err := r.WatchFile(eng, "w", "/y", func(doc engine.DocumentData) { fired <- doc }); err != nil {
		t.Fatalf("WatchFile: %v", err)
	}

	if err := eng.UpdateFile(ctx, "/y", map[string]any{"mime": "text/plain", "rev": 2}); err != nil {
		t.Fatalf("UpdateFile: %v", err)
	}
	select {
	case <-fired:
	default:
		t.Fatalf("expected fileChanged callback to fire")
	}

	if !r.Unwatch("w") {
		t.Fatalf("expected first unwatch to report found")
	}
	if r.Unwatch("w") {
		t.Fatalf("expected second unwatch to report not-found, but still be safe to call")
	}
	if r.Count() != 0 {
		t.Fatalf("expected registry empty after unwatch")
	}
}

func TestWatchDirectoryFiresOnCreate(t *testing.T) {
	eng := memengine.New()
	ctx := context.Background()

	r := NewRegistry()
	fired := make(chan engine.ChangeData, 4)
	if err := r.WatchDirectory(eng, "d", "/dir", func(cd engine.ChangeData) { fired <- cd }); err != nil {
		t.Fatalf("WatchDirectory: %v", err)
	}

	if err := eng.CreateFile(ctx, "/dir/a.txt", map[string]any{"mime": "text/plain"}); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	select {
	case cd := <-fired:
		if cd.Kind != engine.ChangeCreated {
			t.Fatalf("unexpected kind: %v", cd.Kind)
		}
	default:
		t.Fatalf("expected directoryChanged callback to fire")
	}
}

func TestReestablishDropsStaleWatchers(t *testing.T) {
	oldEng := memengine.New()
	ctx := context.Background()
	_ = oldEng.CreateFile(ctx, "/keep", map[string]any{"mime": "text/plain"})
	_ = oldEng.CreateFile(ctx, "/gone", map[string]any{"mime": "text/plain"})

	r := NewRegistry()
	_ = r.WatchFile(oldEng, "w1", "/keep", func(engine.DocumentData) {})
	_ = r.WatchFile(oldEng, "w2", "/gone", func(engine.DocumentData) {})

	newEng := memengine.New()
	_ = newEng.CreateFile(ctx, "/keep", map[string]any{"mime": "text/plain"})
	// "/gone" deliberately does not exist on newEng.

	survived := r.Reestablish(newEng)
	if survived != 1 {
		t.Fatalf("expected 1 surviving watcher, got %d", survived)
	}
	if r.Count() != 1 {
		t.Fatalf("expected stale watcher dropped, registry has %d entries", r.Count())
	}
}
