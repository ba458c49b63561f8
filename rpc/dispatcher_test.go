package rpc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tonk-labs/vfsrt/engine"
	"github.com/tonk-labs/vfsrt/engine/memengine"
	"github.com/tonk-labs/vfsrt/lifecycle"
	"github.com/tonk-labs/vfsrt/store"
	"github.com/tonk-labs/vfsrt/watch"
)

type recordingBroadcaster struct {
	mu   sync.Mutex
	msgs []any
}

func (r *recordingBroadcaster) Broadcast(env any) {
	r.mu.Lock()
	r.msgs = append(r.msgs, env)
	r.mu.Unlock()
}

func (r *recordingBroadcaster) snapshot() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]any, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// memFactory builds a fresh memengine.Engine for each loadBundle/init
// attempt, ignoring bundleBytes — good enough to exercise the
// Dispatcher's admission and drain logic without a real bundle codec.
type memFactory struct{}

func (memFactory) FromBytes(ctx context.Context, b []byte) (engine.Engine, error) {
	return memengine.New(), nil
}

func (memFactory) BundleFromBytes(ctx context.Context, b []byte) (engine.Bundle, error) {
	return nil, errors.New("unused in tests")
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *lifecycle.Controller, *recordingBroadcaster) {
	t.Helper()
	bc := &recordingBroadcaster{}
	cache := store.NewCache(store.NewMemoryStorage())
	registry := watch.NewRegistry()

	controller := lifecycle.NewController(memFactory{}, cache, bc, lifecycle.Config{
		ActivateTimeout: 200 * time.Millisecond,
		ProbeAttempts:   1,
		ProbeInterval:   time.Millisecond,
	})
	d := NewDispatcher(controller, registry, cache, bc, nil)
	_ = controller.Activate(context.Background())
	return d, controller, bc
}

func waitForBroadcast(t *testing.T, bc *recordingBroadcaster, match func(any) bool, timeout time.Duration) any {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, m := range bc.snapshot() {
			if match(m) {
				return m
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for matching broadcast")
	return nil
}

// TestQueueBeforeReadyDrainsOnLoadBundle covers the case where a readFile
// admitted while not Ready is queued, then serviced once loadBundle
// completes and the engine reaches Ready.
func TestQueueBeforeReadyDrainsOnLoadBundle(t *testing.T) {
	d, _, bc := newTestDispatcher(t)

	resp := d.Handle(context.Background(), Request{Type: OpReadFile, ID: "a", Path: "/x"})
	if resp != nil {
		t.Fatalf("expected nil (queued), got %+v", resp)
	}
	queued := waitForBroadcast(t, bc, func(m any) bool {
		mm, ok := m.(map[string]any)
		return ok && mm["type"] == "messageQueued" && mm["id"] == "a"
	}, time.Second)
	mm := queued.(map[string]any)
	if mm["originalType"] != "readFile" || mm["queuePosition"] != 1 {
		t.Fatalf("unexpected messageQueued: %+v", mm)
	}

	loadResp := d.Handle(context.Background(), Request{Type: OpLoadBundle, ID: "b", ServerURL: "https://relay.example"})
	if loadResp == nil || !loadResp.Success {
		t.Fatalf("expected loadBundle success, got %+v", loadResp)
	}

	waitForBroadcast(t, bc, func(m any) bool {
		mm, ok := m.(map[string]any)
		return ok && mm["type"] == "swReady"
	}, time.Second)

	waitForBroadcast(t, bc, func(m any) bool {
		resp, ok := m.(Response)
		return ok && resp.Type == OpReadFile && resp.ID == "a"
	}, time.Second)
}

// TestExistsMiss covers an exists check against a path that isn't there.
func TestExistsMiss(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	if err := loadEmptyBundle(d); err != nil {
		t.Fatalf("loadBundle: %v", err)
	}

	resp := d.Handle(context.Background(), Request{Type: OpExists, ID: "c", Path: "/nope"})
	if resp == nil || !resp.Success {
		t.Fatalf("expected success, got %+v", resp)
	}
	if exists, ok := resp.Data.(bool); !ok || exists {
		t.Fatalf("expected data:false, got %+v", resp.Data)
	}
}

// TestGetServerUrlWithQRCode covers getServerUrl's IncludeQRCode branch:
// the plain URL still comes back, now alongside a base64 PNG.
func TestGetServerUrlWithQRCode(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	if err := loadEmptyBundle(d); err != nil {
		t.Fatalf("loadBundle: %v", err)
	}

	resp := d.Handle(context.Background(), Request{Type: OpGetServerUrl, ID: "q", IncludeQRCode: true})
	if resp == nil || !resp.Success {
		t.Fatalf("expected success, got %+v", resp)
	}
	data, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected map data when IncludeQRCode is set, got %T", resp.Data)
	}
	if data["serverUrl"] != "https://relay.example" {
		t.Fatalf("unexpected serverUrl: %+v", data)
	}
	png, _ := data["qrCodePng"].(string)
	if png == "" {
		t.Fatalf("expected a non-empty base64 qrCodePng")
	}

	plain := d.Handle(context.Background(), Request{Type: OpGetServerUrl, ID: "p"})
	if plain == nil || !plain.Success || plain.Data != "https://relay.example" {
		t.Fatalf("expected plain string reply without IncludeQRCode, got %+v", plain)
	}
}

// TestWatchLifecycle covers watch, mutate, observe
// fileChanged, then idempotent double-unwatch.
func TestWatchLifecycle(t *testing.T) {
	d, ctrl, bc := newTestDispatcher(t)
	if err := loadEmptyBundle(d); err != nil {
		t.Fatalf("loadBundle: %v", err)
	}
	state, _ := ctrl.Snapshot()
	eng, _ := state.RequireEngine()
	if err := eng.CreateFile(context.Background(), "/y", map[string]any{"mime": "text/plain"}); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	resp := d.Handle(context.Background(), Request{Type: OpWatchFile, ID: "w", Path: "/y"})
	if resp == nil || !resp.Success {
		t.Fatalf("watchFile failed: %+v", resp)
	}

	if err := eng.UpdateFile(context.Background(), "/y", map[string]any{"mime": "text/plain", "rev": 2}); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	waitForBroadcast(t, bc, func(m any) bool {
		mm, ok := m.(map[string]any)
		return ok && mm["type"] == "fileChanged" && mm["watchId"] == "w"
	}, time.Second)

	resp1 := d.Handle(context.Background(), Request{Type: OpUnwatchFile, ID: "w"})
	resp2 := d.Handle(context.Background(), Request{Type: OpUnwatchFile, ID: "w"})
	if resp1 == nil || !resp1.Success || resp2 == nil || !resp2.Success {
		t.Fatalf("expected both unwatch calls to succeed: %+v %+v", resp1, resp2)
	}
}

func loadEmptyBundle(d *Dispatcher) error {
	return d.controller.LoadBundle(context.Background(), []byte("bundle"), "https://relay.example")
}
