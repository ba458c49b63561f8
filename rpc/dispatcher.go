package rpc

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/tonk-labs/vfsrt/engine"
	"github.com/tonk-labs/vfsrt/internal/logging"
	"github.com/tonk-labs/vfsrt/lifecycle"
	"github.com/tonk-labs/vfsrt/store"
	"github.com/tonk-labs/vfsrt/watch"
)

func decodeB64(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }

// batchSize is the fixed parallel-batch-drain width for queue replay.
const batchSize = 10

// Broadcaster delivers an envelope to every connected client.
type Broadcaster interface {
	Broadcast(envelope any)
}

// alwaysAllowed is the admission allow-list serviced immediately even
// while RuntimeState is not Ready.
var alwaysAllowed = map[Op]bool{
	OpInit:              true,
	OpLoadBundle:        true,
	OpInitializeFromUrl: true,
	OpGetServerUrl:      true,
	OpSetAppSlug:        true,
}

// Dispatcher is the RPC Dispatcher. Every call that can move
// RuntimeState to Ready (an explicit loadBundle/initializeFromUrl, or the
// caller observing a successful Activate) triggers an immediate drain of
// whatever accumulated in the queue while not Ready.
type Dispatcher struct {
	controller *lifecycle.Controller
	registry   *watch.Registry
	cache      *store.Cache
	inner      Broadcaster
	queue      *Queue
	fetcher    lifecycle.BundleFetcher

	mu       sync.Mutex
	draining bool
}

// NewDispatcher wires the Dispatcher. fetcher may be nil if
// initializeFromUrl is never used.
func NewDispatcher(controller *lifecycle.Controller, registry *watch.Registry, cache *store.Cache, inner Broadcaster, fetcher lifecycle.BundleFetcher) *Dispatcher {
	return &Dispatcher{
		controller: controller,
		registry:   registry,
		cache:      cache,
		inner:      inner,
		queue:      NewQueue(),
		fetcher:    fetcher,
	}
}

// OnActivated must be called by whoever invokes Controller.Activate, once,
// with its result. When auto-boot succeeded without an explicit
// loadBundle, this is the only signal that triggers the initial drain.
func (d *Dispatcher) OnActivated(env lifecycle.ReadinessEnvelope) {
	if !env.NeedsBundle {
		go d.Drain(context.Background())
	}
}

// Handle admits or enqueues req. A nil return means no response is to be
// sent for this id: req was queued (the messageQueued acknowledgment has
// already gone out via Broadcast), req was setAppSlug, or req was a
// loadBundle/initializeFromUrl superseded by a newer load.
func (d *Dispatcher) Handle(ctx context.Context, req Request) *Response {
	state, scope := d.controller.Snapshot()
	if state.Kind != lifecycle.Ready && !alwaysAllowed[req.Type] {
		pos := d.queue.Enqueue(req)
		d.inner.Broadcast(map[string]any{
			"type":          "messageQueued",
			"id":            req.ID,
			"originalType":  string(req.Type),
			"queuePosition": pos,
		})
		return nil
	}
	return d.execute(ctx, req, state, scope)
}

// Drain services every currently queued request in sequential batches of
// batchSize, concurrently within each batch. It is safe to
// call concurrently with itself; only one drain runs at a time.
func (d *Dispatcher) Drain(ctx context.Context) {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		return
	}
	d.draining = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.draining = false
		d.mu.Unlock()
	}()

	items := d.queue.DrainAll()
	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]

		var wg sync.WaitGroup
		for _, req := range batch {
			wg.Add(1)
			go func(req Request) {
				defer wg.Done()
				state, scope := d.controller.Snapshot()
				if resp := d.execute(ctx, req, state, scope); resp != nil {
					d.inner.Broadcast(*resp)
				}
			}(req)
		}
		wg.Wait()
	}
}

func (d *Dispatcher) execute(ctx context.Context, req Request, state lifecycle.State, scope string) *Response {
	switch req.Type {
	case OpSetAppSlug:
		if err := d.controller.SetAppSlug(req.Slug); err != nil {
			return fail(req.Type, req.ID, err)
		}
		return nil // broadcast-only, no id-bearing response

	case OpInit:
		if err := d.controller.Init(ctx); err != nil {
			return fail(req.Type, req.ID, err)
		}
		return ok(req.Type, req.ID, map[string]any{"success": true})

	case OpLoadBundle:
		if err := d.controller.LoadBundle(ctx, req.BundleBytes, req.ServerURL); err != nil {
			if errors.Is(err, lifecycle.ErrSuperseded) {
				return nil // superseded calls receive no response
			}
			return fail(req.Type, req.ID, err)
		}
		go d.Drain(context.Background())
		return ok(req.Type, req.ID, map[string]any{"success": true})

	case OpInitializeFromUrl:
		if d.fetcher == nil {
			return fail(req.Type, req.ID, errors.New("initializeFromUrl: no bundle fetcher configured"))
		}
		manifestURL := req.ManifestURL
		if manifestURL == "" {
			manifestURL = req.WasmURL
		}
		if err := d.controller.InitializeFromUrl(ctx, d.fetcher, manifestURL, req.WsURL); err != nil {
			if errors.Is(err, lifecycle.ErrSuperseded) {
				return nil
			}
			return fail(req.Type, req.ID, err)
		}
		go d.Drain(context.Background())
		return ok(req.Type, req.ID, map[string]any{"success": true})

	case OpGetServerUrl:
		url, _ := d.cache.ReadServerURL()
		if !req.IncludeQRCode || url == "" {
			return ok(req.Type, req.ID, url)
		}
		png, err := PairingQRCode(url, 0)
		if err != nil {
			// QR rendering is a pairing convenience on top of the plain
			// URL, not the op's primary contract; degrade rather than fail.
			return ok(req.Type, req.ID, url)
		}
		return ok(req.Type, req.ID, map[string]any{
			"serverUrl": url,
			"qrCodePng": base64.StdEncoding.EncodeToString(png),
		})
	}

	eng, err := state.RequireEngine()
	if err != nil {
		return fail(req.Type, req.ID, err)
	}
	return d.executeEngineOp(ctx, req, eng, scope)
}

func (d *Dispatcher) executeEngineOp(ctx context.Context, req Request, eng engine.Engine, scope string) *Response {
	switch req.Type {
	case OpReadFile:
		doc, err := eng.ReadFile(ctx, req.Path)
		if err != nil {
			return fail(req.Type, req.ID, err)
		}
		return ok(req.Type, req.ID, doc)

	case OpWriteFile:
		if req.Content == nil {
			return fail(req.Type, req.ID, errors.New("writeFile: missing content"))
		}
		var err error
		switch {
		case req.Content.Bytes != nil:
			raw, decodeErr := decodeB64(*req.Content.Bytes)
			if decodeErr != nil {
				return fail(req.Type, req.ID, decodeErr)
			}
			if req.Create {
				err = eng.CreateFileWithBytes(ctx, req.Path, req.Content.Content, raw)
			} else {
				err = eng.UpdateFileWithBytes(ctx, req.Path, req.Content.Content, raw)
			}
		default:
			if req.Create {
				err = eng.CreateFile(ctx, req.Path, req.Content.Content)
			} else {
				err = eng.UpdateFile(ctx, req.Path, req.Content.Content)
			}
		}
		if err != nil {
			return fail(req.Type, req.ID, err)
		}
		return ok(req.Type, req.ID, map[string]any{"success": true})

	case OpDeleteFile:
		if err := eng.DeleteFile(ctx, req.Path); err != nil {
			return fail(req.Type, req.ID, err)
		}
		return ok(req.Type, req.ID, map[string]any{"success": true})

	case OpRename:
		if err := eng.Rename(ctx, req.OldPath, req.NewPath); err != nil {
			return fail(req.Type, req.ID, err)
		}
		return ok(req.Type, req.ID, map[string]any{"success": true})

	case OpListDirectory:
		nodes, err := eng.ListDirectory(ctx, req.Path)
		if err != nil {
			return fail(req.Type, req.ID, err)
		}
		return ok(req.Type, req.ID, nodes)

	case OpExists:
		exists, err := eng.Exists(ctx, req.Path)
		if err != nil {
			return fail(req.Type, req.ID, err)
		}
		return ok(req.Type, req.ID, exists)

	case OpWatchFile:
		watchID := req.ID
		err := d.registry.WatchFile(eng, watchID, req.Path, func(doc engine.DocumentData) {
			d.inner.Broadcast(map[string]any{
				"type":         "fileChanged",
				"watchId":      watchID,
				"documentData": doc,
			})
		})
		if err != nil {
			return fail(req.Type, req.ID, err)
		}
		return ok(req.Type, req.ID, map[string]any{"success": true})

	case OpUnwatchFile, OpUnwatchDirectory:
		if !d.registry.Unwatch(req.ID) {
			// logged as a warning; still reports success (idempotent).
			logging.New("rpc").Warnf("unwatch: no watcher registered under id %q", req.ID)
		}
		return ok(req.Type, req.ID, map[string]any{"success": true})

	case OpWatchDirectory:
		watchID := req.ID
		err := d.registry.WatchDirectory(eng, watchID, req.Path, func(cd engine.ChangeData) {
			d.inner.Broadcast(map[string]any{
				"type":       "directoryChanged",
				"watchId":    watchID,
				"path":       cd.Path,
				"changeData": cd,
			})
		})
		if err != nil {
			return fail(req.Type, req.ID, err)
		}
		return ok(req.Type, req.ID, map[string]any{"success": true})

	case OpToBytes:
		bundleBytes, manifest, err := eng.ToBytes(ctx)
		if err != nil {
			return fail(req.Type, req.ID, err)
		}
		return okBytes(req.Type, req.ID, bundleBytes, manifest.RootID)

	case OpForkToBytes:
		bundleBytes, manifest, err := eng.ForkToBytes(ctx)
		if err != nil {
			return fail(req.Type, req.ID, err)
		}
		return okBytes(req.Type, req.ID, bundleBytes, manifest.RootID)
	}

	return fail(req.Type, req.ID, fmt.Errorf("rpc: unknown op %q", req.Type))
}
