// Package watch is the Watch Registry: it owns the
// mapping from caller-chosen watch id to a live engine subscription and
// knows how to re-establish every subscription against a fresh engine
// after a reconnect.
package watch

import (
	"sync"

	"github.com/tonk-labs/vfsrt/engine"
)

type kind int

const (
	kindFile kind = iota
	kindDirectory
)

type entry struct {
	path   string
	kind   kind
	handle engine.WatcherHandle
	fileCB func(engine.DocumentData)
	dirCB  func(engine.ChangeData)
}

// Registry is owned exclusively by the runtime; handles are never shared
// with clients.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// WatchFile subscribes id to path on eng, replacing any existing
// subscription under the same id.
func (r *Registry) WatchFile(eng engine.Engine, id, path string, onChange func(engine.DocumentData)) error {
	handle, err := eng.WatchFile(path, onChange)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if old, ok := r.entries[id]; ok {
		old.handle.Stop()
	}
	r.entries[id] = &entry{path: path, kind: kindFile, handle: handle, fileCB: onChange}
	r.mu.Unlock()
	return nil
}

// WatchDirectory subscribes id to path on eng.
func (r *Registry) WatchDirectory(eng engine.Engine, id, path string, onChange func(engine.ChangeData)) error {
	handle, err := eng.WatchDirectory(path, onChange)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if old, ok := r.entries[id]; ok {
		old.handle.Stop()
	}
	r.entries[id] = &entry{path: path, kind: kindDirectory, handle: handle, dirCB: onChange}
	r.mu.Unlock()
	return nil
}

// Unwatch stops and removes the subscription under id. It is always
// idempotent: the return value reports only whether id was present, so
// the caller can log a warning on a miss, but the RPC response is always
// success.
func (r *Registry) Unwatch(id string) (found bool) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.handle.Stop()
	return true
}

// Count returns the number of live subscriptions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Reestablish re-subscribes every live entry against eng (the engine that
// just replaced a stale connection after reconnect, or a fresh engine
// after loadBundle). A subscription whose path no longer resolves on the
// new engine is dropped rather than resurrected. Returns the count of
// subscriptions that survived.
func (r *Registry) Reestablish(eng engine.Engine) int {
	r.mu.Lock()
	snapshot := make(map[string]*entry, len(r.entries))
	for id, e := range r.entries {
		snapshot[id] = e
	}
	r.mu.Unlock()

	survived := 0
	for id, e := range snapshot {
		var (
			handle engine.WatcherHandle
			err    error
		)
		switch e.kind {
		case kindFile:
			handle, err = eng.WatchFile(e.path, e.fileCB)
		case kindDirectory:
			handle, err = eng.WatchDirectory(e.path, e.dirCB)
		}
		r.mu.Lock()
		if err != nil {
			delete(r.entries, id)
		} else if cur, ok := r.entries[id]; ok && cur == e {
			cur.handle = handle
			survived++
		}
		r.mu.Unlock()
	}
	return survived
}
