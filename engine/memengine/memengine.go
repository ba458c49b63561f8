package memengine

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/tonk-labs/vfsrt/engine"
)

type node struct {
	cell *Cell[engine.DocumentData]
}

// Engine is an in-memory, single-process engine.Engine. It is not a CRDT:
// there is no replication and no conflict resolution, only the read/write/
// watch surface the rest of the runtime depends on.
type Engine struct {
	mu         sync.RWMutex
	nodes      map[string]*node // path -> node, path always starts with "/"
	dirWatch   map[string][]dirWatcher
	connected  bool
	manifest   engine.Manifest
	lastBearer string
}

type dirWatcher struct {
	id string
	cb func(engine.ChangeData)
}

// New creates an empty Engine whose manifest carries a freshly generated
// RootID.
func New() *Engine {
	return &Engine{
		nodes:    make(map[string]*node),
		dirWatch: make(map[string][]dirWatcher),
		manifest: engine.Manifest{RootID: newRootID()},
	}
}

func newRootID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func normalize(p string) string {
	if p == "" {
		p = "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func (e *Engine) ConnectWebsocket(_ context.Context, _ string, bearerToken string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = true
	e.lastBearer = bearerToken
	return nil
}

// LastBearerToken returns the bearer token passed to the most recent
// ConnectWebsocket call, or "" if none carried one. Exercised by tests
// that verify the Health Monitor's reconnect dial attaches relay auth.
func (e *Engine) LastBearerToken() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastBearer
}

func (e *Engine) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

// SetConnected lets tests and the health monitor's stub simulate link
// flaps without a real relay.
func (e *Engine) SetConnected(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = v
}

func (e *Engine) ReadFile(_ context.Context, p string) (engine.DocumentData, error) {
	p = normalize(p)
	e.mu.RLock()
	n, ok := e.nodes[p]
	e.mu.RUnlock()
	if !ok {
		return engine.DocumentData{}, fmt.Errorf("%w: %s", engine.ErrNotFound, p)
	}
	return n.cell.Get(), nil
}

func (e *Engine) CreateFile(_ context.Context, p string, content any) error {
	return e.put(p, engine.DocumentData{Type: "file", Content: content}, true)
}

func (e *Engine) CreateFileWithBytes(_ context.Context, p string, content any, bytes []byte) error {
	b64 := encodeBytes(bytes)
	return e.put(p, engine.DocumentData{Type: "file", Content: content, Bytes: &b64}, true)
}

func (e *Engine) UpdateFile(_ context.Context, p string, content any) error {
	return e.put(p, engine.DocumentData{Type: "file", Content: content}, false)
}

func (e *Engine) UpdateFileWithBytes(_ context.Context, p string, content any, bytes []byte) error {
	b64 := encodeBytes(bytes)
	return e.put(p, engine.DocumentData{Type: "file", Content: content, Bytes: &b64}, false)
}

func (e *Engine) put(p string, doc engine.DocumentData, create bool) error {
	p = normalize(p)
	e.mu.Lock()
	n, ok := e.nodes[p]
	if !ok {
		if !create {
			e.mu.Unlock()
			return fmt.Errorf("%w: %s", engine.ErrNotFound, p)
		}
		n = &node{cell: NewCell(doc)}
		e.nodes[p] = n
		e.mu.Unlock()
		e.notifyDir(p, engine.ChangeCreated)
		return nil
	}
	e.mu.Unlock()
	n.cell.Set(doc)
	e.notifyDir(p, engine.ChangeUpdated)
	return nil
}

func (e *Engine) DeleteFile(_ context.Context, p string) error {
	p = normalize(p)
	e.mu.Lock()
	if _, ok := e.nodes[p]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", engine.ErrNotFound, p)
	}
	delete(e.nodes, p)
	e.mu.Unlock()
	e.notifyDir(p, engine.ChangeDeleted)
	return nil
}

func (e *Engine) Rename(_ context.Context, oldPath, newPath string) error {
	oldPath, newPath = normalize(oldPath), normalize(newPath)
	e.mu.Lock()
	n, ok := e.nodes[oldPath]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", engine.ErrNotFound, oldPath)
	}
	delete(e.nodes, oldPath)
	e.nodes[newPath] = n
	e.mu.Unlock()
	e.notifyDir(oldPath, engine.ChangeRenamed)
	e.notifyDir(newPath, engine.ChangeRenamed)
	return nil
}

func (e *Engine) Exists(_ context.Context, p string) (bool, error) {
	p = normalize(p)
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.nodes[p]
	return ok, nil
}

func (e *Engine) ListDirectory(_ context.Context, p string) ([]engine.RefNode, error) {
	p = normalize(p)
	prefix := p
	if prefix != "/" {
		prefix += "/"
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	seen := make(map[string]bool)
	var out []engine.RefNode
	for candidate := range e.nodes {
		if candidate == p || !strings.HasPrefix(candidate, prefix) {
			continue
		}
		rest := strings.TrimPrefix(candidate, prefix)
		name := rest
		isDir := false
		if idx := strings.Index(rest, "/"); idx >= 0 {
			name = rest[:idx]
			isDir = true
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, engine.RefNode{
			Name:  name,
			Path:  prefix + name,
			IsDir: isDir,
		})
	}
	return out, nil
}

func (e *Engine) WatchFile(p string, cb func(engine.DocumentData)) (engine.WatcherHandle, error) {
	p = normalize(p)
	e.mu.RLock()
	n, ok := e.nodes[p]
	e.mu.RUnlock()
	if !ok {
		return engine.WatcherHandle{}, fmt.Errorf("%w: %s", engine.ErrNotFound, p)
	}
	unsub := n.cell.Subscribe(cb)
	return engine.WatcherHandle{ID: n.cell.ID(), Path: p, Stop: func() { unsub() }}, nil
}

func (e *Engine) WatchDirectory(p string, cb func(engine.ChangeData)) (engine.WatcherHandle, error) {
	p = normalize(p)
	id := newRootID()
	e.mu.Lock()
	e.dirWatch[p] = append(e.dirWatch[p], dirWatcher{id: id, cb: cb})
	e.mu.Unlock()

	return engine.WatcherHandle{
		ID:   id,
		Path: p,
		Dir:  true,
		Stop: func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			watchers := e.dirWatch[p]
			for i, w := range watchers {
				if w.id == id {
					e.dirWatch[p] = append(watchers[:i], watchers[i+1:]...)
					break
				}
			}
		},
	}, nil
}

func (e *Engine) notifyDir(changedPath string, kind engine.ChangeKind) {
	dir := path.Dir(changedPath)
	e.mu.RLock()
	watchers := append([]dirWatcher(nil), e.dirWatch[dir]...)
	e.mu.RUnlock()
	for _, w := range watchers {
		w.cb(engine.ChangeData{Kind: kind, Path: changedPath})
	}
}

func (e *Engine) ToBytes(_ context.Context) ([]byte, engine.Manifest, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return encodeBundle(e.nodes, e.manifest)
}

func (e *Engine) ForkToBytes(_ context.Context) ([]byte, engine.Manifest, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	forked := e.manifest
	forked.RootID = newRootID()
	return encodeBundle(e.nodes, forked)
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = false
	e.dirWatch = make(map[string][]dirWatcher)
	return nil
}

func encodeBytes(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
