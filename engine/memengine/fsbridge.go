package memengine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/tonk-labs/vfsrt/engine"
)

// FSWatcher mirrors a host directory tree into an Engine's node set using
// real OS-level change notifications via fsnotify's inotify/kqueue/
// ReadDirectoryChangesW backends rather than a stat-polling loop. It is an
// optional companion to Engine, not a requirement of engine.Engine: a
// production CRDT engine has no host filesystem to mirror.
type FSWatcher struct {
	root    string
	prefix  string
	eng     *Engine
	watcher *fsnotify.Watcher
	stop    chan struct{}
	once    sync.Once
}

// NewFSWatcher mirrors every file under root into eng, rooted at prefix
// (e.g. "/app"). It performs an initial full read before watching.
func NewFSWatcher(root, prefix string, eng *Engine) (*FSWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	fw := &FSWatcher{root: root, prefix: prefix, eng: eng, watcher: w, stop: make(chan struct{})}
	if err := fw.seed(); err != nil {
		_ = w.Close()
		return nil, err
	}
	return fw, nil
}

func (fw *FSWatcher) seed() error {
	return filepath.Walk(fw.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return fw.watcher.Add(p)
		}
		return fw.loadFile(p)
	})
}

func (fw *FSWatcher) vfsPath(hostPath string) string {
	rel := strings.TrimPrefix(hostPath, fw.root)
	rel = filepath.ToSlash(rel)
	return normalize(fw.prefix + "/" + strings.TrimPrefix(rel, "/"))
}

func (fw *FSWatcher) loadFile(hostPath string) error {
	data, err := os.ReadFile(hostPath)
	if err != nil {
		return err
	}
	content := engine.MIMEContent{MIME: mimeForExt(filepath.Ext(hostPath))}
	p := fw.vfsPath(hostPath)
	ctx := context.Background()
	exists, _ := fw.eng.Exists(ctx, p)
	if exists {
		return fw.eng.UpdateFileWithBytes(ctx, p, content, data)
	}
	return fw.eng.CreateFileWithBytes(ctx, p, content, data)
}

// Start begins processing filesystem events in a background goroutine
// until Stop is called.
func (fw *FSWatcher) Start() {
	go fw.run()
}

func (fw *FSWatcher) run() {
	for {
		select {
		case <-fw.stop:
			return
		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handle(ev)
		case <-fw.watcher.Errors:
			// best-effort mirror: a missed event just means the next read
			// is stale until the next successful notification.
		}
	}
}

func (fw *FSWatcher) handle(ev fsnotify.Event) {
	info, statErr := os.Stat(ev.Name)
	switch {
	case ev.Op&fsnotify.Remove != 0 || ev.Op&fsnotify.Rename != 0:
		_ = fw.eng.DeleteFile(context.Background(), fw.vfsPath(ev.Name))
	case statErr == nil && info.IsDir():
		_ = fw.watcher.Add(ev.Name)
	case statErr == nil:
		_ = fw.loadFile(ev.Name)
	}
}

// Stop halts the background goroutine and releases the OS watch handles.
func (fw *FSWatcher) Stop() {
	fw.once.Do(func() {
		close(fw.stop)
		_ = fw.watcher.Close()
	})
}

func mimeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".html", ".htm":
		return "text/html"
	case ".css":
		return "text/css"
	case ".js", ".mjs":
		return "text/javascript"
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".svg":
		return "image/svg+xml"
	case ".wasm":
		return "application/wasm"
	default:
		return "application/octet-stream"
	}
}
