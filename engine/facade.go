// Package engine defines the thin capability interface the runtime uses to
// reach the CRDT-backed document store. The runtime never speaks the CRDT's
// replication protocol directly; it only calls through Engine and Bundle.
package engine

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Engine.ReadFile, Engine.Exists and friends when
// the requested path has no artifact in the document tree.
var ErrNotFound = errors.New("engine: path not found")

// MIMEContent is the structured metadata DocumentData.Content carries when
// the artifact's only semantic the runtime cares about is its MIME type.
type MIMEContent struct {
	MIME string `json:"mime" msgpack:"mime"`
}

// DocumentData is the value an Engine returns for a file read.
//
// Bytes, when non-nil, is the base64 text of the artifact's binary payload;
// Content is a structured metadata value (commonly a MIMEContent) the
// runtime reads only for content.mime when framing an HTTP response. The
// runtime never otherwise interprets Content.
type DocumentData struct {
	Type    string `json:"type"`
	Content any    `json:"content"`
	Bytes   *string `json:"bytes,omitempty"`
}

// MIME returns the artifact's declared MIME type, or "" if Content does not
// carry one.
func (d DocumentData) MIME() string {
	switch c := d.Content.(type) {
	case MIMEContent:
		return c.MIME
	case map[string]any:
		if m, ok := c["mime"].(string); ok {
			return m
		}
	}
	return ""
}

// RefNode describes one entry returned by Engine.ListDirectory.
type RefNode struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"isDirectory"`
}

// ChangeKind distinguishes the kinds of mutation a directory watch reports.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
	ChangeRenamed ChangeKind = "renamed"
)

// ChangeData is delivered to directory watch callbacks.
type ChangeData struct {
	Kind ChangeKind `json:"kind"`
	Path string     `json:"path"`
}

// Manifest is the descriptor produced when a bundle is loaded into an
// Engine (or inspected via Bundle.GetManifest). It is immutable once
// produced.
type Manifest struct {
	RootID   string         `msgpack:"rootId" json:"rootId"`
	Metadata map[string]any `msgpack:"metadata" json:"metadata,omitempty"`
}

// WatcherHandle is the live handle a successful WatchFile/WatchDirectory
// call returns. Stop tears down the underlying subscription; it must be
// idempotent. ID is the engine-internal subscription identifier, distinct
// from the caller-chosen correlation id the RPC layer uses.
type WatcherHandle struct {
	ID   string
	Path string
	Dir  bool
	Stop func()
}

// Engine is the opaque capability over the CRDT-backed document tree. A
// concrete implementation owns exactly one in-process document tree; the
// runtime's Lifecycle Controller owns exactly one Engine at a time and
// atomically swaps it out on loadBundle.
type Engine interface {
	// ConnectWebsocket opens the engine's replication connection to url.
	// bearerToken, when non-empty, is attached as the dial's Authorization
	// header — the relay-auth credential the Health Monitor's reconnect
	// dial carries when relay auth is configured. The runtime only
	// observes liveness afterwards via IsConnected; engine framing is
	// opaque.
	ConnectWebsocket(ctx context.Context, url string, bearerToken string) error
	// IsConnected reports the last-known liveness of the replication link.
	IsConnected() bool

	ReadFile(ctx context.Context, path string) (DocumentData, error)
	CreateFile(ctx context.Context, path string, content any) error
	CreateFileWithBytes(ctx context.Context, path string, content any, bytes []byte) error
	UpdateFile(ctx context.Context, path string, content any) error
	UpdateFileWithBytes(ctx context.Context, path string, content any, bytes []byte) error
	DeleteFile(ctx context.Context, path string) error
	Rename(ctx context.Context, oldPath, newPath string) error
	Exists(ctx context.Context, path string) (bool, error)
	ListDirectory(ctx context.Context, path string) ([]RefNode, error)

	WatchFile(path string, cb func(DocumentData)) (WatcherHandle, error)
	WatchDirectory(path string, cb func(ChangeData)) (WatcherHandle, error)

	// ToBytes serializes the engine's current state.
	ToBytes(ctx context.Context) ([]byte, Manifest, error)
	// ForkToBytes serializes a fork of the current state under a new
	// RootID, leaving this engine's own state untouched.
	ForkToBytes(ctx context.Context) ([]byte, Manifest, error)

	// Close releases engine resources. Called when the engine is replaced
	// or the runtime resets to Uninitialized.
	Close() error
}

// Bundle is the secondary capability that inspects a bundle's manifest
// without constructing a full Engine — used by fork flows that only need
// the new RootID.
type Bundle interface {
	GetManifest() Manifest
}

// Factory constructs an Engine from bundle bytes. Swapped out in tests for
// a fake; in production it is backed by the real CRDT engine.
type Factory interface {
	FromBytes(ctx context.Context, bundleBytes []byte) (Engine, error)
	BundleFromBytes(ctx context.Context, bundleBytes []byte) (Bundle, error)
}
