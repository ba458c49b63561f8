package memengine

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/tonk-labs/vfsrt/engine"
	"github.com/vmihailenco/msgpack/v5"
)

// wireFile is the on-disk shape of one node inside an encoded bundle. The
// real bundle builder is free to use any byte sequence
// that deserializes to a manifest plus a document tree; this is the
// reference engine's own choice of that sequence, using msgpack instead of
// JSON for the internal/non-wire-contract bundle encoding since nothing
// page-facing ever sees these bytes directly.
type wireFile struct {
	Path    string `msgpack:"path"`
	Type    string `msgpack:"type"`
	Content any    `msgpack:"content"`
	Bytes   []byte `msgpack:"bytes,omitempty"`
}

type wireBundle struct {
	Manifest engine.Manifest `msgpack:"manifest"`
	Files    []wireFile      `msgpack:"files"`
}

func encodeBundle(nodes map[string]*node, manifest engine.Manifest) ([]byte, engine.Manifest, error) {
	wb := wireBundle{Manifest: manifest}
	for p, n := range nodes {
		doc := n.cell.Get()
		wf := wireFile{Path: p, Type: doc.Type, Content: doc.Content}
		if doc.Bytes != nil {
			raw, err := decodeBytes(*doc.Bytes)
			if err != nil {
				return nil, engine.Manifest{}, fmt.Errorf("memengine: encode bundle: %w", err)
			}
			wf.Bytes = raw
		}
		wb.Files = append(wb.Files, wf)
	}
	out, err := msgpack.Marshal(wb)
	if err != nil {
		return nil, engine.Manifest{}, fmt.Errorf("memengine: encode bundle: %w", err)
	}
	return out, manifest, nil
}

func decodeBytes(b64 string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode bytes payload: %w", err)
	}
	return raw, nil
}

// Bundle implements engine.Bundle: it parses the manifest out of bundle
// bytes without materializing a full Engine.
type Bundle struct {
	manifest engine.Manifest
	files    []wireFile
}

func (b *Bundle) GetManifest() engine.Manifest { return b.manifest }

// Factory is the engine.Factory backed by the reference in-memory engine.
type Factory struct{}

func NewFactory() Factory { return Factory{} }

func (Factory) BundleFromBytes(_ context.Context, bundleBytes []byte) (engine.Bundle, error) {
	var wb wireBundle
	if err := msgpack.Unmarshal(bundleBytes, &wb); err != nil {
		return nil, fmt.Errorf("memengine: parse bundle: %w", err)
	}
	return &Bundle{manifest: wb.Manifest, files: wb.Files}, nil
}

func (f Factory) FromBytes(ctx context.Context, bundleBytes []byte) (engine.Engine, error) {
	var wb wireBundle
	if err := msgpack.Unmarshal(bundleBytes, &wb); err != nil {
		return nil, fmt.Errorf("memengine: parse bundle: %w", err)
	}

	e := New()
	e.manifest = wb.Manifest
	if e.manifest.RootID == "" {
		e.manifest.RootID = newRootID()
	}
	for _, wf := range wb.Files {
		doc := engine.DocumentData{Type: wf.Type, Content: wf.Content}
		if wf.Bytes != nil {
			b64 := encodeBytes(wf.Bytes)
			doc.Bytes = &b64
		}
		e.nodes[normalize(wf.Path)] = &node{cell: NewCell(doc)}
	}
	return e, nil
}

// EncodeBundleBytes serializes an arbitrary file set into the reference
// engine's bundle wire format. Used by callers (e.g. tests, CLIs) that
// need to construct a bundle from scratch rather than from a live Engine.
func EncodeBundleBytes(manifest engine.Manifest, files map[string]engine.DocumentData) ([]byte, error) {
	wb := wireBundle{Manifest: manifest}
	for p, doc := range files {
		wf := wireFile{Path: p, Type: doc.Type, Content: doc.Content}
		if doc.Bytes != nil {
			raw, err := decodeBytes(*doc.Bytes)
			if err != nil {
				return nil, err
			}
			wf.Bytes = raw
		}
		wb.Files = append(wb.Files, wf)
	}
	return msgpack.Marshal(wb)
}
