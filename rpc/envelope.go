// Package rpc is the RPC Dispatcher: the operation table,
// admission policy, and parallel-batch queue drain that sit between the
// WebSocket transport and the Lifecycle Controller / CRDT Engine Facade.
package rpc

import "github.com/goccy/go-json"

// Op names the RPC Dispatcher's operation surface.
type Op string

const (
	OpSetAppSlug         Op = "setAppSlug"
	OpInit               Op = "init"
	OpReadFile           Op = "readFile"
	OpWriteFile          Op = "writeFile"
	OpDeleteFile         Op = "deleteFile"
	OpRename             Op = "rename"
	OpListDirectory      Op = "listDirectory"
	OpExists             Op = "exists"
	OpWatchFile          Op = "watchFile"
	OpUnwatchFile        Op = "unwatchFile"
	OpWatchDirectory     Op = "watchDirectory"
	OpUnwatchDirectory   Op = "unwatchDirectory"
	OpToBytes            Op = "toBytes"
	OpForkToBytes        Op = "forkToBytes"
	OpLoadBundle         Op = "loadBundle"
	OpInitializeFromUrl  Op = "initializeFromUrl"
	OpGetServerUrl       Op = "getServerUrl"
)

// ContentInput is the writeFile op's payload shape.
type ContentInput struct {
	Content any     `json:"content"`
	Bytes   *string `json:"bytes,omitempty"`
}

// Request is every inbound RPC envelope, carrying the union of all
// per-op input fields. Marshaling uses goccy/go-json as a drop-in,
// faster encoding/json replacement on this hot path.
type Request struct {
	Type Op     `json:"type"`
	ID   string `json:"id,omitempty"`

	Slug        string        `json:"slug,omitempty"`
	WsURL       string        `json:"wsUrl,omitempty"`
	Path        string        `json:"path,omitempty"`
	OldPath     string        `json:"oldPath,omitempty"`
	NewPath     string        `json:"newPath,omitempty"`
	Content     *ContentInput `json:"content,omitempty"`
	Create      bool          `json:"create,omitempty"`
	BundleBytes []byte        `json:"bundleBytes,omitempty"`
	ServerURL   string        `json:"serverUrl,omitempty"`
	ManifestURL string        `json:"manifestUrl,omitempty"`
	WasmURL     string        `json:"wasmUrl,omitempty"`

	// IncludeQRCode asks getServerUrl to additionally render the server
	// URL as a pairing QR code.
	IncludeQRCode bool `json:"includeQrCode,omitempty"`
}

// Response is every outbound correlated RPC reply. Errors are stringified
// causes; no additional taxonomy leaks across the boundary.
type Response struct {
	Type    Op     `json:"type"`
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`

	// RootID is set only by toBytes/forkToBytes: a sibling field on the
	// envelope, not nested inside Data.
	RootID string `json:"rootId,omitempty"`
}

func ok(typ Op, id string, data any) *Response {
	return &Response{Type: typ, ID: id, Success: true, Data: data}
}

// okBytes replies to toBytes/forkToBytes: bundleBytes as Data, rootId as
// a sibling envelope field per spec.md §4.4.
func okBytes(typ Op, id string, bundleBytes []byte, rootID string) *Response {
	return &Response{Type: typ, ID: id, Success: true, Data: bundleBytes, RootID: rootID}
}

func fail(typ Op, id string, err error) *Response {
	return &Response{Type: typ, ID: id, Success: false, Error: err.Error()}
}

// Marshal/Unmarshal are thin goccy/go-json wrappers kept here so every
// other package in rpc imports one encoding, not two.
func Marshal(v any) ([]byte, error)       { return json.Marshal(v) }
func Unmarshal(b []byte, v any) error     { return json.Unmarshal(b, v) }
