// Package response assembles an HTTP reply body and Content-Type from an
// engine.DocumentData.
package response

import (
	"encoding/base64"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tonk-labs/vfsrt/engine"
)

// Reply is the body plus single Content-Type header the transport layer
// writes verbatim.
type Reply struct {
	Body        []byte
	ContentType string
}

// Assemble applies no transformation beyond framing: present bytes decode
// to raw octets with content.mime as Content-Type; absent bytes serialize
// content as JSON.
func Assemble(doc engine.DocumentData) (Reply, error) {
	if doc.Bytes != nil {
		raw, err := base64.StdEncoding.DecodeString(*doc.Bytes)
		if err != nil {
			return Reply{}, fmt.Errorf("response: decode bytes: %w", err)
		}
		return Reply{Body: raw, ContentType: doc.MIME()}, nil
	}
	body, err := json.Marshal(doc.Content)
	if err != nil {
		return Reply{}, fmt.Errorf("response: marshal content: %w", err)
	}
	return Reply{Body: body, ContentType: "application/json"}, nil
}
