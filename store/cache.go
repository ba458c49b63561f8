package store

import (
	"encoding/json"
	"fmt"

	"github.com/tonk-labs/vfsrt/engine"
	"github.com/vmihailenco/msgpack/v5"
)

// cachePrefix embeds the schema version in the key namespace
// so a future incompatible schema can coexist with or evict this one.
const cachePrefix = "vfsrt:v1:"

const (
	keyAppSlug     = cachePrefix + "appSlug"
	keyBundleBytes = cachePrefix + "bundleBytes"
	keyServerURL   = cachePrefix + "serverUrl"
	keyManifest    = cachePrefix + "manifest"
)

// Cache is the State Cache: a small key-addressable
// persistent store holding the three entries needed to auto-boot, plus an
// internal (non-contract) manifest companion entry.
type Cache struct {
	backing Storage
}

// NewCache wraps backing with the State Cache's key layout.
func NewCache(backing Storage) *Cache {
	return &Cache{backing: backing}
}

type slugDoc struct {
	Slug string `json:"slug"`
}

type serverURLDoc struct {
	ServerURL string `json:"serverUrl"`
}

// ReadAppSlug returns the persisted slug, or ("", false) if absent/corrupt.
func (c *Cache) ReadAppSlug() (string, bool) {
	raw, err := c.backing.Get(keyAppSlug)
	if err != nil {
		return "", false
	}
	var doc slugDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", false
	}
	return doc.Slug, true
}

// WriteAppSlug persists the slug. Best-effort: callers log failures and
// proceed rather than aborting the triggering operation.
func (c *Cache) WriteAppSlug(slug string) error {
	raw, err := json.Marshal(slugDoc{Slug: slug})
	if err != nil {
		return fmt.Errorf("cache: marshal appSlug: %w", err)
	}
	return c.backing.Set(keyAppSlug, raw)
}

// ClearAppSlug removes the persisted slug (root-navigation reset).
func (c *Cache) ClearAppSlug() error {
	return c.backing.Delete(keyAppSlug)
}

// ReadBundleBytes returns the persisted bundle, or (nil, false).
func (c *Cache) ReadBundleBytes() ([]byte, bool) {
	raw, err := c.backing.Get(keyBundleBytes)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// WriteBundleBytes persists the bundle bytes verbatim.
func (c *Cache) WriteBundleBytes(b []byte) error {
	return c.backing.Set(keyBundleBytes, b)
}

// ReadServerURL returns the persisted server URL, or ("", false).
func (c *Cache) ReadServerURL() (string, bool) {
	raw, err := c.backing.Get(keyServerURL)
	if err != nil {
		return "", false
	}
	var doc serverURLDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", false
	}
	return doc.ServerURL, true
}

// WriteServerURL persists the server URL.
func (c *Cache) WriteServerURL(url string) error {
	raw, err := json.Marshal(serverURLDoc{ServerURL: url})
	if err != nil {
		return fmt.Errorf("cache: marshal serverUrl: %w", err)
	}
	return c.backing.Set(keyServerURL, raw)
}

// Bootstrap is the bundle of all three required entries for auto-boot.
type Bootstrap struct {
	AppSlug     string
	BundleBytes []byte
	ServerURL   string
}

// ReadBootstrap returns the three auto-boot entries, requiring ALL THREE
// to be present: any missing entry forces the runtime to wait for an
// explicit bundle load.
func (c *Cache) ReadBootstrap() (Bootstrap, bool) {
	slug, ok := c.ReadAppSlug()
	if !ok {
		return Bootstrap{}, false
	}
	bundle, ok := c.ReadBundleBytes()
	if !ok {
		return Bootstrap{}, false
	}
	serverURL, ok := c.ReadServerURL()
	if !ok {
		return Bootstrap{}, false
	}
	return Bootstrap{AppSlug: slug, BundleBytes: bundle, ServerURL: serverURL}, true
}

// WriteManifest persists the engine's manifest alongside the bundle bytes
// using msgpack rather than JSON, since this entry never crosses the
// page-facing RPC boundary — it only lets auto-boot skip re-deriving the
// manifest from the bundle bytes on restart. It is a pure optimization
// over the three required entries; its absence never blocks auto-boot
// (ReadBootstrap ignores it).
func (c *Cache) WriteManifest(m engine.Manifest) error {
	raw, err := msgpack.Marshal(m)
	if err != nil {
		return fmt.Errorf("cache: marshal manifest: %w", err)
	}
	return c.backing.Set(keyManifest, raw)
}

// ReadManifest returns the persisted manifest companion entry, if any.
func (c *Cache) ReadManifest() (engine.Manifest, bool) {
	raw, err := c.backing.Get(keyManifest)
	if err != nil {
		return engine.Manifest{}, false
	}
	var m engine.Manifest
	if err := msgpack.Unmarshal(raw, &m); err != nil {
		return engine.Manifest{}, false
	}
	return m, true
}
