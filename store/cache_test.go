package store

import (
	"testing"

	"github.com/tonk-labs/vfsrt/engine"
)

func TestCacheBootstrapRequiresAllThree(t *testing.T) {
	c := NewCache(NewMemoryStorage())

	if _, ok := c.ReadBootstrap(); ok {
		t.Fatalf("expected no bootstrap with empty cache")
	}

	_ = c.WriteAppSlug("app")
	if _, ok := c.ReadBootstrap(); ok {
		t.Fatalf("expected no bootstrap with only slug set")
	}

	_ = c.WriteBundleBytes([]byte("bundle"))
	if _, ok := c.ReadBootstrap(); ok {
		t.Fatalf("expected no bootstrap with slug+bundle but no serverUrl")
	}

	_ = c.WriteServerURL("https://example.test")
	boot, ok := c.ReadBootstrap()
	if !ok {
		t.Fatalf("expected bootstrap once all three are set")
	}
	if boot.AppSlug != "app" || string(boot.BundleBytes) != "bundle" || boot.ServerURL != "https://example.test" {
		t.Fatalf("unexpected bootstrap: %+v", boot)
	}
}

func TestCacheClearAppSlug(t *testing.T) {
	c := NewCache(NewMemoryStorage())
	_ = c.WriteAppSlug("app")

	if _, ok := c.ReadAppSlug(); !ok {
		t.Fatalf("expected slug present")
	}
	if err := c.ClearAppSlug(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok := c.ReadAppSlug(); ok {
		t.Fatalf("expected slug cleared")
	}
}

func TestCacheManifestCompanionIsOptional(t *testing.T) {
	c := NewCache(NewMemoryStorage())
	if _, ok := c.ReadManifest(); ok {
		t.Fatalf("expected no manifest before write")
	}

	m := engine.Manifest{RootID: "root-1", Metadata: map[string]any{"k": "v"}}
	if err := c.WriteManifest(m); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	got, ok := c.ReadManifest()
	if !ok || got.RootID != "root-1" {
		t.Fatalf("unexpected manifest: %+v ok=%v", got, ok)
	}
}
