// Package vfsrt wires the Lifecycle Controller, Request Resolver, Response
// Assembler, RPC Dispatcher, Watch Registry and Health Monitor into one
// runtime.
package vfsrt

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/tonk-labs/vfsrt/engine"
	"github.com/tonk-labs/vfsrt/health"
	"github.com/tonk-labs/vfsrt/lifecycle"
	"github.com/tonk-labs/vfsrt/resolver"
	"github.com/tonk-labs/vfsrt/rpc"
	"github.com/tonk-labs/vfsrt/store"
	"github.com/tonk-labs/vfsrt/transport"
	"github.com/tonk-labs/vfsrt/watch"
)

// Config collects everything a Runtime needs to boot: storage backend,
// app identity, and the lifecycle/health tuning knobs.
type Config struct {
	// EngineFactory constructs engines from bundle bytes. When nil, a
	// placeholder factory is used whose constructors always return an
	// error, so no bundle can be loaded.
	EngineFactory engine.Factory
	// Storage backs the State Cache. Defaults to an in-process map when nil.
	Storage store.Storage
	// PubSub, when non-nil, is wired into the Hub so broadcasts (queued
	// RPC responses, health reconnect events) reach sibling vfsrtd
	// replicas sharing it rather than only this process's own WebSocket
	// clients. Defaults to single-process fanout when nil.
	PubSub store.PubSub
	// BroadcastChannel names the PubSub channel Hub publishes/subscribes
	// on. Defaults to the Hub package's own default channel when empty.
	BroadcastChannel string

	RegistrationScope string
	DevProxy          resolver.DevProxy

	Lifecycle Lifecycle
	Health    Health

	// RelayAuth configures the OAuth2 client-credentials token source used
	// to authenticate against a replication relay, when non-zero.
	RelayAuth *health.RelayCredentials
}

// Lifecycle exposes lifecycle.Config's tunables without forcing callers
// to import the lifecycle package for the common case.
type Lifecycle struct {
	ActivateTimeout time.Duration
	ProbePath       string
	ProbeAttempts   int
	ProbeInterval   time.Duration
}

// Health exposes health.Config's tunables the same way.
type Health struct {
	ProbeInterval   time.Duration
	PostAttemptWait time.Duration
	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	ContinuousRetry bool
}

// Runtime is the fully wired set of collaborators plus the fiber app they
// are mounted onto.
type Runtime struct {
	Controller *lifecycle.Controller
	Dispatcher *rpc.Dispatcher
	Registry   *watch.Registry
	Cache      *store.Cache
	Monitor    *health.Monitor
	Hub        *transport.Hub
	Fetcher    lifecycle.BundleFetcher

	cancelHealth context.CancelFunc
}

// New constructs a Runtime. It does not start the Health Monitor's loop
// or mount routes onto app — call Mount then Start.
func New(cfg Config) *Runtime {
	factory := cfg.EngineFactory
	if factory == nil {
		factory = defaultFactory{}
	}
	backing := cfg.Storage
	if backing == nil {
		backing = store.NewMemoryStorage()
	}
	cache := store.NewCache(backing)
	registry := watch.NewRegistry()
	var hub *transport.Hub
	if cfg.PubSub != nil {
		hub = transport.NewHubWithPubSub(cfg.PubSub, cfg.BroadcastChannel)
	} else {
		hub = transport.NewHub()
	}

	controller := lifecycle.NewController(factory, cache, hub, lifecycle.Config{
		ActivateTimeout: cfg.Lifecycle.ActivateTimeout,
		ProbePath:       cfg.Lifecycle.ProbePath,
		ProbeAttempts:   cfg.Lifecycle.ProbeAttempts,
		ProbeInterval:   cfg.Lifecycle.ProbeInterval,
	})

	fetcher := lifecycle.NewHTTPBundleFetcher()
	if cfg.RelayAuth != nil {
		fetcher.TokenSource = cfg.RelayAuth.TokenSource(context.Background())
	}
	dispatcher := rpc.NewDispatcher(controller, registry, cache, hub, fetcher)

	monitor := health.NewMonitor(controller, registry, cache, hub, health.Config{
		ProbeInterval:   cfg.Health.ProbeInterval,
		PostAttemptWait: cfg.Health.PostAttemptWait,
		MaxAttempts:     cfg.Health.MaxAttempts,
		BackoffBase:     cfg.Health.BackoffBase,
		BackoffCap:      cfg.Health.BackoffCap,
		ContinuousRetry: cfg.Health.ContinuousRetry,
	})
	if cfg.RelayAuth != nil {
		monitor.TokenSource = cfg.RelayAuth.TokenSource(context.Background())
	}

	return &Runtime{
		Controller: controller,
		Dispatcher: dispatcher,
		Registry:   registry,
		Cache:      cache,
		Monitor:    monitor,
		Hub:        hub,
		Fetcher:    fetcher,
	}
}

// Mount wires the HTTP/WebSocket edge onto app, registering real
// connections against the same Hub already passed to the Controller,
// Dispatcher and Monitor in New, so every broadcast reaches them.
func (r *Runtime) Mount(app *fiber.App, httpCfg transport.HTTPConfig, compressionCfg transport.CompressionConfig) {
	transport.Setup(app, r.Hub, r.Controller, r.Dispatcher, httpCfg, compressionCfg)
}

// Start activates the Controller (waiting for auto-boot to finish or time
// out), registers the dispatcher against the resulting readiness
// envelope, and launches the Health Monitor's reconnect loop in the
// background.
func (r *Runtime) Start(ctx context.Context) (lifecycle.ReadinessEnvelope, error) {
	env := r.Controller.Activate(ctx)
	r.Dispatcher.OnActivated(env)

	healthCtx, cancel := context.WithCancel(ctx)
	r.cancelHealth = cancel
	go r.Monitor.Run(healthCtx)

	return env, nil
}

// Shutdown stops the Health Monitor's background loop. The fiber app's
// own Shutdown (net listener teardown) is the caller's responsibility.
func (r *Runtime) Shutdown() {
	if r.cancelHealth != nil {
		r.cancelHealth()
	}
}

// defaultFactory is a placeholder that errors on use; cmd/vfsrtd supplies
// engine/memengine's real Factory via Config.EngineFactory instead of this
// package importing one concrete engine implementation by default.
type defaultFactory struct{}

func (defaultFactory) FromBytes(ctx context.Context, bundleBytes []byte) (engine.Engine, error) {
	return nil, fmt.Errorf("vfsrt: no engine.Factory configured")
}

func (defaultFactory) BundleFromBytes(ctx context.Context, bundleBytes []byte) (engine.Bundle, error) {
	return nil, fmt.Errorf("vfsrt: no engine.Factory configured")
}
