package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tonk-labs/vfsrt/engine"
	"github.com/tonk-labs/vfsrt/store"
)

// ReadinessEnvelope is the broadcast sent to every client once, on
// activation.
type ReadinessEnvelope struct {
	Type            string `json:"type"`
	AutoInitialized bool   `json:"autoInitialized"`
	NeedsBundle     bool   `json:"needsBundle"`
}

// Broadcaster delivers an unsolicited envelope to every connected client.
type Broadcaster interface {
	Broadcast(envelope any)
}

// BroadcasterFunc adapts a plain func to Broadcaster.
type BroadcasterFunc func(envelope any)

func (f BroadcasterFunc) Broadcast(envelope any) { f(envelope) }

// Config tunes the Controller's timing. Zero values fall back to the
// spec's mandated defaults.
type Config struct {
	// ActivateTimeout bounds how long Activate waits for auto-boot.
	ActivateTimeout time.Duration
	// ProbePath is the directory polled to detect first sync.
	ProbePath string
	// ProbeAttempts caps probe-poll retries.
	ProbeAttempts int
	// ProbeInterval is the spacing between probe attempts.
	ProbeInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ActivateTimeout <= 0 {
		c.ActivateTimeout = 5 * time.Second
	}
	if c.ProbePath == "" {
		c.ProbePath = "/"
	}
	if c.ProbeAttempts <= 0 {
		c.ProbeAttempts = 20
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 500 * time.Millisecond
	}
	return c
}

type pendingLoad struct {
	gen    uint64
	done   chan struct{}
	result error
}

// Controller is the Lifecycle Controller. Exactly one
// goroutine — the one running loop() — ever assigns to c.state or
// c.scope; every other goroutine reaches them only via commands posted to
// cmdCh, per the single-task-executor model.
type Controller struct {
	factory     engine.Factory
	cache       *store.Cache
	broadcaster Broadcaster
	cfg         Config

	cmdCh chan func()

	state State
	scope string
	gen   uint64 // bumped on every state-applying transition

	ready     chan ReadinessEnvelope // auto-boot's single outcome, buffered 1
	broadcast sync.Once

	loadMu  sync.Mutex
	loadGen uint64
	current *pendingLoad
}

// NewController creates a Controller in Uninitialized and immediately
// launches a detached auto-boot attempt; auto-boot is non-blocking and
// message handling proceeds concurrently.
func NewController(factory engine.Factory, cache *store.Cache, broadcaster Broadcaster, cfg Config) *Controller {
	c := &Controller{
		factory:     factory,
		cache:       cache,
		broadcaster: broadcaster,
		cfg:         cfg.withDefaults(),
		cmdCh:       make(chan func(), 64),
		state:       State{Kind: Uninitialized},
		ready:       make(chan ReadinessEnvelope, 1),
	}
	go c.loop()
	go c.autoBoot()
	return c
}

func (c *Controller) loop() {
	for cmd := range c.cmdCh {
		cmd()
	}
}

// Snapshot returns the current RuntimeState and AppScope, routed through
// the single controller goroutine so it never races a concurrent
// transition.
func (c *Controller) Snapshot() (State, string) {
	type result struct {
		state State
		scope string
	}
	out := make(chan result, 1)
	c.cmdCh <- func() { out <- result{c.state, c.scope} }
	r := <-out
	return r.state, r.scope
}

// Generation returns the current transition counter; health.Monitor uses
// it to detect that its engine was replaced or reset out from under it.
func (c *Controller) Generation() uint64 {
	out := make(chan uint64, 1)
	c.cmdCh <- func() { out <- c.gen }
	return <-out
}

func (c *Controller) applyState(s State) uint64 {
	done := make(chan uint64, 1)
	c.cmdCh <- func() {
		c.state = s
		c.gen++
		done <- c.gen
	}
	return <-done
}

// SetAppSlug persists and sets AppScope. Broadcast-only: no response id.
func (c *Controller) SetAppSlug(slug string) error {
	if err := c.cache.WriteAppSlug(slug); err != nil {
		return fmt.Errorf("lifecycle: persist appSlug: %w", err)
	}
	done := make(chan struct{})
	c.cmdCh <- func() {
		c.scope = slug
		close(done)
	}
	<-done
	return nil
}

// ResetScope clears AppScope and persists the clearance, the
// root-navigation reset.
func (c *Controller) ResetScope() {
	_ = c.cache.ClearAppSlug() // best-effort; failures log upstream, never block the bypass decision
	done := make(chan struct{})
	c.cmdCh <- func() {
		c.scope = ""
		close(done)
	}
	<-done
}

// Reset returns to Uninitialized from any state — an explicit reset
// triggered by root-URL navigation.
func (c *Controller) Reset() {
	c.applyState(State{Kind: Uninitialized})
}

func (c *Controller) autoBoot() {
	env := c.runAutoBoot()
	c.ready <- env
}

func (c *Controller) runAutoBoot() ReadinessEnvelope {
	c.applyState(State{Kind: Loading, Pending: "auto-boot"})

	boot, ok := c.cache.ReadBootstrap()
	if !ok {
		c.applyState(State{Kind: Uninitialized})
		return ReadinessEnvelope{Type: "ready", AutoInitialized: false, NeedsBundle: true}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ActivateTimeout)
	defer cancel()

	eng, err := c.factory.FromBytes(ctx, boot.BundleBytes)
	if err != nil {
		c.resetCacheBestEffort()
		c.applyState(State{Kind: Uninitialized})
		return ReadinessEnvelope{Type: "ready", AutoInitialized: false, NeedsBundle: true}
	}
	if err := eng.ConnectWebsocket(ctx, deriveWSURL(boot.ServerURL), ""); err != nil {
		_ = eng.Close()
		c.resetCacheBestEffort()
		c.applyState(State{Kind: Uninitialized})
		return ReadinessEnvelope{Type: "ready", AutoInitialized: false, NeedsBundle: true}
	}
	c.probe(ctx, eng) // timeout here is a warning, not a failure

	manifest, _ := c.cache.ReadManifest()
	c.applyState(State{Kind: Ready, Engine: eng, Manifest: manifest})
	done := make(chan struct{})
	c.cmdCh <- func() { c.scope, _ = c.cache.ReadAppSlug(); close(done) }
	<-done

	return ReadinessEnvelope{Type: "ready", AutoInitialized: true, NeedsBundle: false}
}

func (c *Controller) resetCacheBestEffort() {
	_ = c.cache.ClearAppSlug()
}

// probe polls ProbePath until the first read succeeds or the attempt
// budget is exhausted. A timeout is logged upstream as a warning; it never
// fails the load.
func (c *Controller) probe(ctx context.Context, eng engine.Engine) {
	for i := 0; i < c.cfg.ProbeAttempts; i++ {
		if _, err := eng.ListDirectory(ctx, c.cfg.ProbePath); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ProbeInterval):
		}
	}
}

// Activate blocks (bounded by Config.ActivateTimeout) for auto-boot to
// settle, then broadcasts the readiness envelope exactly once regardless
// of how many times Activate is called.
func (c *Controller) Activate(ctx context.Context) ReadinessEnvelope {
	var env ReadinessEnvelope
	select {
	case env = <-c.ready:
		c.ready <- env // leave it available for any later callers (idempotent activation)
	case <-time.After(c.cfg.ActivateTimeout):
		env = ReadinessEnvelope{Type: "ready", AutoInitialized: false, NeedsBundle: true}
	case <-ctx.Done():
		env = ReadinessEnvelope{Type: "ready", AutoInitialized: false, NeedsBundle: true}
	}
	c.broadcast.Do(func() {
		if c.broadcaster != nil {
			c.broadcaster.Broadcast(env)
		}
	})
	return env
}

func (c *Controller) beginLoad() (uint64, *pendingLoad) {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	c.loadGen++
	gen := c.loadGen
	mine := &pendingLoad{gen: gen, done: make(chan struct{})}
	c.current = mine
	return gen, mine
}

func (c *Controller) endLoad(gen uint64, mine *pendingLoad, result error) {
	mine.result = result
	close(mine.done)

	c.loadMu.Lock()
	if c.current == mine {
		c.current = nil
	}
	c.loadMu.Unlock()
}

// commitIfCurrent applies the Ready transition only if gen is still the
// most recent load — otherwise a newer loadBundle has already superseded
// this one and the caller must tear down the engine it built.
func (c *Controller) commitIfCurrent(gen uint64, eng engine.Engine, manifest engine.Manifest, serverURL string) bool {
	c.loadMu.Lock()
	isCurrent := c.current != nil && c.current.gen == gen
	c.loadMu.Unlock()
	if !isCurrent {
		return false
	}
	_ = serverURL // persistence is the caller's responsibility, once commit succeeds
	c.applyState(State{Kind: Ready, Engine: eng, Manifest: manifest})
	return true
}

// Init waits for any load already in flight and replies with its outcome;
// if none is in flight it is a success no-op: idempotent, waits for any
// in-flight load.
func (c *Controller) Init(ctx context.Context) error {
	c.loadMu.Lock()
	cur := c.current
	c.loadMu.Unlock()
	if cur == nil {
		return nil
	}
	select {
	case <-cur.done:
		return cur.result
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LoadBundle implements the loadBundle op: construct
// a fresh engine from bundleBytes, connect it, probe it, and atomically
// swap it in. A LoadBundle call in flight when another starts is
// superseded: its outcome is discarded and ErrSuperseded is returned to
// its own caller only.
func (c *Controller) LoadBundle(ctx context.Context, bundleBytes []byte, serverURL string) error {
	gen, mine := c.beginLoad()
	var outcome error
	defer func() { c.endLoad(gen, mine, outcome) }()

	eng, err := c.factory.FromBytes(ctx, bundleBytes)
	if err != nil {
		outcome = fmt.Errorf("lifecycle: construct engine: %w", err)
		c.applyState(State{Kind: Failed, Err: outcome})
		return outcome
	}

	wsURL := deriveWSURL(serverURL)
	if err := eng.ConnectWebsocket(ctx, wsURL, ""); err != nil {
		_ = eng.Close()
		outcome = fmt.Errorf("lifecycle: connect websocket: %w", err)
		c.applyState(State{Kind: Failed, Err: outcome})
		return outcome
	}
	c.probe(ctx, eng)

	_, manifest, err := eng.ToBytes(ctx)
	if err != nil {
		manifest = engine.Manifest{}
	}

	if !c.commitIfCurrent(gen, eng, manifest, serverURL) {
		_ = eng.Close()
		outcome = ErrSuperseded
		return ErrSuperseded
	}

	if err := c.cache.WriteBundleBytes(bundleBytes); err != nil {
		// best-effort: persistence failures log upstream and never abort
		// the triggering operation.
		_ = err
	}
	_ = c.cache.WriteServerURL(serverURL)
	_ = c.cache.WriteManifest(manifest)

	c.broadcaster.Broadcast(map[string]any{"type": "swReady"})
	outcome = nil
	return nil
}

// InitializeFromUrl fetches bundle bytes from wasmUrl/manifestUrl via
// fetcher, then behaves exactly as LoadBundle.
func (c *Controller) InitializeFromUrl(ctx context.Context, fetcher BundleFetcher, manifestURL, wsURL string) error {
	gen, mine := c.beginLoad()
	var outcome error
	defer func() { c.endLoad(gen, mine, outcome) }()

	bundleBytes, err := fetcher.Fetch(ctx, manifestURL)
	if err != nil {
		outcome = fmt.Errorf("lifecycle: fetch bundle: %w", err)
		c.applyState(State{Kind: Failed, Err: outcome})
		return outcome
	}

	eng, err := c.factory.FromBytes(ctx, bundleBytes)
	if err != nil {
		outcome = fmt.Errorf("lifecycle: construct engine: %w", err)
		c.applyState(State{Kind: Failed, Err: outcome})
		return outcome
	}
	if err := eng.ConnectWebsocket(ctx, wsURL, ""); err != nil {
		_ = eng.Close()
		outcome = fmt.Errorf("lifecycle: connect websocket: %w", err)
		c.applyState(State{Kind: Failed, Err: outcome})
		return outcome
	}
	c.probe(ctx, eng)

	_, manifest, _ := eng.ToBytes(ctx)
	if !c.commitIfCurrent(gen, eng, manifest, wsURL) {
		_ = eng.Close()
		outcome = ErrSuperseded
		return ErrSuperseded
	}

	_ = c.cache.WriteBundleBytes(bundleBytes)
	_ = c.cache.WriteServerURL(wsURL)
	_ = c.cache.WriteManifest(manifest)
	c.broadcaster.Broadcast(map[string]any{"type": "swReady"})
	outcome = nil
	return nil
}

// BundleFetcher fetches bundle bytes from a URL (initializeFromUrl's
// wasmUrl/manifestUrl inputs).
type BundleFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

func deriveWSURL(serverURL string) string {
	switch {
	case strings.HasPrefix(serverURL, "https://"):
		return "wss://" + strings.TrimPrefix(serverURL, "https://")
	case strings.HasPrefix(serverURL, "http://"):
		return "ws://" + strings.TrimPrefix(serverURL, "http://")
	default:
		return serverURL
	}
}
