// Package health is the Health Monitor: a timer-driven
// liveness probe over the active engine's replication link, the
// WebSocket reconnection sub-state-machine, and watcher replay after
// recovery.
package health

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonk-labs/vfsrt/engine"
	"github.com/tonk-labs/vfsrt/internal/logging"
	"github.com/tonk-labs/vfsrt/lifecycle"
	"github.com/tonk-labs/vfsrt/store"
	"github.com/tonk-labs/vfsrt/watch"
)

// Broadcaster delivers an unsolicited envelope to every connected client.
type Broadcaster interface {
	Broadcast(envelope any)
}

// ControllerView is the narrow slice of *lifecycle.Controller the Health
// Monitor needs: the current RuntimeState and the transition counter used
// to detect that its engine was replaced or reset out from under it.
type ControllerView interface {
	Snapshot() (lifecycle.State, string)
	Generation() uint64
}

// Config tunes the Health Monitor's timing. Zero values fall back to the
// spec's mandated defaults; tests override them to run the backoff
// schedule in milliseconds instead of minutes.
type Config struct {
	// ProbeInterval is the liveness-probe tick.
	ProbeInterval time.Duration
	// PostAttemptWait is how long a reconnect attempt waits before
	// re-probing isConnected.
	PostAttemptWait time.Duration
	// MaxAttempts caps the reconnect counter before reconnectionFailed
	//.
	MaxAttempts int
	// BackoffBase and BackoffCap parameterize min(2^(attempt-1) *
	// BackoffBase, BackoffCap) between failed attempts.
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// ContinuousRetry resets the attempt counter to 0 instead of giving
	// up once MaxAttempts is reached.
	ContinuousRetry bool
}

func (c Config) withDefaults() Config {
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 5 * time.Second
	}
	if c.PostAttemptWait <= 0 {
		c.PostAttemptWait = time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
	return c
}

// Monitor is the Health Monitor. One Monitor tracks one Controller's
// active engine at a time; Run should be launched once, in its own
// goroutine, for the lifetime of the runtime.
type Monitor struct {
	controller  ControllerView
	registry    *watch.Registry
	cache       *store.Cache
	broadcaster Broadcaster
	cfg         Config

	// TokenSource, when set, mints the short-lived bearer credential the
	// reconnect dial attaches to ConnectWebsocket when relay auth is
	// configured. Assigned after NewMonitor, mirroring
	// lifecycle.HTTPBundleFetcher.TokenSource.
	TokenSource oauth2.TokenSource

	log *logging.Logger

	mu           sync.Mutex
	reconnecting bool
}

// NewMonitor wires a Health Monitor over controller, re-subscribing
// watchers in registry on successful reconnect and reading the stored
// relay URL from cache.
func NewMonitor(controller ControllerView, registry *watch.Registry, cache *store.Cache, broadcaster Broadcaster, cfg Config) *Monitor {
	return &Monitor{
		controller:  controller,
		registry:    registry,
		cache:       cache,
		broadcaster: broadcaster,
		cfg:         cfg.withDefaults(),
		log:         logging.New("health"),
	}
}

// relayToken mints the bearer token for the reconnect dial from
// TokenSource, if configured, logging the token's subject claim for
// reconnect diagnostics. Returns "" (no auth header) when TokenSource is
// nil or minting fails.
func (m *Monitor) relayToken() string {
	if m.TokenSource == nil {
		return ""
	}
	tok, err := m.TokenSource.Token()
	if err != nil {
		m.log.Warnf("mint relay token for reconnect dial: %v", err)
		return ""
	}
	if subject, err := ParseBearerSubject(tok.AccessToken); err == nil {
		m.log.Printf("reconnect dial authenticating as %q", subject)
	}
	return tok.AccessToken
}

// Run ticks every ProbeInterval until ctx is done, probing the active
// engine's liveness and driving the reconnect sub-state-machine on a
// healthy-to-unhealthy transition.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	m.mu.Lock()
	busy := m.reconnecting
	m.mu.Unlock()
	if busy {
		return
	}

	state, _ := m.controller.Snapshot()
	if state.Kind != lifecycle.Ready {
		return
	}
	eng := state.Engine
	if eng.IsConnected() {
		return
	}

	m.broadcaster.Broadcast(map[string]any{"type": "disconnected"})
	m.runReconnect(ctx, eng, m.controller.Generation())
}

// runReconnect drives one full reconnect task to completion: it owns the
// attempt counter and either ends in reconnected (with watcher replay)
// or reconnectionFailed, unless cancelled by a generation change (engine
// replaced or reset to Uninitialized) or ctx.
func (m *Monitor) runReconnect(ctx context.Context, eng engine.Engine, gen uint64) {
	m.mu.Lock()
	m.reconnecting = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.reconnecting = false
		m.mu.Unlock()
	}()

	storedURL, _ := m.cache.ReadServerURL()
	wsURL := deriveWSURL(storedURL)

	attempt := 0
	for {
		attempt++
		if m.controller.Generation() != gen {
			return
		}

		m.broadcaster.Broadcast(map[string]any{"type": "reconnecting", "attempt": attempt})
		_ = eng.ConnectWebsocket(ctx, wsURL, m.relayToken())

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.cfg.PostAttemptWait):
		}
		if m.controller.Generation() != gen {
			return
		}

		if eng.IsConnected() {
			m.broadcaster.Broadcast(map[string]any{"type": "reconnected"})
			count := m.registry.Reestablish(eng)
			m.broadcaster.Broadcast(map[string]any{"type": "watchersReestablished", "count": count})
			return
		}

		if attempt >= m.cfg.MaxAttempts {
			if m.cfg.ContinuousRetry {
				attempt = 0
				continue
			}
			m.broadcaster.Broadcast(map[string]any{"type": "reconnectionFailed"})
			return
		}

		backoff := time.Duration(math.Min(
			math.Pow(2, float64(attempt-1))*float64(m.cfg.BackoffBase),
			float64(m.cfg.BackoffCap),
		))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// deriveWSURL mirrors lifecycle's serverURL-to-wsURL scheme rewrite;
// lifecycle's helper is unexported, so this narrow helper is duplicated
// here rather than exported from lifecycle.
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
