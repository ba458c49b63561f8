package transport

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"sync"

	"github.com/tonk-labs/vfsrt/rpc"
	"github.com/tonk-labs/vfsrt/store"
)

// defaultBroadcastChannel is the store.PubSub channel a Hub publishes
// and subscribes to when none is supplied to NewHubWithPubSub.
const defaultBroadcastChannel = "vfsrt:broadcast"

// Hub fans every broadcast envelope out to all connected clients. When
// built with NewHubWithPubSub it also republishes each broadcast through
// a store.PubSub so sibling vfsrtd replicas sharing the same PubSub (the
// Redis-backed store/redis.PubSub in production, store.MemoryPubSub in a
// single-process test) deliver it to their own clients too.
//
// Hub satisfies lifecycle.Broadcaster, health.Broadcaster and
// rpc.Broadcaster — all three are the same one-method shape by design.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*client
	pubsub   store.PubSub
	channel  string
	instance string
}

type client struct {
	id   string
	send chan []byte
}

// NewHub returns a Hub with no cross-process fanout: Broadcast only
// reaches clients registered against this instance.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]*client)}
}

// NewHubWithPubSub returns a Hub that also republishes every broadcast
// through ps on channel (defaultBroadcastChannel if empty) and relays
// whatever sibling replicas publish there back out to this Hub's own
// local clients. ps is responsible for not echoing h's own publishes
// back to h's own Subscribe registration; Hub just tags both calls with
// its instance id as the origin.
func NewHubWithPubSub(ps store.PubSub, channel string) *Hub {
	if channel == "" {
		channel = defaultBroadcastChannel
	}
	h := &Hub{
		clients:  make(map[string]*client),
		pubsub:   ps,
		channel:  channel,
		instance: newInstanceID(),
	}
	if err := ps.Subscribe(channel, h.instance, h.deliverLocal); err != nil {
		log.Printf("transport: subscribe to %s: %v", channel, err)
	}
	return h
}

// Broadcast marshals env with rpc.Marshal-compatible JSON and fans it out
// to every connected client, dropping it for any client whose send buffer
// is full rather than blocking the whole hub on one slow reader. When
// wired with a PubSub, it also republishes the envelope for sibling
// replicas.
func (h *Hub) Broadcast(env any) {
	data, err := rpc.Marshal(env)
	if err != nil {
		log.Printf("transport: marshal broadcast envelope: %v", err)
		return
	}
	h.deliverLocal(data)

	if h.pubsub == nil {
		return
	}
	if err := h.pubsub.Publish(h.channel, h.instance, data); err != nil {
		log.Printf("transport: publish broadcast: %v", err)
	}
}

func (h *Hub) deliverLocal(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			log.Printf("transport: client %s send buffer full, dropping broadcast", c.id)
		}
	}
}

func newInstanceID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (h *Hub) register(id string) *client {
	c := &client{id: id, send: make(chan []byte, 256)}
	h.mu.Lock()
	if old, ok := h.clients[id]; ok {
		close(old.send)
	}
	h.clients[id] = c
	h.mu.Unlock()
	return c
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	if c, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(c.send)
	}
	h.mu.Unlock()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
