// Package redis backs both halves of the State Cache's networked mode:
// Store persists bootstrap entries in Redis so every vfsrtd replica reads
// the same cache, and PubSub relays transport.Hub broadcasts across those
// same replicas so a reconnect or queued-message event from one instance
// reaches WebSocket clients connected to any of them.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tonk-labs/vfsrt/store"
)

// Store is the store.Storage backing the State Cache across vfsrtd
// replicas. Unlike store.DiskStorage, every replica sees the same keys.
// store.Storage carries no expiry, so Set writes with Redis's own no-expiry
// sentinel (0) rather than ever setting a TTL on a bootstrap entry.
type Store struct {
	client *goredis.Client
}

// NewStore wraps an already-configured *goredis.Client as a store.Storage.
func NewStore(client *goredis.Client) *Store {
	return &Store{client: client}
}

// Get retrieves a key from Redis.
func (s *Store) Get(key string) ([]byte, error) {
	val, err := s.client.Get(context.Background(), key).Bytes()
	if err == goredis.Nil {
		return nil, store.ErrNotFound
	}
	return val, err
}

// Set stores a key in Redis with no expiration.
func (s *Store) Set(key string, val []byte) error {
	return s.client.Set(context.Background(), key, val, 0).Err()
}

// Delete removes a key from Redis.
func (s *Store) Delete(key string) error {
	return s.client.Del(context.Background(), key).Err()
}

// PubSub is the store.PubSub that gives transport.NewHubWithPubSub
// cross-process reach: Publish fans a Hub's broadcast out to every
// replica's Subscribe handler, including its own. Unlike an in-process
// store.MemoryPubSub, that echo travels over the wire, so PubSub frames
// every message with the publishing origin and Subscribe filters its own
// origin back out on receipt.
type PubSub struct {
	client *goredis.Client
}

// wireFrame carries the publishing origin alongside the payload since a
// replica's own Subscribe sees its own Publish come back through Redis.
type wireFrame struct {
	Origin  string `json:"origin"`
	Payload []byte `json:"payload"`
}

// NewPubSub wraps the same *goredis.Client a Store uses, so a replica's
// cache and its broadcast fanout share one Redis connection pool.
func NewPubSub(client *goredis.Client) *PubSub {
	return &PubSub{client: client}
}

// Publish publishes a message to a Redis channel, tagged with origin so
// Subscribe calls registered under that same origin skip it.
func (p *PubSub) Publish(channel, origin string, message []byte) error {
	frame, err := json.Marshal(wireFrame{Origin: origin, Payload: message})
	if err != nil {
		return fmt.Errorf("redis: marshal pubsub frame: %w", err)
	}
	return p.client.Publish(context.Background(), channel, frame).Err()
}

// Subscribe subscribes to a Redis channel and invokes handler for every
// message not published under origin, until the subscription's
// underlying connection is closed.
func (p *PubSub) Subscribe(channel, origin string, handler func(message []byte)) error {
	ctx := context.Background()
	pubsub := p.client.Subscribe(ctx, channel)

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	go func() {
		defer func() { _ = pubsub.Close() }()
		for msg := range pubsub.Channel() {
			var frame wireFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				continue
			}
			if frame.Origin == origin {
				continue
			}
			handler(frame.Payload)
		}
	}()

	return nil
}
