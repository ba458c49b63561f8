// Package transport is the HTTP and WebSocket edge: it wires the
// Request Resolver, Response Assembler and RPC Dispatcher onto a fiber
// app and owns the one Hub that fans broadcast envelopes out to every
// connected client.
package transport

import (
	"sync"
	"time"
)

// RateLimiter is a per-IP token bucket guarding WebSocket connection
// attempts, detached from any specific web framework so both the HTTP
// upgrade path and a bare net/http front end could reuse it.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	maxTokens       float64
	refillRate      float64 // tokens per second
	staleAfter      time.Duration
	cleanupInterval time.Duration

	stop chan struct{}
	once sync.Once
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter creates a limiter allowing a burst of maxTokens
// connections, refilling at refillRate tokens/second.
func NewRateLimiter(maxTokens, refillRate float64) *RateLimiter {
	rl := &RateLimiter{
		buckets:         make(map[string]*bucket),
		maxTokens:       maxTokens,
		refillRate:      refillRate,
		staleAfter:      10 * time.Minute,
		cleanupInterval: time.Minute,
		stop:            make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow reports whether a new connection attempt from ip should proceed.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.buckets[ip]
	if !ok {
		rl.buckets[ip] = &bucket{tokens: rl.maxTokens - 1, lastRefill: now}
		return true
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * rl.refillRate
	if b.tokens > rl.maxTokens {
		b.tokens = rl.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return true
	}
	return false
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for ip, b := range rl.buckets {
				if now.Sub(b.lastRefill) > rl.staleAfter {
					delete(rl.buckets, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Close stops the cleanup goroutine.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}
