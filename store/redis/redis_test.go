package redis

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/tonk-labs/vfsrt/store"
	goredis "github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client), mr
}

func TestStoreGetSetDelete(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.Get("missing"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Set("k", []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.Get("k")
	if err != nil || string(got) != "v" {
		t.Fatalf("get: %v %q", err, got)
	}

	if err := s.Delete("k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get("k"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStoreSetOverwrites(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Set("k", []byte("first")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set("k", []byte("second")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.Get("k")
	if err != nil || string(got) != "second" {
		t.Fatalf("expected second Set to overwrite, got %q err=%v", got, err)
	}
}

func TestPubSubPublishSubscribe(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	ps := NewPubSub(client)
	received := make(chan []byte, 1)
	if err := ps.Subscribe("events", "replica-a", func(msg []byte) { received <- msg }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// miniredis delivers pub/sub synchronously but subscription registration
	// on the wire is async; give the Receive() handshake a moment to land.
	time.Sleep(20 * time.Millisecond)

	if err := ps.Publish("events", "replica-b", []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-received:
		if string(msg) != "hello" {
			t.Fatalf("unexpected message: %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
}

// TestPubSubSkipsOwnOrigin covers the echo-suppression contract: a
// Subscribe registered under the same origin as a Publish never receives
// that publish, even though Redis itself delivers it back to the
// publishing connection.
func TestPubSubSkipsOwnOrigin(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	ps := NewPubSub(client)
	received := make(chan []byte, 1)
	if err := ps.Subscribe("events", "replica-a", func(msg []byte) { received <- msg }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if err := ps.Publish("events", "replica-a", []byte("echo")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-received:
		t.Fatalf("expected same-origin publish to be filtered, got %q", msg)
	case <-time.After(100 * time.Millisecond):
	}
}
