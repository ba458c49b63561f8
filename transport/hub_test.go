package transport

import (
	"testing"
	"time"

	"github.com/tonk-labs/vfsrt/store"
)

func TestHubRegisterUnregisterCount(t *testing.T) {
	h := NewHub()
	if h.Count() != 0 {
		t.Fatalf("expected empty hub, got %d", h.Count())
	}

	c := h.register("client-a")
	if h.Count() != 1 {
		t.Fatalf("expected 1 client after register, got %d", h.Count())
	}

	h.unregister("client-a")
	if h.Count() != 0 {
		t.Fatalf("expected 0 clients after unregister, got %d", h.Count())
	}

	// the channel closed on unregister must not be written to again by
	// the hub itself; reading it should yield the zero value immediately.
	if _, ok := <-c.send; ok {
		t.Fatalf("expected send channel to be closed after unregister")
	}
}

func TestHubRegisterReplacesExistingClient(t *testing.T) {
	h := NewHub()
	first := h.register("dup")
	second := h.register("dup")

	if h.Count() != 1 {
		t.Fatalf("expected re-registering the same id to replace, not add, got %d clients", h.Count())
	}
	if _, ok := <-first.send; ok {
		t.Fatalf("expected the superseded client's send channel to be closed")
	}
	h.unregister("dup")
	if _, ok := <-second.send; ok {
		t.Fatalf("expected the current client's send channel to be closed on unregister")
	}
}

func TestHubBroadcastFansOutToAllClients(t *testing.T) {
	h := NewHub()
	a := h.register("a")
	b := h.register("b")
	defer h.unregister("a")
	defer h.unregister("b")

	h.Broadcast(map[string]string{"type": "hello"})

	for name, c := range map[string]*client{"a": a, "b": b} {
		select {
		case msg := <-c.send:
			if len(msg) == 0 {
				t.Fatalf("client %s received an empty broadcast", name)
			}
		default:
			t.Fatalf("client %s received nothing from broadcast", name)
		}
	}
}

func TestHubBroadcastDropsOnFullBuffer(t *testing.T) {
	h := NewHub()
	c := h.register("slow")
	defer h.unregister("slow")

	// fill the client's buffer past capacity; Broadcast must not block.
	for i := 0; i < 300; i++ {
		h.Broadcast(map[string]int{"n": i})
	}
	if len(c.send) == 0 {
		t.Fatalf("expected some broadcasts to have been buffered")
	}
}

func TestHubBroadcastFansOutAcrossPubSub(t *testing.T) {
	ps := store.NewMemoryPubSub()
	h1 := NewHubWithPubSub(ps, "test-channel")
	h2 := NewHubWithPubSub(ps, "test-channel")

	c1 := h1.register("local-to-h1")
	c2 := h2.register("local-to-h2")
	defer h1.unregister("local-to-h1")
	defer h2.unregister("local-to-h2")

	h1.Broadcast(map[string]string{"type": "hello"})

	select {
	case msg := <-c2.send:
		if len(msg) == 0 {
			t.Fatalf("empty broadcast relayed to h2's client")
		}
	case <-time.After(time.Second):
		t.Fatalf("h2's client never received the cross-hub broadcast")
	}

	select {
	case msg := <-c1.send:
		if len(msg) == 0 {
			t.Fatalf("h1's own client received an empty broadcast")
		}
	default:
		t.Fatalf("h1's own client should have received the broadcast directly")
	}

	// Give any (incorrect) pubsub echo back to the publisher time to land
	// before asserting it never does.
	time.Sleep(50 * time.Millisecond)
	select {
	case <-c1.send:
		t.Fatalf("h1's own client received a duplicate via its own pubsub echo")
	default:
	}
}
