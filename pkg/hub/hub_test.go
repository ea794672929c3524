package hub

import (
	"context"
	"testing"
	"time"
)

func runHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New("test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	waitFor(t, h.IsRunning)
	return h, cancel
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}

// attach registers a connectionless client.
func attach(h *Hub, buffer int) *Client {
	c := &Client{hub: h, send: make(chan Message, buffer)}
	h.register <- c
	return c
}

func receive(t *testing.T, c *Client) (Message, bool) {
	t.Helper()
	select {
	case m, ok := <-c.send:
		return m, ok
	case <-time.After(time.Second):
		t.Fatal("no message")
	}
	return Message{}, false
}

func TestBroadcastReachesAllClients(t *testing.T) {
	h, _ := runHub(t)
	a, b := attach(h, 4), attach(h, 4)
	waitFor(t, func() bool { return h.ClientCount() == 2 })

	if err := h.BroadcastJSON(map[string]string{"type": "state", "state": "listening"}); err != nil {
		t.Fatal(err)
	}

	for _, c := range []*Client{a, b} {
		m, ok := receive(t, c)
		if !ok || string(m.Data) != `{"state":"listening","type":"state"}` {
			t.Errorf("Unexpected message %q", m.Data)
		}
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	h, _ := runHub(t)
	c := attach(h, 1)
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	h.unregister <- c
	if _, ok := receive(t, c); ok {
		t.Error("Expected send channel closed")
	}
	if h.ClientCount() != 0 {
		t.Errorf("Expected no clients, got %d", h.ClientCount())
	}
}

func TestSlowClientDropped(t *testing.T) {
	h, _ := runHub(t)
	slow := attach(h, 1)
	fast := attach(h, 8)
	waitFor(t, func() bool { return h.ClientCount() == 2 })

	h.Broadcast(NewJSONMessage([]byte(`1`)))
	receive(t, fast)
	h.Broadcast(NewJSONMessage([]byte(`2`)))
	receive(t, fast)

	waitFor(t, func() bool { return h.ClientCount() == 1 })
	if m, ok := receive(t, slow); !ok || string(m.Data) != "1" {
		t.Errorf("Slow client should keep its queued message, got %q", m.Data)
	}
	if _, ok := receive(t, slow); ok {
		t.Error("Slow client should be closed")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h, cancel := runHub(t)
	c := attach(h, 1)
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	cancel()
	if _, ok := receive(t, c); ok {
		t.Error("Expected client closed on shutdown")
	}
	waitFor(t, func() bool { return !h.IsRunning() })

	late := NewClient(h, nil, NewJSONMessage([]byte(`"snapshot"`)))
	if m, ok := receive(t, late); !ok || string(m.Data) != `"snapshot"` {
		t.Errorf("Expected initial message first, got %q", m.Data)
	}
	if _, ok := receive(t, late); ok {
		t.Error("Client of a stopped hub should be closed")
	}
}
