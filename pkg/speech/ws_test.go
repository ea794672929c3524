package speech

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"
)

func relay(t *testing.T, script func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil || cmd.Type != "start" {
			return
		}
		script(conn)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestWSEngineSession(t *testing.T) {
	url := relay(t, func(conn *websocket.Conn) {
		conn.WriteJSON(WireEvent{Type: "start"})
		conn.WriteJSON(WireEvent{Type: "speechstart"})
		conn.WriteJSON(WireEvent{Type: "result", Text: "good morning", Final: true})
		conn.WriteJSON(WireEvent{Type: "speechend"})
		conn.WriteJSON(WireEvent{Type: "end"})
		var cmd Command
		conn.ReadJSON(&cmd)
	})

	e := NewWSEngine(url, "en-US", nil)
	events, err := e.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	got := collect(t, events)
	want := []EventType{EventStart, EventSpeechStart, EventFragment, EventSpeechEnd, EventEnd}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].Type != want[i] {
			t.Errorf("event %d = %v, want %v", i, got[i].Type, want[i])
		}
	}
	if got[2].Text != "good morning" {
		t.Errorf("unexpected text %q", got[2].Text)
	}

	// A finished session allows a new one.
	if err := e.Stop(); err != nil {
		t.Errorf("Stop after end: %v", err)
	}
}

func TestWSEngineConnectionLost(t *testing.T) {
	url := relay(t, func(conn *websocket.Conn) {
		conn.WriteJSON(WireEvent{Type: "start"})
	})

	events, err := NewWSEngine(url, "en-US", nil).Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	got := collect(t, events)
	if len(got) < 3 {
		t.Fatalf("expected start, error, end; got %+v", got)
	}
	errEv := got[len(got)-2]
	var rerr *RecognitionError
	if errEv.Type != EventError || !errors.As(errEv.Err, &rerr) || rerr.Kind != KindNetwork {
		t.Errorf("expected network error, got %+v", errEv)
	}
	if got[len(got)-1].Type != EventEnd {
		t.Errorf("expected end last, got %v", got[len(got)-1].Type)
	}
}

func TestWSEngineStop(t *testing.T) {
	stopped := make(chan struct{})
	url := relay(t, func(conn *websocket.Conn) {
		var cmd Command
		if conn.ReadJSON(&cmd) == nil && cmd.Type == "stop" {
			close(stopped)
		}
	})

	e := NewWSEngine(url, "en-US", nil)
	events, err := e.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.Stop()

	got := collect(t, events)
	if len(got) != 1 || got[0].Type != EventEnd {
		t.Errorf("expected a lone end event, got %+v", got)
	}
	<-stopped
}

func TestWSEngineDialFailure(t *testing.T) {
	_, err := NewWSEngine("ws://127.0.0.1:1/none", "en-US", nil).Start(context.Background())
	var rerr *RecognitionError
	if !errors.As(err, &rerr) || rerr.Kind != KindNetwork {
		t.Errorf("expected network error, got %v", err)
	}

	if _, err := NewWSEngine("", "en-US", nil).Start(context.Background()); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

// failingConn rejects writes once broken is set.
type failingConn struct {
	net.Conn
	broken *atomic.Bool
}

func (c failingConn) Write(p []byte) (int, error) {
	if c.broken.Load() {
		return 0, errors.New("write: broken pipe")
	}
	return c.Conn.Write(p)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWSEngineStopLogsFailedCommand(t *testing.T) {
	url := relay(t, func(conn *websocket.Conn) {
		var cmd Command
		conn.ReadJSON(&cmd)
	})

	var logs syncBuffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	e := NewWSEngine(url, "en-US", logger)

	var broken atomic.Bool
	e.Dialer.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		return failingConn{Conn: conn, broken: &broken}, nil
	}

	events, err := e.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	broken.Store(true)

	if err := e.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	collect(t, events)

	if !strings.Contains(logs.String(), "stop command failed") {
		t.Errorf("expected the failed stop command to be logged, got %q", logs.String())
	}
}
