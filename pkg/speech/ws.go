package speech

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSEngine connects to a remote recognition relay that speaks the WireEvent
// protocol: the engine sends {"type":"start"} and receives events until
// {"type":"end"} or the connection drops.
type WSEngine struct {
	url    string
	lang   string
	logger *slog.Logger

	// Dialer may be replaced before the first Start, e.g. to route through a proxy.
	Dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
	ch   chan Event
}

// NewWSEngine creates a relay client for url.
func NewWSEngine(url, lang string, logger *slog.Logger) *WSEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSEngine{
		url:    url,
		lang:   lang,
		logger: logger.With("component", "speech.ws"),
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Start dials the relay and opens a session.
func (e *WSEngine) Start(ctx context.Context) (<-chan Event, error) {
	if e.url == "" {
		return nil, ErrUnsupported
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ch != nil {
		return nil, ErrAlreadyListening
	}

	conn, _, err := e.Dialer.DialContext(ctx, e.url, nil)
	if err != nil {
		return nil, &RecognitionError{Kind: KindNetwork, Err: err}
	}
	if err := conn.WriteJSON(Command{Type: "start", Lang: e.lang}); err != nil {
		conn.Close()
		return nil, &RecognitionError{Kind: KindNetwork, Err: err}
	}

	e.conn = conn
	e.ch = make(chan Event, 64)
	go e.read(conn, e.ch)

	e.logger.Debug("relay session opened", "url", e.url)
	return e.ch, nil
}

// Stop tells the relay to stop and closes the connection.
func (e *WSEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil
	}
	if err := e.conn.WriteJSON(Command{Type: "stop"}); err != nil {
		e.logger.Debug("stop command failed", "error", err)
	}
	e.finishLocked(nil)
	return nil
}

func (e *WSEngine) read(conn *websocket.Conn, ch chan Event) {
	for {
		var msg WireEvent
		if err := conn.ReadJSON(&msg); err != nil {
			e.finish(conn, err)
			return
		}
		ev, ok := msg.Event()
		if !ok {
			continue
		}
		if ev.Type == EventEnd {
			e.finish(conn, nil)
			return
		}

		e.mu.Lock()
		if e.conn == conn {
			select {
			case ch <- ev:
			default:
				e.logger.Warn("event dropped", "type", ev.Type)
			}
		}
		e.mu.Unlock()
	}
}

func (e *WSEngine) finish(conn *websocket.Conn, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != conn {
		return
	}
	e.finishLocked(err)
}

// finishLocked ends the session (must hold mu).
func (e *WSEngine) finishLocked(err error) {
	if err != nil {
		e.logger.Warn("relay connection lost", "error", err)
		select {
		case e.ch <- Event{Type: EventError, Err: &RecognitionError{Kind: KindNetwork, Err: err}}:
		default:
		}
	}
	select {
	case e.ch <- Event{Type: EventEnd}:
	default:
	}
	close(e.ch)
	e.ch = nil
	e.conn.Close()
	e.conn = nil
}

var _ Engine = (*WSEngine)(nil)
