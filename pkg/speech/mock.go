package speech

import (
	"context"
	"sync"
	"time"
)

// MockEngine is a scriptable Engine for tests.
type MockEngine struct {
	// StartErr, when set, is returned by Start.
	StartErr error

	mu      sync.Mutex
	ch      chan Event
	starts  int
	stops   int
	started chan struct{}
}

// NewMockEngine returns an idle mock engine.
func NewMockEngine() *MockEngine {
	return &MockEngine{started: make(chan struct{}, 64)}
}

// Start opens a session and emits EventStart.
func (m *MockEngine) Start(ctx context.Context) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StartErr != nil {
		return nil, m.StartErr
	}
	if m.ch != nil {
		return nil, ErrAlreadyListening
	}
	m.starts++
	m.ch = make(chan Event, 64)
	m.ch <- Event{Type: EventStart}
	select {
	case m.started <- struct{}{}:
	default:
	}
	return m.ch, nil
}

// Stop ends the session with EventEnd.
func (m *MockEngine) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ch == nil {
		return nil
	}
	m.stops++
	m.closeLocked()
	return nil
}

// Emit delivers ev to the open session. It reports false when idle.
func (m *MockEngine) Emit(ev Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ch == nil {
		return false
	}
	if ev.Type == EventEnd {
		m.closeLocked()
		return true
	}
	select {
	case m.ch <- ev:
		return true
	default:
		return false
	}
}

// Say emits a complete utterance: speech start, final fragment, speech end.
func (m *MockEngine) Say(text string) bool {
	return m.Emit(Event{Type: EventSpeechStart}) &&
		m.Emit(Event{Type: EventFragment, Text: text, Final: true}) &&
		m.Emit(Event{Type: EventSpeechEnd})
}

// Fail emits an error followed by the end of the session.
func (m *MockEngine) Fail(err error) bool {
	return m.Emit(Event{Type: EventError, Err: err}) && m.Emit(Event{Type: EventEnd})
}

// WaitStart blocks until a session is started or timeout elapses.
func (m *MockEngine) WaitStart(timeout time.Duration) bool {
	select {
	case <-m.started:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Active reports whether a session is open.
func (m *MockEngine) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ch != nil
}

// Starts returns the number of sessions opened.
func (m *MockEngine) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

// Stops returns the number of Stop calls that ended a session.
func (m *MockEngine) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

func (m *MockEngine) closeLocked() {
	select {
	case m.ch <- Event{Type: EventEnd}:
	default:
	}
	close(m.ch)
	m.ch = nil
}

var _ Engine = (*MockEngine)(nil)
