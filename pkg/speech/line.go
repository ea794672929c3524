package speech

import (
	"bufio"
	"context"
	"io"
	"sync"
)

// LineEngine treats each line read from r as one final utterance. It backs
// text-mode conversations where typed input stands in for speech.
type LineEngine struct {
	lines chan string
	done  chan struct{}

	mu   sync.Mutex
	ch   chan Event
	stop chan struct{}
}

// NewLineEngine starts reading r in the background.
func NewLineEngine(r io.Reader) *LineEngine {
	e := &LineEngine{
		lines: make(chan string),
		done:  make(chan struct{}),
	}
	go func() {
		defer close(e.done)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			e.lines <- scanner.Text()
		}
	}()
	return e
}

// Done is closed when the input is exhausted.
func (e *LineEngine) Done() <-chan struct{} {
	return e.done
}

// Start waits for the next line in a new session.
func (e *LineEngine) Start(ctx context.Context) (<-chan Event, error) {
	select {
	case <-e.done:
		return nil, io.EOF
	default:
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ch != nil {
		return nil, ErrAlreadyListening
	}

	ch := make(chan Event, 4)
	stop := make(chan struct{})
	e.ch, e.stop = ch, stop
	ch <- Event{Type: EventStart}

	go func() {
		select {
		case line := <-e.lines:
			e.deliver(ch, Event{Type: EventFragment, Text: line, Final: true})
		case <-e.done:
		case <-stop:
			return
		case <-ctx.Done():
		}
		e.end(ch)
	}()
	return ch, nil
}

// Stop ends the waiting session; an unread line stays queued.
func (e *LineEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ch == nil {
		return nil
	}
	close(e.stop)
	e.closeLocked()
	return nil
}

func (e *LineEngine) deliver(ch chan Event, ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ch == ch {
		ch <- ev
	}
}

func (e *LineEngine) end(ch chan Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ch == ch {
		e.closeLocked()
	}
}

func (e *LineEngine) closeLocked() {
	e.ch <- Event{Type: EventEnd}
	close(e.ch)
	e.ch = nil
	e.stop = nil
}

var _ Engine = (*LineEngine)(nil)
