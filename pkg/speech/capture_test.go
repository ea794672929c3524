package speech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// recorder collects capture callbacks.
type recorder struct {
	mu      sync.Mutex
	starts  []uint64
	ends    []uint64
	results []string
	errs    []error
	ended   chan uint64
}

func newRecorder(c *Capture) *recorder {
	r := &recorder{ended: make(chan uint64, 16)}
	c.OnSessionStart = func(id uint64) {
		r.mu.Lock()
		r.starts = append(r.starts, id)
		r.mu.Unlock()
	}
	c.OnSessionEnd = func(id uint64) {
		r.mu.Lock()
		r.ends = append(r.ends, id)
		r.mu.Unlock()
		r.ended <- id
	}
	c.OnResult = func(id uint64, text string) {
		r.mu.Lock()
		r.results = append(r.results, text)
		r.mu.Unlock()
	}
	c.OnError = func(id uint64, err error) {
		r.mu.Lock()
		r.errs = append(r.errs, err)
		r.mu.Unlock()
	}
	return r
}

func (r *recorder) waitEnd(t *testing.T) uint64 {
	t.Helper()
	select {
	case id := <-r.ended:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("session never ended")
		return 0
	}
}

func (r *recorder) snapshot() (starts, ends []uint64, results []string, errs []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.starts...), append([]uint64(nil), r.ends...),
		append([]string(nil), r.results...), append([]error(nil), r.errs...)
}

func TestCaptureSilenceEndsSession(t *testing.T) {
	engine := NewMockEngine()
	c := NewCapture(engine, WithSilence(30*time.Millisecond))
	rec := newRecorder(c)

	id, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	engine.Say("hello there")

	if got := rec.waitEnd(t); got != id {
		t.Errorf("ended session %d, want %d", got, id)
	}
	starts, ends, results, _ := rec.snapshot()
	if len(starts) != 1 || len(ends) != 1 {
		t.Errorf("expected one start and one end, got %v %v", starts, ends)
	}
	if len(results) != 1 || results[0] != "hello there" {
		t.Errorf("unexpected results %v", results)
	}
	if engine.Active() || c.Listening() {
		t.Error("expected engine and capture idle after silence")
	}
}

func TestCaptureSpeechHoldsTimer(t *testing.T) {
	engine := NewMockEngine()
	c := NewCapture(engine, WithSilence(30*time.Millisecond), WithNoSpeechTimeout(30*time.Millisecond))
	rec := newRecorder(c)

	c.Start(context.Background())
	engine.Emit(Event{Type: EventSpeechStart})

	time.Sleep(100 * time.Millisecond)
	if !c.Listening() {
		t.Fatal("session ended while the user was still talking")
	}

	engine.Emit(Event{Type: EventSpeechEnd})
	rec.waitEnd(t)
}

func TestCaptureFiltersInterim(t *testing.T) {
	tests := []struct {
		name    string
		interim bool
		want    []string
	}{
		{"final only", false, []string{"how are you"}},
		{"interim requested", true, []string{"how", "how are you"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewMockEngine()
			c := NewCapture(engine, WithSilence(time.Hour), WithInterim(tt.interim))
			rec := newRecorder(c)

			c.Start(context.Background())
			engine.Emit(Event{Type: EventFragment, Text: "how"})
			engine.Emit(Event{Type: EventFragment, Text: "   ", Final: true})
			engine.Emit(Event{Type: EventFragment, Text: " how are you ", Final: true})
			engine.Emit(Event{Type: EventEnd})
			rec.waitEnd(t)

			_, _, results, _ := rec.snapshot()
			if len(results) != len(tt.want) {
				t.Fatalf("results = %v, want %v", results, tt.want)
			}
			for i := range results {
				if results[i] != tt.want[i] {
					t.Errorf("result %d = %q, want %q", i, results[i], tt.want[i])
				}
			}
		})
	}
}

func TestCaptureStop(t *testing.T) {
	engine := NewMockEngine()
	c := NewCapture(engine)
	rec := newRecorder(c)

	// Stop while idle is a no-op.
	c.Stop()
	if _, ends, _, _ := rec.snapshot(); len(ends) != 0 {
		t.Fatal("expected no end event while idle")
	}

	id, _ := c.Start(context.Background())
	c.Stop()
	c.Stop()

	_, ends, _, _ := rec.snapshot()
	if len(ends) != 1 || ends[0] != id {
		t.Fatalf("expected exactly one end for session %d, got %v", id, ends)
	}
	if engine.Stops() != 1 {
		t.Errorf("expected engine stopped once, got %d", engine.Stops())
	}

	// Events from the stopped session are ignored.
	engine.Say("late")
	time.Sleep(20 * time.Millisecond)
	if _, _, results, _ := rec.snapshot(); len(results) != 0 {
		t.Errorf("expected no results after stop, got %v", results)
	}
}

func TestCaptureStartErrors(t *testing.T) {
	t.Run("no engine", func(t *testing.T) {
		if _, err := NewCapture(nil).Start(context.Background()); !errors.Is(err, ErrUnsupported) {
			t.Errorf("expected ErrUnsupported, got %v", err)
		}
	})

	t.Run("permission denied", func(t *testing.T) {
		engine := NewMockEngine()
		engine.StartErr = ErrPermissionDenied
		c := NewCapture(engine)
		if _, err := c.Start(context.Background()); !errors.Is(err, ErrPermissionDenied) {
			t.Errorf("expected ErrPermissionDenied, got %v", err)
		}
		if c.Listening() {
			t.Error("failed start must not leave a session open")
		}
	})

	t.Run("already listening", func(t *testing.T) {
		c := NewCapture(NewMockEngine())
		c.Start(context.Background())
		defer c.Stop()
		if _, err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyListening) {
			t.Errorf("expected ErrAlreadyListening, got %v", err)
		}
	})
}

func TestCaptureReportsErrorsThenEnds(t *testing.T) {
	engine := NewMockEngine()
	c := NewCapture(engine)
	rec := newRecorder(c)

	c.Start(context.Background())
	engine.Fail(&RecognitionError{Kind: KindNoSpeech})
	rec.waitEnd(t)

	_, ends, _, errs := rec.snapshot()
	var rerr *RecognitionError
	if len(errs) != 1 || !errors.As(errs[0], &rerr) || rerr.Kind != KindNoSpeech {
		t.Errorf("unexpected errors %v", errs)
	}
	if len(ends) != 1 {
		t.Errorf("expected one end, got %v", ends)
	}

	// A fresh session gets a new id.
	id2, err := c.Start(context.Background())
	if err != nil || id2 == ends[0] {
		t.Errorf("expected new session, got %d %v", id2, err)
	}
	c.Stop()
}
