package audio

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/go-ruvo/pkg/tts"
)

// MockPlayer implements Player for testing.
type MockPlayer struct {
	// PlayFunc replaces the default behavior when set.
	PlayFunc func(ctx context.Context, result *tts.AudioResult, onLevel func(float64)) error

	// Delay is how long the default Play blocks.
	Delay time.Duration

	// Levels are reported to onLevel by the default Play.
	Levels []float64

	mu      sync.Mutex
	played  []*tts.AudioResult
	stops   int
	stopped chan struct{}
}

// NewMockPlayer returns a player that finishes immediately.
func NewMockPlayer() *MockPlayer {
	return &MockPlayer{}
}

// Play records result and blocks for Delay unless stopped or canceled.
func (m *MockPlayer) Play(ctx context.Context, result *tts.AudioResult, onLevel func(float64)) error {
	m.mu.Lock()
	m.played = append(m.played, result)
	stopped := make(chan struct{})
	m.stopped = stopped
	m.mu.Unlock()

	if m.PlayFunc != nil {
		return m.PlayFunc(ctx, result, onLevel)
	}

	if onLevel != nil {
		for _, l := range m.Levels {
			onLevel(l)
		}
	}
	if m.Delay <= 0 {
		return nil
	}

	select {
	case <-time.After(m.Delay):
		return nil
	case <-stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop unblocks the current Play.
func (m *MockPlayer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	if m.stopped != nil {
		close(m.stopped)
		m.stopped = nil
	}
}

// Played returns every result passed to Play.
func (m *MockPlayer) Played() []*tts.AudioResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*tts.AudioResult, len(m.played))
	copy(out, m.played)
	return out
}

// Stops returns how many times Stop was called.
func (m *MockPlayer) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

var _ Player = (*MockPlayer)(nil)
