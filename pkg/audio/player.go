// Package audio plays synthesized speech on the local output device and
// meters its loudness for visualization.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"

	"github.com/teslashibe/go-ruvo/pkg/tts"
)

var (
	// ErrNoAudio is returned when a result carries no audio bytes.
	ErrNoAudio = errors.New("audio: no audio data")

	// ErrUnsupportedFormat is returned for encodings the player cannot decode.
	ErrUnsupportedFormat = errors.New("audio: unsupported format")

	// ErrStopped is returned by Play when Stop interrupted playback.
	ErrStopped = errors.New("audio: playback stopped")
)

// Player plays synthesis results.
type Player interface {
	// Play blocks until playback finishes, ctx is canceled, or Stop is called.
	// onLevel, when non-nil, receives loudness readings in [0,100].
	Play(ctx context.Context, result *tts.AudioResult, onLevel func(float64)) error

	// Stop interrupts the current playback, if any.
	Stop()
}

// SpeakerPlayer plays through the default output device using beep.
// The device is opened on first use at the first result's sample rate;
// later results are resampled to it.
type SpeakerPlayer struct {
	logger *slog.Logger

	// Callbacks
	OnPlaybackStart func()
	OnPlaybackEnd   func()

	mu      sync.Mutex
	rate    beep.SampleRate
	ready   bool
	ctrl    *beep.Ctrl
	stopped chan struct{}
}

// NewSpeakerPlayer creates a player. The device is not touched until Play.
func NewSpeakerPlayer(logger *slog.Logger) *SpeakerPlayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SpeakerPlayer{logger: logger.With("component", "audio.speaker")}
}

// Play decodes and plays result. Results already played by their backend
// return immediately.
func (p *SpeakerPlayer) Play(ctx context.Context, result *tts.AudioResult, onLevel func(float64)) error {
	if result != nil && result.Played {
		return nil
	}

	stream, format, err := Decode(result)
	if err != nil {
		return err
	}
	defer stream.Close()

	rate, err := p.ensureDevice(format.SampleRate)
	if err != nil {
		return err
	}

	var s beep.Streamer = stream
	if format.SampleRate != rate {
		s = beep.Resample(4, format.SampleRate, rate, s)
	}
	s = &meter{Streamer: s, onLevel: onLevel}

	done := make(chan struct{})
	ctrl := &beep.Ctrl{Streamer: beep.Seq(s, beep.Callback(func() {
		close(done)
	}))}

	p.mu.Lock()
	p.haltLocked()
	p.ctrl = ctrl
	stopped := make(chan struct{})
	p.stopped = stopped
	p.mu.Unlock()

	if p.OnPlaybackStart != nil {
		p.OnPlaybackStart()
	}
	defer func() {
		if p.OnPlaybackEnd != nil {
			p.OnPlaybackEnd()
		}
	}()

	start := time.Now()
	speaker.Play(ctrl)

	select {
	case <-done:
		p.logger.Debug("playback complete", "provider", result.Provider, "elapsed", time.Since(start))
		p.mu.Lock()
		if p.ctrl == ctrl {
			p.ctrl = nil
		}
		p.mu.Unlock()
		return nil
	case <-stopped:
		return ErrStopped
	case <-ctx.Done():
		p.mu.Lock()
		if p.ctrl == ctrl {
			p.haltLocked()
		}
		p.mu.Unlock()
		return ctx.Err()
	}
}

// Stop interrupts the current playback.
func (p *SpeakerPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.haltLocked()
}

// IsPlaying returns whether audio is currently playing.
func (p *SpeakerPlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctrl != nil
}

// haltLocked silences the active stream (must hold mu).
func (p *SpeakerPlayer) haltLocked() {
	if p.ctrl == nil {
		return
	}
	speaker.Lock()
	p.ctrl.Streamer = nil
	speaker.Unlock()
	p.ctrl = nil
	if p.stopped != nil {
		close(p.stopped)
		p.stopped = nil
	}
}

func (p *SpeakerPlayer) ensureDevice(rate beep.SampleRate) (beep.SampleRate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready {
		return p.rate, nil
	}
	if err := speaker.Init(rate, rate.N(time.Second/10)); err != nil {
		return 0, fmt.Errorf("audio: open output device: %w", err)
	}
	p.rate = rate
	p.ready = true
	p.logger.Info("output device ready", "sample_rate", int(rate))
	return rate, nil
}

var _ Player = (*SpeakerPlayer)(nil)
