package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-ruvo/pkg/audio"
	"github.com/teslashibe/go-ruvo/pkg/tts"
)

// DefaultMutedDelay is how long a muted Speak waits before reporting the end.
const DefaultMutedDelay = time.Second

// Output synthesizes replies and plays them. Whatever happens, each Speak
// produces exactly one OnSpeechEnd.
type Output struct {
	provider tts.Provider
	player   audio.Player
	logger   *slog.Logger

	// MutedDelay replaces playback while muted.
	MutedDelay time.Duration

	// Callbacks
	OnSpeechStart func()
	OnSpeechEnd   func()
	OnError       func(err error)
	OnLevel       func(level float64)

	muted atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	active uint64
	seq    uint64

	// unmuted cancels synthesis when the mute switch turns on. Local
	// engines play while synthesizing, so stopping the player is not enough.
	unmuted context.CancelFunc
}

// NewOutput pairs a synthesis provider (usually a tts.Chain ending in a
// local engine) with a player.
func NewOutput(provider tts.Provider, player audio.Player, logger *slog.Logger) *Output {
	if logger == nil {
		logger = slog.Default()
	}
	return &Output{
		provider:   provider,
		player:     player,
		logger:     logger.With("component", "speech.output"),
		MutedDelay: DefaultMutedDelay,
	}
}

// Speak synthesizes and plays text, blocking until playback ends, fails, or
// is stopped. A Speak already in progress is stopped first. Stop and ctx
// cancellation return nil; failures are returned and reported to OnError.
func (o *Output) Speak(ctx context.Context, text string) error {
	o.Stop()

	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.seq++
	id := o.seq
	o.active = id
	o.cancel = cancel
	o.mu.Unlock()

	var endOnce sync.Once
	end := func() {
		endOnce.Do(func() {
			o.mu.Lock()
			if o.active == id {
				o.active = 0
				o.cancel = nil
			}
			o.mu.Unlock()
			cancel()
			if o.OnLevel != nil {
				o.OnLevel(0)
			}
			if o.OnSpeechEnd != nil {
				o.OnSpeechEnd()
			}
		})
	}
	defer end()

	if o.OnSpeechStart != nil {
		o.OnSpeechStart()
	}

	synthCtx, synthCancel := context.WithCancel(ctx)
	defer synthCancel()
	o.mu.Lock()
	if o.active == id {
		o.unmuted = synthCancel
	}
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		if o.active == id || o.active == 0 {
			o.unmuted = nil
		}
		o.mu.Unlock()
	}()

	if o.muted.Load() {
		select {
		case <-time.After(o.MutedDelay):
		case <-ctx.Done():
		}
		return nil
	}

	start := time.Now()
	result, err := o.provider.Synthesize(synthCtx, text)
	if err != nil {
		if synthCtx.Err() != nil {
			return nil
		}
		o.fail(err)
		return err
	}
	if o.muted.Load() {
		return nil
	}
	o.logger.Debug("synthesized", "provider", result.Provider, "latency", time.Since(start), "chars", len(text))

	err = o.player.Play(ctx, result, o.OnLevel)
	switch {
	case err == nil, errors.Is(err, audio.ErrStopped), ctx.Err() != nil:
		return nil
	default:
		o.fail(err)
		return err
	}
}

// Stop halts playback in progress. It is a no-op when idle.
func (o *Output) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	o.active = 0
	o.mu.Unlock()

	if cancel != nil {
		cancel()
		o.player.Stop()
	}
}

// Speaking reports whether a Speak is in progress.
func (o *Output) Speaking() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active != 0
}

// SetMuted disables audio; Speak then only waits MutedDelay. Muting cuts
// off a reply in progress, including one a local engine is speaking.
func (o *Output) SetMuted(muted bool) {
	o.muted.Store(muted)
	if !muted {
		return
	}
	o.mu.Lock()
	cancel := o.unmuted
	o.unmuted = nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	o.player.Stop()
}

// Muted reports the mute switch.
func (o *Output) Muted() bool {
	return o.muted.Load()
}

// SetVoice switches the voice if the provider supports it.
func (o *Output) SetVoice(id string) {
	if vs, ok := o.provider.(tts.VoiceSetter); ok {
		vs.SetVoice(id)
	}
}

func (o *Output) fail(err error) {
	o.logger.Warn("speech output failed", "error", err)
	if o.OnError != nil {
		o.OnError(err)
	}
}
