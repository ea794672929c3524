package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

const providerEspeak = "espeak"

// Espeak implements Provider with the local espeak-ng binary.
// It plays through the default audio device itself, so results carry
// Played=true and no audio bytes. Canceling ctx stops playback.
type Espeak struct {
	config *Config
	logger *slog.Logger

	mu      sync.RWMutex
	variant string
}

// NewEspeak creates a local speech provider. It never fails; a missing
// binary surfaces as ErrEngineMissing from Synthesize and Health.
func NewEspeak(opts ...Option) *Espeak {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	e := &Espeak{
		config:  cfg,
		logger:  cfg.Logger.With("component", "tts.espeak"),
		variant: "f3",
	}
	e.SetVoice(cfg.VoiceID)
	return e
}

// Name returns "espeak".
func (e *Espeak) Name() string { return providerEspeak }

// SetVoice picks a male or female variant to match a catalog voice.
func (e *Espeak) SetVoice(id string) {
	v, ok := LookupVoice(id)
	if !ok {
		return
	}
	e.mu.Lock()
	if v.Gender == Male {
		e.variant = "m3"
	} else {
		e.variant = "f3"
	}
	e.mu.Unlock()
}

// Synthesize speaks text and returns once playback has finished.
func (e *Espeak) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if text == "" {
		return nil, WrapError(providerEspeak, ErrEmptyText)
	}
	bin, err := exec.LookPath(e.config.Binary)
	if err != nil {
		return nil, WrapError(providerEspeak, ErrEngineMissing)
	}

	start := time.Now()
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, e.args(text)...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, WrapError(providerEspeak, fmt.Errorf("exit %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String())))
		}
		return nil, WrapError(providerEspeak, err)
	}
	elapsed := time.Since(start)

	e.logger.Debug("spoke locally", "chars", len(text), "duration", elapsed)

	return &AudioResult{
		Duration:  elapsed,
		CharCount: len(text),
		LatencyMs: elapsed.Milliseconds(),
		Provider:  providerEspeak,
		Played:    true,
	}, nil
}

// Health reports whether the binary is installed.
func (e *Espeak) Health(ctx context.Context) error {
	if _, err := exec.LookPath(e.config.Binary); err != nil {
		return WrapError(providerEspeak, ErrEngineMissing)
	}
	return nil
}

// Close is a no-op.
func (e *Espeak) Close() error {
	return nil
}

func (e *Espeak) args(text string) []string {
	e.mu.RLock()
	variant := e.variant
	e.mu.RUnlock()

	lang := strings.ToLower(e.config.LanguageCode)
	if lang == "" {
		lang = "en-us"
	}
	return []string{
		"-v", lang + "+" + variant,
		"-s", strconv.Itoa(e.config.Rate),
		"-p", strconv.Itoa(e.config.Pitch),
		"--", text,
	}
}

var (
	_ Provider    = (*Espeak)(nil)
	_ VoiceSetter = (*Espeak)(nil)
)
