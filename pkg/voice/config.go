package voice

import (
	"errors"
	"log/slog"
	"time"

	"github.com/teslashibe/go-ruvo/internal/metrics"
	"github.com/teslashibe/go-ruvo/pkg/transcript"
)

// Defaults.
const (
	DefaultGrace       = 500 * time.Millisecond
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 150
	DefaultTurnTimeout = 45 * time.Second

	// FallbackReply is spoken when the completion call fails.
	FallbackReply = "I'm having trouble right now, let's try again."
)

// Config holds the orchestrator's tunable parameters.
type Config struct {
	// Completion settings
	Model       string
	Temperature float64
	MaxTokens   int

	// SystemPrompt seeds every session. Empty uses SystemPrompt(UserName).
	SystemPrompt string
	UserName     string

	// EmotionAware adds tone guidance for the detected mood of the latest
	// user turn to the request (history is left untouched).
	EmotionAware bool

	// Grace is the pause between the end of a reply and reopening the
	// microphone, so capture does not hear the tail of the reply.
	Grace time.Duration

	// TurnTimeout bounds the completion call of one turn.
	TurnTimeout time.Duration

	// Fallback is spoken when the completion call fails.
	Fallback string

	// Titles generates a short title after the first reply.
	Titles bool

	// Transcripts persists history after each turn. Nil disables it.
	Transcripts *transcript.Store

	// Metrics receives turn and state counters. Nil disables them.
	Metrics *metrics.Metrics

	Logger *slog.Logger
}

// DefaultConfig returns a Config with the companion's defaults.
func DefaultConfig() Config {
	return Config{
		Model:        DefaultModel,
		Temperature:  DefaultTemperature,
		MaxTokens:    DefaultMaxTokens,
		EmotionAware: true,
		Grace:        DefaultGrace,
		TurnTimeout:  DefaultTurnTimeout,
		Fallback:     FallbackReply,
		Titles:       true,
		Logger:       slog.Default(),
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Model == "" {
		return errors.New("voice: model required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return errors.New("voice: temperature must be between 0 and 2")
	}
	if c.MaxTokens < 1 {
		return errors.New("voice: max tokens must be positive")
	}
	if c.Grace < 0 {
		return errors.New("voice: grace must not be negative")
	}
	return nil
}

// WithModel returns a copy with the completion model settings.
func (c Config) WithModel(model string, temperature float64, maxTokens int) Config {
	c.Model = model
	c.Temperature = temperature
	c.MaxTokens = maxTokens
	return c
}

// WithSystemPrompt returns a copy with the system prompt set.
func (c Config) WithSystemPrompt(prompt string) Config {
	c.SystemPrompt = prompt
	return c
}

// WithUserName returns a copy that addresses the user by name.
func (c Config) WithUserName(name string) Config {
	c.UserName = name
	return c
}

// WithGrace returns a copy with the microphone grace delay set.
func (c Config) WithGrace(d time.Duration) Config {
	c.Grace = d
	return c
}

// WithTranscripts returns a copy that persists turns to s.
func (c Config) WithTranscripts(s *transcript.Store) Config {
	c.Transcripts = s
	return c
}

// WithMetrics returns a copy that reports to m.
func (c Config) WithMetrics(m *metrics.Metrics) Config {
	c.Metrics = m
	return c
}

// WithTitles returns a copy with title generation toggled.
func (c Config) WithTitles(enabled bool) Config {
	c.Titles = enabled
	return c
}

// WithEmotionAware returns a copy with mood-dependent tone toggled.
func (c Config) WithEmotionAware(enabled bool) Config {
	c.EmotionAware = enabled
	return c
}

// WithLogger returns a copy with the logger set.
func (c Config) WithLogger(l *slog.Logger) Config {
	c.Logger = l
	return c
}
