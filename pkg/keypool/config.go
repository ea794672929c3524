package keypool

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-ruvo/pkg/kv"
)

// Config holds pool configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// Quota is the per-credential call budget before rotation prefers
	// another credential.
	Quota int

	// TransientRetries is how many times a retryable failure is retried on
	// the same credential before moving on.
	TransientRetries int

	// RetryDelay is the base backoff between transient retries. The n-th
	// retry waits n*RetryDelay.
	RetryDelay time.Duration

	// StrictExhaustion returns ErrPoolExhausted instead of resetting the
	// pool when no credential is usable.
	StrictExhaustion bool

	// Store persists usage state. Nil disables persistence.
	Store kv.Store

	// Classify maps call errors to an outcome. Nil uses DefaultClassifier.
	Classify Classifier

	// Observer receives usage events, typically for metrics.
	Observer Observer

	// Now is the clock. Nil uses time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// Option is a functional option for configuring a Manager.
type Option func(*Config)

// WithQuota sets the per-credential quota.
func WithQuota(q int) Option {
	return func(c *Config) {
		c.Quota = q
	}
}

// WithTransientRetries sets the same-credential retry count for retryable errors.
func WithTransientRetries(n int, delay time.Duration) Option {
	return func(c *Config) {
		c.TransientRetries = n
		c.RetryDelay = delay
	}
}

// WithStrictExhaustion makes exhaustion a hard failure instead of a reset.
func WithStrictExhaustion(strict bool) Option {
	return func(c *Config) {
		c.StrictExhaustion = strict
	}
}

// WithStore enables persistence.
func WithStore(s kv.Store) Option {
	return func(c *Config) {
		c.Store = s
	}
}

// WithClassifier overrides error classification.
func WithClassifier(fn Classifier) Option {
	return func(c *Config) {
		c.Classify = fn
	}
}

// WithObserver registers a usage observer.
func WithObserver(o Observer) Option {
	return func(c *Config) {
		c.Observer = o
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		c.Now = now
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Quota:            3,
		TransientRetries: 2,
		RetryDelay:       200 * time.Millisecond,
		Classify:         DefaultClassifier,
		Now:              time.Now,
		Logger:           slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
	if c.Classify == nil {
		c.Classify = DefaultClassifier
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Quota < 1 {
		return ErrInvalidQuota
	}
	if c.TransientRetries < 0 {
		c.TransientRetries = 0
	}
	return nil
}
