package inference

import (
	"context"
	"log/slog"
	"time"

	"github.com/teslashibe/go-ruvo/pkg/keypool"
)

// Rotating spreads calls to a KeyedProvider across a credential pool.
// Credential failures rotate to the next key; transient failures are retried
// on the same key first. Each attempt is bounded by AttemptTimeout.
type Rotating struct {
	inner  KeyedProvider
	pool   *keypool.Manager
	logger *slog.Logger

	// AttemptTimeout bounds each try. Expiry counts as a transient failure.
	AttemptTimeout time.Duration
}

// NewRotating wraps inner with pool.
func NewRotating(inner KeyedProvider, pool *keypool.Manager) *Rotating {
	return &Rotating{
		inner:          inner,
		pool:           pool,
		logger:         slog.Default().With("component", "inference.rotating"),
		AttemptTimeout: 20 * time.Second,
	}
}

// WithLogger sets the logger and returns r.
func (r *Rotating) WithLogger(l *slog.Logger) *Rotating {
	r.logger = l.With("component", "inference.rotating")
	return r
}

// Chat runs the request through the pool.
func (r *Rotating) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var resp *ChatResponse
	err := r.pool.Do(ctx, func(ctx context.Context, key string) error {
		if r.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.AttemptTimeout)
			defer cancel()
		}

		var err error
		resp, err = r.inner.ChatWithKey(ctx, key, req)
		if err != nil {
			r.logger.Debug("attempt failed", "key", keypool.Mask(key), "error", err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Health checks the current key.
func (r *Rotating) Health(ctx context.Context) error {
	type keyedHealth interface {
		HealthWithKey(ctx context.Context, key string) error
	}

	kh, ok := r.inner.(keyedHealth)
	if !ok {
		return r.inner.Health(ctx)
	}
	key, err := r.pool.Current()
	if err != nil {
		return err
	}
	return kh.HealthWithKey(ctx, key)
}

// Close closes the wrapped provider.
func (r *Rotating) Close() error {
	return r.inner.Close()
}

// Pool returns the underlying key pool.
func (r *Rotating) Pool() *keypool.Manager {
	return r.pool
}

// Verify Rotating implements Provider at compile time.
var _ Provider = (*Rotating)(nil)
