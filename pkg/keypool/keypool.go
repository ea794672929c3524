// Package keypool rotates API credentials across a pool so no single key is
// knowingly overused, and excludes keys the remote service rejects.
//
// Selection prefers the credential at the rotation pointer while it is active
// and under quota, then scans forward with wrap-around. When nothing is
// usable the whole pool is reset and the first credential is returned, unless
// strict exhaustion is enabled. Calls in flight under Do hold a slot of their
// credential's quota, and Do waits rather than reset while they finish.
//
// Basic usage:
//
//	pool, err := keypool.New(keys, keypool.WithQuota(3), keypool.WithStore(store))
//	err = pool.Do(ctx, func(ctx context.Context, key string) error {
//	    reply, err = client.Chat(ctx, key, req)
//	    return err
//	})
package keypool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"
)

// Record tracks one credential.
type Record struct {
	Credential  string
	Fingerprint string
	UsageCount  int
	Active      bool
	LastUsed    time.Time

	// reserved counts calls in flight under Do.
	reserved int
}

// Stat is a secret-free view of a Record.
type Stat struct {
	Masked      string    `json:"key"`
	Fingerprint string    `json:"fingerprint"`
	UsageCount  int       `json:"usage"`
	Quota       int       `json:"quota"`
	Active      bool      `json:"active"`
	Current     bool      `json:"current"`
	LastUsed    time.Time `json:"last_used,omitzero"`
}

// Observer receives pool events.
type Observer interface {
	KeyUsed(fingerprint string)
	KeyInvalidated(fingerprint string)
	PoolReset()
}

// Manager selects credentials from a pool. It is safe for concurrent use.
type Manager struct {
	cfg    *Config
	logger *slog.Logger

	mu      sync.Mutex
	records []*Record
	index   map[string]int
	current int

	// released is closed and replaced whenever a reservation ends.
	released chan struct{}
}

// New creates a pool over credentials. Duplicates and blanks are dropped.
// Persisted state is loaded when a store is configured.
func New(credentials []string, opts ...Option) (*Manager, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:    cfg,
		logger:   cfg.Logger.With("component", "keypool.manager"),
		index:    make(map[string]int),
		released: make(chan struct{}),
	}
	for _, c := range credentials {
		if c == "" {
			continue
		}
		if _, dup := m.index[c]; dup {
			continue
		}
		m.index[c] = len(m.records)
		m.records = append(m.records, &Record{
			Credential:  c,
			Fingerprint: Fingerprint(c),
			Active:      true,
		})
	}
	if len(m.records) == 0 {
		return nil, ErrNoCredentials
	}

	if cfg.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		m.load(ctx)
	}

	m.logger.Debug("pool ready", "size", len(m.records), "quota", cfg.Quota)
	return m, nil
}

// Fingerprint returns a stable, non-reversible identifier for a credential.
func Fingerprint(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:8])
}

// Mask hides all but the edges of a credential.
func Mask(credential string) string {
	if len(credential) <= 8 {
		return "****"
	}
	return credential[:3] + "..." + credential[len(credential)-4:]
}

// Len returns the pool size.
func (m *Manager) Len() int {
	return len(m.records)
}

// Quota returns the per-credential quota.
func (m *Manager) Quota() int {
	return m.cfg.Quota
}

// Current returns the credential to use for the next call. It does not
// reserve it; concurrent callers should go through Do.
func (m *Manager) Current() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.selectLocked()
	if err != nil {
		return "", err
	}
	if r == nil {
		// Every remaining slot is held by a call in flight.
		r = m.records[m.current]
	}
	return r.Credential, nil
}

// usable reports whether r has quota left after calls in flight.
func (m *Manager) usable(r *Record) bool {
	return r.Active && r.UsageCount+r.reserved < m.cfg.Quota
}

// selectLocked returns the next usable credential. It returns nil without
// error when nothing is usable only because calls are still in flight.
func (m *Manager) selectLocked() (*Record, error) {
	n := len(m.records)
	if r := m.records[m.current]; m.usable(r) {
		return r, nil
	}

	for i := 1; i < n; i++ {
		idx := (m.current + i) % n
		if m.usable(m.records[idx]) {
			m.current = idx
			m.persistLocked()
			return m.records[idx], nil
		}
	}

	for _, r := range m.records {
		if r.reserved > 0 {
			return nil, nil
		}
	}

	if m.cfg.StrictExhaustion {
		return nil, ErrPoolExhausted
	}

	m.logger.Warn("all credentials exhausted, resetting pool", "size", n)
	m.resetLocked()
	if m.cfg.Observer != nil {
		m.cfg.Observer.PoolReset()
	}
	return m.records[0], nil
}

// acquire reserves one quota slot, waiting while the pool is saturated by
// calls in flight.
func (m *Manager) acquire(ctx context.Context) (string, error) {
	for {
		m.mu.Lock()
		r, err := m.selectLocked()
		if err != nil {
			m.mu.Unlock()
			return "", err
		}
		if r != nil {
			r.reserved++
			m.mu.Unlock()
			return r.Credential, nil
		}
		wait := m.released
		m.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// release ends a reservation, counting it when the call succeeded.
func (m *Manager) release(credential string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.records[m.index[credential]]
	r.reserved--
	if success {
		m.countLocked(r)
	}
	close(m.released)
	m.released = make(chan struct{})
}

// RecordSuccess counts one successful call made with credential.
func (m *Manager) RecordSuccess(credential string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.index[credential]
	if !ok {
		m.logger.Warn("success recorded for unknown credential")
		return
	}
	m.countLocked(m.records[idx])
}

func (m *Manager) countLocked(r *Record) {
	r.UsageCount++
	r.LastUsed = m.cfg.Now()
	m.persistLocked()

	if m.cfg.Observer != nil {
		m.cfg.Observer.KeyUsed(r.Fingerprint)
	}
}

// MarkInvalid excludes credential from selection until the next reset.
// Marking an already invalid credential changes nothing.
func (m *Manager) MarkInvalid(credential string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.index[credential]
	if !ok {
		return
	}
	r := m.records[idx]
	if !r.Active {
		return
	}
	r.Active = false
	m.logger.Warn("credential invalidated", "key", Mask(r.Credential))
	m.persistLocked()

	if m.cfg.Observer != nil {
		m.cfg.Observer.KeyInvalidated(r.Fingerprint)
	}
}

// Reset clears usage and reactivates every credential.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

func (m *Manager) resetLocked() {
	for _, r := range m.records {
		r.UsageCount = 0
		r.Active = true
	}
	m.current = 0
	m.persistLocked()
}

// skip moves the pointer past credential without invalidating it.
func (m *Manager) skip(credential string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.index[credential]; ok && idx == m.current {
		m.current = (idx + 1) % len(m.records)
		m.persistLocked()
	}
}

// Stats returns a secret-free snapshot of the pool.
func (m *Manager) Stats() []Stat {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Stat, len(m.records))
	for i, r := range m.records {
		out[i] = Stat{
			Masked:      Mask(r.Credential),
			Fingerprint: r.Fingerprint,
			UsageCount:  r.UsageCount,
			Quota:       m.cfg.Quota,
			Active:      r.Active,
			Current:     i == m.current,
			LastUsed:    r.LastUsed,
		}
	}
	return out
}

// Records returns a copy of the pool state.
func (m *Manager) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, len(m.records))
	for i, r := range m.records {
		out[i] = *r
	}
	return out
}

// Do runs fn with rotating credentials. Credential failures invalidate the
// key and move on at once; retryable failures are retried on the same key
// up to TransientRetries times first. At most Len() credentials are tried.
// Success is recorded exactly once. Each call holds a quota slot while it
// runs, so concurrent calls never push a credential past its quota.
func (m *Manager) Do(ctx context.Context, fn func(ctx context.Context, credential string) error) error {
	attempts := len(m.records)
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		key, err := m.acquire(ctx)
		if err != nil {
			if lastErr != nil {
				return &RotationError{Attempts: attempt - 1, Err: lastErr}
			}
			return err
		}

		err = m.tryKey(ctx, key, fn)
		m.release(key, err == nil)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err

		switch m.cfg.Classify(err) {
		case Credential:
			m.MarkInvalid(key)
		case Retryable:
			m.skip(key)
		default:
			return err
		}
		m.logger.Debug("rotating credential", "attempt", attempt, "error", err)
	}

	return &RotationError{Attempts: attempts, Err: lastErr}
}

// tryKey calls fn, retrying retryable failures on the same key.
func (m *Manager) tryKey(ctx context.Context, key string, fn func(context.Context, string) error) error {
	var err error
	for retry := 0; ; retry++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = fn(ctx, key)
		if err == nil {
			return nil
		}
		if retry >= m.cfg.TransientRetries || m.cfg.Classify(err) != Retryable {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.cfg.RetryDelay * time.Duration(retry+1)):
		}
	}
}
