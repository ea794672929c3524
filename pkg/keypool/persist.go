package keypool

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/teslashibe/go-ruvo/pkg/kv"
)

// StateKey is the single namespaced entry holding pool state.
var StateKey = kv.Key{"keypool", "usage"}

const (
	stateVersion   = 1
	persistTimeout = 2 * time.Second
)

// persistedState is keyed by fingerprint; secrets are never written.
type persistedState struct {
	Version int                       `json:"version"`
	Current string                    `json:"current"`
	Keys    map[string]persistedEntry `json:"keys"`
}

type persistedEntry struct {
	Usage    int       `json:"usage"`
	Active   bool      `json:"active"`
	LastUsed time.Time `json:"last_used,omitzero"`
}

// load restores state for credentials still in the pool. Corrupt state is
// discarded and the pool keeps its fresh all-active, zero-usage values.
func (m *Manager) load(ctx context.Context) {
	raw, err := m.cfg.Store.Get(ctx, StateKey)
	if errors.Is(err, kv.ErrNotFound) {
		return
	}
	if err != nil {
		m.logger.Warn("failed to read pool state", "error", err)
		return
	}

	var st persistedState
	if err := json.Unmarshal(raw, &st); err != nil || st.Version != stateVersion || !st.valid() {
		m.logger.Warn("discarding corrupt pool state", "error", err)
		if err := m.cfg.Store.Delete(ctx, StateKey); err != nil {
			m.logger.Warn("failed to delete pool state", "error", err)
		}
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.records {
		e, ok := st.Keys[r.Fingerprint]
		if !ok {
			continue
		}
		r.UsageCount = e.Usage
		r.Active = e.Active
		r.LastUsed = e.LastUsed
		if r.Fingerprint == st.Current {
			m.current = i
		}
	}
}

func (s *persistedState) valid() bool {
	for _, e := range s.Keys {
		if e.Usage < 0 {
			return false
		}
	}
	return true
}

// persistLocked writes the pool state. Caller holds mu. Failures are logged
// because usage tracking must not block requests.
func (m *Manager) persistLocked() {
	if m.cfg.Store == nil {
		return
	}

	st := persistedState{
		Version: stateVersion,
		Current: m.records[m.current].Fingerprint,
		Keys:    make(map[string]persistedEntry, len(m.records)),
	}
	for _, r := range m.records {
		st.Keys[r.Fingerprint] = persistedEntry{
			Usage:    r.UsageCount,
			Active:   r.Active,
			LastUsed: r.LastUsed,
		}
	}

	raw, err := json.Marshal(st)
	if err != nil {
		m.logger.Error("failed to encode pool state", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.cfg.Store.Set(ctx, StateKey, raw); err != nil {
		m.logger.Warn("failed to persist pool state", "error", err)
	}
}
