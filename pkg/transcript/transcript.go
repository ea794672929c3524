// Package transcript persists conversation transcripts per session.
//
// Each session is stored as a JSON array of turns under transcripts/<id>,
// with its title and timestamps under meta/<id>.
package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/teslashibe/go-ruvo/pkg/kv"
)

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = errors.New("transcript: not found")

// Turn is one message in a transcript.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

// Meta describes a stored session.
type Meta struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Turns     int       `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transcript is a stored session with its turns.
type Transcript struct {
	Meta
	History []Turn `json:"history"`
}

// Store reads and writes transcripts in a kv.Store.
type Store struct {
	kv  kv.Store
	now func() time.Time
}

// New wraps s.
func New(s kv.Store) *Store {
	return &Store{kv: s, now: time.Now}
}

func turnsKey(id string) kv.Key { return kv.Key{"transcripts", id} }
func metaKey(id string) kv.Key  { return kv.Key{"meta", id} }

// Save replaces the turns of session id and updates its metadata.
func (s *Store) Save(ctx context.Context, id string, turns []Turn) error {
	if id == "" {
		return errors.New("transcript: empty session id")
	}
	data, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("transcript: encode: %w", err)
	}
	if err := s.kv.Set(ctx, turnsKey(id), data); err != nil {
		return fmt.Errorf("transcript: save %s: %w", id, err)
	}

	meta, err := s.meta(ctx, id)
	if errors.Is(err, ErrNotFound) {
		meta = Meta{ID: id, CreatedAt: s.now()}
	} else if err != nil {
		return err
	}
	meta.Turns = len(turns)
	meta.UpdatedAt = s.now()
	return s.putMeta(ctx, meta)
}

// SetTitle records a title for session id.
func (s *Store) SetTitle(ctx context.Context, id, title string) error {
	meta, err := s.meta(ctx, id)
	if err != nil {
		return err
	}
	meta.Title = title
	return s.putMeta(ctx, meta)
}

// Get loads a transcript.
func (s *Store) Get(ctx context.Context, id string) (*Transcript, error) {
	meta, err := s.meta(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := s.kv.Get(ctx, turnsKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return &Transcript{Meta: meta}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("transcript: load %s: %w", id, err)
	}

	t := &Transcript{Meta: meta}
	if err := json.Unmarshal(data, &t.History); err != nil {
		return nil, fmt.Errorf("transcript: decode %s: %w", id, err)
	}
	return t, nil
}

// List returns metadata for all sessions, most recently updated first.
// Unreadable entries are skipped.
func (s *Store) List(ctx context.Context) ([]Meta, error) {
	entries, err := s.kv.List(ctx, kv.Key{"meta"})
	if err != nil {
		return nil, fmt.Errorf("transcript: list: %w", err)
	}
	out := make([]Meta, 0, len(entries))
	for _, e := range entries {
		var m Meta
		if json.Unmarshal(e.Value, &m) != nil || m.ID == "" {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Delete removes a session. Unknown ids return ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.meta(ctx, id); err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, turnsKey(id)); err != nil {
		return fmt.Errorf("transcript: delete %s: %w", id, err)
	}
	return s.kv.Delete(ctx, metaKey(id))
}

func (s *Store) meta(ctx context.Context, id string) (Meta, error) {
	data, err := s.kv.Get(ctx, metaKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return Meta{}, ErrNotFound
	}
	if err != nil {
		return Meta{}, fmt.Errorf("transcript: load %s: %w", id, err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return Meta{}, fmt.Errorf("transcript: decode %s: %w", id, err)
	}
	return m, nil
}

func (s *Store) putMeta(ctx context.Context, m Meta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("transcript: encode: %w", err)
	}
	if err := s.kv.Set(ctx, metaKey(m.ID), data); err != nil {
		return fmt.Errorf("transcript: save %s: %w", m.ID, err)
	}
	return nil
}
