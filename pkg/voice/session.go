package voice

import (
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-ruvo/pkg/inference"
	"github.com/teslashibe/go-ruvo/pkg/transcript"
)

// Session is one hands-free conversation. History starts with the system
// instruction and grows by one user and one assistant entry per turn.
type Session struct {
	ID      string              `json:"id"`
	History []inference.Message `json:"history"`
	Active  bool                `json:"active"`
	Title   string              `json:"title,omitempty"`
	Started time.Time           `json:"started"`

	stamps []time.Time
}

func newSession(systemPrompt string) *Session {
	now := time.Now()
	return &Session{
		ID:      uuid.NewString(),
		History: []inference.Message{inference.NewSystemMessage(systemPrompt)},
		Active:  true,
		Started: now,
		stamps:  []time.Time{now},
	}
}

func (s *Session) add(m inference.Message) {
	s.History = append(s.History, m)
	s.stamps = append(s.stamps, time.Now())
}

func (s *Session) snapshot() Session {
	cp := *s
	cp.History = append([]inference.Message(nil), s.History...)
	cp.stamps = nil
	return cp
}

// replies counts assistant entries.
func (s *Session) replies() int {
	n := 0
	for _, m := range s.History {
		if m.Role == inference.RoleAssistant {
			n++
		}
	}
	return n
}

// turns converts history to transcript turns, leaving out the system entry.
func (s *Session) turns() []transcript.Turn {
	out := make([]transcript.Turn, 0, len(s.History))
	for i, m := range s.History {
		if m.Role == inference.RoleSystem {
			continue
		}
		out = append(out, transcript.Turn{Role: string(m.Role), Content: m.Content, Time: s.stamps[i]})
	}
	return out
}
