package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/teslashibe/go-ruvo/pkg/kv"
)

// Gender of a catalog voice.
type Gender string

const (
	Female Gender = "female"
	Male   Gender = "male"
)

func (g Gender) ssml() string {
	if g == Male {
		return "MALE"
	}
	return "FEMALE"
}

// Voice is a selectable assistant voice.
type Voice struct {
	ID          string `json:"voice_id"`
	Name        string `json:"name"`
	Gender      Gender `json:"gender"`
	Description string `json:"description"`
}

// Voices is the catalog offered to users. The first entry is the default.
var Voices = []Voice{
	{ID: "9BWtsMINqrJLrRacOk9x", Name: "Aria", Gender: Female, Description: "Warm and empathetic"},
	{ID: "EXAVITQu4vr4xnSDxMaL", Name: "Sarah", Gender: Female, Description: "Gentle and caring"},
	{ID: "XB0fDUnXU5powFXDhCwa", Name: "Charlotte", Gender: Female, Description: "Friendly and supportive"},
	{ID: "JBFqnCBsd6RMkjVDRZzb", Name: "George", Gender: Male, Description: "Calm and reassuring"},
	{ID: "TX3LPaxmHKxFdv7VOQHJ", Name: "Liam", Gender: Male, Description: "Understanding and patient"},
	{ID: "bIHbv24MWmeRgasZH58o", Name: "Will", Gender: Male, Description: "Encouraging and wise"},
}

// DefaultVoice returns the first catalog voice.
func DefaultVoice() Voice {
	return Voices[0]
}

// LookupVoice finds a voice by ID or case-insensitive name.
func LookupVoice(idOrName string) (Voice, bool) {
	for _, v := range Voices {
		if v.ID == idOrName || strings.EqualFold(v.Name, idOrName) {
			return v, true
		}
	}
	return Voice{}, false
}

// SampleText is the introduction spoken when previewing a voice.
func SampleText(v Voice) string {
	return fmt.Sprintf("Hello, I'm %s. I'm here to support you and listen to whatever you'd like to share today. How are you feeling?", v.Name)
}

// VoiceKey is the kv entry holding the selected voice ID.
var VoiceKey = kv.Key{"settings", "voice"}

// VoiceStore persists the selected voice and pushes changes to a provider.
type VoiceStore struct {
	store  kv.Store
	target VoiceSetter

	mu      sync.RWMutex
	current Voice
}

// NewVoiceStore loads the saved selection, falling back to the default
// voice when nothing valid is stored. target may be nil.
func NewVoiceStore(ctx context.Context, store kv.Store, target VoiceSetter) (*VoiceStore, error) {
	vs := &VoiceStore{store: store, target: target, current: DefaultVoice()}

	raw, err := store.Get(ctx, VoiceKey)
	switch {
	case errors.Is(err, kv.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("tts: load voice: %w", err)
	default:
		if v, ok := LookupVoice(string(raw)); ok {
			vs.current = v
		}
	}

	if target != nil {
		target.SetVoice(vs.current.ID)
	}
	return vs, nil
}

// Current returns the selected voice.
func (s *VoiceStore) Current() Voice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Select switches to a catalog voice by ID or name and persists it.
func (s *VoiceStore) Select(ctx context.Context, idOrName string) (Voice, error) {
	v, ok := LookupVoice(idOrName)
	if !ok {
		return Voice{}, fmt.Errorf("%w: %q", ErrUnknownVoice, idOrName)
	}
	if err := s.store.Set(ctx, VoiceKey, []byte(v.ID)); err != nil {
		return Voice{}, fmt.Errorf("tts: save voice: %w", err)
	}

	s.mu.Lock()
	s.current = v
	s.mu.Unlock()

	if s.target != nil {
		s.target.SetVoice(v.ID)
	}
	return v, nil
}
