package tts_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/teslashibe/go-ruvo/pkg/kv"
	"github.com/teslashibe/go-ruvo/pkg/tts"
)

func TestLookupVoice(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"9BWtsMINqrJLrRacOk9x", "Aria", true},
		{"george", "George", true},
		{"WILL", "Will", true},
		{"rachel", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, ok := tts.LookupVoice(tt.in)
			if ok != tt.ok || v.Name != tt.want {
				t.Errorf("LookupVoice(%q) = %q, %v", tt.in, v.Name, ok)
			}
		})
	}

	if len(tts.Voices) != 6 || tts.DefaultVoice().Name != "Aria" {
		t.Errorf("unexpected catalog %v", tts.Voices)
	}
	if !strings.Contains(tts.SampleText(tts.Voices[3]), "I'm George") {
		t.Error("expected sample text to introduce the voice")
	}
}

func TestVoiceStore(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	target := tts.NewMock()

	vs, err := tts.NewVoiceStore(ctx, store, target)
	if err != nil {
		t.Fatalf("NewVoiceStore: %v", err)
	}
	if vs.Current().Name != "Aria" || target.Voice() != tts.DefaultVoice().ID {
		t.Errorf("expected default voice applied, got %s / %s", vs.Current().Name, target.Voice())
	}

	v, err := vs.Select(ctx, "Charlotte")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if target.Voice() != v.ID {
		t.Errorf("expected provider switched to %s", v.ID)
	}

	if _, err := vs.Select(ctx, "nobody"); !errors.Is(err, tts.ErrUnknownVoice) {
		t.Errorf("expected ErrUnknownVoice, got %v", err)
	}

	reloaded, err := tts.NewVoiceStore(ctx, store, nil)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Current().Name != "Charlotte" {
		t.Errorf("expected persisted Charlotte, got %s", reloaded.Current().Name)
	}
}

func TestVoiceStoreIgnoresUnknownSavedVoice(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	store.Set(ctx, tts.VoiceKey, []byte("retired-voice"))

	vs, err := tts.NewVoiceStore(ctx, store, nil)
	if err != nil {
		t.Fatal(err)
	}
	if vs.Current().ID != tts.DefaultVoice().ID {
		t.Errorf("expected default voice, got %s", vs.Current().Name)
	}
}
