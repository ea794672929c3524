package speech

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-ruvo/pkg/audio"
	"github.com/teslashibe/go-ruvo/pkg/tts"
)

func countEnds(o *Output) *int32 {
	var n int32
	o.OnSpeechEnd = func() { atomic.AddInt32(&n, 1) }
	return &n
}

func TestOutputSpeak(t *testing.T) {
	provider := tts.NewMock()
	player := audio.NewMockPlayer()
	player.Levels = []float64{40, 70}
	o := NewOutput(provider, player, nil)
	ends := countEnds(o)

	var levels []float64
	o.OnLevel = func(l float64) { levels = append(levels, l) }

	if err := o.Speak(context.Background(), "Hello"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if atomic.LoadInt32(ends) != 1 {
		t.Errorf("expected one speech end, got %d", *ends)
	}
	if provider.LastCall().Text != "Hello" || len(player.Played()) != 1 {
		t.Error("expected synthesis and playback")
	}
	if len(levels) != 3 || levels[2] != 0 {
		t.Errorf("expected levels to finish at zero, got %v", levels)
	}
}

func TestOutputFallsBackToLocalEngine(t *testing.T) {
	remote := tts.WithError(&tts.APIError{StatusCode: 401, Provider: "elevenlabs"})
	local := tts.NewMock()
	local.SynthesizeFunc = func(ctx context.Context, text string) (*tts.AudioResult, error) {
		return &tts.AudioResult{Played: true, Provider: "espeak"}, nil
	}
	chain, _ := tts.NewChain(remote, local)

	var errs int32
	o := NewOutput(chain, audio.NewMockPlayer(), nil)
	o.OnError = func(error) { atomic.AddInt32(&errs, 1) }
	ends := countEnds(o)

	if err := o.Speak(context.Background(), "Hi"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if errs != 0 || *ends != 1 {
		t.Errorf("expected clean fallback, got errors=%d ends=%d", errs, *ends)
	}
}

func TestOutputFailureStillEnds(t *testing.T) {
	boom := errors.New("synthesis down")
	o := NewOutput(tts.WithError(boom), audio.NewMockPlayer(), nil)
	var reported error
	o.OnError = func(err error) { reported = err }
	ends := countEnds(o)

	if err := o.Speak(context.Background(), "Hi"); !errors.Is(err, boom) {
		t.Errorf("expected synthesis error, got %v", err)
	}
	if !errors.Is(reported, boom) {
		t.Errorf("expected OnError, got %v", reported)
	}
	if *ends != 1 {
		t.Errorf("expected one end after failure, got %d", *ends)
	}

	player := audio.NewMockPlayer()
	player.PlayFunc = func(ctx context.Context, r *tts.AudioResult, onLevel func(float64)) error {
		return audio.ErrUnsupportedFormat
	}
	o2 := NewOutput(tts.NewMock(), player, nil)
	ends2 := countEnds(o2)
	if err := o2.Speak(context.Background(), "Hi"); !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Errorf("expected playback error, got %v", err)
	}
	if *ends2 != 1 {
		t.Errorf("expected one end after playback failure, got %d", *ends2)
	}
}

func TestOutputStop(t *testing.T) {
	player := audio.NewMockPlayer()
	player.Delay = time.Minute
	o := NewOutput(tts.NewMock(), player, nil)
	ends := countEnds(o)

	done := make(chan error, 1)
	go func() { done <- o.Speak(context.Background(), "a long reply") }()

	deadline := time.Now().Add(time.Second)
	for len(player.Played()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("playback never started")
		}
		time.Sleep(time.Millisecond)
	}
	if !o.Speaking() {
		t.Error("expected Speaking during playback")
	}

	o.Stop()
	o.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("stopped Speak should return nil, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Speak did not return after Stop")
	}
	if atomic.LoadInt32(ends) != 1 {
		t.Errorf("expected exactly one end, got %d", *ends)
	}
	if o.Speaking() {
		t.Error("expected idle after Stop")
	}
}

func TestOutputMuted(t *testing.T) {
	provider := tts.NewMock()
	player := audio.NewMockPlayer()
	o := NewOutput(provider, player, nil)
	o.MutedDelay = 20 * time.Millisecond
	o.SetMuted(true)
	ends := countEnds(o)

	start := time.Now()
	if err := o.Speak(context.Background(), "quiet"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("expected muted speech to wait for the delay")
	}
	if provider.CallCount("Synthesize") != 0 || len(player.Played()) != 0 {
		t.Error("muted output must not synthesize or play")
	}
	if *ends != 1 {
		t.Errorf("expected one end, got %d", *ends)
	}
}

func TestOutputMuteSilencesLocalEngine(t *testing.T) {
	speaking := make(chan struct{})
	local := tts.NewMock()
	local.SynthesizeFunc = func(ctx context.Context, text string) (*tts.AudioResult, error) {
		close(speaking)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	chain, _ := tts.NewChain(tts.WithError(&tts.APIError{StatusCode: 503, Provider: "elevenlabs"}), local)

	var errs int32
	o := NewOutput(chain, audio.NewMockPlayer(), nil)
	o.OnError = func(error) { atomic.AddInt32(&errs, 1) }
	ends := countEnds(o)

	done := make(chan error, 1)
	go func() { done <- o.Speak(context.Background(), "spoken on the device") }()

	select {
	case <-speaking:
	case <-time.After(time.Second):
		t.Fatal("local engine never started")
	}
	o.SetMuted(true)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("muted Speak should return nil, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("muting did not silence the local engine")
	}
	if atomic.LoadInt32(ends) != 1 || atomic.LoadInt32(&errs) != 0 {
		t.Errorf("expected one end and no errors, got %d ends %d errors", *ends, errs)
	}
}

func TestOutputSetVoice(t *testing.T) {
	provider := tts.NewMock()
	o := NewOutput(provider, audio.NewMockPlayer(), nil)
	o.SetVoice("TX3LPaxmHKxFdv7VOQHJ")
	if provider.Voice() != "TX3LPaxmHKxFdv7VOQHJ" {
		t.Errorf("expected voice forwarded, got %q", provider.Voice())
	}
}
