package speech

import (
	"context"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-ruvo/pkg/audio"
)

// Sender writes commands to a connected recognition client.
type Sender interface {
	WriteJSON(v interface{}) error
}

// BridgeEngine relays recognition performed by a connected client, usually
// a browser using its built-in speech recognizer over a web socket. The
// client may also stream raw PCM16 microphone frames, which feed a Detector
// for speech boundaries and levels.
type BridgeEngine struct {
	lang     string
	logger   *slog.Logger
	detector *Detector

	mu     sync.Mutex
	client Sender
	ch     chan Event
}

// NewBridgeEngine creates a bridge that asks clients to recognize lang.
func NewBridgeEngine(lang string, logger *slog.Logger) *BridgeEngine {
	if logger == nil {
		logger = slog.Default()
	}
	b := &BridgeEngine{
		lang:     lang,
		logger:   logger.With("component", "speech.bridge"),
		detector: NewDetector(),
	}
	b.detector.OnSpeechStart = func() { b.emit(Event{Type: EventSpeechStart}) }
	b.detector.OnSpeechEnd = func() { b.emit(Event{Type: EventSpeechEnd}) }
	b.detector.OnLevel = func(l float64) { b.emit(Event{Type: EventLevel, Level: l}) }
	return b
}

// Attach makes c the active recognition client.
func (b *BridgeEngine) Attach(c Sender) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.client = c
	b.logger.Info("recognition client attached")
}

// Detach removes c. An open session ends with a network error.
func (b *BridgeEngine) Detach(c Sender) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != c {
		return
	}
	b.client = nil
	b.logger.Info("recognition client detached")
	if b.ch != nil {
		b.sendLocked(Event{Type: EventError, Err: &RecognitionError{Kind: KindNetwork}})
		b.closeLocked()
	}
}

// Connected reports whether a client is attached.
func (b *BridgeEngine) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.client != nil
}

// Start asks the client to begin recognizing.
func (b *BridgeEngine) Start(ctx context.Context) (<-chan Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil, ErrUnsupported
	}
	if b.ch != nil {
		return nil, ErrAlreadyListening
	}
	if err := b.client.WriteJSON(Command{Type: "start", Lang: b.lang}); err != nil {
		return nil, &RecognitionError{Kind: KindNetwork, Err: err}
	}
	b.detector.Reset()
	b.ch = make(chan Event, 64)
	return b.ch, nil
}

// Stop asks the client to stop and ends the session locally.
func (b *BridgeEngine) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch == nil {
		return nil
	}
	if b.client != nil {
		if err := b.client.WriteJSON(Command{Type: "stop"}); err != nil {
			b.logger.Debug("stop command failed", "error", err)
		}
	}
	b.closeLocked()
	return nil
}

// Handle routes a message received from the client.
func (b *BridgeEngine) Handle(msg WireEvent) {
	ev, ok := msg.Event()
	if !ok {
		b.logger.Debug("ignoring message", "type", msg.Type)
		return
	}
	b.emit(ev)
}

// HandleAudio feeds a PCM16 microphone frame to the detector.
func (b *BridgeEngine) HandleAudio(frame []byte, sampleRate int) {
	b.mu.Lock()
	active := b.ch != nil
	b.mu.Unlock()
	if !active {
		return
	}
	b.detector.Feed(audio.ConvertPCM16ToInt16(frame), sampleRate)
}

func (b *BridgeEngine) emit(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch == nil {
		return
	}
	if ev.Type == EventEnd {
		b.closeLocked()
		return
	}
	b.sendLocked(ev)
}

func (b *BridgeEngine) sendLocked(ev Event) {
	select {
	case b.ch <- ev:
	default:
		b.logger.Warn("event dropped", "type", ev.Type)
	}
}

func (b *BridgeEngine) closeLocked() {
	select {
	case b.ch <- Event{Type: EventEnd}:
	default:
	}
	close(b.ch)
	b.ch = nil
}

var _ Engine = (*BridgeEngine)(nil)
