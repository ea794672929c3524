// Package speech wraps black-box recognition engines into a capture service
// with silence-based turn detection, and pairs synthesis with playback in an
// output service that always reports completion exactly once.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Engine is a speech recognition backend. Each Start opens one recognition
// session whose events arrive on the returned channel; the channel is closed
// after EventEnd.
type Engine interface {
	Start(ctx context.Context) (<-chan Event, error)

	// Stop asks the current session to end. It is a no-op when idle.
	Stop() error
}

// EventType identifies a recognition event.
type EventType int

const (
	EventStart EventType = iota
	EventSpeechStart
	EventSpeechEnd
	EventFragment
	EventLevel
	EventError
	EventEnd
)

var eventNames = map[EventType]string{
	EventStart:       "start",
	EventSpeechStart: "speechstart",
	EventSpeechEnd:   "speechend",
	EventFragment:    "result",
	EventLevel:       "level",
	EventError:       "error",
	EventEnd:         "end",
}

func (t EventType) String() string {
	if s, ok := eventNames[t]; ok {
		return s
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Event is a single recognition event.
type Event struct {
	Type  EventType
	Text  string  // EventFragment
	Final bool    // EventFragment
	Level float64 // EventLevel, 0-100
	Err   error   // EventError
}

// ErrorKind is the recognizer's failure code.
type ErrorKind string

const (
	KindNoSpeech       ErrorKind = "no-speech"
	KindAborted        ErrorKind = "aborted"
	KindAudioCapture   ErrorKind = "audio-capture"
	KindNetwork        ErrorKind = "network"
	KindNotAllowed     ErrorKind = "not-allowed"
	KindServiceBlocked ErrorKind = "service-not-allowed"
	KindUnknown        ErrorKind = "unknown"
)

var (
	// ErrUnsupported is returned when no recognition capability is available.
	ErrUnsupported = errors.New("speech: recognition not supported")

	// ErrPermissionDenied is returned when microphone access is refused.
	ErrPermissionDenied = errors.New("speech: microphone permission denied")

	// ErrAlreadyListening is returned by Start while a session is active.
	ErrAlreadyListening = errors.New("speech: already listening")
)

// RecognitionError is a transient recognition failure.
type RecognitionError struct {
	Kind ErrorKind
	Err  error
}

func (e *RecognitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("speech: recognition %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("speech: recognition %s", e.Kind)
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// ErrorFromKind maps a recognizer error code onto the package taxonomy.
func ErrorFromKind(code string) error {
	switch k := ErrorKind(strings.ToLower(strings.TrimSpace(code))); k {
	case KindNotAllowed, KindServiceBlocked:
		return ErrPermissionDenied
	case KindNoSpeech, KindAborted, KindAudioCapture, KindNetwork:
		return &RecognitionError{Kind: k}
	default:
		return &RecognitionError{Kind: KindUnknown, Err: errors.New(code)}
	}
}

// WireEvent is the JSON form of an Event exchanged with browser clients and
// remote recognition relays.
type WireEvent struct {
	Type  string  `json:"type"`
	Text  string  `json:"text,omitempty"`
	Final bool    `json:"final,omitempty"`
	Error string  `json:"error,omitempty"`
	Level float64 `json:"level,omitempty"`
	Lang  string  `json:"lang,omitempty"`
}

// Event converts a wire message. Unknown types report false.
func (w WireEvent) Event() (Event, bool) {
	switch w.Type {
	case "start":
		return Event{Type: EventStart}, true
	case "speechstart":
		return Event{Type: EventSpeechStart}, true
	case "speechend":
		return Event{Type: EventSpeechEnd}, true
	case "result":
		return Event{Type: EventFragment, Text: w.Text, Final: w.Final}, true
	case "level":
		return Event{Type: EventLevel, Level: w.Level}, true
	case "error":
		return Event{Type: EventError, Err: ErrorFromKind(w.Error)}, true
	case "end":
		return Event{Type: EventEnd}, true
	}
	return Event{}, false
}

// Command is sent from the service to a recognition client.
type Command struct {
	Type string `json:"type"` // start | stop
	Lang string `json:"lang,omitempty"`
}
