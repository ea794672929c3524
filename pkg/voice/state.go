package voice

import "fmt"

// State is the orchestrator's position in the turn-taking loop.
type State int

const (
	StateIdle State = iota
	StateListening
	StateThinking
	StateSpeaking
	StateStopped
	StateError
)

var stateNames = [...]string{
	StateIdle:      "idle",
	StateListening: "listening",
	StateThinking:  "thinking",
	StateSpeaking:  "speaking",
	StateStopped:   "stopped",
	StateError:     "error",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText encodes the state name for JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Active reports whether a turn is in progress.
func (s State) Active() bool {
	return s == StateListening || s == StateThinking || s == StateSpeaking
}
