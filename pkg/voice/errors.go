package voice

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/teslashibe/go-ruvo/pkg/keypool"
	"github.com/teslashibe/go-ruvo/pkg/speech"
)

// Errors surfaced by the orchestrator.
var (
	// ErrPermission means microphone access was refused.
	ErrPermission = speech.ErrPermissionDenied

	// ErrUnsupported means no recognition capability is available.
	ErrUnsupported = speech.ErrUnsupported

	// ErrNotActive is returned by HandleInput outside a session.
	ErrNotActive = errors.New("voice: no active session")

	// ErrBusy is returned by HandleInput while a turn is in progress.
	ErrBusy = errors.New("voice: turn in progress")
)

// RecognitionError is a transient capture failure.
type RecognitionError = speech.RecognitionError

// CredentialError means the completion or synthesis service rejected every
// credential it was offered.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("voice: credentials rejected: %v", e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// ServiceError is any other remote call failure.
type ServiceError struct {
	Op  string
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("voice: %s failed: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Class is the outcome of an external call.
type Class int

const (
	ClassSuccess Class = iota
	ClassRetryable
	ClassCredential
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassRetryable:
		return "retryable"
	case ClassCredential:
		return "credential"
	case ClassFatal:
		return "fatal"
	}
	return fmt.Sprintf("Class(%d)", int(c))
}

// Classify maps any error from capture, completion or synthesis onto the
// taxonomy the orchestrator recovers from.
func Classify(err error) Class {
	if err == nil {
		return ClassSuccess
	}
	var ce *CredentialError
	if errors.As(err, &ce) {
		return ClassCredential
	}
	switch {
	case errors.Is(err, ErrPermission), errors.Is(err, ErrUnsupported), errors.Is(err, io.EOF):
		return ClassFatal
	case errors.Is(err, keypool.ErrPoolExhausted):
		return ClassCredential
	case errors.Is(err, context.Canceled):
		return ClassFatal
	}
	var re *RecognitionError
	if errors.As(err, &re) {
		return ClassRetryable
	}
	switch keypool.DefaultClassifier(err) {
	case keypool.Credential:
		return ClassCredential
	case keypool.Retryable:
		return ClassRetryable
	}
	return ClassFatal
}

// wrapCompletion classifies a completion failure into the taxonomy.
func wrapCompletion(err error) error {
	if err == nil {
		return nil
	}
	if Classify(err) == ClassCredential {
		return &CredentialError{Err: err}
	}
	return &ServiceError{Op: "completion", Err: err}
}
