package keypool

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors.
var (
	// ErrNoCredentials is returned when a pool is built from an empty list.
	ErrNoCredentials = errors.New("keypool: no credentials")

	// ErrInvalidQuota is returned when the quota is below 1.
	ErrInvalidQuota = errors.New("keypool: quota must be at least 1")

	// ErrPoolExhausted is returned in strict mode when no credential is usable.
	ErrPoolExhausted = errors.New("keypool: all credentials exhausted")
)

// Outcome classifies a failed call.
type Outcome int

const (
	// Retryable failures (network, 5xx, timeouts) are retried on the same
	// credential a bounded number of times.
	Retryable Outcome = iota

	// Credential failures (401/403/429) invalidate the credential at once.
	Credential

	// Fatal failures are returned to the caller without rotation.
	Fatal
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Retryable:
		return "retryable"
	case Credential:
		return "credential"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Classifier maps an error to an Outcome.
type Classifier func(error) Outcome

// credentialError is implemented by provider API errors.
type credentialError interface {
	IsCredential() bool
}

// retryableError is implemented by provider API errors.
type retryableError interface {
	IsRetryable() bool
}

// DefaultClassifier recognizes errors exposing IsCredential/IsRetryable,
// context deadlines and network errors. Everything else is fatal.
func DefaultClassifier(err error) Outcome {
	var ce credentialError
	if errors.As(err, &ce) && ce.IsCredential() {
		return Credential
	}
	var re retryableError
	if errors.As(err, &re) && re.IsRetryable() {
		return Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return Retryable
	}
	return Fatal
}

// RotationError is returned by Do when every attempt failed.
type RotationError struct {
	// Attempts is the number of credentials tried.
	Attempts int

	// Err is the last failure.
	Err error
}

// Error implements the error interface.
func (e *RotationError) Error() string {
	return fmt.Sprintf("keypool: request failed after %d credential(s): %v", e.Attempts, e.Err)
}

// Unwrap returns the last failure.
func (e *RotationError) Unwrap() error {
	return e.Err
}
