package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Error classification for the retry layer.
//
// Transient: network timeouts, refused connections, provider 5xx/429; safe
// to retry with backoff. Permanent: bad configuration, missing agent,
// provider 4xx; never retried, the call fails immediately. Canceled:
// expected outcome of an explicit hangup or shutdown, not logged as failure.

type Class int

const (
	ClassTransient Class = iota
	ClassPermanent
	ClassCanceled
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// TransientError marks an error as retryable.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks an error as non-retryable.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Transientf is Transient(fmt.Errorf(...)).
func Transientf(format string, args ...any) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}

// Permanentf is Permanent(fmt.Errorf(...)).
func Permanentf(format string, args ...any) error {
	return &PermanentError{Err: fmt.Errorf(format, args...)}
}

// HTTPError carries a provider REST status for classification.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("provider returned %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("provider returned %d", e.Status)
}

// Classify maps err onto the retry taxonomy. Explicit wrappers win; wire
// errors are inspected; anything unrecognized is treated as transient so a
// mislabeled provider blip costs bounded retries rather than a lost call.
func Classify(err error) Class {
	if err == nil {
		return ClassPermanent
	}

	var tr *TransientError
	if errors.As(err, &tr) {
		return ClassTransient
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return ClassPermanent
	}

	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	var he *HTTPError
	if errors.As(err, &he) {
		switch {
		case he.Status >= 500, he.Status == 429, he.Status == 408:
			return ClassTransient
		default:
			return ClassPermanent
		}
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ClassTransient
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return ClassTransient
	}

	return ClassTransient
}
