package errors

import (
	"errors"
	"fmt"
	"time"
)

// TransportErrorKind classifies failures detected at the transport layer.
type TransportErrorKind string

const (
	TransportCertificate     TransportErrorKind = "certificate"
	TransportMixedContent    TransportErrorKind = "mixed_content"
	TransportTimeout         TransportErrorKind = "timeout"
	TransportAbnormalClosure TransportErrorKind = "abnormal_closure"
)

// TransportError tags a transport failure with its kind so the channel can
// decide between retry and immediate fallback.
type TransportError struct {
	Kind  TransportErrorKind
	Cause error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transport %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("transport %s", e.Kind)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the primary path may be retried after this
// failure. Certificate and mixed-content failures are policy rejections the
// client cannot recover from by retrying.
func (e *TransportError) Retryable() bool {
	switch e.Kind {
	case TransportCertificate, TransportMixedContent:
		return false
	default:
		return true
	}
}

func NewTransportError(kind TransportErrorKind, cause error) *TransportError {
	return &TransportError{Kind: kind, Cause: cause}
}

// AsTransportError extracts a TransportError from an error chain.
func AsTransportError(err error) (*TransportError, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// RateLimitedError signals the analysis service throttled the sender. It
// triggers a fixed cooldown on the capture loop, not a backoff restart.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// IsRateLimited reports whether the error chain contains a RateLimitedError.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}
