package domain

import "errors"

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionInvalid      = errors.New("session id invalid")
	ErrChannelClosed       = errors.New("transport channel closed")
	ErrSendInFlight        = errors.New("send already in flight")
	ErrDispatcherStopped   = errors.New("dispatcher stopped")
	ErrTargetNotFound      = errors.New("relay target not found")
	ErrCaptureNotReady     = errors.New("capture source not ready")
	ErrAllTransportsFailed = errors.New("all transports failed")
)
