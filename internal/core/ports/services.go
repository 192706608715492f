package ports

import (
	"context"

	"proctorlink/internal/core/domain"
)

// SessionService owns session identity: the single source of truth for what
// makes an id valid and the single regeneration algorithm.
type SessionService interface {
	Generate(origin domain.SessionOrigin) domain.Session
	Validate(candidate string) bool
	// EnsureValid returns the candidate unchanged when valid; otherwise it
	// generates a replacement, persists it and reports the regeneration
	// through the diagnostic callback. callContext names the call site that
	// detected the invalid id.
	EnsureValid(ctx context.Context, candidate string, callContext string) (domain.Session, error)
	Persist(ctx context.Context, session domain.Session) error
	// Reconcile compares the in-memory session against the persisted copy and
	// repairs divergence. The in-memory copy is authoritative.
	Reconcile(ctx context.Context) (domain.Session, error)
}

// FrameDispatcher samples a source at a target rate and pushes samples
// through the channel with drop-based backpressure.
type FrameDispatcher interface {
	Start(ctx context.Context, source FrameSource, targetFPS int) error
	Stop()
	Metrics() domain.ConnectionMetrics
}

// RelayRegistry binds a session to named render targets and a heartbeat
// liveness check independent of frame cadence.
type RelayRegistry interface {
	RegisterTarget(sessionID domain.SessionID, name domain.TargetName, target RenderTarget)
	UnregisterTarget(sessionID domain.SessionID, name domain.TargetName)
	OnRemoteFrame(sessionID domain.SessionID, payload []byte)
	Heartbeat(sessionID domain.SessionID)
}

// ProctorService is the narrow contract the UI layer consumes.
type ProctorService interface {
	Start(ctx context.Context, sessionHint string) (domain.Session, error)
	Stop()
	OnViolation(fn func(domain.Violation))
	OnMetrics(fn func(domain.ConnectionMetrics))
	OnConnectionChange(fn func(connected bool))
}
