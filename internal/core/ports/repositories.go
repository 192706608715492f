package ports

import (
	"context"
	"time"

	"proctorlink/internal/core/domain"
)

// SessionStore is the durable key→value entry per device holding the current
// session id. Load returns domain.ErrSessionNotFound when no entry exists.
type SessionStore interface {
	Load(ctx context.Context) (domain.SessionID, error)
	Save(ctx context.Context, id domain.SessionID) error
	Delete(ctx context.Context) error
}

// SessionRegistry tracks live sessions on the gateway side: last-observed
// activity (frame or heartbeat) per session.
type SessionRegistry interface {
	Touch(ctx context.Context, id domain.SessionID, at time.Time) error
	LastSeen(ctx context.Context, id domain.SessionID) (time.Time, error)
	Active(ctx context.Context, window time.Duration) ([]domain.SessionID, error)
	Remove(ctx context.Context, id domain.SessionID) error
}
