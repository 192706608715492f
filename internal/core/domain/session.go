package domain

import "time"

type SessionID string

// SessionOrigin identifies which client context created the session.
type SessionOrigin string

const (
	OriginPrimary   SessionOrigin = "primary"
	OriginSecondary SessionOrigin = "secondary"
)

// MinSessionIDLength is the shortest id accepted as valid. Generated ids are
// always longer; the threshold rejects truncated or placeholder values
// restored from persistence.
const MinSessionIDLength = 16

// SessionKey is the well-known persistence key holding the current session id
// on a device.
const SessionKey = "proctorlink.session"

type Session struct {
	ID        SessionID
	Origin    SessionOrigin
	CreatedAt time.Time
}
