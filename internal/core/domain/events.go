package domain

import "time"

// EventType tags engine events published between components and the facade.
type EventType string

const (
	EventConnectionChanged EventType = "connection.changed"
	EventMetricsUpdated    EventType = "metrics.updated"
	EventViolationDetected EventType = "violation.detected"
	EventSessionRecovered  EventType = "session.recovered"
)

// Event is a typed engine event. Exactly one of the payload fields is set,
// selected by Type.
type Event struct {
	Type      EventType
	SessionID SessionID
	Timestamp time.Time

	Connected bool
	Metrics   *ConnectionMetrics
	Violation *Violation
	Context   string // regeneration context for session.recovered
}
