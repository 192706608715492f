package domain

// ConnectionState is the internal state of a transport channel.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDegraded // fallback path active, reported as Connected to consumers
	StateClosed   // terminal
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// External maps internal state to what consumers observe. Degraded mode is
// deliberately reported as Connected: the fallback path is transparent to
// callers.
func (s ConnectionState) External() ConnectionState {
	if s == StateDegraded {
		return StateConnected
	}
	return s
}

// ConnectionQuality classifies send latency for metrics consumers.
type ConnectionQuality string

const (
	QualityExcellent ConnectionQuality = "excellent"
	QualityGood      ConnectionQuality = "good"
	QualityPoor      ConnectionQuality = "poor"
)
