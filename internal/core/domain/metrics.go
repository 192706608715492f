package domain

import "time"

// ConnectionMetrics is the per-session view the dispatcher maintains.
// FrameRate is recomputed from a one-second rolling window, not a cumulative
// average, so transient stalls show up quickly.
type ConnectionMetrics struct {
	FrameRate           float64
	LatencyMs           int64
	Quality             ConnectionQuality
	DroppedFrames       int
	TotalFrames         int
	ConnectionTimeMs    int64
	LastFrameReceivedAt time.Time
}
