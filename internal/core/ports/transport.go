package ports

import (
	"context"

	"proctorlink/internal/core/domain"
)

// Channel is the one active communication path of a session: a persistent
// full-duplex primary path with a request/response fallback behind it. A
// closed channel is terminal and may not be reused.
type Channel interface {
	Open(ctx context.Context) error
	Send(ctx context.Context, sample domain.FrameSample) error
	// Results delivers inbound analysis results. In-order on the primary
	// path; no cross-request ordering guarantee while degraded.
	Results() <-chan domain.AnalysisResult
	State() domain.ConnectionState
	// ExternalState maps Degraded to Connected for consumers.
	ExternalState() domain.ConnectionState
	OnStateChange(fn func(from, to domain.ConnectionState))
	// OnRemoteFrame registers the handler for secondary-device frames pushed
	// over the primary path; they are not analysis results and never
	// acknowledge a send.
	OnRemoteFrame(fn func(payload []byte))
	Close() error
}

// FrameSource samples the monitored surface. Implementations live in the UI
// layer; the engine only drives the cadence and stamps sequence numbers.
type FrameSource interface {
	Capture(ctx context.Context) (domain.FrameSample, error)
}

// RenderTarget is an opaque surface the UI layer registers to receive remote
// frames (the secondary device's camera feed).
type RenderTarget interface {
	RenderFrame(payload []byte)
}

// Analyzer is the inference service boundary. The analysis algorithm itself
// is out of scope; the gateway only routes frames to it.
type Analyzer interface {
	AnalyzeFrame(ctx context.Context, sessionID domain.SessionID, kind domain.FrameKind, data, secondaryData string) (domain.AnalysisResult, error)
}
