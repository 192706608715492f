package domain

import "time"

type FrameKind string

const (
	FrameVideo FrameKind = "video"
	FrameAudio FrameKind = "audio"
)

// FrameSample is a single captured sample. It is consumed exactly once by the
// transport; stale samples are dropped, never retried.
type FrameSample struct {
	Kind       FrameKind
	Payload    []byte
	Secondary  []byte // optional secondary-camera payload from the same tick
	CapturedAt time.Time
	Sequence   uint64
}
