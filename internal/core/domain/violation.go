package domain

type ViolationKind string

const (
	ViolationNoFace        ViolationKind = "no_face"
	ViolationMultipleFaces ViolationKind = "multiple_faces"
	ViolationGaze          ViolationKind = "gaze_violation"
	ViolationObject        ViolationKind = "prohibited_object"
	ViolationVoice         ViolationKind = "voice_activity"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Violation is produced only by parsing inbound analysis results. It is
// immutable once constructed and never stored by the engine.
type Violation struct {
	Kind       ViolationKind `json:"type"`
	Severity   Severity      `json:"severity"`
	Confidence float64       `json:"confidence"`
	Message    string        `json:"message,omitempty"`
}

type AnalysisStatus string

const (
	StatusClear     AnalysisStatus = "clear"
	StatusViolation AnalysisStatus = "violation"
	StatusError     AnalysisStatus = "error"
)

type AnalysisMetrics struct {
	FaceConfidence     float64 `json:"face_confidence"`
	GazeScore          float64 `json:"gaze_score"`
	ObjectsDetected    int     `json:"objects_detected"`
	VoiceActivityLevel float64 `json:"voice_activity_level,omitempty"`
}

// AnalysisResult is the inbound message shape shared by the primary and
// fallback paths, so everything above the transport is path-agnostic.
type AnalysisResult struct {
	Status     AnalysisStatus  `json:"status"`
	Message    string          `json:"message,omitempty"`
	Violations []Violation     `json:"violations"`
	Metrics    AnalysisMetrics `json:"metrics"`
}
