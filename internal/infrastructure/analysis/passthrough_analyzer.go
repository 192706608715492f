package analysis

import (
	"context"

	"proctorlink/internal/core/domain"
)

// PassthroughAnalyzer accepts every frame as clear. Used when no
// external analysis service is configured.
type PassthroughAnalyzer struct{}

func NewPassthroughAnalyzer() *PassthroughAnalyzer {
	return &PassthroughAnalyzer{}
}

func (a *PassthroughAnalyzer) AnalyzeFrame(_ context.Context, _ domain.SessionID, _ domain.FrameKind, _, _ string) (domain.AnalysisResult, error) {
	return domain.AnalysisResult{
		Status:     domain.StatusClear,
		Violations: []domain.Violation{},
		Metrics: domain.AnalysisMetrics{
			FaceConfidence: 1.0,
			GazeScore:      1.0,
		},
	}, nil
}
