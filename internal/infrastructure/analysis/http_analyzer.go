package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"proctorlink/internal/core/domain"
	"proctorlink/pkg/tracing"
)

const maxResponseBytes = 1 << 20

type analyzeRequest struct {
	SessionID     string `json:"sessionId"`
	Kind          string `json:"kind"`
	FrameData     string `json:"frameData"`
	SecondaryData string `json:"secondaryData,omitempty"`
}

// HTTPAnalyzer forwards frames to an external analysis service.
type HTTPAnalyzer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPAnalyzer(baseURL string, timeout time.Duration) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (a *HTTPAnalyzer) AnalyzeFrame(ctx context.Context, sessionID domain.SessionID, kind domain.FrameKind, data, secondaryData string) (domain.AnalysisResult, error) {
	ctx, span := tracing.TraceFrameAnalysis(ctx, string(sessionID), string(kind))
	defer span.End()

	body, err := json.Marshal(analyzeRequest{
		SessionID:     string(sessionID),
		Kind:          string(kind),
		FrameData:     data,
		SecondaryData: secondaryData,
	})
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("failed to encode analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("failed to build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		tracing.RecordError(ctx, err)
		return domain.AnalysisResult{}, fmt.Errorf("analysis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("analysis service returned status %d", resp.StatusCode)
		tracing.RecordError(ctx, err)
		return domain.AnalysisResult{}, err
	}

	var result domain.AnalysisResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&result); err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("failed to decode analysis result: %w", err)
	}
	return result, nil
}
