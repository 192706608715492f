package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"proctorlink/internal/core/domain"
	perrors "proctorlink/pkg/errors"

	"go.uber.org/zap"
)

// RelayRequest is the fallback-path request body for POST /relay.
type RelayRequest struct {
	SessionID          string `json:"sessionId"`
	FrameData          string `json:"frameData"`
	SecondaryFrameData string `json:"secondaryFrameData,omitempty"`
	Timestamp          int64  `json:"timestamp"`
}

// RelayResponse carries the same analysis structure as the primary path plus
// the relayed frame count, so everything above the transport stays
// path-agnostic.
type RelayResponse struct {
	domain.AnalysisResult
	FrameCount int `json:"frameCount"`
}

// StatusResponse is the heartbeat reply.
type StatusResponse struct {
	Connected bool `json:"connected"`
}

// FallbackClient is the request/response path used while the primary channel
// cannot be established.
type FallbackClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.SugaredLogger
}

func NewFallbackClient(baseURL string, client *http.Client, logger *zap.SugaredLogger) *FallbackClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &FallbackClient{baseURL: baseURL, client: client, logger: logger}
}

// SendFrame posts one frame and returns the analysis result from the
// response. No cross-request ordering is guaranteed on this path.
func (f *FallbackClient) SendFrame(ctx context.Context, sessionID domain.SessionID, frameData, secondaryFrameData string) (RelayResponse, error) {
	var out RelayResponse

	body, err := json.Marshal(RelayRequest{
		SessionID:          string(sessionID),
		FrameData:          frameData,
		SecondaryFrameData: secondaryFrameData,
		Timestamp:          time.Now().UnixMilli(),
	})
	if err != nil {
		return out, fmt.Errorf("failed to marshal relay request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/relay", bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("failed to build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return out, perrors.NewTransportError(perrors.TransportTimeout, err)
		}
		return out, fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return out, &perrors.RateLimitedError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode != http.StatusOK:
		return out, fmt.Errorf("relay request rejected with status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return out, fmt.Errorf("failed to decode relay response: %w", err)
	}
	return out, nil
}

// Heartbeat performs the liveness check independent of frame flow.
func (f *FallbackClient) Heartbeat(ctx context.Context, sessionID domain.SessionID) (bool, error) {
	url := fmt.Sprintf("%s/status?sessionId=%s&heartbeat=true", f.baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build status request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("status request rejected with status %d", resp.StatusCode)
	}

	var out StatusResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&out); err != nil {
		return false, fmt.Errorf("failed to decode status response: %w", err)
	}
	return out.Connected, nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Second
}
