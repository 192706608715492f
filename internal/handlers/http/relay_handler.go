package http

import (
	"net/http"
	"sync"
	"time"

	"proctorlink/internal/core/domain"
	"proctorlink/internal/core/ports"
	"proctorlink/internal/core/services"
	"proctorlink/internal/infrastructure/monitoring"
	"proctorlink/internal/infrastructure/relay"
	"proctorlink/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RelayRequest is the HTTP fallback frame envelope.
type RelayRequest struct {
	SessionID          string `json:"sessionId" binding:"required"`
	FrameData          string `json:"frameData" binding:"required"`
	SecondaryFrameData string `json:"secondaryFrameData,omitempty"`
	Timestamp          int64  `json:"timestamp"`
}

// RelayResponse extends the analysis result with the per-session frame count.
type RelayResponse struct {
	domain.AnalysisResult
	FrameCount int64 `json:"frameCount"`
}

// StatusResponse reports session connectivity for heartbeat polling.
type StatusResponse struct {
	Connected bool `json:"connected"`
}

type RelayHandler struct {
	analyzer ports.Analyzer
	registry ports.SessionRegistry
	pairing  services.PairingService
	wsServer *relay.WebSocketServer
	metrics  *monitoring.PrometheusCollector
	logger   *zap.SugaredLogger

	// Liveness window for the /status connectivity decision.
	livenessWindow time.Duration

	frameCounts map[domain.SessionID]int64
	mu          sync.Mutex
}

func NewRelayHandler(
	analyzer ports.Analyzer,
	registry ports.SessionRegistry,
	pairing services.PairingService,
	wsServer *relay.WebSocketServer,
	metrics *monitoring.PrometheusCollector,
	livenessWindow time.Duration,
	logger *zap.SugaredLogger,
) *RelayHandler {
	return &RelayHandler{
		analyzer:       analyzer,
		registry:       registry,
		pairing:        pairing,
		wsServer:       wsServer,
		metrics:        metrics,
		livenessWindow: livenessWindow,
		frameCounts:    make(map[domain.SessionID]int64),
		logger:         logger,
	}
}

func (h *RelayHandler) SetupRoutes(router *gin.Engine) {
	router.POST("/relay", h.RelayFrame)
	router.GET("/status", h.SessionStatus)
	router.POST("/pair", h.IssuePairingToken)
	router.GET("/health", h.Health)
	router.GET("/ws/proctor/:sessionID", h.ProctorSocket)
}

// RelayFrame accepts a frame over the HTTP fallback path, runs analysis
// and returns the result together with the running frame count.
func (h *RelayHandler) RelayFrame(c *gin.Context) {
	handleStart := time.Now()

	var req RelayRequest
	if err := c.BindJSON(&req); err != nil {
		h.metrics.RecordFrameDropped()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := validation.ValidateSessionID(req.SessionID); err != nil {
		h.metrics.RecordFrameDropped()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateFramePayload(req.FrameData); err != nil {
		h.metrics.RecordFrameDropped()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessionID := domain.SessionID(req.SessionID)
	if err := h.registry.Touch(c.Request.Context(), sessionID, time.Now()); err != nil {
		h.logger.Warnw("failed to touch session", "session_id", sessionID, "error", err)
	}
	h.metrics.RecordFrameRelayed("http", domain.FrameVideo)

	analyzeStart := time.Now()
	result, err := h.analyzer.AnalyzeFrame(
		c.Request.Context(),
		sessionID,
		domain.FrameVideo,
		req.FrameData,
		req.SecondaryFrameData,
	)
	if err != nil {
		h.metrics.RecordFrameDropped()
		h.logger.Errorw("fallback frame analysis failed", "session_id", sessionID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "frame analysis failed"})
		return
	}
	h.metrics.RecordAnalyzeLatency(time.Since(analyzeStart))

	for _, v := range result.Violations {
		h.metrics.RecordViolation(v)
	}

	h.mu.Lock()
	h.frameCounts[sessionID]++
	count := h.frameCounts[sessionID]
	h.mu.Unlock()

	// The first fallback frame marks the session switching off its primary
	// path.
	if count == 1 {
		h.metrics.RecordFallbackActivation()
	}
	h.metrics.RecordSendLatency(time.Since(handleStart))

	c.JSON(http.StatusOK, RelayResponse{
		AnalysisResult: result,
		FrameCount:     count,
	})
}

// SessionStatus reports whether the session is considered connected. A
// heartbeat=true query keeps the session alive even when no frames flow.
func (h *RelayHandler) SessionStatus(c *gin.Context) {
	rawID := c.Query("sessionId")
	if err := validation.ValidateSessionID(rawID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sessionID := domain.SessionID(rawID)

	if c.Query("heartbeat") == "true" {
		if err := h.registry.Touch(c.Request.Context(), sessionID, time.Now()); err != nil {
			h.logger.Warnw("failed to record heartbeat", "session_id", sessionID, "error", err)
		}
	}

	connected := h.wsServer.IsSessionConnected(sessionID)
	if !connected {
		lastSeen, err := h.registry.LastSeen(c.Request.Context(), sessionID)
		if err == nil && time.Since(lastSeen) <= h.livenessWindow {
			connected = true
		}
	}

	c.JSON(http.StatusOK, StatusResponse{Connected: connected})
}

// IssuePairingToken returns a short-lived token a secondary camera
// device presents when opening its socket for the session.
func (h *RelayHandler) IssuePairingToken(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateSessionID(req.SessionID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, expiresAt, err := h.pairing.IssueToken(domain.SessionID(req.SessionID))
	if err != nil {
		h.logger.Errorw("failed to issue pairing token", "session_id", req.SessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue pairing token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"expiresAt": expiresAt.UnixMilli(),
	})
}

// ProctorSocket upgrades the proctor websocket. The secondary camera
// leg must present a valid pairing token bound to the same session.
func (h *RelayHandler) ProctorSocket(c *gin.Context) {
	sessionID := domain.SessionID(c.Param("sessionID"))

	if c.Query("role") == "secondary" {
		token := c.Query("token")
		tokenSession, err := h.pairing.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		if tokenSession != sessionID {
			c.JSON(http.StatusForbidden, gin.H{"error": "pairing token does not match session"})
			return
		}
	}

	h.wsServer.HandleProctorSocket(c.Writer, c.Request, sessionID)
}

// EvictSession releases the per-session relay state once the registry
// declares the session gone.
func (h *RelayHandler) EvictSession(sessionID domain.SessionID) {
	h.mu.Lock()
	delete(h.frameCounts, sessionID)
	h.mu.Unlock()
}

func (h *RelayHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"sessions":  len(h.wsServer.ConnectedSessions()),
	})
}
