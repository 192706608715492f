package relay

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"proctorlink/internal/core/domain"
	"proctorlink/internal/core/ports"
	"proctorlink/internal/infrastructure/monitoring"
	"proctorlink/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// FrameMessage is the inbound envelope on the proctor socket.
type FrameMessage struct {
	Type          string `json:"type"`
	Data          string `json:"data"`
	SecondaryData string `json:"secondaryData,omitempty"`
}

// RemoteFrameMessage carries a secondary-device frame to the primary connection.
type RemoteFrameMessage struct {
	Type      string `json:"type"`
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

type sessionConns struct {
	primary   *websocket.Conn
	primaryMu sync.Mutex
	secondary *websocket.Conn
}

type WebSocketServer struct {
	analyzer ports.Analyzer
	registry ports.SessionRegistry
	metrics  *monitoring.PrometheusCollector

	sessions map[domain.SessionID]*sessionConns
	mu       sync.RWMutex

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	logger *zap.SugaredLogger
}

func NewWebSocketServer(analyzer ports.Analyzer, registry ports.SessionRegistry, metrics *monitoring.PrometheusCollector, logger *zap.SugaredLogger) *WebSocketServer {
	return &WebSocketServer{
		analyzer:     analyzer,
		registry:     registry,
		metrics:      metrics,
		sessions:     make(map[domain.SessionID]*sessionConns),
		pingInterval: 30 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		logger:       logger,
	}
}

// SetPingInterval sets the ping interval for proctor connections.
func (s *WebSocketServer) SetPingInterval(interval time.Duration) {
	s.pingInterval = interval
}

// HandleProctorSocket serves /ws/proctor/{session_id}. The optional
// role query parameter distinguishes the secondary camera device from
// the primary browser; frames from the secondary leg are forwarded to
// the primary connection as remote_frame messages.
func (s *WebSocketServer) HandleProctorSocket(w http.ResponseWriter, r *http.Request, sessionID domain.SessionID) {
	if err := validation.ValidateSessionID(string(sessionID)); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	role := r.URL.Query().Get("role")
	if role == "" {
		role = "primary"
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close()

	isReconnect := s.register(sessionID, role, conn)
	s.logger.Infow("proctor connection established",
		"session_id", sessionID,
		"role", role,
		"reconnect", isReconnect,
	)
	s.metrics.SessionConnected()

	conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan FrameMessage, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var msg FrameMessage
			if err := conn.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.readTimeout))
			messageChan <- msg
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			if err := s.handleFrame(r.Context(), sessionID, role, conn, msg); err != nil {
				s.logger.Infow("error handling frame", "session_id", sessionID, "role", role, "error", err)
				s.sendError(conn, err.Error())
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "session_id", sessionID, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading frame", "session_id", sessionID, "role", role, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	s.unregister(sessionID, role, conn)
	s.metrics.SessionDisconnected()
	s.logger.Infow("proctor connection closed", "session_id", sessionID, "role", role)
}

func (s *WebSocketServer) handleFrame(ctx context.Context, sessionID domain.SessionID, role string, conn *websocket.Conn, msg FrameMessage) error {
	if err := validation.ValidateFrameKind(msg.Type); err != nil {
		s.metrics.RecordFrameDropped()
		return err
	}
	if err := validation.ValidateFramePayload(msg.Data); err != nil {
		s.metrics.RecordFrameDropped()
		return err
	}
	kind := domain.FrameKind(msg.Type)

	if err := s.registry.Touch(ctx, sessionID, time.Now()); err != nil {
		s.logger.Warnw("failed to touch session", "session_id", sessionID, "error", err)
	}
	s.metrics.RecordFrameRelayed("websocket", kind)

	// Frames arriving on the secondary leg are mirrored to the primary
	// connection and not analyzed on their own.
	if role == "secondary" {
		return s.forwardToPrimary(sessionID, msg.Data)
	}

	start := time.Now()
	result, err := s.analyzer.AnalyzeFrame(ctx, sessionID, kind, msg.Data, msg.SecondaryData)
	if err != nil {
		s.metrics.RecordFrameDropped()
		return fmt.Errorf("frame analysis failed: %w", err)
	}
	s.metrics.RecordAnalyzeLatency(time.Since(start))

	for _, v := range result.Violations {
		s.metrics.RecordViolation(v)
	}

	conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return conn.WriteJSON(result)
}

func (s *WebSocketServer) forwardToPrimary(sessionID domain.SessionID, data string) error {
	s.mu.RLock()
	conns, exists := s.sessions[sessionID]
	s.mu.RUnlock()

	if !exists || conns.primary == nil {
		return domain.ErrTargetNotFound
	}

	msg := RemoteFrameMessage{
		Type:      "remote_frame",
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}

	conns.primaryMu.Lock()
	defer conns.primaryMu.Unlock()
	conns.primary.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return conns.primary.WriteJSON(msg)
}

// register records the connection for its role, closing a stale
// connection when the same role reconnects. Returns whether this
// replaced an existing connection.
func (s *WebSocketServer) register(sessionID domain.SessionID, role string, conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conns, exists := s.sessions[sessionID]
	if !exists {
		conns = &sessionConns{}
		s.sessions[sessionID] = conns
	}

	var old *websocket.Conn
	if role == "secondary" {
		old = conns.secondary
		conns.secondary = conn
	} else {
		old = conns.primary
		conns.primary = conn
	}

	if old != nil {
		old.Close()
		s.logger.Infow("closing old connection for reconnecting session", "session_id", sessionID, "role", role)
		return true
	}
	return false
}

func (s *WebSocketServer) unregister(sessionID domain.SessionID, role string, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conns, exists := s.sessions[sessionID]
	if !exists {
		return
	}

	// Only clear the slot if it still belongs to this connection;
	// a reconnect may already have replaced it.
	if role == "secondary" {
		if conns.secondary == conn {
			conns.secondary = nil
		}
	} else {
		if conns.primary == conn {
			conns.primary = nil
		}
	}

	if conns.primary == nil && conns.secondary == nil {
		delete(s.sessions, sessionID)
	}
}

func (s *WebSocketServer) sendError(conn *websocket.Conn, message string) {
	errorMsg := map[string]interface{}{
		"type":    "error",
		"message": message,
	}
	conn.WriteJSON(errorMsg)
}

// IsSessionConnected reports whether the session has a live primary connection.
func (s *WebSocketServer) IsSessionConnected(sessionID domain.SessionID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conns, exists := s.sessions[sessionID]
	return exists && conns.primary != nil
}

// ConnectedSessions returns the IDs of sessions with at least one open connection.
func (s *WebSocketServer) ConnectedSessions() []domain.SessionID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]domain.SessionID, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}
