package services

import (
	"sync"
	"time"

	"proctorlink/internal/core/domain"
	"proctorlink/internal/core/ports"
	"proctorlink/internal/engine/bus"

	"go.uber.org/zap"
)

// relaySession tracks the render targets and liveness of one session.
type relaySession struct {
	targets      map[domain.TargetName]ports.RenderTarget
	lastActivity time.Time
	live         bool
}

// RelayService binds sessions to named render targets and tracks liveness
// independently of frame cadence: a session is live if either a frame or a
// heartbeat arrived within the liveness window. A mobile client flipping its
// camera pauses frames without disconnecting, so frames alone cannot drive
// the connected signal.
type RelayService struct {
	events         *bus.EventBus
	livenessWindow time.Duration
	logger         *zap.SugaredLogger

	mu       sync.RWMutex
	sessions map[domain.SessionID]*relaySession
}

func NewRelayService(events *bus.EventBus, livenessWindow time.Duration, logger *zap.SugaredLogger) *RelayService {
	if livenessWindow <= 0 {
		livenessWindow = 8 * time.Second
	}
	return &RelayService{
		events:         events,
		livenessWindow: livenessWindow,
		logger:         logger,
		sessions:       make(map[domain.SessionID]*relaySession),
	}
}

// RegisterTarget binds a named render target to the session. Registering an
// existing name replaces the target; the session entry survives reconnects so
// UI-level targets never need to re-register.
func (r *RelayService) RegisterTarget(sessionID domain.SessionID, name domain.TargetName, target ports.RenderTarget) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess := r.sessions[sessionID]
	if sess == nil {
		sess = &relaySession{targets: make(map[domain.TargetName]ports.RenderTarget)}
		r.sessions[sessionID] = sess
	}
	sess.targets[name] = target

	r.logger.Infow("relay target registered", "session_id", sessionID, "target", name)
}

// UnregisterTarget removes one named target. The session entry stays until
// RemoveSession so liveness tracking continues.
func (r *RelayService) UnregisterTarget(sessionID domain.SessionID, name domain.TargetName) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess := r.sessions[sessionID]; sess != nil {
		delete(sess.targets, name)
	}
}

// RemoveSession drops the session and its target set entirely.
func (r *RelayService) RemoveSession(sessionID domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// OnRemoteFrame forwards an inbound remote frame to every registered target
// of the session, each exactly once, and counts as liveness activity.
func (r *RelayService) OnRemoteFrame(sessionID domain.SessionID, payload []byte) {
	r.mu.Lock()
	sess := r.sessions[sessionID]
	if sess == nil {
		// Frame for a session we have not seen yet: remember the activity so
		// a late registration still observes a live link.
		sess = &relaySession{targets: make(map[domain.TargetName]ports.RenderTarget)}
		r.sessions[sessionID] = sess
	}
	targets := make([]ports.RenderTarget, 0, len(sess.targets))
	for _, t := range sess.targets {
		targets = append(targets, t)
	}
	r.touchLocked(sessionID, sess)
	r.mu.Unlock()

	for _, t := range targets {
		t.RenderFrame(payload)
	}
}

// Heartbeat records liveness activity without a frame.
func (r *RelayService) Heartbeat(sessionID domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess := r.sessions[sessionID]
	if sess == nil {
		sess = &relaySession{targets: make(map[domain.TargetName]ports.RenderTarget)}
		r.sessions[sessionID] = sess
	}
	r.touchLocked(sessionID, sess)
}

// CheckLiveness evaluates every session against the liveness window. A
// session past the window emits exactly one connection-changed(false) event,
// even when no explicit close was observed. Driven by the facade's heartbeat
// timer.
func (r *RelayService) CheckLiveness(now time.Time) {
	r.mu.Lock()
	var expired []domain.SessionID
	for id, sess := range r.sessions {
		if sess.live && now.Sub(sess.lastActivity) > r.livenessWindow {
			sess.live = false
			expired = append(expired, id)
		}
	}
	r.mu.Unlock()

	for _, id := range expired {
		r.logger.Warnw("session liveness window expired", "session_id", id)
		r.events.Publish(domain.Event{
			Type:      domain.EventConnectionChanged,
			SessionID: id,
			Connected: false,
		})
	}
}

// touchLocked marks activity and, on a dead-to-live transition, announces the
// recovered link. Caller holds the lock.
func (r *RelayService) touchLocked(sessionID domain.SessionID, sess *relaySession) {
	sess.lastActivity = time.Now()
	if !sess.live {
		sess.live = true
		go r.events.Publish(domain.Event{
			Type:      domain.EventConnectionChanged,
			SessionID: sessionID,
			Connected: true,
		})
	}
}
