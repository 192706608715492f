package services

import (
	"sync"
	"testing"
	"time"

	"proctorlink/internal/core/domain"
	"proctorlink/internal/engine/bus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type captureTarget struct {
	mu     sync.Mutex
	frames [][]byte
}

func (t *captureTarget) RenderFrame(payload []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = append(t.frames, payload)
}

func (t *captureTarget) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.frames)
}

func newRelayService(t *testing.T, window time.Duration) (*RelayService, *bus.EventBus) {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	events := bus.New(logger)
	return NewRelayService(events, window, logger), events
}

func waitForEvent(t *testing.T, sub <-chan domain.Event, eventType domain.EventType) domain.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub:
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", eventType)
		}
	}
}

func TestRelayService_FanoutToAllTargets(t *testing.T) {
	svc, _ := newRelayService(t, time.Minute)
	sessionID := domain.SessionID("1724668800000-a1b2c3d4e5f6-9f8e7d6c5b4a")

	primary := &captureTarget{}
	secondary := &captureTarget{}
	svc.RegisterTarget(sessionID, domain.TargetPrimary, primary)
	svc.RegisterTarget(sessionID, domain.TargetSecondary, secondary)

	svc.OnRemoteFrame(sessionID, []byte("frame-1"))

	assert.Equal(t, 1, primary.count())
	assert.Equal(t, 1, secondary.count())

	svc.OnRemoteFrame(sessionID, []byte("frame-2"))
	assert.Equal(t, 2, primary.count())
	assert.Equal(t, 2, secondary.count())
}

func TestRelayService_RegisterReplacesTarget(t *testing.T) {
	svc, _ := newRelayService(t, time.Minute)
	sessionID := domain.SessionID("1724668800000-a1b2c3d4e5f6-9f8e7d6c5b4a")

	old := &captureTarget{}
	replacement := &captureTarget{}
	svc.RegisterTarget(sessionID, domain.TargetPrimary, old)
	svc.RegisterTarget(sessionID, domain.TargetPrimary, replacement)

	svc.OnRemoteFrame(sessionID, []byte("frame"))

	assert.Equal(t, 0, old.count())
	assert.Equal(t, 1, replacement.count())
}

func TestRelayService_UnregisterStopsDelivery(t *testing.T) {
	svc, _ := newRelayService(t, time.Minute)
	sessionID := domain.SessionID("1724668800000-a1b2c3d4e5f6-9f8e7d6c5b4a")

	target := &captureTarget{}
	svc.RegisterTarget(sessionID, domain.TargetPrimary, target)
	svc.UnregisterTarget(sessionID, domain.TargetPrimary)

	svc.OnRemoteFrame(sessionID, []byte("frame"))
	assert.Equal(t, 0, target.count())
}

func TestRelayService_LivenessExpiryEmitsOnce(t *testing.T) {
	svc, events := newRelayService(t, 50*time.Millisecond)
	sessionID := domain.SessionID("1724668800000-a1b2c3d4e5f6-9f8e7d6c5b4a")

	sub := events.Subscribe()

	svc.Heartbeat(sessionID)
	ev := waitForEvent(t, sub, domain.EventConnectionChanged)
	assert.True(t, ev.Connected)

	// Past the window: exactly one disconnect, repeated checks stay silent.
	expiry := time.Now().Add(100 * time.Millisecond)
	svc.CheckLiveness(expiry)
	ev = waitForEvent(t, sub, domain.EventConnectionChanged)
	require.False(t, ev.Connected)
	assert.Equal(t, sessionID, ev.SessionID)

	svc.CheckLiveness(expiry.Add(time.Second))
	select {
	case ev := <-sub:
		t.Fatalf("unexpected second event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRelayService_FrameRevivesExpiredSession(t *testing.T) {
	svc, events := newRelayService(t, 50*time.Millisecond)
	sessionID := domain.SessionID("1724668800000-a1b2c3d4e5f6-9f8e7d6c5b4a")

	sub := events.Subscribe()

	svc.Heartbeat(sessionID)
	waitForEvent(t, sub, domain.EventConnectionChanged) // live

	svc.CheckLiveness(time.Now().Add(time.Second))
	ev := waitForEvent(t, sub, domain.EventConnectionChanged)
	require.False(t, ev.Connected)

	// Activity after expiry flips the session back to live.
	svc.OnRemoteFrame(sessionID, []byte("frame"))
	ev = waitForEvent(t, sub, domain.EventConnectionChanged)
	assert.True(t, ev.Connected)
}

func TestRelayService_HeartbeatKeepsSessionAliveWithoutFrames(t *testing.T) {
	svc, events := newRelayService(t, 80*time.Millisecond)
	sessionID := domain.SessionID("1724668800000-a1b2c3d4e5f6-9f8e7d6c5b4a")

	sub := events.Subscribe()

	svc.Heartbeat(sessionID)
	waitForEvent(t, sub, domain.EventConnectionChanged)

	// Heartbeats alone, no frames: the session must stay live.
	for i := 0; i < 3; i++ {
		time.Sleep(30 * time.Millisecond)
		svc.Heartbeat(sessionID)
		svc.CheckLiveness(time.Now())
	}

	select {
	case ev := <-sub:
		t.Fatalf("unexpected event while heartbeats flowing: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRelayService_RemoveSession(t *testing.T) {
	svc, _ := newRelayService(t, time.Minute)
	sessionID := domain.SessionID("1724668800000-a1b2c3d4e5f6-9f8e7d6c5b4a")

	target := &captureTarget{}
	svc.RegisterTarget(sessionID, domain.TargetPrimary, target)
	svc.RemoveSession(sessionID)

	svc.OnRemoteFrame(sessionID, []byte("frame"))
	assert.Equal(t, 0, target.count())
}
