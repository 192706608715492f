package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"proctorlink/internal/core/domain"
	"proctorlink/internal/core/ports"
	"proctorlink/internal/engine/bus"
	perrors "proctorlink/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubSource struct {
	mu  sync.Mutex
	err error
}

func (s *stubSource) Capture(ctx context.Context) (domain.FrameSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.FrameSample{}, s.err
	}
	return domain.FrameSample{Kind: domain.FrameVideo, Payload: []byte("frame")}, nil
}

func (s *stubSource) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

type stubChannel struct {
	mu      sync.Mutex
	sends   int
	sendErr error
	block   chan struct{} // non-nil: Send blocks until closed
	samples []domain.FrameSample
	results chan domain.AnalysisResult
	state   domain.ConnectionState

	stateFn       func(from, to domain.ConnectionState)
	remoteFrameFn func(payload []byte)
	closeOnce     sync.Once
}

func newStubChannel() *stubChannel {
	return &stubChannel{
		results: make(chan domain.AnalysisResult, 16),
		state:   domain.StateConnected,
	}
}

func (c *stubChannel) Open(ctx context.Context) error { return nil }

func (c *stubChannel) Send(ctx context.Context, sample domain.FrameSample) error {
	c.mu.Lock()
	c.sends++
	c.samples = append(c.samples, sample)
	block := c.block
	err := c.sendErr
	c.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return perrors.NewTransportError(perrors.TransportTimeout, ctx.Err())
		}
	}
	return err
}

func (c *stubChannel) Results() <-chan domain.AnalysisResult { return c.results }
func (c *stubChannel) State() domain.ConnectionState         { return c.state }
func (c *stubChannel) ExternalState() domain.ConnectionState { return c.state.External() }

func (c *stubChannel) OnStateChange(fn func(from, to domain.ConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateFn = fn
}

func (c *stubChannel) OnRemoteFrame(fn func(payload []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteFrameFn = fn
}

func (c *stubChannel) pushRemoteFrame(payload []byte) {
	c.mu.Lock()
	fn := c.remoteFrameFn
	c.mu.Unlock()
	if fn != nil {
		fn(payload)
	}
}

func (c *stubChannel) Close() error {
	c.closeOnce.Do(func() { close(c.results) })
	return nil
}

func (c *stubChannel) sendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sends
}

var _ ports.Channel = (*stubChannel)(nil)

func newDispatcher(t *testing.T, channel ports.Channel, cfg DispatcherConfig) (*DispatcherService, *bus.EventBus) {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	events := bus.New(logger)
	sessionID := domain.SessionID("1724668800000-a1b2c3d4e5f6-9f8e7d6c5b4a")
	return NewDispatcherService(sessionID, channel, events, cfg, logger), events
}

func waitIdle(t *testing.T, d *DispatcherService) {
	t.Helper()
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return !d.inFlight
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDispatcher_DropsTickWhileSendInFlight(t *testing.T) {
	channel := newStubChannel()
	channel.block = make(chan struct{})
	d, _ := newDispatcher(t, channel, DispatcherConfig{SendTimeout: 5 * time.Second})
	source := &stubSource{}
	ctx := context.Background()

	d.tick(ctx, source)
	require.Eventually(t, func() bool {
		return channel.sendCount() == 1
	}, time.Second, 5*time.Millisecond)

	// Previous send unresolved: these ticks must drop, not queue.
	d.tick(ctx, source)
	d.tick(ctx, source)

	m := d.Metrics()
	assert.Equal(t, 3, m.TotalFrames)
	assert.Equal(t, 2, m.DroppedFrames)
	assert.Equal(t, 1, channel.sendCount())

	close(channel.block)
	waitIdle(t, d)

	// Resolved: the next tick sends again.
	channel.mu.Lock()
	channel.block = nil
	channel.mu.Unlock()
	d.tick(ctx, source)
	waitIdle(t, d)
	assert.Equal(t, 2, channel.sendCount())
}

func TestDispatcher_SequenceNumbersAreMonotonic(t *testing.T) {
	channel := newStubChannel()
	d, _ := newDispatcher(t, channel, DispatcherConfig{})
	source := &stubSource{}
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		d.tick(ctx, source)
		waitIdle(t, d)
	}

	channel.mu.Lock()
	defer channel.mu.Unlock()
	require.Len(t, channel.samples, 4)
	for i, sample := range channel.samples {
		assert.Equal(t, uint64(i+1), sample.Sequence)
	}
}

func TestDispatcher_RateLimitTriggersCooldown(t *testing.T) {
	channel := newStubChannel()
	channel.sendErr = &perrors.RateLimitedError{RetryAfter: time.Second}
	d, _ := newDispatcher(t, channel, DispatcherConfig{CooldownTicks: 3})
	source := &stubSource{}
	ctx := context.Background()

	d.tick(ctx, source)
	waitIdle(t, d)
	require.Equal(t, 1, channel.sendCount())

	// Cooldown: the next three ticks are skipped entirely.
	for i := 0; i < 3; i++ {
		d.tick(ctx, source)
	}
	assert.Equal(t, 1, channel.sendCount())

	channel.mu.Lock()
	channel.sendErr = nil
	channel.mu.Unlock()

	d.tick(ctx, source)
	waitIdle(t, d)
	assert.Equal(t, 2, channel.sendCount())
}

func TestDispatcher_ConsecutiveCaptureErrorsEscalate(t *testing.T) {
	channel := newStubChannel()
	d, events := newDispatcher(t, channel, DispatcherConfig{})
	source := &stubSource{}
	source.setError(errors.New("camera gone"))
	ctx := context.Background()

	sub := events.Subscribe()

	for i := 0; i < maxConsecutiveCaptureErrors; i++ {
		d.tick(ctx, source)
		waitIdle(t, d)
	}

	select {
	case ev := <-sub:
		assert.Equal(t, domain.EventConnectionChanged, ev.Type)
		assert.False(t, ev.Connected)
	case <-time.After(time.Second):
		t.Fatal("expected connection-changed event after repeated capture failures")
	}

	// A successful capture resets the counter; no further escalation.
	source.setError(nil)
	d.tick(ctx, source)
	waitIdle(t, d)
	source.setError(errors.New("camera gone again"))
	d.tick(ctx, source)
	waitIdle(t, d)

	select {
	case ev := <-sub:
		if ev.Type == domain.EventConnectionChanged {
			t.Fatalf("unexpected escalation after reset: %+v", ev)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatcher_SuccessUpdatesMetrics(t *testing.T) {
	channel := newStubChannel()
	d, _ := newDispatcher(t, channel, DispatcherConfig{})
	source := &stubSource{}
	ctx := context.Background()

	d.tick(ctx, source)
	waitIdle(t, d)

	m := d.Metrics()
	assert.Equal(t, 1, m.TotalFrames)
	assert.Equal(t, 0, m.DroppedFrames)
	assert.Equal(t, domain.QualityExcellent, m.Quality)
}

func TestDispatcher_StartStopIdempotent(t *testing.T) {
	channel := newStubChannel()
	d, _ := newDispatcher(t, channel, DispatcherConfig{})
	source := &stubSource{}

	require.NoError(t, d.Start(context.Background(), source, 50))
	assert.Error(t, d.Start(context.Background(), source, 50))

	require.Eventually(t, func() bool {
		return channel.sendCount() >= 1
	}, 2*time.Second, 5*time.Millisecond)

	d.Stop()
	sends := channel.sendCount()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, sends, channel.sendCount())

	d.Stop() // second stop is a no-op
}

func TestDispatcher_FrameRateReportsLastFullSecond(t *testing.T) {
	channel := newStubChannel()
	d, _ := newDispatcher(t, channel, DispatcherConfig{})

	// Seven acks accumulated in the window that just completed.
	d.mu.Lock()
	d.windowStart = time.Now().Add(-1100 * time.Millisecond)
	d.windowCount = 7
	d.mu.Unlock()

	d.recordSendSuccess(10 * time.Millisecond)

	m := d.Metrics()
	assert.Equal(t, 7.0, m.FrameRate)

	d.mu.Lock()
	assert.Equal(t, 1, d.windowCount, "the crossing ack starts the new window")
	d.mu.Unlock()
}

func TestDispatcher_FrameRateZeroAfterIdleGap(t *testing.T) {
	channel := newStubChannel()
	d, _ := newDispatcher(t, channel, DispatcherConfig{})

	d.mu.Lock()
	d.windowStart = time.Now().Add(-3 * time.Second)
	d.windowCount = 4
	d.metrics.FrameRate = 4
	d.mu.Unlock()

	d.recordSendSuccess(10 * time.Millisecond)

	assert.Equal(t, 0.0, d.Metrics().FrameRate,
		"a gap spanning more than one window has no full second to report")
}

func TestDispatcher_FrameRateDecaysDuringSendFailures(t *testing.T) {
	channel := newStubChannel()
	d, _ := newDispatcher(t, channel, DispatcherConfig{})

	d.mu.Lock()
	d.windowStart = time.Now().Add(-1100 * time.Millisecond)
	d.windowCount = 6
	d.mu.Unlock()

	// First stalled second: the completed window's count is still reported.
	d.recordSendFailure(errors.New("send failed"))
	assert.Equal(t, 6.0, d.Metrics().FrameRate)

	// Second stalled second: no acks accumulated, the rate drops to zero.
	d.mu.Lock()
	d.windowStart = time.Now().Add(-1100 * time.Millisecond)
	d.mu.Unlock()
	d.recordSendFailure(errors.New("send failed"))
	assert.Equal(t, 0.0, d.Metrics().FrameRate)
}

func TestDispatcher_ConcurrentStopAndMetrics(t *testing.T) {
	channel := newStubChannel()
	d, _ := newDispatcher(t, channel, DispatcherConfig{})
	source := &stubSource{}

	require.NoError(t, d.Start(context.Background(), source, 50))

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		assert.Error(t, d.Start(context.Background(), source, 50))
	}()
	go func() {
		defer wg.Done()
		d.Stop()
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			d.Metrics()
		}
	}()
	wg.Wait()
}

func TestDispatcher_MarkFrameReceived(t *testing.T) {
	channel := newStubChannel()
	d, _ := newDispatcher(t, channel, DispatcherConfig{})

	at := time.Now()
	d.MarkFrameReceived(at)
	assert.Equal(t, at, d.Metrics().LastFrameReceivedAt)
}
