package services

import (
	"context"
	"sync"
	"time"

	"proctorlink/internal/core/domain"
	"proctorlink/internal/core/ports"
	"proctorlink/internal/engine/bus"
	perrors "proctorlink/pkg/errors"

	"go.uber.org/zap"
)

// maxConsecutiveCaptureErrors is the escalation threshold: this many failed
// captures in a row raise a connection-changed(false) event.
const maxConsecutiveCaptureErrors = 3

// DispatcherConfig tunes the capture-and-send loop.
type DispatcherConfig struct {
	SendTimeout   time.Duration
	CooldownTicks int // ticks skipped after a rate-limit response
}

// DispatcherService samples a frame source at a target rate and pushes each
// sample through the channel. Backpressure is drop-based: when the previous
// send has not resolved by the next tick, the new tick is dropped, never
// queued. Recency over completeness.
type DispatcherService struct {
	sessionID domain.SessionID
	channel   ports.Channel
	events    *bus.EventBus
	cfg       DispatcherConfig
	logger    *zap.SugaredLogger

	mu            sync.Mutex
	metrics       domain.ConnectionMetrics
	sequence      uint64
	inFlight      bool
	cooldown      int
	captureErrors int
	windowStart   time.Time
	windowCount   int
	startedAt     time.Time
	running       bool

	cancel   context.CancelFunc
	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewDispatcherService(
	sessionID domain.SessionID,
	channel ports.Channel,
	events *bus.EventBus,
	cfg DispatcherConfig,
	logger *zap.SugaredLogger,
) *DispatcherService {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	return &DispatcherService{
		sessionID:   sessionID,
		channel:     channel,
		events:      events,
		cfg:         cfg,
		logger:      logger,
		windowStart: time.Now(),
		stopChan:    make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start begins the capture loop at interval 1s/targetFPS. It returns
// immediately; the loop runs until Stop.
func (d *DispatcherService) Start(ctx context.Context, source ports.FrameSource, targetFPS int) error {
	if targetFPS <= 0 {
		targetFPS = 10
	}

	runCtx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		cancel()
		return domain.ErrSendInFlight
	}
	// A stopped dispatcher is terminal; construct a new one per session.
	select {
	case <-d.stopChan:
		d.mu.Unlock()
		cancel()
		return domain.ErrDispatcherStopped
	default:
	}
	d.running = true
	now := time.Now()
	d.startedAt = now
	d.windowStart = now
	d.cancel = cancel
	d.mu.Unlock()

	interval := time.Second / time.Duration(targetFPS)
	ticker := time.NewTicker(interval)

	go func() {
		defer close(d.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.tick(runCtx, source)
			case <-d.stopChan:
				return
			case <-runCtx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop cancels the loop and all in-flight sends. Idempotent; a tick firing
// after Stop is a no-op.
func (d *DispatcherService) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopChan)
		d.mu.Lock()
		cancel := d.cancel
		d.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		<-d.done
		d.wg.Wait()

		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	})
}

// Metrics returns a read-only snapshot.
func (d *DispatcherService) Metrics() domain.ConnectionMetrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.metrics
	if !d.startedAt.IsZero() {
		m.ConnectionTimeMs = time.Since(d.startedAt).Milliseconds()
	}
	return m
}

// MarkFrameReceived records inbound remote-frame activity. Called by the
// facade's result loop; kept here because the timestamp lives on the metrics.
func (d *DispatcherService) MarkFrameReceived(at time.Time) {
	d.mu.Lock()
	d.metrics.LastFrameReceivedAt = at
	d.mu.Unlock()
}

// tick runs once per capture interval. It must never block the ticker.
func (d *DispatcherService) tick(ctx context.Context, source ports.FrameSource) {
	select {
	case <-d.stopChan:
		return
	default:
	}

	d.mu.Lock()
	if d.cooldown > 0 {
		d.cooldown--
		d.mu.Unlock()
		return
	}
	if d.inFlight {
		// Previous send unresolved: drop this tick, do not queue.
		d.metrics.DroppedFrames++
		d.metrics.TotalFrames++
		d.mu.Unlock()
		return
	}
	d.inFlight = true
	d.sequence++
	seq := d.sequence
	d.metrics.TotalFrames++
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.captureAndSend(ctx, source, seq)
	}()
}

func (d *DispatcherService) captureAndSend(ctx context.Context, source ports.FrameSource, seq uint64) {
	defer func() {
		d.mu.Lock()
		d.inFlight = false
		d.mu.Unlock()
	}()

	sample, err := source.Capture(ctx)
	if err != nil {
		d.recordCaptureError(err)
		return
	}

	d.mu.Lock()
	d.captureErrors = 0
	d.mu.Unlock()

	sample.Sequence = seq
	if sample.CapturedAt.IsZero() {
		sample.CapturedAt = time.Now()
	}
	if sample.Kind == "" {
		sample.Kind = domain.FrameVideo
	}

	sendStart := time.Now()
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	err = d.channel.Send(sendCtx, sample)
	cancel()

	if err != nil {
		d.recordSendFailure(err)
		return
	}
	d.recordSendSuccess(time.Since(sendStart))
}

func (d *DispatcherService) recordCaptureError(err error) {
	d.mu.Lock()
	d.captureErrors++
	d.metrics.DroppedFrames++
	escalate := d.captureErrors == maxConsecutiveCaptureErrors
	d.mu.Unlock()

	d.logger.Warnw("frame capture failed", "session_id", d.sessionID, "error", err)

	if escalate {
		d.events.Publish(domain.Event{
			Type:      domain.EventConnectionChanged,
			SessionID: d.sessionID,
			Connected: false,
		})
	}
}

func (d *DispatcherService) recordSendFailure(err error) {
	d.mu.Lock()
	d.metrics.DroppedFrames++
	if perrors.IsRateLimited(err) {
		d.cooldown = d.cfg.CooldownTicks
	}
	// The window advances on failures too; a sustained stall drives the
	// reported rate to zero instead of freezing it at its last value.
	d.advanceWindowLocked(time.Now())
	snapshot := d.metrics
	d.mu.Unlock()

	d.logger.Debugw("frame send failed", "session_id", d.sessionID, "error", err)
	d.publishMetrics(snapshot)
}

func (d *DispatcherService) recordSendSuccess(latency time.Duration) {
	d.mu.Lock()
	d.metrics.LatencyMs = latency.Milliseconds()
	d.metrics.Quality = ClassifyQuality(latency)
	d.advanceWindowLocked(time.Now())
	d.windowCount++
	snapshot := d.metrics
	d.mu.Unlock()

	d.publishMetrics(snapshot)
}

// advanceWindowLocked rolls the 1-second frame-rate window: at a boundary the
// reported rate becomes the acked-frame count of the last full second; a gap
// spanning more than one window reports zero. Caller holds the lock.
func (d *DispatcherService) advanceWindowLocked(now time.Time) {
	elapsed := now.Sub(d.windowStart)
	if elapsed < time.Second {
		return
	}
	if elapsed < 2*time.Second {
		d.metrics.FrameRate = float64(d.windowCount)
	} else {
		d.metrics.FrameRate = 0
	}
	d.windowCount = 0
	d.windowStart = now
}

func (d *DispatcherService) publishMetrics(m domain.ConnectionMetrics) {
	d.events.Publish(domain.Event{
		Type:      domain.EventMetricsUpdated,
		SessionID: d.sessionID,
		Metrics:   &m,
	})
}
