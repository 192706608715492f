package services

import (
	"context"
	"sync"
	"time"

	"proctorlink/internal/core/domain"
	"proctorlink/internal/core/ports"
	"proctorlink/internal/engine/bus"
	"proctorlink/internal/engine/scheduler"

	"go.uber.org/zap"
)

// ProctorConfig tunes one engine instance.
type ProctorConfig struct {
	TargetFPS         int
	SendTimeout       time.Duration
	HeartbeatInterval time.Duration
	LivenessWindow    time.Duration
	CooldownTicks     int
}

// ChannelFactory builds a fresh transport channel for a session. Channels are
// terminal once closed, so every start constructs a new one.
type ChannelFactory func(sessionID domain.SessionID) ports.Channel

// HeartbeatFunc performs the liveness check against the analysis service,
// independent of frame flow.
type HeartbeatFunc func(ctx context.Context, sessionID domain.SessionID) (bool, error)

// ProctorService composes session identity, transport, dispatcher and relay
// registry behind the narrow contract the UI layer consumes. It owns every
// timer of the session; Stop releases them all.
type ProctorService struct {
	sessions   *SessionService
	registry   *RelayService
	events     *bus.EventBus
	newChannel ChannelFactory
	source     ports.FrameSource
	heartbeat  HeartbeatFunc
	cfg        ProctorConfig
	logger     *zap.SugaredLogger

	mu           sync.Mutex
	running      bool
	session      domain.Session
	channel      ports.Channel
	dispatcher   *DispatcherService
	timers       *scheduler.TimerHandleSet
	cancel       context.CancelFunc
	onViolation  func(domain.Violation)
	onMetrics    func(domain.ConnectionMetrics)
	onConnection func(bool)
	extConnected bool // last externally observed connection state

	loops sync.WaitGroup
}

func NewProctorService(
	sessions *SessionService,
	registry *RelayService,
	events *bus.EventBus,
	newChannel ChannelFactory,
	source ports.FrameSource,
	heartbeat HeartbeatFunc,
	cfg ProctorConfig,
	logger *zap.SugaredLogger,
) *ProctorService {
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = 10
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 3 * time.Second
	}

	p := &ProctorService{
		sessions:   sessions,
		registry:   registry,
		events:     events,
		newChannel: newChannel,
		source:     source,
		heartbeat:  heartbeat,
		cfg:        cfg,
		logger:     logger,
		timers:     scheduler.NewTimerHandleSet(),
	}

	sessions.OnRecovered(func(sess domain.Session, callContext string) {
		events.Publish(domain.Event{
			Type:      domain.EventSessionRecovered,
			SessionID: sess.ID,
			Context:   callContext,
		})
	})

	return p
}

// OnViolation registers the violation callback. Set before Start.
func (p *ProctorService) OnViolation(fn func(domain.Violation)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onViolation = fn
}

// OnMetrics registers the metrics callback. Set before Start.
func (p *ProctorService) OnMetrics(fn func(domain.ConnectionMetrics)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onMetrics = fn
}

// OnConnectionChange registers the connection-state callback. Set before
// Start.
func (p *ProctorService) OnConnectionChange(fn func(connected bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnection = fn
}

// Start resolves the session identity (repairing an invalid hint), opens the
// transport, starts the capture loop and the heartbeat timer.
func (p *ProctorService) Start(ctx context.Context, sessionHint string) (domain.Session, error) {
	p.mu.Lock()
	if p.running {
		sess := p.session
		p.mu.Unlock()
		return sess, nil
	}
	p.mu.Unlock()

	sess, err := p.sessions.EnsureValid(ctx, sessionHint, "facade.start")
	if err != nil {
		return domain.Session{}, err
	}
	if _, err := p.sessions.Reconcile(ctx); err != nil {
		return domain.Session{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	channel := p.newChannel(sess.ID)
	channel.OnStateChange(func(from, to domain.ConnectionState) {
		p.events.Publish(domain.Event{
			Type:      domain.EventConnectionChanged,
			SessionID: sess.ID,
			Connected: to.External() == domain.StateConnected,
		})
	})
	channel.OnRemoteFrame(func(payload []byte) {
		p.registry.OnRemoteFrame(sess.ID, payload)
	})

	if err := channel.Open(ctx); err != nil {
		cancel()
		channel.Close()
		return domain.Session{}, err
	}

	dispatcher := NewDispatcherService(sess.ID, channel, p.events, DispatcherConfig{
		SendTimeout:   p.cfg.SendTimeout,
		CooldownTicks: p.cfg.CooldownTicks,
	}, p.logger)
	if err := dispatcher.Start(runCtx, p.source, p.cfg.TargetFPS); err != nil {
		cancel()
		channel.Close()
		return domain.Session{}, err
	}

	p.mu.Lock()
	p.running = true
	p.session = sess
	p.channel = channel
	p.dispatcher = dispatcher
	p.cancel = cancel
	p.mu.Unlock()

	p.timers.Schedule(scheduler.TaskHeartbeat, p.cfg.HeartbeatInterval, func() {
		p.heartbeatTick(runCtx, sess.ID)
	})

	sub := p.events.Subscribe()
	p.loops.Add(2)
	go p.resultLoop(channel, dispatcher, sess.ID)
	go p.eventLoop(runCtx, sub)

	p.logger.Infow("engine started",
		"session_id", sess.ID,
		"target_fps", p.cfg.TargetFPS,
	)
	return sess, nil
}

// Stop is idempotent. On every exit path it releases all timers, cancels
// in-flight sends, closes the transport and emits a final
// connection-changed(false), so no periodic work survives a stopped session.
func (p *ProctorService) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	channel := p.channel
	dispatcher := p.dispatcher
	cancel := p.cancel
	sess := p.session
	onConnection := p.onConnection
	p.mu.Unlock()

	p.timers.StopAll()
	dispatcher.Stop()
	if cancel != nil {
		cancel()
	}
	channel.Close()
	p.loops.Wait()

	if onConnection != nil {
		onConnection(false)
	}
	p.mu.Lock()
	p.extConnected = false
	p.mu.Unlock()

	p.logger.Infow("engine stopped", "session_id", sess.ID)
}

// resultLoop consumes inbound analysis results until the channel closes,
// converting them into typed violation events.
func (p *ProctorService) resultLoop(channel ports.Channel, dispatcher *DispatcherService, sessionID domain.SessionID) {
	defer p.loops.Done()

	for res := range channel.Results() {
		now := time.Now()
		dispatcher.MarkFrameReceived(now)
		p.registry.Heartbeat(sessionID)

		for i := range res.Violations {
			v := res.Violations[i]
			p.events.Publish(domain.Event{
				Type:      domain.EventViolationDetected,
				SessionID: sessionID,
				Violation: &v,
			})
		}
	}
}

// eventLoop forwards engine events to the external callbacks. Connection
// changes are deduplicated so consumers see transitions, not repeats.
func (p *ProctorService) eventLoop(ctx context.Context, sub <-chan domain.Event) {
	defer p.loops.Done()

	for {
		var ev domain.Event
		var ok bool
		select {
		case ev, ok = <-sub:
			if !ok {
				return
			}
		case <-ctx.Done():
			return
		}

		switch ev.Type {
		case domain.EventConnectionChanged:
			p.mu.Lock()
			changed := p.extConnected != ev.Connected
			p.extConnected = ev.Connected
			fn := p.onConnection
			p.mu.Unlock()
			if changed && fn != nil {
				fn(ev.Connected)
			}

		case domain.EventMetricsUpdated:
			p.mu.Lock()
			fn := p.onMetrics
			p.mu.Unlock()
			if fn != nil && ev.Metrics != nil {
				fn(*ev.Metrics)
			}

		case domain.EventViolationDetected:
			p.mu.Lock()
			fn := p.onViolation
			p.mu.Unlock()
			if fn != nil && ev.Violation != nil {
				fn(*ev.Violation)
			}

		case domain.EventSessionRecovered:
			p.logger.Infow("session recovered",
				"session_id", ev.SessionID,
				"context", ev.Context,
			)
		}
	}
}

// heartbeatTick runs on its own timer, decoupled from frame flow: a client
// may legitimately pause capture (camera flip) without disconnecting.
func (p *ProctorService) heartbeatTick(ctx context.Context, sessionID domain.SessionID) {
	if p.heartbeat != nil {
		hbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		connected, err := p.heartbeat(hbCtx, sessionID)
		cancel()
		if err != nil {
			p.logger.Debugw("heartbeat failed", "session_id", sessionID, "error", err)
		} else if connected {
			p.registry.Heartbeat(sessionID)
		}
	}
	p.registry.CheckLiveness(time.Now())
}

// Metrics exposes the current metrics snapshot.
func (p *ProctorService) Metrics() domain.ConnectionMetrics {
	p.mu.Lock()
	dispatcher := p.dispatcher
	p.mu.Unlock()
	if dispatcher == nil {
		return domain.ConnectionMetrics{}
	}
	return dispatcher.Metrics()
}
