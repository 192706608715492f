package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"proctorlink/internal/core/domain"
	"proctorlink/pkg/backoff"
	perrors "proctorlink/pkg/errors"

	"go.uber.org/zap"
)

// Envelope is the primary-path outbound message.
type Envelope struct {
	Type          string `json:"type"`
	Data          string `json:"data"`
	SecondaryData string `json:"secondaryData,omitempty"`
}

// inboundEnvelope peeks at the type tag of a primary-path inbound message.
// Analysis results carry no tag; the service pushes tagged remote_frame and
// error messages alongside them.
type inboundEnvelope struct {
	Type    string `json:"type"`
	Data    string `json:"data"`
	Message string `json:"message"`
}

// Config tunes the channel.
type Config struct {
	PrimaryURL           string // base ws url; the session id is appended
	MaxAttempts          int
	BaseDelay            time.Duration
	PrimaryRetryInterval time.Duration // primary re-probe cadence while degraded
	// RequireSecure rejects a plaintext primary URL outright, mirroring the
	// mixed-content policy of the embedding page.
	RequireSecure bool
}

// Channel owns exactly one active communication path per session: the
// persistent full-duplex primary path, or the request/response fallback once
// the primary cannot be established. Single-writer: only the dispatcher and
// the session-status sender write to it.
type Channel struct {
	sessionID domain.SessionID
	cfg       Config
	dialer    Dialer
	fallback  *FallbackClient
	logger    *zap.SugaredLogger

	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	mu            sync.Mutex
	state         domain.ConnectionState
	conn          Conn
	acks          []chan error
	onStateChange func(from, to domain.ConnectionState)
	onRemoteFrame func(payload []byte)
	probeTimer    *time.Timer
	closed        bool

	results   chan domain.AnalysisResult
	closeOnce sync.Once
}

func NewChannel(
	sessionID domain.SessionID,
	cfg Config,
	dialer Dialer,
	fallback *FallbackClient,
	logger *zap.SugaredLogger,
) *Channel {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.PrimaryRetryInterval <= 0 {
		cfg.PrimaryRetryInterval = 30 * time.Second
	}

	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	return &Channel{
		sessionID:  sessionID,
		cfg:        cfg,
		dialer:     dialer,
		fallback:   fallback,
		logger:     logger,
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
		state:      domain.StateDisconnected,
		results:    make(chan domain.AnalysisResult, 16),
	}
}

// OnStateChange registers the transition callback. Internal states are
// reported; callers wanting the consumer view apply External().
func (c *Channel) OnStateChange(fn func(from, to domain.ConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = fn
}

// OnRemoteFrame registers the handler for secondary-device frames the
// service pushes over the primary path. The payload is the decoded frame.
func (c *Channel) OnRemoteFrame(fn func(payload []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRemoteFrame = fn
}

// State returns the internal state.
func (c *Channel) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ExternalState maps Degraded to Connected: the fallback is transparent to
// consumers.
func (c *Channel) ExternalState() domain.ConnectionState {
	return c.State().External()
}

// Results delivers inbound analysis results from whichever path is active.
func (c *Channel) Results() <-chan domain.AnalysisResult {
	return c.results
}

// Open establishes the primary path, retrying with the fixed exponential
// schedule. Exhausting the attempts (or a non-retryable policy failure)
// degrades to the fallback path instead of failing: Open returns an error
// only on cancellation or when the channel is already closed.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case domain.StateClosed:
		c.mu.Unlock()
		return domain.ErrChannelClosed
	case domain.StateConnected, domain.StateDegraded:
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if c.cfg.RequireSecure && strings.HasPrefix(c.cfg.PrimaryURL, "ws://") {
		err := perrors.NewTransportError(perrors.TransportMixedContent,
			fmt.Errorf("plaintext primary url %q rejected by policy", c.cfg.PrimaryURL))
		c.logger.Warnw("primary path blocked, degrading immediately",
			"session_id", c.sessionID, "error", err)
		c.degrade()
		return nil
	}

	return c.connect(ctx)
}

// connect runs one full connecting episode: attempt counter starts at 1 and
// increments per handshake failure; delay before retry n+1 is
// base * 1.5^(n-1).
func (c *Channel) connect(ctx context.Context) error {
	schedule := backoff.Config{
		BaseDelay:   c.cfg.BaseDelay,
		Multiplier:  1.5,
		MaxAttempts: c.cfg.MaxAttempts,
	}

	for attempt := 1; ; attempt++ {
		if err := c.setState(domain.StateConnecting); err != nil {
			return err
		}

		conn, err := c.dialer.Dial(ctx, c.primaryURL())
		if err == nil {
			if aerr := c.adopt(conn); aerr != nil {
				conn.Close()
				return aerr
			}
			c.logger.Infow("primary path connected",
				"session_id", c.sessionID, "attempt", attempt)
			return nil
		}

		if te, ok := perrors.AsTransportError(err); ok && !te.Retryable() {
			c.logger.Warnw("non-retryable handshake failure, degrading",
				"session_id", c.sessionID, "kind", te.Kind, "error", err)
			c.degrade()
			return nil
		}

		c.logger.Warnw("handshake failed",
			"session_id", c.sessionID, "attempt", attempt, "error", err)

		if attempt >= c.cfg.MaxAttempts {
			c.degrade()
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("connect cancelled: %w", ctx.Err())
		case <-c.lifeCtx.Done():
			return domain.ErrChannelClosed
		case <-time.After(schedule.Delay(attempt)):
		}
	}
}

// Send pushes one frame through the active path. Never retries: a failed
// frame is dropped by the caller, not queued.
func (c *Channel) Send(ctx context.Context, sample domain.FrameSample) error {
	data := base64.StdEncoding.EncodeToString(sample.Payload)
	var secondary string
	if len(sample.Secondary) > 0 {
		secondary = base64.StdEncoding.EncodeToString(sample.Secondary)
	}

	c.mu.Lock()
	state := c.state
	conn := c.conn
	var ack chan error
	if state == domain.StateConnected {
		ack = make(chan error, 1)
		c.acks = append(c.acks, ack)
	}
	c.mu.Unlock()

	switch state {
	case domain.StateClosed:
		return domain.ErrChannelClosed

	case domain.StateDegraded:
		resp, err := c.fallback.SendFrame(ctx, c.sessionID, data, secondary)
		if err != nil {
			return err
		}
		c.deliver(resp.AnalysisResult)
		return nil

	case domain.StateConnected:
		env := Envelope{Type: string(sample.Kind), Data: data, SecondaryData: secondary}
		if err := conn.WriteJSON(env); err != nil {
			c.removeAck(ack)
			return perrors.NewTransportError(perrors.TransportAbnormalClosure, err)
		}
		select {
		case err := <-ack:
			return err
		case <-ctx.Done():
			// Timed-out frames free their in-order slot; the frame is dropped
			// by the caller, never retried.
			c.removeAck(ack)
			return perrors.NewTransportError(perrors.TransportTimeout, ctx.Err())
		}

	default:
		return fmt.Errorf("channel not connected (state %s)", state)
	}
}

// Close is terminal. The channel may not be reused; construct a new one.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.lifeCancel()

		c.mu.Lock()
		from := c.state
		c.state = domain.StateClosed
		c.closed = true
		conn := c.conn
		c.conn = nil
		if c.probeTimer != nil {
			c.probeTimer.Stop()
			c.probeTimer = nil
		}
		acks := c.acks
		c.acks = nil
		fn := c.onStateChange
		close(c.results)
		c.mu.Unlock()

		for _, ack := range acks {
			ack <- domain.ErrChannelClosed
		}
		if conn != nil {
			conn.Close()
		}
		if fn != nil && from != domain.StateClosed {
			fn(from, domain.StateClosed)
		}
	})
	return nil
}

func (c *Channel) primaryURL() string {
	return strings.TrimRight(c.cfg.PrimaryURL, "/") + "/" + string(c.sessionID)
}

// setState performs a transition, invoking the callback outside the lock.
func (c *Channel) setState(to domain.ConnectionState) error {
	c.mu.Lock()
	if c.state == domain.StateClosed {
		c.mu.Unlock()
		return domain.ErrChannelClosed
	}
	from := c.state
	c.state = to
	fn := c.onStateChange
	c.mu.Unlock()

	if fn != nil && from != to {
		fn(from, to)
	}
	return nil
}

// adopt installs a freshly dialed connection and starts its read loop.
func (c *Channel) adopt(conn Conn) error {
	c.mu.Lock()
	if c.state == domain.StateClosed {
		c.mu.Unlock()
		return domain.ErrChannelClosed
	}
	c.conn = conn
	if c.probeTimer != nil {
		c.probeTimer.Stop()
		c.probeTimer = nil
	}
	c.mu.Unlock()

	if err := c.setState(domain.StateConnected); err != nil {
		return err
	}
	go c.readLoop(conn)
	return nil
}

// degrade activates the fallback path and schedules periodic primary-path
// probes. Internal state Degraded; external consumers observe Connected.
func (c *Channel) degrade() {
	if err := c.setState(domain.StateDegraded); err != nil {
		return
	}
	c.logger.Warnw("fallback path active", "session_id", c.sessionID)
	c.scheduleProbe()
}

func (c *Channel) scheduleProbe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state != domain.StateDegraded {
		return
	}
	c.probeTimer = time.AfterFunc(c.cfg.PrimaryRetryInterval, c.probePrimary)
}

// probePrimary makes a single primary-path dial while degraded. Success
// promotes the channel back to Connected; failure reschedules. Probes never
// interrupt in-flight fallback sends.
func (c *Channel) probePrimary() {
	c.mu.Lock()
	if c.closed || c.state != domain.StateDegraded {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.lifeCtx, c.cfg.PrimaryRetryInterval/2)
	conn, err := c.dialer.Dial(ctx, c.primaryURL())
	cancel()

	if err != nil {
		c.logger.Debugw("primary probe failed", "session_id", c.sessionID, "error", err)
		c.scheduleProbe()
		return
	}

	if aerr := c.adopt(conn); aerr != nil {
		conn.Close()
		return
	}
	c.logger.Infow("primary path recovered from degraded mode", "session_id", c.sessionID)
}

// readLoop consumes inbound primary-path messages until the connection
// breaks.
func (c *Channel) readLoop(conn Conn) {
	for {
		var raw json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			c.handleReadError(conn, err)
			return
		}
		c.dispatchInbound(raw)
	}
}

// dispatchInbound routes one inbound message by its type tag. The primary
// path delivers analysis results in send order, so each result acknowledges
// the oldest pending send. Pushed messages (remote frames from the secondary
// device, server-side errors) arrive interleaved and never ack.
func (c *Channel) dispatchInbound(raw json.RawMessage) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Warnw("discarding unparseable inbound message",
			"session_id", c.sessionID, "error", err)
		return
	}

	switch env.Type {
	case "remote_frame":
		payload, err := base64.StdEncoding.DecodeString(env.Data)
		if err != nil {
			c.logger.Warnw("discarding remote frame with invalid payload",
				"session_id", c.sessionID, "error", err)
			return
		}
		c.mu.Lock()
		fn := c.onRemoteFrame
		c.mu.Unlock()
		if fn != nil {
			fn(payload)
		}

	case "error":
		c.logger.Warnw("analysis service reported an error",
			"session_id", c.sessionID, "message", env.Message)

	default:
		var res domain.AnalysisResult
		if err := json.Unmarshal(raw, &res); err != nil {
			c.logger.Warnw("discarding malformed analysis result",
				"session_id", c.sessionID, "error", err)
			return
		}
		c.ackOldest(nil)
		c.deliver(res)
	}
}

func (c *Channel) removeAck(ack chan error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, a := range c.acks {
		if a == ack {
			c.acks = append(c.acks[:i], c.acks[i+1:]...)
			return
		}
	}
}

func (c *Channel) ackOldest(err error) {
	c.mu.Lock()
	var ack chan error
	if len(c.acks) > 0 {
		ack = c.acks[0]
		c.acks = c.acks[1:]
	}
	c.mu.Unlock()

	if ack != nil {
		ack <- err
	}
}

func (c *Channel) deliver(res domain.AnalysisResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.results <- res:
	default:
		c.logger.Warnw("dropping analysis result for slow consumer",
			"session_id", c.sessionID)
	}
}

// handleReadError reacts to a broken primary connection: pending sends fail,
// state drops to Disconnected and a fresh connecting episode starts.
func (c *Channel) handleReadError(conn Conn, err error) {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	acks := c.acks
	c.acks = nil
	c.mu.Unlock()

	closeErr := perrors.NewTransportError(perrors.TransportAbnormalClosure, err)
	for _, ack := range acks {
		ack <- closeErr
	}

	c.logger.Warnw("primary connection lost, reconnecting",
		"session_id", c.sessionID, "error", err)

	if serr := c.setState(domain.StateDisconnected); serr != nil {
		return
	}
	go c.connect(c.lifeCtx)
}
