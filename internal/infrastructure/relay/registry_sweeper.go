package relay

import (
	"context"
	"sync"
	"time"

	"proctorlink/internal/core/domain"
	"proctorlink/internal/core/ports"
	"proctorlink/internal/infrastructure/monitoring"

	"go.uber.org/zap"
)

// RegistrySweeper expires sessions whose last activity fell out of the
// liveness window. Expired sessions are removed from the registry, counted as
// liveness drops, and reported to the eviction callback so per-session state
// held elsewhere is released too.
type RegistrySweeper struct {
	registry ports.SessionRegistry
	metrics  *monitoring.PrometheusCollector
	window   time.Duration
	interval time.Duration
	onExpire func(domain.SessionID)
	logger   *zap.SugaredLogger

	mu    sync.Mutex
	known map[domain.SessionID]struct{}

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

func NewRegistrySweeper(
	registry ports.SessionRegistry,
	metrics *monitoring.PrometheusCollector,
	window time.Duration,
	onExpire func(domain.SessionID),
	logger *zap.SugaredLogger,
) *RegistrySweeper {
	if window <= 0 {
		window = 8 * time.Second
	}
	interval := window / 2
	if interval < time.Second {
		interval = time.Second
	}
	return &RegistrySweeper{
		registry: registry,
		metrics:  metrics,
		window:   window,
		interval: interval,
		onExpire: onExpire,
		logger:   logger,
		known:    make(map[domain.SessionID]struct{}),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop.
func (s *RegistrySweeper) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), s.interval)
				s.sweep(ctx)
				cancel()
			case <-s.stopChan:
				return
			}
		}
	}()
}

// Stop halts the loop. Idempotent.
func (s *RegistrySweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	<-s.done
}

// sweep compares the currently active sessions against the previous pass.
// Sessions that were active and no longer are have expired their window.
func (s *RegistrySweeper) sweep(ctx context.Context) {
	active, err := s.registry.Active(ctx, s.window)
	if err != nil {
		s.logger.Warnw("registry sweep failed", "error", err)
		return
	}

	current := make(map[domain.SessionID]struct{}, len(active))
	for _, id := range active {
		current[id] = struct{}{}
	}

	s.mu.Lock()
	var expired []domain.SessionID
	for id := range s.known {
		if _, ok := current[id]; !ok {
			expired = append(expired, id)
		}
	}
	s.known = current
	s.mu.Unlock()

	for _, id := range expired {
		s.logger.Infow("session liveness window expired", "session_id", id)
		s.metrics.RecordLivenessDrop()
		if err := s.registry.Remove(ctx, id); err != nil {
			s.logger.Warnw("failed to remove expired session", "session_id", id, "error", err)
		}
		if s.onExpire != nil {
			s.onExpire(id)
		}
	}
}
