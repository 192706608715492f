package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"proctorlink/internal/core/domain"
	"proctorlink/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionService is the single source of truth for session id validity and
// the single regeneration algorithm. Every call site that detects an invalid
// id goes through EnsureValid instead of generating ad hoc.
type SessionService struct {
	store  ports.SessionStore
	origin domain.SessionOrigin
	logger *zap.SugaredLogger

	mu          sync.Mutex
	current     domain.Session
	onRecovered func(session domain.Session, callContext string)
}

func NewSessionService(store ports.SessionStore, origin domain.SessionOrigin, logger *zap.SugaredLogger) *SessionService {
	return &SessionService{
		store:  store,
		origin: origin,
		logger: logger,
	}
}

// OnRecovered sets the diagnostic callback fired on every regeneration, so
// the facade can surface "session recovered" events without losing telemetry
// continuity.
func (s *SessionService) OnRecovered(fn func(session domain.Session, callContext string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRecovered = fn
}

// Generate combines a high-resolution timestamp with two independent random
// components. The format is opaque to callers and stable once created.
func (s *SessionService) Generate(origin domain.SessionOrigin) domain.Session {
	id := fmt.Sprintf("%d-%s-%s",
		time.Now().UnixMilli(),
		strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		randomHex(6),
	)
	return domain.Session{
		ID:        domain.SessionID(id),
		Origin:    origin,
		CreatedAt: time.Now(),
	}
}

// Validate is the validity predicate for candidate session ids.
func (s *SessionService) Validate(candidate string) bool {
	if candidate == "" || candidate == "null" || candidate == "undefined" {
		return false
	}
	return len(candidate) >= domain.MinSessionIDLength
}

// EnsureValid returns the candidate unchanged when valid; otherwise it
// generates a replacement, persists it and reports the regeneration through
// the diagnostic callback.
func (s *SessionService) EnsureValid(ctx context.Context, candidate string, callContext string) (domain.Session, error) {
	s.mu.Lock()
	if s.Validate(candidate) {
		sess := s.current
		if sess.ID != domain.SessionID(candidate) {
			sess = domain.Session{
				ID:        domain.SessionID(candidate),
				Origin:    s.origin,
				CreatedAt: time.Now(),
			}
			s.current = sess
		}
		s.mu.Unlock()
		return sess, nil
	}

	sess := s.Generate(s.origin)
	s.current = sess
	onRecovered := s.onRecovered
	s.mu.Unlock()

	s.logger.Warnw("regenerated invalid session id",
		"context", callContext,
		"rejected", candidate,
		"session_id", sess.ID,
	)

	if err := s.store.Save(ctx, sess.ID); err != nil {
		return sess, fmt.Errorf("failed to persist regenerated session: %w", err)
	}

	if onRecovered != nil {
		onRecovered(sess, callContext)
	}
	return sess, nil
}

// Persist saves the session id to the device's durable entry and makes it
// the in-memory authoritative copy.
func (s *SessionService) Persist(ctx context.Context, session domain.Session) error {
	s.mu.Lock()
	s.current = session
	s.mu.Unlock()

	if err := s.store.Save(ctx, session.ID); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

// Reconcile compares the in-memory session against the persisted copy and
// repairs divergence. The in-memory copy is authoritative; the persisted copy
// is overwritten, not negotiated.
func (s *SessionService) Reconcile(ctx context.Context) (domain.Session, error) {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()

	if current.ID != "" {
		persisted, err := s.store.Load(ctx)
		if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			return current, fmt.Errorf("failed to load persisted session: %w", err)
		}
		if persisted != current.ID {
			s.logger.Infow("persisted session diverged, overwriting",
				"persisted", persisted,
				"session_id", current.ID,
			)
			if err := s.store.Save(ctx, current.ID); err != nil {
				return current, fmt.Errorf("failed to repair persisted session: %w", err)
			}
		}
		return current, nil
	}

	persisted, err := s.store.Load(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			sess := s.Generate(s.origin)
			if perr := s.Persist(ctx, sess); perr != nil {
				return sess, perr
			}
			return sess, nil
		}
		return domain.Session{}, fmt.Errorf("failed to load persisted session: %w", err)
	}

	return s.EnsureValid(ctx, string(persisted), "reconcile")
}

// Current returns the in-memory authoritative session, if any.
func (s *SessionService) Current() (domain.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.current.ID != ""
}

func randomHex(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return hex.EncodeToString(b)
}
