package services

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"proctorlink/internal/core/domain"
	"proctorlink/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newSessionService(t *testing.T) (*SessionService, *memory.SessionStore) {
	t.Helper()
	store := memory.NewSessionStore()
	logger := zaptest.NewLogger(t).Sugar()
	return NewSessionService(store, domain.OriginPrimary, logger), store
}

func TestSessionService_Generate(t *testing.T) {
	svc, _ := newSessionService(t)

	sess := svc.Generate(domain.OriginPrimary)
	parts := strings.Split(string(sess.ID), "-")
	require.Len(t, parts, 3)

	ms, err := strconv.ParseInt(parts[0], 10, 64)
	require.NoError(t, err)
	assert.Greater(t, ms, int64(0))

	assert.Len(t, parts[1], 12)
	assert.Len(t, parts[2], 12)

	assert.True(t, svc.Validate(string(sess.ID)))
	assert.Equal(t, domain.OriginPrimary, sess.Origin)
}

func TestSessionService_Generate_Unique(t *testing.T) {
	svc, _ := newSessionService(t)

	seen := make(map[domain.SessionID]bool)
	for i := 0; i < 100; i++ {
		sess := svc.Generate(domain.OriginPrimary)
		assert.False(t, seen[sess.ID], "duplicate id %s", sess.ID)
		seen[sess.ID] = true
	}
}

func TestSessionService_Validate(t *testing.T) {
	svc, _ := newSessionService(t)

	tests := []struct {
		name      string
		candidate string
		want      bool
	}{
		{"empty", "", false},
		{"null literal", "null", false},
		{"undefined literal", "undefined", false},
		{"too short", "short-id", false},
		{"exactly minimum", strings.Repeat("x", 16), true},
		{"generated format", "1724668800000-a1b2c3d4e5f6-9f8e7d6c5b4a", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.Validate(tt.candidate))
		})
	}
}

func TestSessionService_EnsureValid_KeepsValidCandidate(t *testing.T) {
	svc, _ := newSessionService(t)

	candidate := "1724668800000-a1b2c3d4e5f6-9f8e7d6c5b4a"
	sess, err := svc.EnsureValid(context.Background(), candidate, "test")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionID(candidate), sess.ID)

	current, ok := svc.Current()
	require.True(t, ok)
	assert.Equal(t, sess.ID, current.ID)
}

func TestSessionService_EnsureValid_RegeneratesAndPersists(t *testing.T) {
	svc, store := newSessionService(t)

	var recovered []string
	svc.OnRecovered(func(sess domain.Session, callContext string) {
		recovered = append(recovered, callContext)
	})

	for _, bad := range []string{"", "null", "undefined", "tiny"} {
		sess, err := svc.EnsureValid(context.Background(), bad, "facade.start")
		require.NoError(t, err)
		assert.True(t, svc.Validate(string(sess.ID)))

		persisted, err := store.Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, sess.ID, persisted)
	}

	assert.Len(t, recovered, 4)
	assert.Equal(t, "facade.start", recovered[0])
}

func TestSessionService_Reconcile_InMemoryWins(t *testing.T) {
	svc, store := newSessionService(t)
	ctx := context.Background()

	current := svc.Generate(domain.OriginPrimary)
	require.NoError(t, svc.Persist(ctx, current))

	// Simulate divergence in the persisted copy.
	stale := domain.SessionID("1111111111111-deadbeef0000-cafecafecafe")
	require.NoError(t, store.Save(ctx, stale))

	sess, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, current.ID, sess.ID)

	persisted, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, current.ID, persisted)
}

func TestSessionService_Reconcile_GeneratesWhenEmpty(t *testing.T) {
	svc, store := newSessionService(t)
	ctx := context.Background()

	sess, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.True(t, svc.Validate(string(sess.ID)))

	persisted, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, persisted)
}

func TestSessionService_Reconcile_RepairsInvalidPersisted(t *testing.T) {
	svc, store := newSessionService(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "null"))

	sess, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.True(t, svc.Validate(string(sess.ID)))
	assert.NotEqual(t, domain.SessionID("null"), sess.ID)
}
