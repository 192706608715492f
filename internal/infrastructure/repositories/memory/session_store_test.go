package memory

import (
	"context"
	"testing"
	"time"

	"proctorlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStore_RoundTrip(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	id := domain.SessionID("1724668800000-a1b2c3d4e5f6-9f8e7d6c5b4a")
	require.NoError(t, store.Save(ctx, id))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	require.NoError(t, store.Delete(ctx))
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionRegistry_TouchAndLastSeen(t *testing.T) {
	reg := NewSessionRegistry()
	ctx := context.Background()
	id := domain.SessionID("1724668800000-a1b2c3d4e5f6-9f8e7d6c5b4a")

	_, err := reg.LastSeen(ctx, id)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	at := time.Now()
	require.NoError(t, reg.Touch(ctx, id, at))

	got, err := reg.LastSeen(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, at, got)
}

func TestSessionRegistry_Active(t *testing.T) {
	reg := NewSessionRegistry()
	ctx := context.Background()

	fresh := domain.SessionID("1724668800000-a1b2c3d4e5f6-9f8e7d6c5b4a")
	stale := domain.SessionID("1724668800000-ffffffffffff-000000000000")

	require.NoError(t, reg.Touch(ctx, fresh, time.Now()))
	require.NoError(t, reg.Touch(ctx, stale, time.Now().Add(-time.Minute)))

	active, err := reg.Active(ctx, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []domain.SessionID{fresh}, active)
}

func TestSessionRegistry_Remove(t *testing.T) {
	reg := NewSessionRegistry()
	ctx := context.Background()
	id := domain.SessionID("1724668800000-a1b2c3d4e5f6-9f8e7d6c5b4a")

	require.NoError(t, reg.Touch(ctx, id, time.Now()))
	require.NoError(t, reg.Remove(ctx, id))

	_, err := reg.LastSeen(ctx, id)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}
