package bus

import (
	"testing"
	"time"

	"proctorlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestEventBus_PublishReachesAllSubscribers(t *testing.T) {
	b := New(zaptest.NewLogger(t).Sugar())
	defer b.Close()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()

	b.Publish(domain.Event{Type: domain.EventConnectionChanged, Connected: true})

	for _, sub := range []<-chan domain.Event{sub1, sub2} {
		select {
		case ev := <-sub:
			assert.Equal(t, domain.EventConnectionChanged, ev.Type)
			assert.True(t, ev.Connected)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestEventBus_SlowSubscriberDropsNotBlocks(t *testing.T) {
	b := New(zaptest.NewLogger(t).Sugar())
	defer b.Close()

	b.Subscribe() // never drained

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < defaultBuffer*2; i++ {
			b.Publish(domain.Event{Type: domain.EventMetricsUpdated})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}

func TestEventBus_CloseTerminatesSubscribers(t *testing.T) {
	b := New(zaptest.NewLogger(t).Sugar())
	sub := b.Subscribe()

	b.Close()
	b.Close() // idempotent

	_, open := <-sub
	assert.False(t, open)

	// Publish after close is a no-op.
	b.Publish(domain.Event{Type: domain.EventConnectionChanged})

	ch := b.Subscribe()
	_, open = <-ch
	require.False(t, open, "subscribe after close returns a closed channel")
}
