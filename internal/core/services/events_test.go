package services

import (
	"testing"
	"time"

	"streampulse/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBroker_PublishDeliversToSubscribers(t *testing.T) {
	b := NewBroker(zap.NewNop().Sugar())
	defer b.Close()

	ch1, cancel1 := b.Subscribe(4)
	defer cancel1()
	ch2, cancel2 := b.Subscribe(4)
	defer cancel2()

	b.Publish(domain.Event{Type: domain.EventStateChanged})

	for _, ch := range []<-chan domain.Event{ch1, ch2} {
		select {
		case evt := <-ch:
			assert.Equal(t, domain.EventStateChanged, evt.Type)
			assert.NotZero(t, evt.Timestamp)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBroker_SlowSubscriberDropsEvents(t *testing.T) {
	b := NewBroker(zap.NewNop().Sugar())
	defer b.Close()

	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(domain.Event{Type: domain.EventAlertRaised})
	// Buffer full: this one is dropped, publish does not block.
	b.Publish(domain.Event{Type: domain.EventAlertResolved})

	evt := <-ch
	assert.Equal(t, domain.EventAlertRaised, evt.Type)

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "expected no second event")
	default:
	}
}

func TestBroker_CancelStopsDelivery(t *testing.T) {
	b := NewBroker(zap.NewNop().Sugar())
	defer b.Close()

	ch, cancel := b.Subscribe(4)
	cancel()
	// Cancel twice is safe.
	cancel()

	_, ok := <-ch
	assert.False(t, ok, "expected closed channel after cancel")

	// Publishing after cancel must not panic.
	b.Publish(domain.Event{Type: domain.EventStateChanged})
}

func TestBroker_CloseClosesAllChannels(t *testing.T) {
	b := NewBroker(zap.NewNop().Sugar())

	ch, cancel := b.Subscribe(4)
	b.Close()

	_, ok := <-ch
	require.False(t, ok)

	// Subscribing after close yields a closed channel.
	late, _ := b.Subscribe(4)
	_, ok = <-late
	assert.False(t, ok)

	// Cancel after close is a no-op.
	cancel()
}

func TestBroker_PreservesExplicitTimestamp(t *testing.T) {
	b := NewBroker(zap.NewNop().Sugar())
	defer b.Close()

	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(domain.Event{Type: domain.EventStateChanged, Timestamp: 42})
	evt := <-ch
	assert.Equal(t, int64(42), evt.Timestamp)
}
