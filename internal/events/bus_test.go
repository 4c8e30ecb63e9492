package events

import (
	"testing"
	"time"

	"github.com/aristath/marketmaker/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	bus := New(zerolog.Nop(), 10)
	chA, unsubA := bus.Subscribe(false)
	defer unsubA()
	chB, unsubB := bus.Subscribe(true)
	defer unsubB()

	bus.Publish(domain.ExchangeEvent{Kind: domain.EventBalance})

	for _, ch := range []<-chan Envelope{chA, chB} {
		select {
		case env := <-ch:
			assert.Equal(t, domain.EventBalance, env.Event.Kind)
			assert.Equal(t, uint64(1), env.Seq)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestPublishDropsOldestWhenSubscriberFull(t *testing.T) {
	bus := New(zerolog.Nop(), 2)
	ch, unsub := bus.Subscribe(false)
	defer unsub()

	bus.Publish(domain.ExchangeEvent{Kind: domain.EventOrder})
	bus.Publish(domain.ExchangeEvent{Kind: domain.EventBalance})
	bus.Publish(domain.ExchangeEvent{Kind: domain.EventTrades})

	first := <-ch
	second := <-ch
	assert.Equal(t, domain.EventBalance, first.Event.Kind)
	assert.Equal(t, domain.EventTrades, second.Event.Kind)
	assert.Equal(t, uint64(1), bus.DroppedCount(ch))
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(zerolog.Nop(), 4)
	ch, unsub := bus.Subscribe(false)
	unsub()

	_, ok := <-ch
	require.False(t, ok)
}
