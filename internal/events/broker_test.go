package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbine-shutdown/backend/internal/models"
)

func TestBroker_FiltersBySession(t *testing.T) {
	b := NewBroker(4)
	one, unsubOne := b.Subscribe("s-1")
	all, unsubAll := b.Subscribe("")
	defer unsubOne()
	defer unsubAll()

	b.Publish(models.SessionEvent{Type: models.EventStepAdvanced, SessionID: "s-1"})
	b.Publish(models.SessionEvent{Type: models.EventSessionStarted, SessionID: "s-2"})

	require.Len(t, one, 1)
	assert.Equal(t, "s-1", (<-one).SessionID)
	require.Len(t, all, 2)
	assert.Equal(t, models.EventStepAdvanced, (<-all).Type)
	assert.Equal(t, models.EventSessionStarted, (<-all).Type)
}

func TestBroker_SlowSubscriberDrops(t *testing.T) {
	b := NewBroker(1)
	ch, unsub := b.Subscribe("s-1")
	defer unsub()

	for i := 0; i < 3; i++ {
		b.Publish(models.SessionEvent{SessionID: "s-1"})
	}
	assert.Len(t, ch, 1)
	assert.Equal(t, uint64(2), b.Dropped())
}

func TestBroker_Unsubscribe(t *testing.T) {
	b := NewBroker(0)
	ch, unsub := b.Subscribe("s-1")
	assert.Equal(t, 1, b.Subscribers())

	unsub()
	unsub()
	assert.Equal(t, 0, b.Subscribers())
	_, open := <-ch
	assert.False(t, open)

	b.Publish(models.SessionEvent{SessionID: "s-1"})
}

func TestBroker_ConcurrentPublish(t *testing.T) {
	b := NewBroker(1000)
	ch, unsub := b.Subscribe("")
	defer unsub()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish(models.SessionEvent{SessionID: "s-1"})
			}
		}()
	}
	wg.Wait()
	assert.Len(t, ch, 500)
}
