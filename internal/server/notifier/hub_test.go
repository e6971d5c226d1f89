package notifier

import (
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/armadillo/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(owner, vault string, rev int64) models.ChangeEvent {
	return models.ChangeEvent{Type: models.EventSnapshot, OwnerID: owner, VaultID: vault, Revision: rev, At: time.Now()}
}

func TestHub_DeliversToTopicOnly(t *testing.T) {
	h := NewHub(4)
	a := h.Subscribe(Topic("user:a", "v1"))
	defer a.Close()
	b := h.Subscribe(Topic("user:b", "v1"))
	defer b.Close()

	delivered, dropped := h.Publish(event("user:a", "v1", 2))
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 0, dropped)

	select {
	case ev := <-a.Events():
		assert.Equal(t, int64(2), ev.Revision)
	default:
		t.Fatal("subscriber a got nothing")
	}
	select {
	case <-b.Events():
		t.Fatal("subscriber b must not see another owner's vault")
	default:
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(2)
	slow := h.Subscribe(Topic("o", "v"))
	defer slow.Close()
	fast := h.Subscribe(Topic("o", "v"))
	defer fast.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			h.Publish(event("o", "v", int64(i)))
			<-fast.Events()
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, slow.Events(), 2)
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	h := NewHub(0)
	s := h.Subscribe(Topic("o", "v"))
	assert.Equal(t, 1, h.Subscribers())

	s.Close()
	s.Close()
	assert.Equal(t, 0, h.Subscribers())

	_, ok := <-s.Events()
	assert.False(t, ok)

	delivered, _ := h.Publish(event("o", "v", 1))
	assert.Equal(t, 0, delivered)
}

func TestHub_ConcurrentPublishAndClose(t *testing.T) {
	h := NewHub(1)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		s := h.Subscribe(Topic("o", "v"))
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.Publish(event("o", "v", 1))
		}()
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()
	require.Equal(t, 0, h.Subscribers())
}
