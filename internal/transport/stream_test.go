package transport

import (
	"sync"
	"testing"
	"time"

	"assoc-messaging/internal/imtypes"

	"github.com/stretchr/testify/assert"
)

func TestStreamDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	s := NewStream("test", 8, func(ev imtypes.Event) {
		mu.Lock()
		got = append(got, ev.ID)
		mu.Unlock()
	})
	defer s.Close()

	for _, id := range []string{"a", "b", "c"} {
		assert.True(t, s.Deliver(imtypes.Event{ID: id}))
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func typingEvent(id string, isTyping bool) imtypes.Event {
	return imtypes.Event{
		ID:     id,
		Type:   imtypes.EventTyping,
		Typing: &imtypes.TypingIndicator{ConversationID: "c1", UserID: "bob", IsTyping: isTyping},
	}
}

func TestStreamDropsOnlyTypingStartsWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var mu sync.Mutex
	var got []string
	s := NewStream("slow", 1, func(ev imtypes.Event) {
		if ev.ID == "1" {
			started <- struct{}{}
			<-release
		}
		mu.Lock()
		got = append(got, ev.ID)
		mu.Unlock()
	})
	defer s.Close()

	assert.True(t, s.Deliver(imtypes.Event{ID: "1", Type: imtypes.EventMessage}))
	<-started // handler is now blocked on "1"
	assert.True(t, s.Deliver(typingEvent("2", true)))

	// buffer full: a start is dropped, a stop and a message are kept
	assert.False(t, s.Deliver(typingEvent("3", true)))
	assert.True(t, s.Deliver(typingEvent("4", false)))
	assert.True(t, s.Deliver(imtypes.Event{ID: "5", Type: imtypes.EventMessage}))
	assert.Equal(t, uint64(1), s.Dropped())
	assert.Equal(t, 3, s.Pending())

	close(release)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 4
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"1", "2", "4", "5"}, got)
}

func TestStreamCloseIsIdempotent(t *testing.T) {
	s := NewStream("closing", 1, func(imtypes.Event) {})
	s.Close()
	s.Close()
	assert.False(t, s.Deliver(imtypes.Event{ID: "late"}))
}
