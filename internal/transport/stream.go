package transport

import (
	"sync"

	"assoc-messaging/internal/imtypes"

	"github.com/sirupsen/logrus"
)

// DefaultBuffer is the per-subscription queue length when none is configured.
const DefaultBuffer = 64

// Stream is an ordered queue drained by a single goroutine. Every
// subscription owns one, so a slow handler never blocks the connection's read
// loop. Once buffer events are waiting, typing-start events are dropped and
// logged; every other event is still queued, since losing a message or a
// typing stop would leave the session wrong until the subscription ends.
type Stream struct {
	name   string
	buffer int
	handle func(imtypes.Event)

	mu      sync.Mutex
	queue   []imtypes.Event
	dropped uint64
	closed  bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// NewStream starts the pump goroutine.
func NewStream(name string, buffer int, handle func(imtypes.Event)) *Stream {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Stream{
		name:   name,
		buffer: buffer,
		handle: handle,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *Stream) pump() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			// Close may have raced with the wake-up.
			if s.closed || len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue[0] = imtypes.Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			s.handle(ev)
		}
	}
}

// droppable reports whether ev may be discarded under backpressure. A lost
// typing start is superseded by the next keystroke or cleared by the stop.
func droppable(ev imtypes.Event) bool {
	return ev.Type == imtypes.EventTyping && ev.Typing != nil && ev.Typing.IsTyping
}

// Deliver enqueues ev without blocking. It reports false if the stream is
// closed or if ev was dropped because the buffer is full.
func (s *Stream) Deliver(ev imtypes.Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if len(s.queue) >= s.buffer && droppable(ev) {
		s.dropped++
		dropped := s.dropped
		s.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"stream":  s.name,
			"event":   ev.Type,
			"dropped": dropped,
		}).Warn("subscription buffer full, dropping event")
		return false
	}
	s.queue = append(s.queue, ev)
	if len(s.queue) == s.buffer+1 {
		logrus.WithFields(logrus.Fields{"stream": s.name, "buffer": s.buffer}).Warn("subscription buffer full, queueing beyond it")
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// Dropped returns how many events were discarded because the buffer was full.
func (s *Stream) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Pending returns the number of queued events not yet handed to the handler.
func (s *Stream) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close stops the pump and discards what is still queued. It does not wait
// for an in-flight handler, so it is safe to call from inside one.
func (s *Stream) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
	})
}
