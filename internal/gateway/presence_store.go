package gateway

import (
	"context"
	"sync"
	"time"

	"assoc-messaging/internal/clock"
	"assoc-messaging/internal/imtypes"
)

type presenceEntry struct {
	presence  imtypes.UserPresence
	expiresAt time.Time
}

// memoryPresenceStore is the single-instance presence store. Entries past
// their TTL read back as offline.
type memoryPresenceStore struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]presenceEntry
}

// NewMemoryPresenceStore creates an in-process presence store.
func NewMemoryPresenceStore(clk clock.Clock) imtypes.PresenceStore {
	return &memoryPresenceStore{clock: clock.OrReal(clk), entries: make(map[string]presenceEntry)}
}

func (s *memoryPresenceStore) Set(_ context.Context, p imtypes.UserPresence, ttl time.Duration) error {
	if ttl <= 0 {
		return &imtypes.ValidationError{Field: "ttl", Reason: "must be positive"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[p.UserID] = presenceEntry{presence: p, expiresAt: s.clock.Now().Add(ttl)}
	return nil
}

func (s *memoryPresenceStore) Get(_ context.Context, userIDs []string) ([]imtypes.UserPresence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	out := make([]imtypes.UserPresence, 0, len(userIDs))
	for _, id := range userIDs {
		e, ok := s.entries[id]
		if !ok || !now.Before(e.expiresAt) {
			delete(s.entries, id)
			out = append(out, imtypes.UserPresence{UserID: id, Status: imtypes.PresenceOffline})
			continue
		}
		out = append(out, e.presence)
	}
	return out, nil
}
