package storage

import (
	"context"
	"sort"
	"sync"

	"assoc-messaging/internal/imtypes"
)

// memoryStore keeps everything in process memory. It backs the gateway when
// no database is configured and the end-to-end tests.
type memoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*imtypes.Conversation
	messages      map[string]*imtypes.Message
	// conversation id -> message ids in insertion order
	timeline map[string][]string
}

// NewMemoryStore creates an empty in-memory conversation store.
func NewMemoryStore() imtypes.ConversationStore {
	return &memoryStore{
		conversations: make(map[string]*imtypes.Conversation),
		messages:      make(map[string]*imtypes.Message),
		timeline:      make(map[string][]string),
	}
}

func cloneConversation(c *imtypes.Conversation) imtypes.Conversation {
	out := *c
	out.Participants = append([]imtypes.Participant(nil), c.Participants...)
	out.LastMessage = nil
	out.UnreadCount = 0
	return out
}

// ordered returns a conversation's live messages oldest first. Caller holds mu.
func (s *memoryStore) ordered(conversationID string) []*imtypes.Message {
	ids := s.timeline[conversationID]
	out := make([]*imtypes.Message, 0, len(ids))
	for _, id := range ids {
		if m, ok := s.messages[id]; ok {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *memoryStore) ListConversations(_ context.Context, userID string) ([]imtypes.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]imtypes.Conversation, 0)
	for _, c := range s.conversations {
		if !c.HasParticipant(userID) {
			continue
		}
		conv := cloneConversation(c)
		msgs := s.ordered(c.ID)
		if n := len(msgs); n > 0 {
			last := msgs[n-1].Clone()
			conv.LastMessage = &last
		}
		for _, m := range msgs {
			if m.SenderID != userID && !m.IsReadBy(userID) {
				conv.UnreadCount++
			}
		}
		out = append(out, conv)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out, nil
}

func (s *memoryStore) GetConversation(_ context.Context, id string) (*imtypes.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, imtypes.ErrNotFound
	}
	conv := cloneConversation(c)
	return &conv, nil
}

func (s *memoryStore) CreateConversation(_ context.Context, c imtypes.Conversation) (*imtypes.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := cloneConversation(&c)
	s.conversations[c.ID] = &stored
	out := cloneConversation(&stored)
	return &out, nil
}

func (s *memoryStore) FindDirectConversation(_ context.Context, a, b string) (*imtypes.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conversations {
		if !c.IsGroup && len(c.Participants) == 2 && c.HasParticipant(a) && c.HasParticipant(b) {
			conv := cloneConversation(c)
			return &conv, nil
		}
	}
	return nil, imtypes.ErrNotFound
}

func (s *memoryStore) AddParticipant(_ context.Context, conversationID string, p imtypes.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return imtypes.ErrNotFound
	}
	if c.HasParticipant(p.UserID) {
		return nil
	}
	if p.Role == "" {
		p.Role = "member"
	}
	c.Participants = append(c.Participants, p)
	return nil
}

func (s *memoryStore) RemoveParticipant(_ context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return imtypes.ErrNotFound
	}
	for i, p := range c.Participants {
		if p.UserID == userID {
			c.Participants = append(c.Participants[:i:i], c.Participants[i+1:]...)
			return nil
		}
	}
	return imtypes.ErrNotFound
}

func (s *memoryStore) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return imtypes.ErrNotFound
	}
	for _, mid := range s.timeline[id] {
		delete(s.messages, mid)
	}
	delete(s.timeline, id)
	delete(s.conversations, id)
	return nil
}

func (s *memoryStore) ListMessages(_ context.Context, conversationID string, limit, offset int) ([]imtypes.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.ordered(conversationID)
	end := len(msgs) - offset
	if offset < 0 || end <= 0 {
		return []imtypes.Message{}, nil
	}
	start := 0
	if limit > 0 && end-limit > 0 {
		start = end - limit
	}
	out := make([]imtypes.Message, 0, end-start)
	for _, m := range msgs[start:end] {
		out = append(out, m.Clone())
	}
	return out, nil
}

func (s *memoryStore) SaveMessage(_ context.Context, m imtypes.Message) (*imtypes.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.messages[m.ID]; ok {
		out := existing.Clone()
		return &out, false, nil
	}
	stored := m.Clone()
	stored.Delivery = ""
	if stored.Attachments == nil {
		stored.Attachments = []imtypes.Attachment{}
	}
	if stored.ReadBy == nil {
		stored.ReadBy = []imtypes.MessageReadStatus{}
	}
	s.messages[m.ID] = &stored
	s.timeline[m.ConversationID] = append(s.timeline[m.ConversationID], m.ID)
	if c, ok := s.conversations[m.ConversationID]; ok && m.CreatedAt.After(c.LastActivityAt) {
		c.LastActivityAt = m.CreatedAt
	}
	out := stored.Clone()
	return &out, true, nil
}

func (s *memoryStore) GetMessage(_ context.Context, id string) (*imtypes.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, imtypes.ErrNotFound
	}
	out := m.Clone()
	return &out, nil
}

func (s *memoryStore) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return imtypes.ErrNotFound
	}
	delete(s.messages, id)
	return nil
}

func (s *memoryStore) MarkRead(_ context.Context, r imtypes.MessageReadStatus) (*imtypes.MessageReadStatus, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[r.MessageID]
	if !ok {
		return nil, false, imtypes.ErrNotFound
	}
	for _, existing := range m.ReadBy {
		if existing.UserID == r.UserID {
			out := existing
			return &out, false, nil
		}
	}
	m.AddReceipt(r)
	return &r, true, nil
}
