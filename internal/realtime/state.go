package realtime

import (
	"sync"

	"assoc-messaging/internal/imtypes"
)

// SessionState is the shared, observable state of one messaging session.
// Getters return copies; nothing outside this file touches the fields.
type SessionState struct {
	mu            sync.RWMutex
	conversations []imtypes.Conversation
	selectedID    string
	messages      []imtypes.Message
	loading       bool
	err           error
	typing        []imtypes.TypingIndicator
	presence      map[string]imtypes.UserPresence
	connected     bool
}

// Snapshot is a point-in-time copy of SessionState.
type Snapshot struct {
	Conversations []imtypes.Conversation
	SelectedID    string
	Messages      []imtypes.Message
	Loading       bool
	Err           error
	TypingUsers   []imtypes.TypingIndicator
	Presence      map[string]imtypes.UserPresence
	IsConnected   bool
}

func NewSessionState() *SessionState {
	return &SessionState{presence: make(map[string]imtypes.UserPresence)}
}

// Snapshot copies the whole state.
func (s *SessionState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Conversations: cloneConversations(s.conversations),
		SelectedID:    s.selectedID,
		Messages:      cloneMessages(s.messages),
		Loading:       s.loading,
		Err:           s.err,
		TypingUsers:   append([]imtypes.TypingIndicator(nil), s.typing...),
		Presence:      clonePresence(s.presence),
		IsConnected:   s.connected,
	}
}

// Conversations

func (s *SessionState) Conversations() []imtypes.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneConversations(s.conversations)
}

func (s *SessionState) Conversation(id string) (imtypes.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conversations {
		if c.ID == id {
			return cloneConversation(c), true
		}
	}
	return imtypes.Conversation{}, false
}

func (s *SessionState) SetConversations(convs []imtypes.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = cloneConversations(convs)
}

// UpsertConversation replaces the conversation with the same id or puts c first.
func (s *SessionState) UpsertConversation(c imtypes.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conversations {
		if s.conversations[i].ID == c.ID {
			s.conversations[i] = cloneConversation(c)
			return
		}
	}
	s.conversations = append([]imtypes.Conversation{cloneConversation(c)}, s.conversations...)
}

// UpdateConversation applies fn to the stored conversation. It reports false if there is none.
func (s *SessionState) UpdateConversation(id string, fn func(*imtypes.Conversation)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			fn(&s.conversations[i])
			return true
		}
	}
	return false
}

func (s *SessionState) RemoveConversation(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
			if s.selectedID == id {
				s.selectedID = ""
				s.messages = nil
			}
			return true
		}
	}
	return false
}

func (s *SessionState) SelectedConversationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedID
}

func (s *SessionState) SelectConversation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedID = id
}

// Messages

func (s *SessionState) Messages() []imtypes.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMessages(s.messages)
}

func (s *SessionState) Message(id string) (imtypes.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOfMessage(id); i >= 0 {
		return s.messages[i].Clone(), true
	}
	return imtypes.Message{}, false
}

// ReplaceMessages swaps the whole list.
func (s *SessionState) ReplaceMessages(msgs []imtypes.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = cloneMessages(msgs)
}

// PrependMessages puts older messages in front, skipping ids already present.
func (s *SessionState) PrependMessages(older []imtypes.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	head := make([]imtypes.Message, 0, len(older))
	seen := make(map[string]struct{}, len(older))
	for _, m := range older {
		if _, dup := seen[m.ID]; dup || s.indexOfMessage(m.ID) >= 0 {
			continue
		}
		seen[m.ID] = struct{}{}
		head = append(head, m.Clone())
	}
	s.messages = append(head, s.messages...)
	return len(head)
}

// UpsertMessage reconciles by id: an existing entry is replaced in place and
// keeps its receipts, otherwise msg is appended. It reports whether msg was appended.
func (s *SessionState) UpsertMessage(msg imtypes.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOfMessage(msg.ID)
	if i < 0 {
		s.messages = append(s.messages, msg.Clone())
		return true
	}
	prev := s.messages[i]
	merged := msg.Clone()
	for _, r := range prev.ReadBy {
		merged.AddReceipt(r)
	}
	if merged.Delivery == "" && prev.Delivery != "" {
		merged.Delivery = imtypes.DeliverySent
	}
	s.messages[i] = merged
	return false
}

// SetDelivery updates the delivery state of an optimistic message.
func (s *SessionState) SetDelivery(id string, d imtypes.DeliveryState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOfMessage(id); i >= 0 {
		s.messages[i].Delivery = d
		return true
	}
	return false
}

// AddReceipt records a read receipt. It reports false for unknown messages and repeats.
func (s *SessionState) AddReceipt(status imtypes.MessageReadStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOfMessage(status.MessageID); i >= 0 {
		return s.messages[i].AddReceipt(status)
	}
	return false
}

func (s *SessionState) RemoveMessage(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOfMessage(id); i >= 0 {
		s.messages = append(s.messages[:i], s.messages[i+1:]...)
		return true
	}
	return false
}

func (s *SessionState) indexOfMessage(id string) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Flags

func (s *SessionState) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *SessionState) SetLoading(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = v
}

// Err returns the last transient error.
func (s *SessionState) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *SessionState) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *SessionState) ClearError() { s.SetError(nil) }

func (s *SessionState) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *SessionState) SetConnected(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = v
}

// Typing

// TypingUsers returns the typing entries, optionally restricted to one conversation.
func (s *SessionState) TypingUsers(conversationID string) []imtypes.TypingIndicator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]imtypes.TypingIndicator, 0, len(s.typing))
	for _, t := range s.typing {
		if conversationID == "" || t.ConversationID == conversationID {
			out = append(out, t)
		}
	}
	return out
}

// UpsertTyping replaces the entry for (conversation, user) and moves it to the end.
func (s *SessionState) UpsertTyping(ind imtypes.TypingIndicator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeTypingLocked(ind.ConversationID, ind.UserID)
	s.typing = append(s.typing, ind)
}

func (s *SessionState) RemoveTyping(conversationID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeTypingLocked(conversationID, userID)
}

func (s *SessionState) removeTypingLocked(conversationID, userID string) bool {
	for i, t := range s.typing {
		if t.ConversationID == conversationID && t.UserID == userID {
			s.typing = append(s.typing[:i], s.typing[i+1:]...)
			return true
		}
	}
	return false
}

func (s *SessionState) ResetTyping() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing = nil
}

// Presence

func (s *SessionState) Presence(userID string) (imtypes.UserPresence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.presence[userID]
	return p, ok
}

func (s *SessionState) PresenceMap() map[string]imtypes.UserPresence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePresence(s.presence)
}

// SetPresence overwrites the record for p.UserID.
func (s *SessionState) SetPresence(p imtypes.UserPresence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence[p.UserID] = p
}

func (s *SessionState) ResetPresence() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence = make(map[string]imtypes.UserPresence)
}

func cloneMessages(in []imtypes.Message) []imtypes.Message {
	if in == nil {
		return nil
	}
	out := make([]imtypes.Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}

func cloneConversation(c imtypes.Conversation) imtypes.Conversation {
	out := c
	out.Participants = append([]imtypes.Participant(nil), c.Participants...)
	if c.LastMessage != nil {
		lm := c.LastMessage.Clone()
		out.LastMessage = &lm
	}
	return out
}

func cloneConversations(in []imtypes.Conversation) []imtypes.Conversation {
	if in == nil {
		return nil
	}
	out := make([]imtypes.Conversation, len(in))
	for i, c := range in {
		out[i] = cloneConversation(c)
	}
	return out
}

func clonePresence(in map[string]imtypes.UserPresence) map[string]imtypes.UserPresence {
	out := make(map[string]imtypes.UserPresence, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
