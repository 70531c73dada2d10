package realtime

import (
	"sort"
	"sync"
	"time"

	"assoc-messaging/internal/imtypes"
)

// MessageGroup is a run of consecutive messages shown under one sender header.
type MessageGroup struct {
	SenderID   string
	SenderName string
	StartsAt   time.Time
	Messages   []imtypes.Message
}

// GroupMessages splits a chronological list into display groups. A message
// joins the previous group only if it has the same sender and arrived less
// than gap after the previous message.
func GroupMessages(msgs []imtypes.Message, gap time.Duration) []MessageGroup {
	var groups []MessageGroup
	for i, m := range msgs {
		if i > 0 {
			prev := msgs[i-1]
			if prev.SenderID == m.SenderID && m.CreatedAt.Sub(prev.CreatedAt) < gap {
				last := &groups[len(groups)-1]
				last.Messages = append(last.Messages, m)
				continue
			}
		}
		groups = append(groups, MessageGroup{
			SenderID:   m.SenderID,
			SenderName: m.SenderName,
			StartsAt:   m.CreatedAt,
			Messages:   []imtypes.Message{m},
		})
	}
	return groups
}

func sortChronological(msgs []imtypes.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// ScrollAction tells the view what to do after a message was appended.
type ScrollAction int

const (
	ScrollNone ScrollAction = iota
	ScrollToBottom
	ShowNewMessages
)

func (a ScrollAction) String() string {
	switch a {
	case ScrollToBottom:
		return "scroll-to-bottom"
	case ShowNewMessages:
		return "show-new-messages"
	default:
		return "none"
	}
}

// Viewport tracks whether the reader is near the bottom of the message list.
type Viewport struct {
	mu         sync.Mutex
	threshold  float64
	nearBottom bool
	unseen     int
}

// NewViewport returns a viewport that starts at the bottom.
func NewViewport(threshold float64) *Viewport {
	return &Viewport{threshold: threshold, nearBottom: true}
}

// Update records a scroll position. Reaching the bottom clears the unseen count.
func (v *Viewport) Update(scrollTop, scrollHeight, clientHeight float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nearBottom = scrollHeight-scrollTop-clientHeight < v.threshold
	if v.nearBottom {
		v.unseen = 0
	}
}

// OnNewMessage decides how the view reacts to an appended message.
func (v *Viewport) OnNewMessage() ScrollAction {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.nearBottom {
		return ScrollToBottom
	}
	v.unseen++
	return ShowNewMessages
}

func (v *Viewport) NearBottom() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.nearBottom
}

// Unseen returns how many messages arrived while the reader was scrolled up.
func (v *Viewport) Unseen() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.unseen
}

// Reset puts the viewport back at the bottom.
func (v *Viewport) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nearBottom = true
	v.unseen = 0
}
