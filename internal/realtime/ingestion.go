package realtime

import (
	"context"
	"sync"
	"time"

	"assoc-messaging/internal/auth"
	"assoc-messaging/internal/imtypes"
	"assoc-messaging/internal/transport"

	"github.com/sirupsen/logrus"
)

// IncomingResult describes what ApplyIncoming did with a message.
type IncomingResult struct {
	Applied    bool // the message belongs to the open conversation
	Reconciled bool // it replaced an entry with the same id
	Scroll     ScrollAction
}

// IngestionPipeline applies loaded and pushed messages to the session's list.
type IngestionPipeline struct {
	mu       sync.Mutex
	svc      transport.Service
	identity auth.Provider
	state    *SessionState
	report   *reporter
	viewport *Viewport
	pageSize int
	groupGap time.Duration

	active  string
	gen     uint64
	limit   int
	offset  int
	hasMore bool
}

func newIngestionPipeline(svc transport.Service, identity auth.Provider, state *SessionState, rep *reporter, pageSize int, groupGap time.Duration, threshold float64) *IngestionPipeline {
	return &IngestionPipeline{
		svc:      svc,
		identity: identity,
		state:    state,
		report:   rep,
		viewport: NewViewport(threshold),
		pageSize: pageSize,
		groupGap: groupGap,
	}
}

// LoadMessages fetches a page. Offset 0 opens the conversation and replaces
// the list; a positive offset prepends older messages. A response for a
// conversation that has since been replaced is discarded.
func (p *IngestionPipeline) LoadMessages(ctx context.Context, conversationID string, limit, offset int) error {
	if conversationID == "" {
		return &imtypes.ValidationError{Field: "conversationId", Reason: "must not be empty"}
	}
	if limit <= 0 {
		limit = p.pageSize
	}
	if offset < 0 {
		offset = 0
	}

	p.mu.Lock()
	if offset == 0 {
		p.active = conversationID
		p.gen++
		p.limit = limit
		p.offset = 0
		p.hasMore = false
	}
	gen := p.gen
	p.mu.Unlock()

	p.state.SetLoading(true)
	defer p.state.SetLoading(false)

	page, err := p.svc.GetConversationMessages(ctx, conversationID, limit, offset)
	if err != nil {
		terr := &imtypes.TransportError{Op: "getConversationMessages", Err: err}
		p.report.report("ingestion", terr)
		return terr
	}
	sortChronological(page)

	p.mu.Lock()
	if p.active != conversationID || p.gen != gen {
		p.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"component":      "ingestion",
			"conversationId": conversationID,
		}).Debug("discarding stale page")
		return nil
	}
	p.offset = offset + len(page)
	p.hasMore = len(page) == limit
	p.mu.Unlock()

	if offset == 0 {
		p.viewport.Reset()
		p.state.ReplaceMessages(page)
	} else {
		p.state.PrependMessages(page)
	}
	return nil
}

// LoadMore fetches the next older page of the open conversation.
func (p *IngestionPipeline) LoadMore(ctx context.Context) error {
	p.mu.Lock()
	conversationID, limit, offset, more := p.active, p.limit, p.offset, p.hasMore
	p.mu.Unlock()
	if conversationID == "" || !more {
		return nil
	}
	return p.LoadMessages(ctx, conversationID, limit, offset)
}

// HasMore reports whether older messages may exist.
func (p *IngestionPipeline) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

// ActiveConversation returns the conversation whose list is loaded.
func (p *IngestionPipeline) ActiveConversation() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// ApplyIncoming adds a pushed or acknowledged message. Messages for other
// conversations only bump that conversation's activity and unread count.
func (p *IngestionPipeline) ApplyIncoming(msg imtypes.Message) IncomingResult {
	if msg.ID == "" {
		return IncomingResult{}
	}
	self := p.identity.Identity().UserID
	active := p.ActiveConversation()

	if msg.ConversationID != active {
		p.state.UpdateConversation(msg.ConversationID, func(c *imtypes.Conversation) {
			touchConversation(c, msg)
			if msg.SenderID != self {
				c.UnreadCount++
			}
		})
		return IncomingResult{}
	}

	appended := p.state.UpsertMessage(msg)
	p.state.UpdateConversation(msg.ConversationID, func(c *imtypes.Conversation) {
		touchConversation(c, msg)
	})
	if !appended {
		return IncomingResult{Applied: true, Reconciled: true}
	}
	return IncomingResult{Applied: true, Scroll: p.viewport.OnNewMessage()}
}

// ApplyLocal appends an optimistic echo of an outgoing message.
func (p *IngestionPipeline) ApplyLocal(msg imtypes.Message) {
	msg.Delivery = imtypes.DeliveryPending
	if msg.ConversationID == p.ActiveConversation() {
		p.state.UpsertMessage(msg)
	}
}

// MarkFailed flags an optimistic message whose send failed.
func (p *IngestionPipeline) MarkFailed(messageID string) {
	p.state.SetDelivery(messageID, imtypes.DeliveryFailed)
}

// ApplyReadStatus records a receipt on a loaded message.
func (p *IngestionPipeline) ApplyReadStatus(status imtypes.MessageReadStatus) bool {
	return p.state.AddReceipt(status)
}

// ApplyDeleted removes a message from the list.
func (p *IngestionPipeline) ApplyDeleted(messageID string) bool {
	return p.state.RemoveMessage(messageID)
}

// Groups returns the display grouping of the current list.
func (p *IngestionPipeline) Groups() []MessageGroup {
	return GroupMessages(p.state.Messages(), p.groupGap)
}

// Viewport returns the scroll tracker for the open conversation.
func (p *IngestionPipeline) Viewport() *Viewport {
	return p.viewport
}

// Reset forgets the open conversation.
func (p *IngestionPipeline) Reset() {
	p.mu.Lock()
	p.active = ""
	p.gen++
	p.offset = 0
	p.hasMore = false
	p.mu.Unlock()
	p.viewport.Reset()
}

func touchConversation(c *imtypes.Conversation, msg imtypes.Message) {
	if msg.CreatedAt.After(c.LastActivityAt) {
		c.LastActivityAt = msg.CreatedAt
		lm := msg.Clone()
		c.LastMessage = &lm
	}
}
