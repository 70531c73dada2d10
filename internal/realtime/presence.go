package realtime

import (
	"context"
	"sort"
	"strings"
	"sync"

	"assoc-messaging/internal/auth"
	"assoc-messaging/internal/clock"
	"assoc-messaging/internal/imtypes"
	"assoc-messaging/internal/transport"

	"github.com/sirupsen/logrus"
)

// PresenceTracker publishes the local user's presence and follows other users'.
type PresenceTracker struct {
	mu       sync.Mutex
	rt       transport.Realtime
	identity auth.Provider
	state    *SessionState
	report   *reporter
	clock    clock.Clock
	onChange func(imtypes.UserPresence)
	subs     map[string]*handle

	// epoch changes on CancelAll; acks and events from an older epoch are dropped
	epoch uint64
}

func newPresenceTracker(rt transport.Realtime, identity auth.Provider, state *SessionState, rep *reporter, clk clock.Clock, onChange func(imtypes.UserPresence)) *PresenceTracker {
	return &PresenceTracker{
		rt:       rt,
		identity: identity,
		state:    state,
		report:   rep,
		clock:    clk,
		onChange: onChange,
		subs:     make(map[string]*handle),
	}
}

// UpdatePresence sends status and, once the transport acknowledges it,
// overwrites the local user's entry in the presence map.
func (p *PresenceTracker) UpdatePresence(ctx context.Context, status imtypes.PresenceStatus) error {
	id := p.identity.Identity()
	if !id.IsAuthenticated {
		return &imtypes.AuthRequiredError{Op: "updatePresence"}
	}
	if !status.Valid() {
		return &imtypes.ValidationError{Field: "status", Reason: "unknown presence status " + string(status)}
	}

	return p.updateInEpoch(ctx, id, status, p.currentEpoch())
}

// updateInEpoch sends status and applies the ack only if no teardown happened
// since epoch was read.
func (p *PresenceTracker) updateInEpoch(ctx context.Context, id auth.Identity, status imtypes.PresenceStatus, epoch uint64) error {
	if err := p.rt.UpdatePresence(ctx, status); err != nil {
		terr := &imtypes.TransportError{Op: "updatePresence", Err: err}
		p.report.report("presence", terr)
		return terr
	}

	// held across the write so a concurrent CancelAll either sees it or wins
	p.mu.Lock()
	if p.epoch != epoch {
		p.mu.Unlock()
		logrus.WithFields(logrus.Fields{"component": "presence", "status": status}).Debug("presence ack after teardown ignored")
		return nil
	}
	p.state.SetPresence(imtypes.UserPresence{
		UserID:   id.UserID,
		Status:   status,
		LastSeen: p.clock.Now(),
	})
	p.mu.Unlock()
	logrus.WithFields(logrus.Fields{
		"component": "presence",
		"status":    status,
	}).Debug("presence updated")
	return nil
}

// Subscribe follows the presence of userIDs. Subscribing again to the same set,
// in any order or with duplicates, replaces the previous subscription. An empty
// set is a no-op.
func (p *PresenceTracker) Subscribe(ctx context.Context, userIDs []string) transport.CancelFunc {
	key, ids := presenceKey(userIDs)
	if len(ids) == 0 {
		return func() {}
	}
	watched := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		watched[id] = struct{}{}
	}

	epoch := p.currentEpoch()
	onPresence := func(pr imtypes.UserPresence) {
		if _, ok := watched[pr.UserID]; !ok {
			return
		}
		p.mu.Lock()
		if p.epoch != epoch {
			p.mu.Unlock()
			return
		}
		p.state.SetPresence(pr)
		p.mu.Unlock()
		if p.onChange != nil {
			p.onChange(pr)
		}
	}

	p.mu.Lock()
	if prev, ok := p.subs[key]; ok {
		delete(p.subs, key)
		prev.release()
	}
	cancel, err := p.rt.SubscribeToPresence(ctx, ids, onPresence)
	if err != nil {
		p.mu.Unlock()
		p.report.report("presence", &imtypes.SubscriptionError{Target: "presence " + key, Err: err})
		return func() {}
	}
	h := &handle{cancel: cancel}
	p.subs[key] = h
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		if p.subs[key] == h {
			delete(p.subs, key)
		}
		p.mu.Unlock()
		h.release()
	}
}

// Count returns the number of live presence subscriptions.
func (p *PresenceTracker) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

func (p *PresenceTracker) currentEpoch() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epoch
}

// CancelAll releases every presence subscription. Presence updates still in
// flight no longer touch the presence map once it returns.
func (p *PresenceTracker) CancelAll() {
	p.mu.Lock()
	p.epoch++
	subs := p.subs
	p.subs = make(map[string]*handle)
	p.mu.Unlock()

	for _, h := range subs {
		h.release()
	}
}

// presenceKey canonicalises a user set: blanks and duplicates removed, sorted.
func presenceKey(userIDs []string) (string, []string) {
	seen := make(map[string]struct{}, len(userIDs))
	ids := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return strings.Join(ids, ","), ids
}
