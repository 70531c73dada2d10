// internal/imtypes/presence_store_iface.go
package imtypes

import (
	"context"
	"time"
)

// PresenceStore keeps the last reported presence of each user for a bounded time.
// Kept in imtypes so the gateway and redis packages do not import each other.
type PresenceStore interface {
	// Set stores p until ttl elapses.
	Set(ctx context.Context, p UserPresence, ttl time.Duration) error
	// Get returns one entry per requested id, in order. Users without a live
	// entry are reported offline.
	Get(ctx context.Context, userIDs []string) ([]UserPresence, error)
}
