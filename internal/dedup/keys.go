package dedup

import "github.com/ibeckermayer/mentionbot/internal/types"

// Keys are the tracking keys for one logical thread. Different delivery
// shapes of the same thread must collapse to a handled state under any of
// the three views.
type Keys struct {
	Cast   string
	Parent string
	Root   string
}

// TrackingKeys derives the tracking keys for an event.
func TrackingKeys(ev types.NotificationEvent) Keys {
	return Keys{
		Cast:   "cast:" + ev.OriginCastID,
		Parent: "parent:" + ev.ThreadAnchorID,
		Root:   "root:" + ev.Root(),
	}
}

// All returns the keys in a stable order.
func (k Keys) All() []string {
	return []string{k.Cast, k.Parent, k.Root}
}
