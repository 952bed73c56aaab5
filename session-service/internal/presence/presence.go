// Package presence answers "who is online in this room" from the hub's
// membership table. It keeps no state of its own.
package presence

import (
	"github.com/weiawesome/campaign-live/session-service/internal/domain"
	"github.com/weiawesome/campaign-live/session-service/internal/hub"
)

type Tracker struct {
	hub *hub.Hub
}

func NewTracker(h *hub.Hub) *Tracker {
	return &Tracker{hub: h}
}

// OnlineUsers returns one entry per user joined to key, ordered by
// username. A user with several sessions in the room appears once.
func (t *Tracker) OnlineUsers(key domain.RoomKey) []domain.Identity {
	members := t.hub.Members(key)
	seen := make(map[string]struct{}, len(members))
	out := make([]domain.Identity, 0, len(members))
	for _, c := range members {
		id := c.Session.Identity
		if _, ok := seen[id.UserID]; ok {
			continue
		}
		seen[id.UserID] = struct{}{}
		out = append(out, id)
	}
	domain.SortIdentities(out)
	return out
}
