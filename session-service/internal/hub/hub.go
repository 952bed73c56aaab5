package hub

import (
	"context"
	"sort"
	"sync"

	"github.com/weiawesome/campaign-live/pkg/log"
	"github.com/weiawesome/campaign-live/session-service/internal/domain"
)

// Observer receives transport-level counters.
type Observer interface {
	SessionOpened()
	SessionClosed()
	Delivered(n int)
	Dropped(reason string)
}

type nopObserver struct{}

func (nopObserver) SessionOpened() {}
func (nopObserver) SessionClosed() {}
func (nopObserver) Delivered(int)  {}
func (nopObserver) Dropped(string) {}

// RoomListener is told when a room gains its first local member (active)
// or loses its last one.
type RoomListener func(key domain.RoomKey, active bool)

// Fanout delivers encoded frames to rooms and users.
type Fanout interface {
	ToRoom(ctx context.Context, key domain.RoomKey, data []byte, excludeSession string)
	ToUser(ctx context.Context, userID string, data []byte)
}

// Hub owns every live session on this node: the room membership table and
// the user → sessions index. All three maps change together under mu, so a
// session is in a room's member set exactly when the room is in the
// session's joined set.
type Hub struct {
	clients map[string]*Client                    // sessionID -> client
	rooms   map[domain.RoomKey]map[string]*Client // room -> sessionID -> client
	users   map[string]map[string]*Client         // userID -> sessionID -> client
	mu      sync.RWMutex

	observer     Observer
	roomListener RoomListener
}

type Option func(*Hub)

func WithObserver(o Observer) Option {
	return func(h *Hub) { h.observer = o }
}

func WithRoomListener(l RoomListener) Option {
	return func(h *Hub) { h.roomListener = l }
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients:  make(map[string]*Client),
		rooms:    make(map[domain.RoomKey]map[string]*Client),
		users:    make(map[string]map[string]*Client),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds an authenticated client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	userID := c.UserID()
	if _, ok := h.users[userID]; !ok {
		h.users[userID] = make(map[string]*Client)
	}
	h.users[userID][c.ID] = c
	h.mu.Unlock()

	h.observer.SessionOpened()
	l := log.L()
	l.Debug().Str(log.FieldSessionID, c.ID).Str(log.FieldUserID, userID).Msg("client registered")
}

// Unregister removes c from every room and index and closes its send
// channel. It returns the rooms c was still in; a second call returns nil.
func (h *Hub) Unregister(c *Client) []domain.RoomKey {
	h.mu.Lock()
	if h.clients[c.ID] != c {
		h.mu.Unlock()
		return nil
	}

	left := c.Session.Rooms()
	var emptied []domain.RoomKey
	for _, key := range left {
		if h.removeFromRoomLocked(c, key) {
			emptied = append(emptied, key)
		}
	}

	userID := c.UserID()
	if sessions, ok := h.users[userID]; ok {
		delete(sessions, c.ID)
		if len(sessions) == 0 {
			delete(h.users, userID)
		}
	}
	delete(h.clients, c.ID)
	close(c.Send)
	h.mu.Unlock()

	h.notifyRooms(emptied, false)
	h.observer.SessionClosed()
	l := log.L()
	l.Debug().Str(log.FieldSessionID, c.ID).Int("rooms", len(left)).Msg("client unregistered")
	return left
}

// Join adds c to the room. It reports false when c was already a member
// or is no longer registered.
func (h *Hub) Join(c *Client, key domain.RoomKey) bool {
	h.mu.Lock()
	if h.clients[c.ID] != c || !c.Session.AddRoom(key) {
		h.mu.Unlock()
		return false
	}
	members, ok := h.rooms[key]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[key] = members
	}
	members[c.ID] = c
	h.mu.Unlock()

	if !ok {
		h.notifyRooms([]domain.RoomKey{key}, true)
	}
	l := log.L()
	l.Info().Str(log.FieldSessionID, c.ID).Str(log.FieldRoom, key.String()).Msg("client joined room")
	return true
}

// Leave removes c from the room. It reports false when c was not a member.
func (h *Hub) Leave(c *Client, key domain.RoomKey) bool {
	h.mu.Lock()
	if !c.Session.InRoom(key) {
		h.mu.Unlock()
		return false
	}
	emptied := h.removeFromRoomLocked(c, key)
	h.mu.Unlock()

	if emptied {
		h.notifyRooms([]domain.RoomKey{key}, false)
	}
	l := log.L()
	l.Info().Str(log.FieldSessionID, c.ID).Str(log.FieldRoom, key.String()).Msg("client left room")
	return true
}

// removeFromRoomLocked drops c from key on both sides and reports whether
// the room is now empty and has been removed.
func (h *Hub) removeFromRoomLocked(c *Client, key domain.RoomKey) bool {
	c.Session.RemoveRoom(key)
	members, ok := h.rooms[key]
	if !ok {
		return false
	}
	delete(members, c.ID)
	if len(members) == 0 {
		delete(h.rooms, key)
		return true
	}
	return false
}

func (h *Hub) notifyRooms(keys []domain.RoomKey, active bool) {
	if h.roomListener == nil {
		return
	}
	for _, key := range keys {
		h.roomListener(key, active)
	}
}

// Broadcast sends data to every local member of key except the session
// named by exclude, and returns the number of sessions reached.
func (h *Hub) Broadcast(key domain.RoomKey, data []byte, exclude string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for id, c := range h.rooms[key] {
		if id == exclude {
			continue
		}
		if h.deliverLocked(c, data) {
			n++
		}
	}
	h.observer.Delivered(n)
	return n
}

// SendTo sends data to a single client if it is still registered.
func (h *Hub) SendTo(c *Client, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.clients[c.ID] != c {
		return false
	}
	ok := h.deliverLocked(c, data)
	if ok {
		h.observer.Delivered(1)
	}
	return ok
}

// SendToUser sends data to every local session of userID.
func (h *Hub) SendToUser(userID string, data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, c := range h.users[userID] {
		if h.deliverLocked(c, data) {
			n++
		}
	}
	h.observer.Delivered(n)
	return n
}

// deliverLocked queues data without blocking. A client whose buffer is
// full is evicted; its read loop then runs the normal disconnect path.
func (h *Hub) deliverLocked(c *Client, data []byte) bool {
	select {
	case c.Send <- data:
		return true
	default:
		h.observer.Dropped("slow_consumer")
		l := log.L()
		l.Warn().Str(log.FieldSessionID, c.ID).Msg("send buffer full, evicting client")
		c.Close()
		return false
	}
}

// ToRoom implements Fanout for a single node.
func (h *Hub) ToRoom(_ context.Context, key domain.RoomKey, data []byte, excludeSession string) {
	h.Broadcast(key, data, excludeSession)
}

// ToUser implements Fanout for a single node.
func (h *Hub) ToUser(_ context.Context, userID string, data []byte) {
	if h.SendToUser(userID, data) == 0 {
		h.observer.Dropped("user_offline")
	}
}

// Members returns a snapshot of the room's local clients ordered by session id.
func (h *Hub) Members(key domain.RoomKey) []*Client {
	h.mu.RLock()
	out := make([]*Client, 0, len(h.rooms[key]))
	for _, c := range h.rooms[key] {
		out = append(out, c)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsMember reports whether c has joined key.
func (h *Hub) IsMember(c *Client, key domain.RoomKey) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[key][c.ID]
	return ok
}

// ActiveRooms lists rooms with at least one local member.
func (h *Hub) ActiveRooms() []domain.RoomKey {
	h.mu.RLock()
	out := make([]domain.RoomKey, 0, len(h.rooms))
	for key := range h.rooms {
		out = append(out, key)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// UserSessionCount returns how many local sessions userID has open.
func (h *Hub) UserSessionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// Clients returns every registered client, for shutdown.
func (h *Hub) Clients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}
