package hub

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/campaign-live/session-service/internal/config"
	"github.com/weiawesome/campaign-live/session-service/internal/domain"
)

var (
	room42  = domain.RoomKey{CampaignID: "42"}
	roomOOC = domain.RoomKey{CampaignID: "42", Subroom: "ooc"}
)

func newClient(h *Hub, id, userID string, buf int) *Client {
	c := NewClient(id, h, nil, domain.Identity{UserID: userID, Username: "name-" + userID}, config.WebSocketConfig{SendBuffer: buf})
	h.Register(c)
	return c
}

func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case msg, ok := <-c.Send:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestJoinLeaveIdempotent(t *testing.T) {
	h := NewHub()
	a := newClient(h, "s-a", "u-a", 8)

	assert.True(t, h.Join(a, room42))
	assert.False(t, h.Join(a, room42))
	assert.True(t, h.IsMember(a, room42))
	assert.True(t, a.Session.InRoom(room42))

	assert.True(t, h.Leave(a, room42))
	assert.False(t, h.Leave(a, room42))
	assert.False(t, h.IsMember(a, room42))
	assert.Empty(t, h.ActiveRooms())
}

func TestBroadcastExcludesSender(t *testing.T) {
	h := NewHub()
	a := newClient(h, "s-a", "u-a", 8)
	b := newClient(h, "s-b", "u-b", 8)
	c := newClient(h, "s-c", "u-c", 8)
	h.Join(a, room42)
	h.Join(b, room42)
	h.Join(c, roomOOC)

	n := h.Broadcast(room42, []byte("hi"), a.ID)
	assert.Equal(t, 1, n)
	assert.Empty(t, drain(a))
	assert.Equal(t, [][]byte{[]byte("hi")}, drain(b))
	assert.Empty(t, drain(c))
}

func TestUnregisterLeavesEveryRoom(t *testing.T) {
	var events []string
	h := NewHub(WithRoomListener(func(key domain.RoomKey, active bool) {
		events = append(events, fmt.Sprintf("%s:%v", key, active))
	}))
	a := newClient(h, "s-a", "u-a", 8)
	h.Join(a, room42)
	h.Join(a, roomOOC)

	left := h.Unregister(a)
	assert.ElementsMatch(t, []domain.RoomKey{room42, roomOOC}, left)
	assert.Nil(t, h.Unregister(a))
	assert.Equal(t, 0, h.SessionCount())
	assert.Empty(t, a.Session.Rooms())
	assert.False(t, h.Join(a, room42))

	_, open := <-a.Send
	assert.False(t, open)
	assert.Equal(t, []string{"42:true", "42/ooc:true", "42:false", "42/ooc:false"}, events)
}

func TestSendToUserReachesEverySession(t *testing.T) {
	h := NewHub()
	phone := newClient(h, "s-1", "gm", 8)
	laptop := newClient(h, "s-2", "gm", 8)
	other := newClient(h, "s-3", "player", 8)

	assert.Equal(t, 2, h.SendToUser("gm", []byte("secret")))
	assert.Len(t, drain(phone), 1)
	assert.Len(t, drain(laptop), 1)
	assert.Empty(t, drain(other))
	assert.Equal(t, 2, h.UserSessionCount("gm"))

	h.Unregister(phone)
	assert.Equal(t, 1, h.UserSessionCount("gm"))
	assert.Equal(t, 0, h.SendToUser("nobody", []byte("x")))
}

func TestSlowClientEvicted(t *testing.T) {
	h := NewHub()
	slow := newClient(h, "s-slow", "u", 1)
	h.Join(slow, room42)

	assert.Equal(t, 1, h.Broadcast(room42, []byte("1"), ""))
	assert.Equal(t, 0, h.Broadcast(room42, []byte("2"), ""))

	select {
	case <-slow.Done():
	default:
		t.Fatal("slow client was not closed")
	}
}

func TestHubAsFanout(t *testing.T) {
	h := NewHub()
	var f Fanout = h
	a := newClient(h, "s-a", "u-a", 8)
	h.Join(a, room42)

	f.ToRoom(context.Background(), room42, []byte("r"), "")
	f.ToUser(context.Background(), "u-a", []byte("u"))
	assert.Len(t, drain(a), 2)
}

// Random join/leave/unregister traffic must keep both sides of the
// membership relation in agreement.
func TestMembershipStaysConsistent(t *testing.T) {
	h := NewHub()
	rooms := []domain.RoomKey{room42, roomOOC, {CampaignID: "7"}}

	var clients []*Client
	for i := 0; i < 8; i++ {
		clients = append(clients, newClient(h, fmt.Sprintf("s-%d", i), fmt.Sprintf("u-%d", i%3), 64))
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for i := 0; i < 500; i++ {
				c := clients[r.Intn(len(clients))]
				key := rooms[r.Intn(len(rooms))]
				if r.Intn(2) == 0 {
					h.Join(c, key)
				} else {
					h.Leave(c, key)
				}
			}
		}(int64(w))
	}
	wg.Wait()
	h.Unregister(clients[0])

	for _, key := range rooms {
		for _, m := range h.Members(key) {
			assert.True(t, m.Session.InRoom(key), "member %s of %s missing room", m.ID, key)
		}
	}
	for _, c := range clients {
		for _, key := range c.Session.Rooms() {
			require.True(t, h.IsMember(c, key), "session %s claims %s", c.ID, key)
		}
	}
	assert.Empty(t, clients[0].Session.Rooms())
}
