// Package typing tracks who is typing in which room and forces a stop when
// a user goes quiet, leaves, or disconnects.
package typing

import (
	"sync"
	"time"

	"github.com/weiawesome/campaign-live/session-service/internal/domain"
)

// StopFunc is called, outside the tracker's lock, whenever the tracker
// ends a typing state on its own.
type StopFunc func(room domain.RoomKey, who domain.Identity, sessionID string)

type entryKey struct {
	room   domain.RoomKey
	userID string
}

type entry struct {
	who       domain.Identity
	sessionID string
	timer     *time.Timer
	gen       uint64
}

type Tracker struct {
	mu      sync.Mutex
	timeout time.Duration
	entries map[entryKey]*entry
	gen     uint64
	onStop  StopFunc
}

func NewTracker(timeout time.Duration, onStop StopFunc) *Tracker {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Tracker{
		timeout: timeout,
		entries: make(map[entryKey]*entry),
		onStop:  onStop,
	}
}

// Start marks who as typing in room from sessionID and (re)arms the idle
// timer. It reports whether who was not already typing there.
func (t *Tracker) Start(room domain.RoomKey, who domain.Identity, sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := entryKey{room: room, userID: who.UserID}
	t.gen++
	gen := t.gen

	e, existed := t.entries[k]
	if existed {
		e.timer.Stop()
	} else {
		e = &entry{}
		t.entries[k] = e
	}
	e.who = who
	e.sessionID = sessionID
	e.gen = gen
	e.timer = time.AfterFunc(t.timeout, func() { t.expire(k, gen) })
	return !existed
}

// Stop clears the typing state after an explicit stop. It reports whether
// who was typing.
func (t *Tracker) Stop(room domain.RoomKey, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := entryKey{room: room, userID: userID}
	e, ok := t.entries[k]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(t.entries, k)
	return true
}

// StopSession forces a stop for every typing state that sessionID
// started, optionally limited to one room. Callers use it on leave and on
// disconnect.
func (t *Tracker) StopSession(sessionID string, room *domain.RoomKey) {
	type stopped struct {
		room domain.RoomKey
		who  domain.Identity
	}
	var out []stopped

	t.mu.Lock()
	for k, e := range t.entries {
		if e.sessionID != sessionID {
			continue
		}
		if room != nil && k.room != *room {
			continue
		}
		e.timer.Stop()
		delete(t.entries, k)
		out = append(out, stopped{room: k.room, who: e.who})
	}
	t.mu.Unlock()

	for _, s := range out {
		t.fire(s.room, s.who, sessionID)
	}
}

// StopAll cancels every pending timer without firing callbacks.
func (t *Tracker) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, k)
	}
}

// Typing lists who is currently typing in room, ordered by username.
func (t *Tracker) Typing(room domain.RoomKey) []domain.Identity {
	t.mu.Lock()
	out := make([]domain.Identity, 0, len(t.entries))
	for k, e := range t.entries {
		if k.room == room {
			out = append(out, e.who)
		}
	}
	t.mu.Unlock()

	domain.SortIdentities(out)
	return out
}

func (t *Tracker) expire(k entryKey, gen uint64) {
	t.mu.Lock()
	e, ok := t.entries[k]
	if !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.entries, k)
	who, sessionID := e.who, e.sessionID
	t.mu.Unlock()

	t.fire(k.room, who, sessionID)
}

func (t *Tracker) fire(room domain.RoomKey, who domain.Identity, sessionID string) {
	if t.onStop != nil {
		t.onStop(room, who, sessionID)
	}
}
