package router

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/campaign-live/pkg/database"
	"github.com/weiawesome/campaign-live/session-service/internal/config"
	"github.com/weiawesome/campaign-live/session-service/internal/dice"
	"github.com/weiawesome/campaign-live/session-service/internal/domain"
	"github.com/weiawesome/campaign-live/session-service/internal/hub"
	"github.com/weiawesome/campaign-live/session-service/internal/repository"
)

const campaignID = "42"

var (
	mainRoom = domain.RoomKey{CampaignID: campaignID}
	oocRoom  = domain.RoomKey{CampaignID: campaignID, Subroom: "ooc"}
)

type fakeOracle struct {
	mu      sync.Mutex
	gm      string
	members map[string]bool
	err     error
	panics  bool
}

func (o *fakeOracle) IsMember(_ context.Context, _ string, userID string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.panics {
		panic("oracle exploded")
	}
	if o.err != nil {
		return false, o.err
	}
	return userID == o.gm || o.members[userID], nil
}

func (o *fakeOracle) GMUserID(context.Context, string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return "", o.err
	}
	return o.gm, nil
}

func (o *fakeOracle) fail(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	router   *Router
	hub      *hub.Hub
	oracle   *fakeOracle
	messages *repository.GormMessageStore
	rolls    *repository.GormRollLog
	clock    *fakeClock
}

func newHarness(t *testing.T, rules Rules) *harness {
	t.Helper()
	db, err := database.New(&database.Config{Driver: "sqlite"})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db, repository.Models()...))

	ids := repository.NewIDGenerator()
	h := &harness{
		hub: hub.NewHub(),
		oracle: &fakeOracle{
			gm:      "gm",
			members: map[string]bool{"alice": true, "bob": true, "carol": true},
		},
		messages: repository.NewGormMessageStore(db, ids),
		rolls:    repository.NewGormRollLog(db, ids),
		clock:    &fakeClock{now: time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)},
	}
	h.router = New(Deps{
		Hub:      h.hub,
		Oracle:   h.oracle,
		Messages: h.messages,
		Rolls:    h.rolls,
		Roller:   dice.NewSeededRoller(7),
		Clock:    h.clock.Now,
	}, rules)
	t.Cleanup(h.router.Shutdown)
	return h
}

func (h *harness) connect(sessionID, userID string) *hub.Client {
	c := hub.NewClient(sessionID, h.hub, nil, domain.Identity{UserID: userID, Username: userID}, config.WebSocketConfig{})
	h.hub.Register(c)
	return c
}

func (h *harness) send(c *hub.Client, msgType string, payload interface{}) {
	data, err := domain.EncodeFrame(msgType, "req-"+msgType, payload)
	if err != nil {
		panic(err)
	}
	h.router.Handle(c, data)
}

// join joins c to key and discards the chat-history reply.
func (h *harness) join(t *testing.T, c *hub.Client, key domain.RoomKey) {
	t.Helper()
	h.send(c, domain.MsgTypeJoinRoom, domain.RoomRef{CampaignID: key.CampaignID, Room: key.Subroom})
	expect(t, c, domain.MsgTypeChatHistory)
}

func ref(key domain.RoomKey) domain.RoomRef {
	return domain.RoomRef{CampaignID: key.CampaignID, Room: key.Subroom}
}

func drain(c *hub.Client) []domain.Frame {
	var out []domain.Frame
	for {
		select {
		case data := <-c.Send:
			var f domain.Frame
			if err := json.Unmarshal(data, &f); err != nil {
				panic(err)
			}
			out = append(out, f)
		default:
			return out
		}
	}
}

func expect(t *testing.T, c *hub.Client, msgType string) domain.Frame {
	t.Helper()
	select {
	case data := <-c.Send:
		var f domain.Frame
		require.NoError(t, json.Unmarshal(data, &f))
		require.Equal(t, msgType, f.Type, "payload: %s", f.Payload)
		return f
	default:
		t.Fatalf("%s: expected %s, got nothing", c.ID, msgType)
		return domain.Frame{}
	}
}

func expectError(t *testing.T, c *hub.Client, kind domain.ErrorKind) domain.ErrorPayload {
	t.Helper()
	f := expect(t, c, domain.MsgTypeError)
	p := decode[domain.ErrorPayload](t, f)
	assert.Equal(t, kind, p.Kind, p.Message)
	return p
}

func expectNothing(t *testing.T, clients ...*hub.Client) {
	t.Helper()
	for _, c := range clients {
		assert.Empty(t, drain(c), "unexpected frames for %s", c.ID)
	}
}

func decode[T any](t *testing.T, f domain.Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Payload, &v))
	return v
}

func TestJoinScenario(t *testing.T) {
	h := newHarness(t, Rules{})
	alice := h.connect("s-alice", "alice")
	bob := h.connect("s-bob", "bob")

	h.send(alice, domain.MsgTypeJoinRoom, ref(mainRoom))
	history := decode[domain.ChatHistoryPayload](t, expect(t, alice, domain.MsgTypeChatHistory))
	assert.Equal(t, mainRoom, history.RoomKey)
	assert.Empty(t, history.Messages)
	assert.Equal(t, []domain.Identity{{UserID: "alice", Username: "alice"}}, history.Occupants)

	h.send(bob, domain.MsgTypeJoinRoom, ref(mainRoom))
	joined := decode[domain.UserEventPayload](t, expect(t, alice, domain.MsgTypeUserJoined))
	assert.Equal(t, "bob", joined.UserID)
	history = decode[domain.ChatHistoryPayload](t, expect(t, bob, domain.MsgTypeChatHistory))
	assert.Len(t, history.Occupants, 2)
	expectNothing(t, alice, bob)

	// Re-joining only resends history.
	h.send(bob, domain.MsgTypeJoinRoom, ref(mainRoom))
	expect(t, bob, domain.MsgTypeChatHistory)
	expectNothing(t, alice, bob)
}

func TestJoinRequiresMembership(t *testing.T) {
	h := newHarness(t, Rules{})
	alice := h.connect("s-alice", "alice")
	mallory := h.connect("s-mallory", "mallory")
	h.join(t, alice, mainRoom)

	h.send(mallory, domain.MsgTypeJoinRoom, ref(mainRoom))
	expectError(t, mallory, domain.KindUnauthorized)
	assert.False(t, h.hub.IsMember(mallory, mainRoom))
	expectNothing(t, alice)
}

func TestJoinUpstreamFailure(t *testing.T) {
	h := newHarness(t, Rules{})
	alice := h.connect("s-alice", "alice")
	h.oracle.fail(errors.New("connection reset by peer"))

	h.send(alice, domain.MsgTypeJoinRoom, ref(mainRoom))
	p := expectError(t, alice, domain.KindServerError)
	assert.NotContains(t, p.Message, "connection reset")
	assert.Equal(t, domain.MsgTypeJoinRoom, p.Event)
	assert.False(t, h.hub.IsMember(alice, mainRoom))
}

func TestLeaveNotifiesRemaining(t *testing.T) {
	h := newHarness(t, Rules{})
	alice := h.connect("s-alice", "alice")
	bob := h.connect("s-bob", "bob")
	h.join(t, alice, mainRoom)
	h.join(t, bob, mainRoom)
	drain(alice)

	h.send(bob, domain.MsgTypeLeaveRoom, ref(mainRoom))
	left := decode[domain.UserEventPayload](t, expect(t, alice, domain.MsgTypeUserLeft))
	assert.Equal(t, "bob", left.UserID)
	expectNothing(t, bob)

	// Leaving a room that was never joined is a no-op.
	h.send(bob, domain.MsgTypeLeaveRoom, ref(oocRoom))
	expectNothing(t, alice, bob)
}

func TestDisconnectLeavesEveryRoom(t *testing.T) {
	h := newHarness(t, Rules{})
	alice := h.connect("s-alice", "alice")
	bob := h.connect("s-bob", "bob")
	carol := h.connect("s-carol", "carol")
	h.join(t, alice, mainRoom)
	h.join(t, alice, oocRoom)
	h.join(t, bob, mainRoom)
	h.join(t, carol, oocRoom)
	drain(alice)

	h.router.Disconnect(alice)

	assert.Equal(t, "alice", decode[domain.UserEventPayload](t, expect(t, bob, domain.MsgTypeUserLeft)).UserID)
	assert.Equal(t, oocRoom, decode[domain.UserEventPayload](t, expect(t, carol, domain.MsgTypeUserLeft)).RoomKey)
	expectNothing(t, bob, carol)
	assert.False(t, h.hub.IsMember(alice, mainRoom))
	assert.Equal(t, 2, h.hub.SessionCount())

	h.router.Disconnect(alice)
	expectNothing(t, bob, carol)
}

func TestSendMessage(t *testing.T) {
	h := newHarness(t, Rules{})
	alice := h.connect("s-alice", "alice")
	bob := h.connect("s-bob", "bob")
	h.join(t, alice, mainRoom)
	h.join(t, bob, mainRoom)
	drain(alice)

	h.send(alice, domain.MsgTypeSendMessage, domain.SendMessagePayload{
		RoomRef:     ref(mainRoom),
		Content:     "  I open the door  ",
		CharacterID: "char-7",
	})
	for _, c := range []*hub.Client{alice, bob} {
		p := decode[domain.MessagePayload](t, expect(t, c, domain.MsgTypeNewMessage))
		assert.Equal(t, "I open the door", p.Message.Content)
		assert.Equal(t, "char-7", p.Message.CharacterID)
		assert.Equal(t, "alice", p.Message.AuthorID)
	}

	stored, err := h.messages.Recent(context.Background(), mainRoom, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestSendMessageValidation(t *testing.T) {
	h := newHarness(t, Rules{})
	alice := h.connect("s-alice", "alice")
	h.join(t, alice, mainRoom)

	for _, content := range []string{"", "   \n\t", strings.Repeat("é", 2001)} {
		h.send(alice, domain.MsgTypeSendMessage, domain.SendMessagePayload{RoomRef: ref(mainRoom), Content: content})
		expectError(t, alice, domain.KindValidationFailed)
	}

	h.send(alice, domain.MsgTypeSendMessage, domain.SendMessagePayload{RoomRef: ref(mainRoom), Content: strings.Repeat("é", 2000)})
	expect(t, alice, domain.MsgTypeNewMessage)
}

func TestNonMemberSendIsRejectedAndNotPersisted(t *testing.T) {
	h := newHarness(t, Rules{})
	alice := h.connect("s-alice", "alice")
	bob := h.connect("s-bob", "bob")
	h.join(t, alice, mainRoom)

	h.send(bob, domain.MsgTypeSendMessage, domain.SendMessagePayload{RoomRef: ref(mainRoom), Content: "sneaky"})
	expectError(t, bob, domain.KindUnauthorized)
	expectNothing(t, alice)

	stored, err := h.messages.Recent(context.Background(), mainRoom, 10)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func postMessage(t *testing.T, h *harness, c *hub.Client, key domain.RoomKey, content string) *domain.Message {
	t.Helper()
	h.send(c, domain.MsgTypeSendMessage, domain.SendMessagePayload{RoomRef: ref(key), Content: content})
	p := decode[domain.MessagePayload](t, expect(t, c, domain.MsgTypeNewMessage))
	return p.Message
}

func TestEditWindowAndOwnership(t *testing.T) {
	h := newHarness(t, Rules{})
	alice := h.connect("s-alice", "alice")
	bob := h.connect("s-bob", "bob")
	h.join(t, alice, mainRoom)
	h.join(t, bob, mainRoom)
	drain(alice)

	msg := postMessage(t, h, alice, mainRoom, "first draft")
	drain(bob)

	h.clock.Advance(10 * time.Minute)
	h.send(bob, domain.MsgTypeEditMessage, domain.EditMessagePayload{RoomRef: ref(mainRoom), MessageID: msg.ID, Content: "hijack"})
	expectError(t, bob, domain.KindUnauthorized)

	h.send(alice, domain.MsgTypeEditMessage, domain.EditMessagePayload{RoomRef: ref(mainRoom), MessageID: msg.ID, Content: "final draft"})
	for _, c := range []*hub.Client{alice, bob} {
		p := decode[domain.MessagePayload](t, expect(t, c, domain.MsgTypeMessageEdited))
		assert.Equal(t, "final draft", p.Message.Content)
		assert.True(t, p.Message.IsEdited)
	}

	// Past the window every editor gets the same answer.
	h.clock.Advance(6 * time.Minute)
	for _, c := range []*hub.Client{alice, bob} {
		h.send(c, domain.MsgTypeEditMessage, domain.EditMessagePayload{RoomRef: ref(mainRoom), MessageID: msg.ID, Content: "too late"})
		expectError(t, c, domain.KindEditWindowExpired)
	}

	// The edit survives a history reload.
	carol := h.connect("s-carol", "carol")
	h.send(carol, domain.MsgTypeJoinRoom, ref(mainRoom))
	history := decode[domain.ChatHistoryPayload](t, expect(t, carol, domain.MsgTypeChatHistory))
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "final draft", history.Messages[0].Content)
	assert.True(t, history.Messages[0].IsEdited)
}

func TestDeleteByAuthorOrGM(t *testing.T) {
	h := newHarness(t, Rules{})
	alice := h.connect("s-alice", "alice")
	bob := h.connect("s-bob", "bob")
	gm := h.connect("s-gm", "gm")
	h.join(t, alice, mainRoom)
	h.join(t, bob, mainRoom)
	h.join(t, gm, mainRoom)
	drain(alice)
	drain(bob)

	first := postMessage(t, h, alice, mainRoom, "one")
	second := postMessage(t, h, alice, mainRoom, "two")
	drain(bob)
	drain(gm)

	h.send(bob, domain.MsgTypeDeleteMessage, domain.DeleteMessagePayload{RoomRef: ref(mainRoom), MessageID: first.ID})
	expectError(t, bob, domain.KindUnauthorized)
	expectNothing(t, alice, gm)

	h.send(alice, domain.MsgTypeDeleteMessage, domain.DeleteMessagePayload{RoomRef: ref(mainRoom), MessageID: first.ID})
	p := decode[domain.MessageDeletedPayload](t, expect(t, bob, domain.MsgTypeMessageDeleted))
	assert.Equal(t, first.ID, p.MessageID)
	assert.Equal(t, "alice", p.DeletedBy)
	drain(alice)
	drain(gm)

	h.send(gm, domain.MsgTypeDeleteMessage, domain.DeleteMessagePayload{RoomRef: ref(mainRoom), MessageID: second.ID})
	p = decode[domain.MessageDeletedPayload](t, expect(t, alice, domain.MsgTypeMessageDeleted))
	assert.Equal(t, "gm", p.DeletedBy)
	drain(bob)
	drain(gm)

	// Deleted messages are gone for every message-scoped event.
	h.send(alice, domain.MsgTypeEditMessage, domain.EditMessagePayload{RoomRef: ref(mainRoom), MessageID: first.ID, Content: "undo"})
	expectError(t, alice, domain.KindNotFound)
	h.send(alice, domain.MsgTypeAddReaction, domain.ReactionPayload{RoomRef: ref(mainRoom), MessageID: first.ID, Emoji: "👍"})
	expectError(t, alice, domain.KindNotFound)
}

func TestMessageMustBelongToAddressedRoom(t *testing.T) {
	h := newHarness(t, Rules{})
	alice := h.connect("s-alice", "alice")
	h.join(t, alice, mainRoom)
	h.join(t, alice, oocRoom)

	msg := postMessage(t, h, alice, mainRoom, "in main")

	h.send(alice, domain.MsgTypeEditMessage, domain.EditMessagePayload{RoomRef: ref(oocRoom), MessageID: msg.ID, Content: "moved"})
	expectError(t, alice, domain.KindNotFound)
	h.send(alice, domain.MsgTypeDeleteMessage, domain.DeleteMessagePayload{RoomRef: ref(oocRoom), MessageID: "missing"})
	expectError(t, alice, domain.KindNotFound)
}

func TestReactionToggle(t *testing.T) {
	h := newHarness(t, Rules{})
	alice := h.connect("s-alice", "alice")
	bob := h.connect("s-bob", "bob")
	h.join(t, alice, mainRoom)
	h.join(t, bob, mainRoom)
	drain(alice)
	msg := postMessage(t, h, alice, mainRoom, "nat 20!")
	drain(bob)

	react := domain.ReactionPayload{RoomRef: ref(mainRoom), MessageID: msg.ID, Emoji: "🎲"}

	h.send(bob, domain.MsgTypeAddReaction, react)
	p := decode[domain.ReactionChangedPayload](t, expect(t, alice, domain.MsgTypeReactionAdded))
	assert.Equal(t, "bob", p.UserID)
	assert.Equal(t, map[string][]string{"🎲": {"bob"}}, p.Reactions)
	expect(t, bob, domain.MsgTypeReactionAdded)

	// A second add by the same user toggles it off.
	h.send(bob, domain.MsgTypeAddReaction, react)
	p = decode[domain.ReactionChangedPayload](t, expect(t, alice, domain.MsgTypeReactionRemoved))
	assert.Empty(t, p.Reactions)
	expect(t, bob, domain.MsgTypeReactionRemoved)

	// Removing a reaction that is not there changes nothing.
	h.send(bob, domain.MsgTypeRemoveReaction, react)
	expectNothing(t, alice, bob)

	h.send(bob, domain.MsgTypeAddReaction, react)
	drain(alice)
	drain(bob)
	h.send(bob, domain.MsgTypeRemoveReaction, react)
	expect(t, alice, domain.MsgTypeReactionRemoved)
}

func TestReactionPolicy(t *testing.T) {
	h := newHarness(t, Rules{AllowedReactions: []string{"👍", "🎲"}})
	alice := h.connect("s-alice", "alice")
	h.join(t, alice, mainRoom)
	msg := postMessage(t, h, alice, mainRoom, "hello")

	for _, emoji := range []string{"", "a b", strings.Repeat("x", 17), "🔥"} {
		h.send(alice, domain.MsgTypeAddReaction, domain.ReactionPayload{RoomRef: ref(mainRoom), MessageID: msg.ID, Emoji: emoji})
		expectError(t, alice, domain.KindValidationFailed)
		h.send(alice, domain.MsgTypeRemoveReaction, domain.ReactionPayload{RoomRef: ref(mainRoom), MessageID: msg.ID, Emoji: emoji})
		expectError(t, alice, domain.KindValidationFailed)
	}

	h.send(alice, domain.MsgTypeAddReaction, domain.ReactionPayload{RoomRef: ref(mainRoom), MessageID: msg.ID, Emoji: "👍"})
	expect(t, alice, domain.MsgTypeReactionAdded)
}

func TestPrivateRollGoesToGMOnly(t *testing.T) {
	h := newHarness(t, Rules{})
	alice := h.connect("s-alice", "alice")
	bob := h.connect("s-bob", "bob")
	gmDesk := h.connect("s-gm-1", "gm")
	gmPhone := h.connect("s-gm-2", "gm")
	for _, c := range []*hub.Client{alice, bob, gmDesk} {
		h.join(t, c, mainRoom)
	}
	drain(alice)
	drain(bob)
	drain(gmDesk)

	h.send(alice, domain.MsgTypeRollDice, domain.RollDicePayload{RoomRef: ref(mainRoom), Notation: "1d20+5", IsPrivate: true})

	ack := expect(t, alice, domain.MsgTypePrivateDiceRollAck)
	assert.Equal(t, "req-"+domain.MsgTypeRollDice, ack.RequestID)
	roll := decode[domain.DiceRollPayload](t, ack).Roll
	assert.True(t, roll.IsPrivate)
	assert.Equal(t, "1d20+5", roll.Notation)
	assert.Equal(t, roll.Rolls[0]+5, roll.Total)

	for _, c := range []*hub.Client{gmDesk, gmPhone} {
		got := decode[domain.DiceRollPayload](t, expect(t, c, domain.MsgTypePrivateDiceRoll)).Roll
		assert.Equal(t, roll.ID, got.ID)
		assert.Equal(t, roll.Total, got.Total)
	}
	expectNothing(t, alice, bob, gmDesk, gmPhone)

	logged, err := h.rolls.Recent(context.Background(), mainRoom, repository.AllRolls, 10)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, roll.ID, logged[0].ID)
}

func TestPrivateRollWithGMOffline(t *testing.T) {
	h := newHarness(t, Rules{})
	alice := h.connect("s-alice", "alice")
	h.join(t, alice, mainRoom)

	h.send(alice, domain.MsgTypeRollDice, domain.RollDicePayload{RoomRef: ref(mainRoom), Notation: "d6", IsPrivate: true})
	expect(t, alice, domain.MsgTypePrivateDiceRollAck)

	logged, err := h.rolls.Recent(context.Background(), mainRoom, "alice", 10)
	require.NoError(t, err)
	assert.Len(t, logged, 1)
}

func TestPublicRollReachesWholeRoom(t *testing.T) {
	h := newHarness(t, Rules{})
	alice := h.connect("s-alice", "alice")
	bob := h.connect("s-bob", "bob")
	h.join(t, alice, mainRoom)
	h.join(t, bob, mainRoom)
	drain(alice)

	h.send(alice, domain.MsgTypeRollDice, domain.RollDicePayload{RoomRef: ref(mainRoom), Notation: "3d6-1", Label: "stealth"})
	for _, c := range []*hub.Client{alice, bob} {
		roll := decode[domain.DiceRollPayload](t, expect(t, c, domain.MsgTypePublicDiceRoll)).Roll
		assert.Len(t, roll.Rolls, 3)
		assert.Equal(t, "stealth", roll.Label)
		assert.False(t, roll.IsPrivate)
	}
}

func TestRollValidation(t *testing.T) {
	h := newHarness(t, Rules{})
	alice := h.connect("s-alice", "alice")
	h.join(t, alice, mainRoom)

	for _, notation := range []string{"", "fireball", "0d6", "101d6", "1d1", "1d1001", "1d20+1001"} {
		h.send(alice, domain.MsgTypeRollDice, domain.RollDicePayload{RoomRef: ref(mainRoom), Notation: notation})
		expectError(t, alice, domain.KindValidationFailed)
	}
}

func TestGMOnlyBroadcasts(t *testing.T) {
	h := newHarness(t, Rules{})
	alice := h.connect("s-alice", "alice")
	gm := h.connect("s-gm", "gm")
	h.join(t, alice, mainRoom)
	h.join(t, gm, mainRoom)
	drain(alice)

	update := domain.UpdatePayload{RoomRef: ref(mainRoom), Data: json.RawMessage(`{"name":"Curse of Strahd"}`)}

	for _, msgType := range []string{domain.MsgTypeCampaignUpdated, domain.MsgTypeInitiativeUpdate} {
		h.send(alice, msgType, update)
		expectError(t, alice, domain.KindUnauthorized)
		expectNothing(t, gm)
	}
	h.send(alice, domain.MsgTypeSessionStatusChange, domain.SessionStatusPayload{RoomRef: ref(mainRoom), Status: domain.SessionStatusActive})
	expectError(t, alice, domain.KindUnauthorized)

	h.send(gm, domain.MsgTypeCampaignUpdated, update)
	p := decode[domain.BroadcastPayload](t, expect(t, alice, domain.MsgTypeCampaignUpdated))
	assert.JSONEq(t, `{"name":"Curse of Strahd"}`, string(p.Data))
	expectNothing(t, gm)

	h.send(gm, domain.MsgTypeInitiativeUpdate, update)
	expect(t, alice, domain.MsgTypeInitiativeUpdated)
	expect(t, gm, domain.MsgTypeInitiativeUpdated)

	h.send(gm, domain.MsgTypeSessionStatusChange, domain.SessionStatusPayload{RoomRef: ref(mainRoom), Status: "napping"})
	expectError(t, gm, domain.KindValidationFailed)

	h.send(gm, domain.MsgTypeSessionStatusChange, domain.SessionStatusPayload{RoomRef: ref(mainRoom), Status: domain.SessionStatusPaused})
	for _, c := range []*hub.Client{alice, gm} {
		assert.Equal(t, domain.SessionStatusPaused, decode[domain.BroadcastPayload](t, expect(t, c, domain.MsgTypeSessionStatusChanged)).Status)
	}
}

func TestCharacterUpdatedExcludesSender(t *testing.T) {
	h := newHarness(t, Rules{})
	alice := h.connect("s-alice", "alice")
	bob := h.connect("s-bob", "bob")
	h.join(t, alice, mainRoom)
	h.join(t, bob, mainRoom)
	drain(alice)

	h.send(alice, domain.MsgTypeCharacterUpdated, domain.UpdatePayload{RoomRef: ref(mainRoom), CharacterID: "char-1", Data: json.RawMessage(`{"hp":12}`)})
	p := decode[domain.BroadcastPayload](t, expect(t, bob, domain.MsgTypeCharacterUpdated))
	assert.Equal(t, "char-1", p.CharacterID)
	expectNothing(t, alice)
}

func TestTypingIndicators(t *testing.T) {
	h := newHarness(t, Rules{TypingTimeout: 50 * time.Millisecond})
	alice := h.connect("s-alice", "alice")
	bob := h.connect("s-bob", "bob")
	h.join(t, alice, mainRoom)
	h.join(t, bob, mainRoom)
	drain(alice)

	h.send(alice, domain.MsgTypeTypingStart, ref(mainRoom))
	assert.Equal(t, "alice", decode[domain.UserEventPayload](t, expect(t, bob, domain.MsgTypeUserTypingStart)).UserID)
	expectNothing(t, alice)

	// Idle timeout forces a stop.
	require.Eventually(t, func() bool { return len(bob.Send) == 1 }, time.Second, 5*time.Millisecond)
	expect(t, bob, domain.MsgTypeUserTypingStop)

	// Explicit stop.
	h.send(alice, domain.MsgTypeTypingStart, ref(mainRoom))
	expect(t, bob, domain.MsgTypeUserTypingStart)
	h.send(alice, domain.MsgTypeTypingStop, ref(mainRoom))
	expect(t, bob, domain.MsgTypeUserTypingStop)

	// Leaving forces a stop before user-left.
	h.send(alice, domain.MsgTypeTypingStart, ref(mainRoom))
	expect(t, bob, domain.MsgTypeUserTypingStart)
	h.send(alice, domain.MsgTypeLeaveRoom, ref(mainRoom))
	expect(t, bob, domain.MsgTypeUserTypingStop)
	expect(t, bob, domain.MsgTypeUserLeft)

	time.Sleep(100 * time.Millisecond)
	expectNothing(t, alice, bob)
}

func TestMalformedFrames(t *testing.T) {
	h := newHarness(t, Rules{})
	alice := h.connect("s-alice", "alice")

	h.router.Handle(alice, []byte(`not json`))
	expectError(t, alice, domain.KindValidationFailed)

	h.router.Handle(alice, []byte(`{"type":"cast-spell","request_id":"r1"}`))
	p := expectError(t, alice, domain.KindValidationFailed)
	assert.Equal(t, "cast-spell", p.Event)

	h.router.Handle(alice, []byte(`{"type":"send-message","payload":"oops"}`))
	expectError(t, alice, domain.KindValidationFailed)

	h.router.Handle(alice, []byte(`{"type":"join-room","payload":{"campaign_id":"a/b"}}`))
	expectError(t, alice, domain.KindValidationFailed)

	h.router.Handle(alice, []byte(`{"type":"ping","request_id":"r2"}`))
	pong := expect(t, alice, domain.MsgTypePong)
	assert.Equal(t, "r2", pong.RequestID)
}

func TestPanicIsIsolatedToSession(t *testing.T) {
	h := newHarness(t, Rules{})
	alice := h.connect("s-alice", "alice")
	bob := h.connect("s-bob", "bob")
	h.join(t, bob, mainRoom)

	h.oracle.mu.Lock()
	h.oracle.panics = true
	h.oracle.mu.Unlock()

	h.send(alice, domain.MsgTypeJoinRoom, ref(mainRoom))
	expectError(t, alice, domain.KindServerError)
	expectNothing(t, bob)

	h.oracle.mu.Lock()
	h.oracle.panics = false
	h.oracle.mu.Unlock()

	h.send(alice, domain.MsgTypeJoinRoom, ref(mainRoom))
	expect(t, alice, domain.MsgTypeChatHistory)
	expect(t, bob, domain.MsgTypeUserJoined)
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes map[string]string
}

func (o *recordingObserver) ObserveEvent(eventType, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes[eventType] = outcome
}

func TestObserverSeesOutcomes(t *testing.T) {
	obs := &recordingObserver{outcomes: map[string]string{}}
	db, err := database.New(&database.Config{Driver: "sqlite"})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db, repository.Models()...))
	ids := repository.NewIDGenerator()
	h := hub.NewHub()
	r := New(Deps{
		Hub:      h,
		Oracle:   &fakeOracle{gm: "gm"},
		Messages: repository.NewGormMessageStore(db, ids),
		Rolls:    repository.NewGormRollLog(db, ids),
		Observer: obs,
	}, RulesFromConfig(config.SessionConfig{}))
	defer r.Shutdown()

	c := hub.NewClient("s-1", h, nil, domain.Identity{UserID: "gm", Username: "gm"}, config.WebSocketConfig{})
	h.Register(c)

	r.Handle(c, []byte(`{"type":"ping"}`))
	r.Handle(c, []byte(`{"type":"send-message","payload":{"campaign_id":"42","content":"hi"}}`))
	r.Handle(c, []byte(`{"type":"join-room","payload":{"campaign_id":"42"}}`))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, outcomeOK, obs.outcomes[domain.MsgTypePing])
	assert.Equal(t, outcomeRejected, obs.outcomes[domain.MsgTypeSendMessage])
	assert.Equal(t, outcomeOK, obs.outcomes[domain.MsgTypeJoinRoom])
}

func TestDisconnectWhileTypingStopsTyping(t *testing.T) {
	h := newHarness(t, Rules{TypingTimeout: time.Hour})
	alice := h.connect("s-alice", "alice")
	bob := h.connect("s-bob", "bob")
	h.join(t, alice, mainRoom)
	h.join(t, bob, mainRoom)
	drain(alice)

	h.send(alice, domain.MsgTypeTypingStart, ref(mainRoom))
	expect(t, bob, domain.MsgTypeUserTypingStart)

	h.router.Disconnect(alice)

	stop := decode[domain.UserEventPayload](t, expect(t, bob, domain.MsgTypeUserTypingStop))
	assert.Equal(t, "alice", stop.UserID)
	assert.Equal(t, mainRoom, stop.RoomKey)
	expect(t, bob, domain.MsgTypeUserLeft)
	expectNothing(t, bob)
}

func TestPrivateRollAckedWhenGMLookupFails(t *testing.T) {
	h := newHarness(t, Rules{})
	alice := h.connect("s-alice", "alice")
	gm := h.connect("s-gm", "gm")
	h.join(t, alice, mainRoom)
	h.join(t, gm, mainRoom)
	drain(alice)

	h.oracle.fail(errors.New("connection reset by peer"))
	h.send(alice, domain.MsgTypeRollDice, domain.RollDicePayload{RoomRef: ref(mainRoom), Notation: "1d20", IsPrivate: true})

	ack := decode[domain.DiceRollPayload](t, expect(t, alice, domain.MsgTypePrivateDiceRollAck))
	assert.True(t, ack.Roll.IsPrivate)
	expectNothing(t, alice, gm)

	logged, err := h.rolls.Recent(context.Background(), mainRoom, repository.AllRolls, 10)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, ack.Roll.ID, logged[0].ID)
}

func TestChatHistoryCarriesRollsAndTyping(t *testing.T) {
	h := newHarness(t, Rules{TypingTimeout: time.Hour})
	alice := h.connect("s-alice", "alice")
	bob := h.connect("s-bob", "bob")
	h.join(t, alice, mainRoom)
	h.join(t, bob, mainRoom)

	h.send(alice, domain.MsgTypeRollDice, domain.RollDicePayload{RoomRef: ref(mainRoom), Notation: "1d20"})
	h.send(bob, domain.MsgTypeRollDice, domain.RollDicePayload{RoomRef: ref(mainRoom), Notation: "1d6", IsPrivate: true})
	h.send(alice, domain.MsgTypeTypingStart, ref(mainRoom))
	drain(alice)
	drain(bob)

	carol := h.connect("s-carol", "carol")
	h.send(carol, domain.MsgTypeJoinRoom, ref(mainRoom))
	history := decode[domain.ChatHistoryPayload](t, expect(t, carol, domain.MsgTypeChatHistory))
	require.Len(t, history.Rolls, 1)
	assert.Equal(t, "1d20", history.Rolls[0].Notation)
	assert.Equal(t, []domain.Identity{{UserID: "alice", Username: "alice"}}, history.Typing)

	h.send(bob, domain.MsgTypeJoinRoom, ref(mainRoom))
	history = decode[domain.ChatHistoryPayload](t, expect(t, bob, domain.MsgTypeChatHistory))
	assert.Len(t, history.Rolls, 2)

	gm := h.connect("s-gm", "gm")
	h.send(gm, domain.MsgTypeJoinRoom, ref(mainRoom))
	history = decode[domain.ChatHistoryPayload](t, expect(t, gm, domain.MsgTypeChatHistory))
	require.Len(t, history.Rolls, 2)
	notations := []string{history.Rolls[0].Notation, history.Rolls[1].Notation}
	assert.ElementsMatch(t, []string{"1d20", "1d6"}, notations)
}
