package domain

import (
	"encoding/json"
)

// WebSocket message types from client.
const (
	MsgTypeJoinRoom            = "join-room"
	MsgTypeLeaveRoom           = "leave-room"
	MsgTypeSendMessage         = "send-message"
	MsgTypeEditMessage         = "edit-message"
	MsgTypeDeleteMessage       = "delete-message"
	MsgTypeAddReaction         = "add-reaction"
	MsgTypeRemoveReaction      = "remove-reaction"
	MsgTypeTypingStart         = "typing-start"
	MsgTypeTypingStop          = "typing-stop"
	MsgTypeRollDice            = "roll-dice"
	MsgTypeCampaignUpdated     = "campaign-updated"
	MsgTypeCharacterUpdated    = "character-updated"
	MsgTypeInitiativeUpdate    = "initiative-update"
	MsgTypeSessionStatusChange = "session-status-change"
	MsgTypePing                = "ping"
)

// WebSocket message types to client.
const (
	MsgTypeChatHistory          = "chat-history"
	MsgTypeNewMessage           = "new-message"
	MsgTypeMessageEdited        = "message-edited"
	MsgTypeMessageDeleted       = "message-deleted"
	MsgTypeReactionAdded        = "reaction-added"
	MsgTypeReactionRemoved      = "reaction-removed"
	MsgTypeUserJoined           = "user-joined"
	MsgTypeUserLeft             = "user-left"
	MsgTypeUserTypingStart      = "user-typing-start"
	MsgTypeUserTypingStop       = "user-typing-stop"
	MsgTypePublicDiceRoll       = "public-dice-roll"
	MsgTypePrivateDiceRoll      = "private-dice-roll"
	MsgTypePrivateDiceRollAck   = "private-dice-roll-ack"
	MsgTypeInitiativeUpdated    = "initiative-updated"
	MsgTypeSessionStatusChanged = "session-status-changed"
	MsgTypePong                 = "pong"
	MsgTypeError                = "error"
)

// Session statuses accepted by session-status-change.
const (
	SessionStatusScheduled = "scheduled"
	SessionStatusActive    = "active"
	SessionStatusPaused    = "paused"
	SessionStatusEnded     = "ended"
)

// ValidSessionStatus reports whether status is a known session status.
func ValidSessionStatus(status string) bool {
	switch status {
	case SessionStatusScheduled, SessionStatusActive, SessionStatusPaused, SessionStatusEnded:
		return true
	}
	return false
}

// Frame is the envelope for every message in both directions.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EncodeFrame marshals payload into a frame ready for the wire.
func EncodeFrame(msgType, requestID string, payload interface{}) ([]byte, error) {
	frame := Frame{Type: msgType, RequestID: requestID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		frame.Payload = data
	}
	return json.Marshal(frame)
}

// Client -> Server payloads

// RoomRef names the room an event is addressed to.
type RoomRef struct {
	CampaignID string `json:"campaign_id"`
	Room       string `json:"room,omitempty"`
}

func (r RoomRef) Key() (RoomKey, error) {
	return NewRoomKey(r.CampaignID, r.Room)
}

type SendMessagePayload struct {
	RoomRef
	Content     string `json:"content"`
	CharacterID string `json:"character_id,omitempty"`
}

type EditMessagePayload struct {
	RoomRef
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

type DeleteMessagePayload struct {
	RoomRef
	MessageID string `json:"message_id"`
}

type ReactionPayload struct {
	RoomRef
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type RollDicePayload struct {
	RoomRef
	Notation    string `json:"notation"`
	Label       string `json:"label,omitempty"`
	CharacterID string `json:"character_id,omitempty"`
	IsPrivate   bool   `json:"is_private"`
}

// UpdatePayload carries campaign, character and initiative updates. Data is
// opaque to the server and relayed as-is.
type UpdatePayload struct {
	RoomRef
	CharacterID string          `json:"character_id,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

type SessionStatusPayload struct {
	RoomRef
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
}

// Server -> Client payloads

// ChatHistoryPayload is the joiner's snapshot of a room. Rolls holds the
// recent rolls the joiner may see: every roll for the GM, otherwise public
// rolls plus the joiner's own private ones.
type ChatHistoryPayload struct {
	RoomKey
	Messages  []*Message  `json:"messages"`
	Rolls     []*DiceRoll `json:"rolls"`
	Occupants []Identity  `json:"occupants"`
	Typing    []Identity  `json:"typing"`
}

type MessagePayload struct {
	RoomKey
	Message *Message `json:"message"`
}

type MessageDeletedPayload struct {
	RoomKey
	MessageID string `json:"message_id"`
	DeletedBy string `json:"deleted_by"`
}

type ReactionChangedPayload struct {
	RoomKey
	MessageID string              `json:"message_id"`
	Emoji     string              `json:"emoji"`
	UserID    string              `json:"user_id"`
	Reactions map[string][]string `json:"reactions"`
}

// UserEventPayload announces presence and typing changes.
type UserEventPayload struct {
	RoomKey
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type DiceRollPayload struct {
	RoomKey
	Roll *DiceRoll `json:"roll"`
}

// BroadcastPayload is the outbound form of update events.
type BroadcastPayload struct {
	RoomKey
	UserID      string          `json:"user_id"`
	Username    string          `json:"username"`
	CharacterID string          `json:"character_id,omitempty"`
	Status      string          `json:"status,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

type ErrorPayload struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Event   string    `json:"event,omitempty"`
}

// NewErrorFrame encodes a scoped error reply. Upstream details are never
// included.
func NewErrorFrame(requestID, event string, err *Error) []byte {
	data, encErr := EncodeFrame(MsgTypeError, requestID, ErrorPayload{
		Kind:    err.Kind,
		Message: err.Message,
		Event:   event,
	})
	if encErr != nil {
		// ErrorPayload always marshals; keep a literal fallback anyway.
		return []byte(`{"type":"error","payload":{"kind":"ServerError","message":"internal server error"}}`)
	}
	return data
}
