package domain

import (
	"sort"
	"time"
)

// Message is the persisted chat message as seen by clients.
type Message struct {
	ID          string              `json:"id"`
	CampaignID  string              `json:"campaign_id"`
	Room        string              `json:"room,omitempty"`
	AuthorID    string              `json:"author_id"`
	AuthorName  string              `json:"author_name"`
	CharacterID string              `json:"character_id,omitempty"`
	Content     string              `json:"content"`
	CreatedAt   time.Time           `json:"created_at"`
	EditedAt    *time.Time          `json:"edited_at,omitempty"`
	IsEdited    bool                `json:"is_edited"`
	DeletedAt   *time.Time          `json:"deleted_at,omitempty"`
	DeletedBy   string              `json:"deleted_by,omitempty"`
	IsDeleted   bool                `json:"is_deleted"`
	Reactions   map[string][]string `json:"reactions"`
}

// RoomKey returns the room the message belongs to.
func (m *Message) RoomKey() RoomKey {
	return RoomKey{CampaignID: m.CampaignID, Subroom: m.Room}
}

// HasReaction reports whether userID reacted with emoji.
func (m *Message) HasReaction(emoji, userID string) bool {
	for _, id := range m.Reactions[emoji] {
		if id == userID {
			return true
		}
	}
	return false
}

// NewMessage is the input to the message store.
type NewMessage struct {
	Room        RoomKey
	AuthorID    string
	AuthorName  string
	CharacterID string
	Content     string
	CreatedAt   time.Time
}

// DiceRoll is the server-computed outcome of a roll-dice event.
type DiceRoll struct {
	ID          string    `json:"id"`
	CampaignID  string    `json:"campaign_id"`
	Room        string    `json:"room,omitempty"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	CharacterID string    `json:"character_id,omitempty"`
	Label       string    `json:"label,omitempty"`
	Notation    string    `json:"notation"`
	Rolls       []int     `json:"rolls"`
	Modifier    int       `json:"modifier"`
	Total       int       `json:"total"`
	IsPrivate   bool      `json:"is_private"`
	CreatedAt   time.Time `json:"created_at"`
}

// SortIdentities orders occupants by username, then user id.
func SortIdentities(ids []Identity) {
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Username != ids[j].Username {
			return ids[i].Username < ids[j].Username
		}
		return ids[i].UserID < ids[j].UserID
	})
}
