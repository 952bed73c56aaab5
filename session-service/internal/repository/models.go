package repository

import (
	"time"

	"github.com/weiawesome/campaign-live/session-service/internal/domain"
)

// MessageModel is the GORM model for the messages table.
type MessageModel struct {
	ID          string    `gorm:"type:varchar(26);primaryKey"`
	CampaignID  string    `gorm:"type:varchar(64);not null;index:idx_messages_room,priority:1"`
	Room        string    `gorm:"type:varchar(64);not null;default:'';index:idx_messages_room,priority:2"`
	AuthorID    string    `gorm:"type:varchar(64);not null"`
	AuthorName  string    `gorm:"type:varchar(100);not null"`
	CharacterID *string   `gorm:"type:varchar(64)"`
	Content     string    `gorm:"type:text;not null"`
	CreatedAt   time.Time `gorm:"not null;index:idx_messages_room,priority:3"`
	EditedAt    *time.Time
	IsEdited    bool `gorm:"not null;default:false"`
	DeletedAt   *time.Time
	DeletedBy   string `gorm:"type:varchar(64)"`
	IsDeleted   bool   `gorm:"not null;default:false"`
}

func (MessageModel) TableName() string {
	return "messages"
}

// ReactionModel is one (message, emoji, user) reaction.
type ReactionModel struct {
	MessageID string    `gorm:"type:varchar(26);primaryKey"`
	Emoji     string    `gorm:"type:varchar(64);primaryKey"`
	UserID    string    `gorm:"type:varchar(64);primaryKey"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (ReactionModel) TableName() string {
	return "message_reactions"
}

// DiceRollModel is the GORM model for the dice_rolls table.
type DiceRollModel struct {
	ID          string    `gorm:"type:varchar(26);primaryKey"`
	CampaignID  string    `gorm:"type:varchar(64);not null;index:idx_rolls_room,priority:1"`
	Room        string    `gorm:"type:varchar(64);not null;default:'';index:idx_rolls_room,priority:2"`
	UserID      string    `gorm:"type:varchar(64);not null"`
	Username    string    `gorm:"type:varchar(100);not null"`
	CharacterID string    `gorm:"type:varchar(64)"`
	Label       string    `gorm:"type:varchar(200)"`
	Notation    string    `gorm:"type:varchar(32);not null"`
	Rolls       string    `gorm:"type:text;not null"`
	Modifier    int       `gorm:"not null"`
	Total       int       `gorm:"not null"`
	IsPrivate   bool      `gorm:"not null;default:false"`
	CreatedAt   time.Time `gorm:"not null;index:idx_rolls_room,priority:3"`
}

func (DiceRollModel) TableName() string {
	return "dice_rolls"
}

// UserModel maps the columns of the users table this service reads.
type UserModel struct {
	ID          string `gorm:"type:varchar(64);primaryKey"`
	Username    string `gorm:"type:varchar(100);uniqueIndex;not null"`
	DisplayName string `gorm:"type:varchar(100)"`
}

func (UserModel) TableName() string {
	return "users"
}

// Models lists the tables owned by this package, for migration.
func Models() []interface{} {
	return []interface{}{&MessageModel{}, &ReactionModel{}, &DiceRollModel{}, &UserModel{}}
}

func (m *MessageModel) toDomain(reactions map[string][]string) *domain.Message {
	msg := &domain.Message{
		ID:         m.ID,
		CampaignID: m.CampaignID,
		Room:       m.Room,
		AuthorID:   m.AuthorID,
		AuthorName: m.AuthorName,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
		EditedAt:   m.EditedAt,
		IsEdited:   m.IsEdited,
		DeletedAt:  m.DeletedAt,
		DeletedBy:  m.DeletedBy,
		IsDeleted:  m.IsDeleted,
		Reactions:  reactions,
	}
	if m.CharacterID != nil {
		msg.CharacterID = *m.CharacterID
	}
	if msg.Reactions == nil {
		msg.Reactions = map[string][]string{}
	}
	if m.IsDeleted {
		msg.Content = ""
	}
	return msg
}
