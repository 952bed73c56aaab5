package repository

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/campaign-live/session-service/internal/domain"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrUserNotFound    = errors.New("user not found")
)

// MessageStore persists chat messages and their reactions.
type MessageStore interface {
	Create(ctx context.Context, msg *domain.NewMessage) (*domain.Message, error)
	Get(ctx context.Context, id string) (*domain.Message, error)
	MarkEdited(ctx context.Context, id, content string, at time.Time) (*domain.Message, error)
	MarkDeleted(ctx context.Context, id, actorID string, at time.Time) (*domain.Message, error)
	// AddReaction reports false when the reaction already existed.
	AddReaction(ctx context.Context, id, emoji, userID string) (bool, error)
	// RemoveReaction reports false when there was nothing to remove.
	RemoveReaction(ctx context.Context, id, emoji, userID string) (bool, error)
	Reactions(ctx context.Context, id string) (map[string][]string, error)
	// Recent returns up to limit of the room's latest messages, oldest first.
	Recent(ctx context.Context, room domain.RoomKey, limit int) ([]*domain.Message, error)
}

// RollLog records every dice roll, public or private.
type RollLog interface {
	Record(ctx context.Context, roll *domain.DiceRoll) error
	Recent(ctx context.Context, room domain.RoomKey, viewerID string, limit int) ([]*domain.DiceRoll, error)
}

// UserDirectory resolves user ids to display names.
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (*domain.Identity, error)
}
