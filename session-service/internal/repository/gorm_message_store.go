package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/weiawesome/campaign-live/pkg/log"
	"github.com/weiawesome/campaign-live/session-service/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormMessageStore implements MessageStore using GORM.
type GormMessageStore struct {
	db  *gorm.DB
	ids *IDGenerator
}

func NewGormMessageStore(db *gorm.DB, ids *IDGenerator) *GormMessageStore {
	return &GormMessageStore{db: db, ids: ids}
}

func (s *GormMessageStore) Create(ctx context.Context, in *domain.NewMessage) (*domain.Message, error) {
	createdAt := in.CreatedAt.UTC()
	if in.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	id, err := s.ids.Generate(createdAt)
	if err != nil {
		return nil, err
	}

	model := &MessageModel{
		ID:         id,
		CampaignID: in.Room.CampaignID,
		Room:       in.Room.Subroom,
		AuthorID:   in.AuthorID,
		AuthorName: in.AuthorName,
		Content:    in.Content,
		CreatedAt:  createdAt,
	}
	if in.CharacterID != "" {
		cid := in.CharacterID
		model.CharacterID = &cid
	}

	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	l := log.Ctx(ctx)
	l.Debug().Str("message_id", id).Str(log.FieldRoom, in.Room.String()).Msg("message stored")
	return model.toDomain(nil), nil
}

func (s *GormMessageStore) Get(ctx context.Context, id string) (*domain.Message, error) {
	model, err := s.find(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	reactions, err := s.Reactions(ctx, id)
	if err != nil {
		return nil, err
	}
	return model.toDomain(reactions), nil
}

func (s *GormMessageStore) find(ctx context.Context, db *gorm.DB, id string) (*MessageModel, error) {
	var model MessageModel
	if err := db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &model, nil
}

func (s *GormMessageStore) MarkEdited(ctx context.Context, id, content string, at time.Time) (*domain.Message, error) {
	at = at.UTC()
	result := s.db.WithContext(ctx).Model(&MessageModel{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]interface{}{
			"content":   content,
			"edited_at": at,
			"is_edited": true,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to edit message: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrMessageNotFound
	}
	return s.Get(ctx, id)
}

func (s *GormMessageStore) MarkDeleted(ctx context.Context, id, actorID string, at time.Time) (*domain.Message, error) {
	at = at.UTC()
	result := s.db.WithContext(ctx).Model(&MessageModel{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]interface{}{
			"deleted_at": at,
			"deleted_by": actorID,
			"is_deleted": true,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to delete message: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrMessageNotFound
	}
	return s.Get(ctx, id)
}

func (s *GormMessageStore) AddReaction(ctx context.Context, id, emoji, userID string) (bool, error) {
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&ReactionModel{MessageID: id, Emoji: emoji, UserID: userID})
	if result.Error != nil {
		return false, fmt.Errorf("failed to add reaction: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *GormMessageStore) RemoveReaction(ctx context.Context, id, emoji, userID string) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("message_id = ? AND emoji = ? AND user_id = ?", id, emoji, userID).
		Delete(&ReactionModel{})
	if result.Error != nil {
		return false, fmt.Errorf("failed to remove reaction: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *GormMessageStore) Reactions(ctx context.Context, id string) (map[string][]string, error) {
	all, err := s.reactionsFor(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if r, ok := all[id]; ok {
		return r, nil
	}
	return map[string][]string{}, nil
}

func (s *GormMessageStore) reactionsFor(ctx context.Context, ids []string) (map[string]map[string][]string, error) {
	out := make(map[string]map[string][]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []ReactionModel
	err := s.db.WithContext(ctx).
		Where("message_id IN ?", ids).
		Order("created_at, user_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load reactions: %w", err)
	}

	for _, r := range rows {
		byEmoji, ok := out[r.MessageID]
		if !ok {
			byEmoji = make(map[string][]string)
			out[r.MessageID] = byEmoji
		}
		byEmoji[r.Emoji] = append(byEmoji[r.Emoji], r.UserID)
	}
	return out, nil
}

func (s *GormMessageStore) Recent(ctx context.Context, room domain.RoomKey, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	var models []MessageModel
	err := s.db.WithContext(ctx).
		Where("campaign_id = ? AND room = ?", room.CampaignID, room.Subroom).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	ids := make([]string, len(models))
	for i := range models {
		ids[i] = models[i].ID
	}
	reactions, err := s.reactionsFor(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.Message, len(models))
	for i := range models {
		out[i] = models[i].toDomain(reactions[models[i].ID])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
