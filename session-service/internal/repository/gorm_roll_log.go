package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/weiawesome/campaign-live/session-service/internal/domain"
	"gorm.io/gorm"
)

// GormRollLog implements RollLog using GORM.
type GormRollLog struct {
	db  *gorm.DB
	ids *IDGenerator
}

func NewGormRollLog(db *gorm.DB, ids *IDGenerator) *GormRollLog {
	return &GormRollLog{db: db, ids: ids}
}

// Record assigns the roll an id and stores it.
func (l *GormRollLog) Record(ctx context.Context, roll *domain.DiceRoll) error {
	if roll.ID == "" {
		id, err := l.ids.Generate(roll.CreatedAt)
		if err != nil {
			return err
		}
		roll.ID = id
	}

	rolls, err := json.Marshal(roll.Rolls)
	if err != nil {
		return fmt.Errorf("failed to encode rolls: %w", err)
	}

	model := &DiceRollModel{
		ID:          roll.ID,
		CampaignID:  roll.CampaignID,
		Room:        roll.Room,
		UserID:      roll.UserID,
		Username:    roll.Username,
		CharacterID: roll.CharacterID,
		Label:       roll.Label,
		Notation:    roll.Notation,
		Rolls:       string(rolls),
		Modifier:    roll.Modifier,
		Total:       roll.Total,
		IsPrivate:   roll.IsPrivate,
		CreatedAt:   roll.CreatedAt.UTC(),
	}
	if err := l.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to record dice roll: %w", err)
	}
	return nil
}

// Recent lists the room's latest rolls, oldest first. Private rolls are
// visible to their roller only, unless viewerID is AllRolls.
func (l *GormRollLog) Recent(ctx context.Context, room domain.RoomKey, viewerID string, limit int) ([]*domain.DiceRoll, error) {
	if limit <= 0 {
		limit = 50
	}

	q := l.db.WithContext(ctx).
		Where("campaign_id = ? AND room = ?", room.CampaignID, room.Subroom)
	if viewerID != AllRolls {
		q = q.Where("is_private = ? OR user_id = ?", false, viewerID)
	}

	var models []DiceRollModel
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list dice rolls: %w", err)
	}

	out := make([]*domain.DiceRoll, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		m := models[i]
		var rolls []int
		if err := json.Unmarshal([]byte(m.Rolls), &rolls); err != nil {
			return nil, fmt.Errorf("failed to decode rolls for %s: %w", m.ID, err)
		}
		out = append(out, &domain.DiceRoll{
			ID:          m.ID,
			CampaignID:  m.CampaignID,
			Room:        m.Room,
			UserID:      m.UserID,
			Username:    m.Username,
			CharacterID: m.CharacterID,
			Label:       m.Label,
			Notation:    m.Notation,
			Rolls:       rolls,
			Modifier:    m.Modifier,
			Total:       m.Total,
			IsPrivate:   m.IsPrivate,
			CreatedAt:   m.CreatedAt,
		})
	}
	return out, nil
}

// AllRolls as a viewer id lists private rolls too (the GM's view).
const AllRolls = "*"
