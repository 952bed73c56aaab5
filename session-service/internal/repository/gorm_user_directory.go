package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/weiawesome/campaign-live/session-service/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormUserDirectory implements UserDirectory over the users table.
type GormUserDirectory struct {
	db *gorm.DB
}

func NewGormUserDirectory(db *gorm.DB) *GormUserDirectory {
	return &GormUserDirectory{db: db}
}

func (d *GormUserDirectory) GetUser(ctx context.Context, userID string) (*domain.Identity, error) {
	var model UserModel
	if err := d.db.WithContext(ctx).First(&model, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	name := model.DisplayName
	if name == "" {
		name = model.Username
	}
	return &domain.Identity{UserID: model.ID, Username: name}, nil
}

// Upsert creates or renames a user.
func (d *GormUserDirectory) Upsert(ctx context.Context, id, username, displayName string) error {
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "display_name"}),
	}).Create(&UserModel{ID: id, Username: username, DisplayName: displayName}).Error
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}
