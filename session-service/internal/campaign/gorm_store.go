package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weiawesome/campaign-live/pkg/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CampaignModel is the GORM model for the campaigns table. Only the
// columns the session layer reads are mapped.
type CampaignModel struct {
	ID        string    `gorm:"type:varchar(64);primaryKey"`
	Name      string    `gorm:"type:varchar(200);not null"`
	GMUserID  string    `gorm:"column:gm_user_id;type:varchar(64);index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (CampaignModel) TableName() string {
	return "campaigns"
}

// MemberModel is the GORM model for campaign_members.
type MemberModel struct {
	CampaignID string    `gorm:"type:varchar(64);primaryKey"`
	UserID     string    `gorm:"type:varchar(64);primaryKey;index"`
	Role       string    `gorm:"type:varchar(16);not null;default:'player'"`
	JoinedAt   time.Time `gorm:"autoCreateTime"`
}

func (MemberModel) TableName() string {
	return "campaign_members"
}

// Models lists the tables owned by this package, for migration.
func Models() []interface{} {
	return []interface{}{&CampaignModel{}, &MemberModel{}}
}

// GormStore implements Oracle over the campaign tables.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) IsMember(ctx context.Context, campaignID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&MemberModel{}).
		Where("campaign_id = ? AND user_id = ?", campaignID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to query campaign membership: %w", err)
	}
	if count > 0 {
		return true, nil
	}

	gm, err := s.GMUserID(ctx, campaignID)
	if err != nil {
		return false, err
	}
	return gm != "" && gm == userID, nil
}

func (s *GormStore) GMUserID(ctx context.Context, campaignID string) (string, error) {
	var model CampaignModel
	err := s.db.WithContext(ctx).Select("id", "gm_user_id").First(&model, "id = ?", campaignID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to query campaign gm: %w", err)
	}
	return model.GMUserID, nil
}

// CreateCampaign inserts a campaign and records its GM as a member.
func (s *GormStore) CreateCampaign(ctx context.Context, id, name, gmUserID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&CampaignModel{ID: id, Name: name, GMUserID: gmUserID}).Error; err != nil {
			return fmt.Errorf("failed to create campaign: %w", err)
		}
		if gmUserID == "" {
			return nil
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&MemberModel{CampaignID: id, UserID: gmUserID, Role: RoleGM}).Error
	})
}

// AddMember adds userID to the campaign; adding twice is a no-op.
func (s *GormStore) AddMember(ctx context.Context, campaignID, userID, role string) error {
	if role == "" {
		role = RolePlayer
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&MemberModel{CampaignID: campaignID, UserID: userID, Role: role}).Error
	if err != nil {
		return fmt.Errorf("failed to add campaign member: %w", err)
	}
	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldCampaignID, campaignID).Str(log.FieldUserID, userID).Msg("campaign member added")
	return nil
}

// RemoveMember drops userID from the campaign.
func (s *GormStore) RemoveMember(ctx context.Context, campaignID, userID string) error {
	err := s.db.WithContext(ctx).
		Where("campaign_id = ? AND user_id = ?", campaignID, userID).
		Delete(&MemberModel{}).Error
	if err != nil {
		return fmt.Errorf("failed to remove campaign member: %w", err)
	}
	return nil
}
