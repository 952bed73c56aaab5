package campaign

import (
	"context"
	"errors"
	"fmt"

	"github.com/weiawesome/campaign-live/pkg/log"
)

var (
	ErrCampaignExists  = errors.New("campaign already exists")
	ErrCampaignMissing = errors.New("campaign not found")
	ErrRemoveGM        = errors.New("the gm cannot be removed from their campaign")
)

// Invalidator drops cached campaign snapshots.
type Invalidator interface {
	Invalidate(ctx context.Context, campaignIDs ...string) error
}

// Roster changes campaign membership. Every change drops the cached
// snapshot so the next join or GM check reads the new roster.
type Roster struct {
	store *GormStore
	cache Invalidator
}

// NewRoster returns a Roster over store. cache may be nil when no
// snapshot cache is configured.
func NewRoster(store *GormStore, cache Invalidator) *Roster {
	return &Roster{store: store, cache: cache}
}

// Create registers a campaign with gmUserID as its GM.
func (r *Roster) Create(ctx context.Context, campaignID, name, gmUserID string) error {
	gm, err := r.store.GMUserID(ctx, campaignID)
	if err != nil {
		return err
	}
	if gm != "" {
		return ErrCampaignExists
	}
	if err := r.store.CreateCampaign(ctx, campaignID, name, gmUserID); err != nil {
		return err
	}
	r.invalidate(ctx, campaignID)
	return nil
}

// Add makes userID a player of the campaign.
func (r *Roster) Add(ctx context.Context, campaignID, userID string) error {
	if _, err := r.requireCampaign(ctx, campaignID); err != nil {
		return err
	}
	if err := r.store.AddMember(ctx, campaignID, userID, RolePlayer); err != nil {
		return err
	}
	r.invalidate(ctx, campaignID)
	return nil
}

// Remove drops userID from the campaign. Sessions already joined keep
// their rooms until they leave; the next join is refused.
func (r *Roster) Remove(ctx context.Context, campaignID, userID string) error {
	gm, err := r.requireCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if gm == userID {
		return ErrRemoveGM
	}
	if err := r.store.RemoveMember(ctx, campaignID, userID); err != nil {
		return err
	}
	r.invalidate(ctx, campaignID)
	return nil
}

func (r *Roster) requireCampaign(ctx context.Context, campaignID string) (string, error) {
	gm, err := r.store.GMUserID(ctx, campaignID)
	if err != nil {
		return "", err
	}
	if gm == "" {
		return "", fmt.Errorf("%w: %s", ErrCampaignMissing, campaignID)
	}
	return gm, nil
}

// invalidate logs failures: the write already happened and the cache ttl
// bounds how long a stale snapshot can answer.
func (r *Roster) invalidate(ctx context.Context, campaignID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Invalidate(ctx, campaignID); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldCampaignID, campaignID).Msg("failed to invalidate campaign snapshot")
	}
}
