// Package resolver routes privileged events to specific users rather than
// to a whole room.
package resolver

import (
	"context"
	"fmt"

	"github.com/weiawesome/campaign-live/pkg/log"
	"github.com/weiawesome/campaign-live/session-service/internal/campaign"
	"github.com/weiawesome/campaign-live/session-service/internal/hub"
)

type Resolver struct {
	fanout hub.Fanout
	oracle campaign.Oracle
}

func New(fanout hub.Fanout, oracle campaign.Oracle) *Resolver {
	return &Resolver{fanout: fanout, oracle: oracle}
}

// DeliverToUser sends data to every active session of userID. Offline
// users simply miss it.
func (r *Resolver) DeliverToUser(ctx context.Context, userID string, data []byte) {
	if userID == "" {
		return
	}
	r.fanout.ToUser(ctx, userID, data)
}

// GM returns the campaign's GM user id, or "" when it has none.
func (r *Resolver) GM(ctx context.Context, campaignID string) (string, error) {
	gm, err := r.oracle.GMUserID(ctx, campaignID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve gm for campaign %s: %w", campaignID, err)
	}
	if gm == "" {
		l := log.Ctx(ctx)
		l.Debug().Str(log.FieldCampaignID, campaignID).Msg("campaign has no gm")
	}
	return gm, nil
}

// DeliverToGM sends data to the campaign's GM and returns the GM's user
// id, or "" when the campaign has none. Only an oracle failure is an
// error; an offline GM is not.
func (r *Resolver) DeliverToGM(ctx context.Context, campaignID string, data []byte) (string, error) {
	gm, err := r.GM(ctx, campaignID)
	if err != nil {
		return "", err
	}
	r.DeliverToUser(ctx, gm, data)
	return gm, nil
}
