package router

import (
	"context"
	"fmt"

	"github.com/weiawesome/campaign-live/pkg/log"
	"github.com/weiawesome/campaign-live/session-service/internal/audit"
	"github.com/weiawesome/campaign-live/session-service/internal/domain"
	"github.com/weiawesome/campaign-live/session-service/internal/hub"
	"github.com/weiawesome/campaign-live/session-service/internal/repository"
)

func (r *Router) joinRoom(ctx context.Context, c *hub.Client, requestID string, p domain.RoomRef) error {
	key, err := p.Key()
	if err != nil {
		return domain.Invalid("%v", err)
	}

	ok, err := r.oracle.IsMember(ctx, key.CampaignID, c.UserID())
	if err != nil {
		return domain.Upstream(fmt.Errorf("check membership: %w", err))
	}
	if !ok {
		audit.LogRoom(ctx, audit.ActionJoinDenied, c.UserID(), key, "", "join refused: not a campaign member")
		return domain.Unauthorized("not a member of campaign %s", key.CampaignID)
	}

	history, err := r.messages.Recent(ctx, key, r.rules.HistoryLimit)
	if err != nil {
		return domain.Upstream(fmt.Errorf("load history: %w", err))
	}
	rolls, err := r.rolls.Recent(ctx, key, r.rollViewer(ctx, c, key), r.rules.HistoryLimit)
	if err != nil {
		return domain.Upstream(fmt.Errorf("load rolls: %w", err))
	}

	if r.hub.Join(c, key) {
		if err := r.broadcast(ctx, key, domain.MsgTypeUserJoined, r.userEvent(key, c), c.ID); err != nil {
			return err
		}
		audit.LogRoom(ctx, audit.ActionJoinRoom, c.UserID(), key, "", "joined room")
	} else {
		l := log.Ctx(ctx)
		l.Debug().Str(log.FieldRoom, key.String()).Msg("already joined, resending history")
	}

	if history == nil {
		history = []*domain.Message{}
	}
	if rolls == nil {
		rolls = []*domain.DiceRoll{}
	}
	return r.reply(c, domain.MsgTypeChatHistory, requestID, domain.ChatHistoryPayload{
		RoomKey:   key,
		Messages:  history,
		Rolls:     rolls,
		Occupants: r.presence.OnlineUsers(key),
		Typing:    r.typing.Typing(key),
	})
}

// rollViewer picks whose view of the roll log a joiner gets. The GM sees
// private rolls too; a failed GM lookup falls back to the joiner's own view.
func (r *Router) rollViewer(ctx context.Context, c *hub.Client, key domain.RoomKey) string {
	gm, err := r.resolver.GM(ctx, key.CampaignID)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldCampaignID, key.CampaignID).Msg("gm lookup failed, showing player roll view")
		return c.UserID()
	}
	if gm != "" && gm == c.UserID() {
		return repository.AllRolls
	}
	return c.UserID()
}

func (r *Router) leaveRoom(ctx context.Context, c *hub.Client, _ string, p domain.RoomRef) error {
	key, err := p.Key()
	if err != nil {
		return domain.Invalid("%v", err)
	}

	r.typing.StopSession(c.ID, &key)
	if !r.hub.Leave(c, key) {
		return nil
	}
	audit.LogRoom(ctx, audit.ActionLeaveRoom, c.UserID(), key, "", "left room")
	return r.broadcast(ctx, key, domain.MsgTypeUserLeft, r.userEvent(key, c), "")
}
