package router

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/weiawesome/campaign-live/pkg/log"
	"github.com/weiawesome/campaign-live/session-service/internal/audit"
	"github.com/weiawesome/campaign-live/session-service/internal/dice"
	"github.com/weiawesome/campaign-live/session-service/internal/domain"
	"github.com/weiawesome/campaign-live/session-service/internal/hub"
)

func (r *Router) typingStart(ctx context.Context, c *hub.Client, _ string, p domain.RoomRef) error {
	key, err := r.memberRoom(c, p)
	if err != nil {
		return err
	}
	if !r.typing.Start(key, c.Session.Identity, c.ID) {
		return nil
	}
	return r.broadcast(ctx, key, domain.MsgTypeUserTypingStart, r.userEvent(key, c), c.ID)
}

func (r *Router) typingStop(ctx context.Context, c *hub.Client, _ string, p domain.RoomRef) error {
	key, err := r.memberRoom(c, p)
	if err != nil {
		return err
	}
	if !r.typing.Stop(key, c.UserID()) {
		return nil
	}
	return r.broadcast(ctx, key, domain.MsgTypeUserTypingStop, r.userEvent(key, c), c.ID)
}

// typingExpired is the typing tracker's callback for idle timeouts and
// forced stops on leave or disconnect.
func (r *Router) typingExpired(key domain.RoomKey, who domain.Identity, sessionID string) {
	ctx := log.With(context.Background(), log.FieldSessionID, sessionID, log.FieldUserID, who.UserID)
	payload := domain.UserEventPayload{RoomKey: key, UserID: who.UserID, Username: who.Username}
	if err := r.broadcast(ctx, key, domain.MsgTypeUserTypingStop, payload, sessionID); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("failed to broadcast typing stop")
	}
}

func (r *Router) rollDice(ctx context.Context, c *hub.Client, requestID string, p domain.RollDicePayload) error {
	key, err := r.memberRoom(c, p.RoomRef)
	if err != nil {
		return err
	}
	spec, err := dice.Parse(p.Notation)
	if err != nil {
		return domain.Invalid("%v", err)
	}
	result, err := r.roller.Roll(spec)
	if err != nil {
		return domain.Invalid("%v", err)
	}

	roll := &domain.DiceRoll{
		CampaignID:  key.CampaignID,
		Room:        key.Subroom,
		UserID:      c.UserID(),
		Username:    c.Session.Username(),
		CharacterID: p.CharacterID,
		Label:       p.Label,
		Notation:    spec.String(),
		Rolls:       result.Rolls,
		Modifier:    result.Modifier,
		Total:       result.Total,
		IsPrivate:   p.IsPrivate,
		CreatedAt:   r.clock().UTC(),
	}
	if err := r.rolls.Record(ctx, roll); err != nil {
		return domain.Upstream(fmt.Errorf("record roll: %w", err))
	}

	payload := domain.DiceRollPayload{RoomKey: key, Roll: roll}
	if !roll.IsPrivate {
		return r.broadcast(ctx, key, domain.MsgTypePublicDiceRoll, payload, "")
	}

	data, err := domain.EncodeFrame(domain.MsgTypePrivateDiceRoll, "", payload)
	if err != nil {
		return domain.Upstream(fmt.Errorf("encode roll: %w", err))
	}
	// A recorded roll is acked even when the GM lookup fails. The GM still
	// sees it in chat-history.
	gm, err := r.resolver.DeliverToGM(ctx, key.CampaignID, data)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldRoom, key.String()).Str("roll_id", roll.ID).Msg("private roll recorded but not delivered")
	} else {
		audit.LogRoom(ctx, audit.ActionPrivateRoll, c.UserID(), key, roll.ID, "private roll sent to gm "+gm)
	}
	return r.reply(c, domain.MsgTypePrivateDiceRollAck, requestID, payload)
}

func (r *Router) updatePayload(key domain.RoomKey, c *hub.Client, p domain.UpdatePayload) domain.BroadcastPayload {
	return domain.BroadcastPayload{
		RoomKey:     key,
		UserID:      c.UserID(),
		Username:    c.Session.Username(),
		CharacterID: p.CharacterID,
		Data:        p.Data,
	}
}

func (r *Router) campaignUpdated(ctx context.Context, c *hub.Client, _ string, p domain.UpdatePayload) error {
	key, err := r.memberRoom(c, p.RoomRef)
	if err != nil {
		return err
	}
	if err := r.requireGM(ctx, c, key); err != nil {
		return err
	}
	audit.LogRoom(ctx, audit.ActionGMBroadcast, c.UserID(), key, domain.MsgTypeCampaignUpdated, "campaign update broadcast")
	return r.broadcast(ctx, key, domain.MsgTypeCampaignUpdated, r.updatePayload(key, c, p), c.ID)
}

func (r *Router) characterUpdated(ctx context.Context, c *hub.Client, _ string, p domain.UpdatePayload) error {
	key, err := r.memberRoom(c, p.RoomRef)
	if err != nil {
		return err
	}
	return r.broadcast(ctx, key, domain.MsgTypeCharacterUpdated, r.updatePayload(key, c, p), c.ID)
}

func (r *Router) initiativeUpdate(ctx context.Context, c *hub.Client, _ string, p domain.UpdatePayload) error {
	key, err := r.memberRoom(c, p.RoomRef)
	if err != nil {
		return err
	}
	if err := r.requireGM(ctx, c, key); err != nil {
		return err
	}
	audit.LogRoom(ctx, audit.ActionGMBroadcast, c.UserID(), key, domain.MsgTypeInitiativeUpdated, "initiative broadcast")
	return r.broadcast(ctx, key, domain.MsgTypeInitiativeUpdated, r.updatePayload(key, c, p), "")
}

func (r *Router) sessionStatusChange(ctx context.Context, c *hub.Client, _ string, p domain.SessionStatusPayload) error {
	key, err := r.memberRoom(c, p.RoomRef)
	if err != nil {
		return err
	}
	if err := r.requireGM(ctx, c, key); err != nil {
		return err
	}
	if !domain.ValidSessionStatus(p.Status) {
		return domain.Invalid("unknown session status %q", p.Status)
	}
	audit.LogRoom(ctx, audit.ActionGMBroadcast, c.UserID(), key, p.Status, "session status broadcast")
	return r.broadcast(ctx, key, domain.MsgTypeSessionStatusChanged, domain.BroadcastPayload{
		RoomKey:   key,
		UserID:    c.UserID(),
		Username:  c.Session.Username(),
		Status:    p.Status,
		SessionID: p.SessionID,
	}, "")
}

func (r *Router) ping(_ context.Context, c *hub.Client, requestID string, _ json.RawMessage) error {
	return r.reply(c, domain.MsgTypePong, requestID, nil)
}
