package router

import (
	"context"
	"fmt"

	"github.com/weiawesome/campaign-live/session-service/internal/audit"
	"github.com/weiawesome/campaign-live/session-service/internal/domain"
	"github.com/weiawesome/campaign-live/session-service/internal/hub"
)

func (r *Router) sendMessage(ctx context.Context, c *hub.Client, _ string, p domain.SendMessagePayload) error {
	key, err := r.memberRoom(c, p.RoomRef)
	if err != nil {
		return err
	}
	content, err := r.validContent(p.Content)
	if err != nil {
		return err
	}

	msg, err := r.messages.Create(ctx, &domain.NewMessage{
		Room:        key,
		AuthorID:    c.UserID(),
		AuthorName:  c.Session.Username(),
		CharacterID: p.CharacterID,
		Content:     content,
		CreatedAt:   r.clock().UTC(),
	})
	if err != nil {
		return domain.Upstream(fmt.Errorf("create message: %w", err))
	}

	return r.broadcast(ctx, key, domain.MsgTypeNewMessage, domain.MessagePayload{RoomKey: key, Message: msg}, "")
}

// loadMessage fetches id and requires it to be a live message of key.
func (r *Router) loadMessage(ctx context.Context, key domain.RoomKey, id string) (*domain.Message, error) {
	if id == "" {
		return nil, domain.Invalid("message_id is required")
	}
	msg, err := r.messages.Get(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	if msg.RoomKey() != key || msg.IsDeleted {
		return nil, domain.NotFound("message not found")
	}
	return msg, nil
}

func (r *Router) editMessage(ctx context.Context, c *hub.Client, _ string, p domain.EditMessagePayload) error {
	key, err := r.memberRoom(c, p.RoomRef)
	if err != nil {
		return err
	}
	msg, err := r.loadMessage(ctx, key, p.MessageID)
	if err != nil {
		return err
	}

	now := r.clock().UTC()
	if now.Sub(msg.CreatedAt) > r.rules.EditWindow {
		return domain.EditWindowExpired("messages can only be edited for %s", r.rules.EditWindow)
	}
	if msg.AuthorID != c.UserID() {
		return domain.Unauthorized("only the author can edit a message")
	}
	content, err := r.validContent(p.Content)
	if err != nil {
		return err
	}

	edited, err := r.messages.MarkEdited(ctx, msg.ID, content, now)
	if err != nil {
		return storeError(err)
	}
	return r.broadcast(ctx, key, domain.MsgTypeMessageEdited, domain.MessagePayload{RoomKey: key, Message: edited}, "")
}

func (r *Router) deleteMessage(ctx context.Context, c *hub.Client, _ string, p domain.DeleteMessagePayload) error {
	key, err := r.memberRoom(c, p.RoomRef)
	if err != nil {
		return err
	}
	msg, err := r.loadMessage(ctx, key, p.MessageID)
	if err != nil {
		return err
	}
	if msg.AuthorID != c.UserID() {
		if err := r.requireGM(ctx, c, key); err != nil {
			return err
		}
	}

	if _, err := r.messages.MarkDeleted(ctx, msg.ID, c.UserID(), r.clock().UTC()); err != nil {
		return storeError(err)
	}
	audit.LogRoom(ctx, audit.ActionDeleteMessage, c.UserID(), key, msg.ID, "message deleted")

	return r.broadcast(ctx, key, domain.MsgTypeMessageDeleted, domain.MessageDeletedPayload{
		RoomKey:   key,
		MessageID: msg.ID,
		DeletedBy: c.UserID(),
	}, "")
}

// addReaction toggles: adding a reaction the user already has removes it.
func (r *Router) addReaction(ctx context.Context, c *hub.Client, _ string, p domain.ReactionPayload) error {
	key, msg, err := r.reactionTarget(ctx, c, p)
	if err != nil {
		return err
	}

	eventType := domain.MsgTypeReactionAdded
	added, err := r.messages.AddReaction(ctx, msg.ID, p.Emoji, c.UserID())
	if err != nil {
		return storeError(err)
	}
	if !added {
		if _, err := r.messages.RemoveReaction(ctx, msg.ID, p.Emoji, c.UserID()); err != nil {
			return storeError(err)
		}
		eventType = domain.MsgTypeReactionRemoved
	}
	return r.reactionChanged(ctx, c, key, msg.ID, p.Emoji, eventType)
}

func (r *Router) removeReaction(ctx context.Context, c *hub.Client, _ string, p domain.ReactionPayload) error {
	key, msg, err := r.reactionTarget(ctx, c, p)
	if err != nil {
		return err
	}

	removed, err := r.messages.RemoveReaction(ctx, msg.ID, p.Emoji, c.UserID())
	if err != nil {
		return storeError(err)
	}
	if !removed {
		return nil
	}
	return r.reactionChanged(ctx, c, key, msg.ID, p.Emoji, domain.MsgTypeReactionRemoved)
}

func (r *Router) reactionTarget(ctx context.Context, c *hub.Client, p domain.ReactionPayload) (domain.RoomKey, *domain.Message, error) {
	key, err := r.memberRoom(c, p.RoomRef)
	if err != nil {
		return domain.RoomKey{}, nil, err
	}
	if err := r.validReaction(p.Emoji); err != nil {
		return domain.RoomKey{}, nil, err
	}
	msg, err := r.loadMessage(ctx, key, p.MessageID)
	if err != nil {
		return domain.RoomKey{}, nil, err
	}
	return key, msg, nil
}

func (r *Router) reactionChanged(ctx context.Context, c *hub.Client, key domain.RoomKey, messageID, emoji, eventType string) error {
	reactions, err := r.messages.Reactions(ctx, messageID)
	if err != nil {
		return storeError(err)
	}
	return r.broadcast(ctx, key, eventType, domain.ReactionChangedPayload{
		RoomKey:   key,
		MessageID: messageID,
		Emoji:     emoji,
		UserID:    c.UserID(),
		Reactions: reactions,
	}, "")
}
