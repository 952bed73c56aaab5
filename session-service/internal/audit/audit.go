package audit

import (
	"context"

	"github.com/weiawesome/campaign-live/pkg/log"
	"github.com/weiawesome/campaign-live/session-service/internal/domain"
)

// Audit actions for session-service.
const (
	ActionConnect       = "session.connect"
	ActionAuthFailed    = "session.auth_failed"
	ActionDisconnect    = "session.disconnect"
	ActionJoinRoom      = "session.join_room"
	ActionJoinDenied    = "session.join_denied"
	ActionLeaveRoom     = "session.leave_room"
	ActionDeleteMessage = "session.delete_message"
	ActionPrivateRoll   = "session.private_roll"
	ActionGMBroadcast   = "session.gm_broadcast"
	ActionDenied        = "session.denied"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action string, userID string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Msg(msg)
}

// LogRoom emits an audit entry scoped to a room, with an optional target
// (message id, roll id, event type).
func LogRoom(ctx context.Context, action, userID string, room domain.RoomKey, targetID, msg string) {
	l := log.Ctx(ctx)
	evt := l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(log.FieldCampaignID, room.CampaignID).
		Str(log.FieldRoom, room.String())
	if targetID != "" {
		evt = evt.Str(FieldTargetID, targetID)
	}
	evt.Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action string, userID string, detail string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldDetail, detail).
		Msg(msg)
}
