// Package router turns inbound session frames into registry changes,
// persisted state and outbound fan-out. Every event runs decode, then
// authorize, validate, persist and broadcast; a failure at any step is
// reported to the originating session only.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/weiawesome/campaign-live/pkg/log"
	"github.com/weiawesome/campaign-live/session-service/internal/audit"
	"github.com/weiawesome/campaign-live/session-service/internal/campaign"
	"github.com/weiawesome/campaign-live/session-service/internal/config"
	"github.com/weiawesome/campaign-live/session-service/internal/dice"
	"github.com/weiawesome/campaign-live/session-service/internal/domain"
	"github.com/weiawesome/campaign-live/session-service/internal/hub"
	"github.com/weiawesome/campaign-live/session-service/internal/presence"
	"github.com/weiawesome/campaign-live/session-service/internal/repository"
	"github.com/weiawesome/campaign-live/session-service/internal/resolver"
	"github.com/weiawesome/campaign-live/session-service/internal/typing"
)

const maxReactionLength = 16

// Rules are the tunable business limits.
type Rules struct {
	EditWindow       time.Duration
	MaxContentLength int
	HistoryLimit     int
	TypingTimeout    time.Duration
	UpstreamTimeout  time.Duration
	// AllowedReactions, when non-empty, is the only accepted palette.
	AllowedReactions []string
}

func RulesFromConfig(cfg config.SessionConfig) Rules {
	return Rules{
		EditWindow:       cfg.EditWindow,
		MaxContentLength: cfg.MaxContentLength,
		HistoryLimit:     cfg.HistoryLimit,
		TypingTimeout:    cfg.TypingTimeout,
		UpstreamTimeout:  cfg.UpstreamTimeout,
		AllowedReactions: cfg.AllowedReactions,
	}
}

func (r Rules) withDefaults() Rules {
	if r.EditWindow <= 0 {
		r.EditWindow = 15 * time.Minute
	}
	if r.MaxContentLength <= 0 {
		r.MaxContentLength = 2000
	}
	if r.HistoryLimit <= 0 {
		r.HistoryLimit = 50
	}
	if r.TypingTimeout <= 0 {
		r.TypingTimeout = 8 * time.Second
	}
	if r.UpstreamTimeout <= 0 {
		r.UpstreamTimeout = 5 * time.Second
	}
	return r
}

// EventObserver records per-event outcomes.
type EventObserver interface {
	ObserveEvent(eventType, outcome string, took time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveEvent(string, string, time.Duration) {}

// Deps are the collaborators a Router needs. Fanout defaults to Hub;
// Observer, Clock and Roller have defaults too.
type Deps struct {
	Hub      *hub.Hub
	Fanout   hub.Fanout
	Oracle   campaign.Oracle
	Messages repository.MessageStore
	Rolls    repository.RollLog
	Roller   *dice.Roller
	Observer EventObserver
	Clock    func() time.Time
}

type handlerFunc func(ctx context.Context, c *hub.Client, requestID string, payload json.RawMessage) error

type Router struct {
	hub      *hub.Hub
	fanout   hub.Fanout
	oracle   campaign.Oracle
	messages repository.MessageStore
	rolls    repository.RollLog
	roller   *dice.Roller
	presence *presence.Tracker
	resolver *resolver.Resolver
	typing   *typing.Tracker
	observer EventObserver
	clock    func() time.Time
	rules    Rules
	palette  map[string]struct{}
	routes   map[string]handlerFunc
}

func New(deps Deps, rules Rules) *Router {
	r := &Router{
		hub:      deps.Hub,
		fanout:   deps.Fanout,
		oracle:   deps.Oracle,
		messages: deps.Messages,
		rolls:    deps.Rolls,
		roller:   deps.Roller,
		observer: deps.Observer,
		clock:    deps.Clock,
		rules:    rules.withDefaults(),
	}
	if r.fanout == nil {
		r.fanout = deps.Hub
	}
	if r.roller == nil {
		r.roller = dice.NewRoller()
	}
	if r.observer == nil {
		r.observer = nopObserver{}
	}
	if r.clock == nil {
		r.clock = time.Now
	}
	if len(r.rules.AllowedReactions) > 0 {
		r.palette = make(map[string]struct{}, len(r.rules.AllowedReactions))
		for _, e := range r.rules.AllowedReactions {
			r.palette[e] = struct{}{}
		}
	}

	r.presence = presence.NewTracker(deps.Hub)
	r.resolver = resolver.New(r.fanout, deps.Oracle)
	r.typing = typing.NewTracker(r.rules.TypingTimeout, r.typingExpired)

	r.routes = map[string]handlerFunc{
		domain.MsgTypeJoinRoom:            route(r.joinRoom),
		domain.MsgTypeLeaveRoom:           route(r.leaveRoom),
		domain.MsgTypeSendMessage:         route(r.sendMessage),
		domain.MsgTypeEditMessage:         route(r.editMessage),
		domain.MsgTypeDeleteMessage:       route(r.deleteMessage),
		domain.MsgTypeAddReaction:         route(r.addReaction),
		domain.MsgTypeRemoveReaction:      route(r.removeReaction),
		domain.MsgTypeTypingStart:         route(r.typingStart),
		domain.MsgTypeTypingStop:          route(r.typingStop),
		domain.MsgTypeRollDice:            route(r.rollDice),
		domain.MsgTypeCampaignUpdated:     route(r.campaignUpdated),
		domain.MsgTypeCharacterUpdated:    route(r.characterUpdated),
		domain.MsgTypeInitiativeUpdate:    route(r.initiativeUpdate),
		domain.MsgTypeSessionStatusChange: route(r.sessionStatusChange),
		domain.MsgTypePing:                r.ping,
	}
	return r
}

// route decodes the payload into P before calling fn.
func route[P any](fn func(ctx context.Context, c *hub.Client, requestID string, p P) error) handlerFunc {
	return func(ctx context.Context, c *hub.Client, requestID string, payload json.RawMessage) error {
		var p P
		if len(payload) == 0 {
			return domain.Invalid("payload is required")
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return domain.Invalid("malformed payload")
		}
		return fn(ctx, c, requestID, p)
	}
}

// Handle processes one inbound frame from c. It never panics; failures
// become an error frame for c alone.
func (r *Router) Handle(c *hub.Client, raw []byte) {
	start := time.Now()
	c.Session.UpdateActivity()

	var frame domain.Frame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Type == "" {
		r.reject(context.Background(), c, &frame, domain.Invalid("malformed frame"))
		r.observer.ObserveEvent("invalid", outcomeRejected, time.Since(start))
		return
	}

	ctx := log.With(context.Background(),
		log.FieldSessionID, c.ID,
		log.FieldUserID, c.UserID(),
		log.FieldEvent, frame.Type,
	)

	h, ok := r.routes[frame.Type]
	if !ok {
		r.reject(ctx, c, &frame, domain.Invalid("unknown event type %q", frame.Type))
		r.observer.ObserveEvent("unknown", outcomeRejected, time.Since(start))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.rules.UpstreamTimeout)
	defer cancel()

	err := r.call(ctx, h, c, &frame)
	outcome := outcomeOK
	if err != nil {
		de := r.reject(ctx, c, &frame, err)
		outcome = outcomeRejected
		if de.Kind == domain.KindServerError {
			outcome = outcomeError
		}
	}
	r.observer.ObserveEvent(frame.Type, outcome, time.Since(start))
}

const (
	outcomeOK       = "ok"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

func (r *Router) call(ctx context.Context, h handlerFunc, c *hub.Client, frame *domain.Frame) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			l := log.Ctx(ctx)
			l.Error().Interface("panic", rec).Bytes("stack", debug.Stack()).Msg("event handler panicked")
			err = domain.Upstream(fmt.Errorf("handler panic: %v", rec))
		}
	}()
	return h(ctx, c, frame.RequestID, frame.Payload)
}

// reject logs err and sends its client-safe form back to c.
func (r *Router) reject(ctx context.Context, c *hub.Client, frame *domain.Frame, err error) *domain.Error {
	de := domain.AsError(err)
	l := log.Ctx(ctx)
	switch de.Kind {
	case domain.KindServerError:
		l.Error().Err(de.Err).Msg("event failed")
	case domain.KindUnauthorized:
		audit.LogWithDetail(ctx, audit.ActionDenied, c.UserID(), frame.Type, de.Message)
	default:
		l.Debug().Str(log.FieldErrorKind, string(de.Kind)).Str("reason", de.Message).Msg("event rejected")
	}
	r.hub.SendTo(c, domain.NewErrorFrame(frame.RequestID, frame.Type, de))
	return de
}

// Disconnect runs the leave path for every room c was in. It is safe to
// call more than once.
func (r *Router) Disconnect(c *hub.Client) {
	ctx := log.With(context.Background(), log.FieldSessionID, c.ID, log.FieldUserID, c.UserID())

	r.typing.StopSession(c.ID, nil)
	rooms := r.hub.Unregister(c)
	if rooms == nil {
		return
	}
	for _, key := range rooms {
		r.broadcast(ctx, key, domain.MsgTypeUserLeft, r.userEvent(key, c), "")
	}
	audit.LogWithDetail(ctx, audit.ActionDisconnect, c.UserID(), fmt.Sprintf("rooms=%d", len(rooms)), "session closed")
}

// Shutdown stops pending typing timers.
func (r *Router) Shutdown() {
	r.typing.StopAll()
}

func (r *Router) reply(c *hub.Client, msgType, requestID string, payload interface{}) error {
	data, err := domain.EncodeFrame(msgType, requestID, payload)
	if err != nil {
		return domain.Upstream(fmt.Errorf("encode %s: %w", msgType, err))
	}
	r.hub.SendTo(c, data)
	return nil
}

func (r *Router) broadcast(ctx context.Context, key domain.RoomKey, msgType string, payload interface{}, excludeSession string) error {
	data, err := domain.EncodeFrame(msgType, "", payload)
	if err != nil {
		return domain.Upstream(fmt.Errorf("encode %s: %w", msgType, err))
	}
	r.fanout.ToRoom(ctx, key, data, excludeSession)
	return nil
}

func (r *Router) userEvent(key domain.RoomKey, c *hub.Client) domain.UserEventPayload {
	return domain.UserEventPayload{RoomKey: key, UserID: c.UserID(), Username: c.Session.Username()}
}

// memberRoom resolves ref and requires c to have joined it.
func (r *Router) memberRoom(c *hub.Client, ref domain.RoomRef) (domain.RoomKey, error) {
	key, err := ref.Key()
	if err != nil {
		return domain.RoomKey{}, domain.Invalid("%v", err)
	}
	if !r.hub.IsMember(c, key) {
		return domain.RoomKey{}, domain.Unauthorized("not joined to room %s", key)
	}
	return key, nil
}

// requireGM checks that c's user is the campaign's game master.
func (r *Router) requireGM(ctx context.Context, c *hub.Client, key domain.RoomKey) error {
	gm, err := r.oracle.GMUserID(ctx, key.CampaignID)
	if err != nil {
		return domain.Upstream(fmt.Errorf("lookup gm: %w", err))
	}
	if gm == "" || gm != c.UserID() {
		return domain.Unauthorized("only the game master can do that")
	}
	return nil
}

func (r *Router) validContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", domain.Invalid("content must not be empty")
	}
	if utf8.RuneCountInString(content) > r.rules.MaxContentLength {
		return "", domain.Invalid("content exceeds %d characters", r.rules.MaxContentLength)
	}
	return content, nil
}

// validReaction accepts 1-16 runes with no whitespace, restricted to the
// palette when one is configured.
func (r *Router) validReaction(emoji string) error {
	n := utf8.RuneCountInString(emoji)
	if n == 0 || n > maxReactionLength {
		return domain.Invalid("reaction must be 1-%d characters", maxReactionLength)
	}
	if strings.IndexFunc(emoji, unicode.IsSpace) >= 0 {
		return domain.Invalid("reaction must not contain whitespace")
	}
	if r.palette != nil {
		if _, ok := r.palette[emoji]; !ok {
			return domain.Invalid("reaction %q is not allowed", emoji)
		}
	}
	return nil
}

// storeError maps repository failures onto client error kinds.
func storeError(err error) error {
	if errors.Is(err, repository.ErrMessageNotFound) {
		return domain.NotFound("message not found")
	}
	return domain.Upstream(err)
}
