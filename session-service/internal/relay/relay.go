// Package relay extends hub fan-out across nodes. Every room broadcast and
// user delivery is applied to the local hub and published on the event
// bus; each node applies the envelopes published by its peers.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/weiawesome/campaign-live/pkg/log"
	"github.com/weiawesome/campaign-live/pkg/pubsub"
	"github.com/weiawesome/campaign-live/session-service/internal/domain"
	"github.com/weiawesome/campaign-live/session-service/internal/hub"
)

const (
	DirectionOut = "out"
	DirectionIn  = "in"
)

// Envelope is the payload of a relayed event. Data is the encoded frame.
type Envelope struct {
	Data           json.RawMessage `json:"data"`
	ExcludeSession string          `json:"exclude_session,omitempty"`
}

// RemoteLookup tells the relay whether any other node hosts a room.
type RemoteLookup interface {
	HasRemote(ctx context.Context, key domain.RoomKey) (bool, error)
}

// Counter receives relay traffic counts.
type Counter interface {
	Relayed(direction string)
}

type nopCounter struct{}

func (nopCounter) Relayed(string) {}

type Relay struct {
	hub     *hub.Hub
	bus     pubsub.PubSub
	nodeID  string
	lookup  RemoteLookup
	counter Counter

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Relay)

// WithLookup lets the relay skip publishing room events that no other node
// would deliver.
func WithLookup(l RemoteLookup) Option {
	return func(r *Relay) { r.lookup = l }
}

func WithCounter(c Counter) Option {
	return func(r *Relay) { r.counter = c }
}

func New(h *hub.Hub, bus pubsub.PubSub, nodeID string, opts ...Option) *Relay {
	r := &Relay{
		hub:     h,
		bus:     bus,
		nodeID:  nodeID,
		counter: nopCounter{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start subscribes to the room and user channels of every peer.
func (r *Relay) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	for _, pattern := range []string{pubsub.PatternRoomToSessions, pubsub.PatternUserToSessions} {
		eventCh, err := r.bus.SubscribePattern(ctx, pattern)
		if err != nil {
			cancel()
			return fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
		}
		r.wg.Add(1)
		go r.consume(ctx, eventCh)
	}

	l := log.L()
	l.Info().Str(log.FieldNodeID, r.nodeID).Msg("relay started")
	return nil
}

// Stop ends the subscriptions and waits for the consumers to exit.
func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// ToRoom implements hub.Fanout.
func (r *Relay) ToRoom(ctx context.Context, key domain.RoomKey, data []byte, excludeSession string) {
	r.hub.Broadcast(key, data, excludeSession)

	if r.lookup != nil {
		remote, err := r.lookup.HasRemote(ctx, key)
		if err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldRoom, key.String()).Msg("directory lookup failed, publishing anyway")
		} else if !remote {
			return
		}
	}
	r.publish(ctx, pubsub.RoomChannel(key.String()), pubsub.EventRoomBroadcast, key.String(), Envelope{
		Data:           data,
		ExcludeSession: excludeSession,
	})
}

// ToUser implements hub.Fanout. The user may have sessions on any node, so
// the envelope is always published.
func (r *Relay) ToUser(ctx context.Context, userID string, data []byte) {
	r.hub.SendToUser(userID, data)
	r.publish(ctx, pubsub.UserChannel(userID), pubsub.EventUserDelivery, userID, Envelope{Data: data})
}

func (r *Relay) publish(ctx context.Context, channel, eventType, key string, env Envelope) {
	event, err := pubsub.NewEvent(eventType, key, r.nodeID, env)
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str("channel", channel).Msg("failed to encode relay event")
		return
	}
	if err := r.bus.Publish(ctx, channel, event); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str("channel", channel).Msg("failed to publish relay event")
		return
	}
	r.counter.Relayed(DirectionOut)
}

func (r *Relay) consume(ctx context.Context, eventCh <-chan *pubsub.Event) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			r.apply(event)
		}
	}
}

func (r *Relay) apply(event *pubsub.Event) {
	if event.Origin == r.nodeID {
		return
	}

	var env Envelope
	if err := event.UnmarshalPayload(&env); err != nil {
		l := log.L()
		l.Warn().Err(err).Str("type", event.Type).Msg("failed to unmarshal relay envelope")
		return
	}

	switch event.Type {
	case pubsub.EventRoomBroadcast:
		key, err := domain.ParseRoomKey(event.Key)
		if err != nil {
			l := log.L()
			l.Warn().Err(err).Str(log.FieldRoom, event.Key).Msg("relay event with invalid room key")
			return
		}
		r.hub.Broadcast(key, env.Data, env.ExcludeSession)
	case pubsub.EventUserDelivery:
		r.hub.SendToUser(event.Key, env.Data)
	default:
		return
	}
	r.counter.Relayed(DirectionIn)
}
