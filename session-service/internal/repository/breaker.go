package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"github.com/weiawesome/campaign-live/pkg/log"
	"github.com/weiawesome/campaign-live/session-service/internal/domain"
)

// BreakerSettings configures the circuit breakers around the stores.
type BreakerSettings struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

func newBreaker(name string, s BreakerSettings) *gobreaker.CircuitBreaker {
	threshold := s.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: healthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			l := log.L()
			l.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
}

// healthy reports whether err leaves the store's health untouched: a
// missing row or a caller that went away says nothing about the database.
func healthy(err error) bool {
	return err == nil ||
		errors.Is(err, ErrMessageNotFound) ||
		errors.Is(err, context.Canceled)
}

func execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	v, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}

// BreakerMessageStore fails fast with gobreaker.ErrOpenState while the
// wrapped store keeps erroring.
type BreakerMessageStore struct {
	next MessageStore
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerMessageStore(next MessageStore, s BreakerSettings) *BreakerMessageStore {
	return &BreakerMessageStore{next: next, cb: newBreaker("message-store", s)}
}

func (s *BreakerMessageStore) Create(ctx context.Context, msg *domain.NewMessage) (*domain.Message, error) {
	return execute(s.cb, func() (*domain.Message, error) { return s.next.Create(ctx, msg) })
}

func (s *BreakerMessageStore) Get(ctx context.Context, id string) (*domain.Message, error) {
	return execute(s.cb, func() (*domain.Message, error) { return s.next.Get(ctx, id) })
}

func (s *BreakerMessageStore) MarkEdited(ctx context.Context, id, content string, at time.Time) (*domain.Message, error) {
	return execute(s.cb, func() (*domain.Message, error) { return s.next.MarkEdited(ctx, id, content, at) })
}

func (s *BreakerMessageStore) MarkDeleted(ctx context.Context, id, actorID string, at time.Time) (*domain.Message, error) {
	return execute(s.cb, func() (*domain.Message, error) { return s.next.MarkDeleted(ctx, id, actorID, at) })
}

func (s *BreakerMessageStore) AddReaction(ctx context.Context, id, emoji, userID string) (bool, error) {
	return execute(s.cb, func() (bool, error) { return s.next.AddReaction(ctx, id, emoji, userID) })
}

func (s *BreakerMessageStore) RemoveReaction(ctx context.Context, id, emoji, userID string) (bool, error) {
	return execute(s.cb, func() (bool, error) { return s.next.RemoveReaction(ctx, id, emoji, userID) })
}

func (s *BreakerMessageStore) Reactions(ctx context.Context, id string) (map[string][]string, error) {
	return execute(s.cb, func() (map[string][]string, error) { return s.next.Reactions(ctx, id) })
}

func (s *BreakerMessageStore) Recent(ctx context.Context, room domain.RoomKey, limit int) ([]*domain.Message, error) {
	return execute(s.cb, func() ([]*domain.Message, error) { return s.next.Recent(ctx, room, limit) })
}

// State exposes the breaker state for health reporting.
func (s *BreakerMessageStore) State() gobreaker.State {
	return s.cb.State()
}

// BreakerRollLog guards a RollLog the same way.
type BreakerRollLog struct {
	next RollLog
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerRollLog(next RollLog, s BreakerSettings) *BreakerRollLog {
	return &BreakerRollLog{next: next, cb: newBreaker("roll-log", s)}
}

func (l *BreakerRollLog) Record(ctx context.Context, roll *domain.DiceRoll) error {
	_, err := execute(l.cb, func() (struct{}, error) { return struct{}{}, l.next.Record(ctx, roll) })
	return err
}

func (l *BreakerRollLog) Recent(ctx context.Context, room domain.RoomKey, viewerID string, limit int) ([]*domain.DiceRoll, error) {
	return execute(l.cb, func() ([]*domain.DiceRoll, error) { return l.next.Recent(ctx, room, viewerID, limit) })
}

// State exposes the breaker state for health reporting.
func (l *BreakerRollLog) State() gobreaker.State {
	return l.cb.State()
}
