package campaign

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"github.com/weiawesome/campaign-live/pkg/log"
)

// BreakerSettings configures the circuit breaker around the oracle.
type BreakerSettings struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// BreakerOracle fails fast while the underlying oracle keeps erroring, so
// a struggling database does not hold every join and GM check for the
// full upstream timeout.
type BreakerOracle struct {
	next Oracle
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerOracle(next Oracle, s BreakerSettings) *BreakerOracle {
	threshold := s.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "campaign-oracle",
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A caller giving up says nothing about the store.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l := log.L()
			l.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return &BreakerOracle{next: next, cb: cb}
}

func (o *BreakerOracle) IsMember(ctx context.Context, campaignID, userID string) (bool, error) {
	v, err := o.cb.Execute(func() (interface{}, error) {
		return o.next.IsMember(ctx, campaignID, userID)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (o *BreakerOracle) GMUserID(ctx context.Context, campaignID string) (string, error) {
	v, err := o.cb.Execute(func() (interface{}, error) {
		return o.next.GMUserID(ctx, campaignID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// State exposes the breaker state for health reporting.
func (o *BreakerOracle) State() gobreaker.State {
	return o.cb.State()
}
