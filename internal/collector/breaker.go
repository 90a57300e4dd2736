package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/fanyang89/sql-insight/internal/logger"
)

// Breaker guards database connects across daemon cycles so an unreachable
// server is not dialed every cycle.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker opens after three consecutive connect failures and probes
// again after cooldown.
func NewBreaker(name string, cooldown time.Duration) *Breaker {
	log := logger.WithComponent("breaker")
	return &Breaker{cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})}
}

// Dial runs open through b. A nil breaker dials directly.
func Dial[C any](ctx context.Context, b *Breaker, open func(context.Context) (C, error)) (C, error) {
	if b == nil {
		return open(ctx)
	}
	v, err := b.cb.Execute(func() (any, error) {
		return open(ctx)
	})
	if err != nil {
		var zero C
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("skipping %s connect: circuit breaker open after repeated failures", b.cb.Name())
		}
		return zero, err
	}
	c, _ := v.(C)
	return c, nil
}
