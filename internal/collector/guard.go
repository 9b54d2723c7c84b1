package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"EquitySync/internal/model"
)

// GuardConfig tunes GuardedFetcher.
type GuardConfig struct {
	RatePerSecond float64
	Burst         int
	// BreakerFailures consecutive failures open the breaker.
	BreakerFailures uint32
	// BreakerTimeout is how long the breaker stays open before probing again.
	BreakerTimeout time.Duration
	// OnStateChange is notified on breaker transitions (metrics hook).
	OnStateChange func(name string, from, to gobreaker.State)
}

// GuardedFetcher throttles calls to the provider and stops calling it while
// it keeps failing. An open breaker fails fast; the entity is retried on the
// next pass.
type GuardedFetcher struct {
	next    Fetcher
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewGuardedFetcher wraps next.
func NewGuardedFetcher(next Fetcher, cfg GuardConfig) *GuardedFetcher {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	settings := gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// The caller giving up is not the provider's fault.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("provider", name).Str("from", from.String()).Str("to", to.String()).
				Msg("provider circuit breaker state changed")
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, from, to)
			}
		},
	}
	return &GuardedFetcher{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (g *GuardedFetcher) Name() string { return g.next.Name() }

// State exposes the breaker state.
func (g *GuardedFetcher) State() gobreaker.State { return g.breaker.State() }

func (g *GuardedFetcher) do(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return g.breaker.Execute(fn)
}

func (g *GuardedFetcher) FetchSeries(ctx context.Context, entity model.Entity, start time.Time) ([]model.RawBar, error) {
	v, err := g.do(ctx, func() (interface{}, error) {
		return g.next.FetchSeries(ctx, entity, start)
	})
	if err != nil {
		return nil, err
	}
	rows, _ := v.([]model.RawBar)
	return rows, nil
}

func (g *GuardedFetcher) FetchAttributes(ctx context.Context, entity model.Entity) (*model.Attributes, error) {
	v, err := g.do(ctx, func() (interface{}, error) {
		return g.next.FetchAttributes(ctx, entity)
	})
	if err != nil {
		return nil, err
	}
	a, _ := v.(*model.Attributes)
	return a, nil
}

func (g *GuardedFetcher) FetchDerived(ctx context.Context, entity model.Entity) ([]model.DerivedRow, error) {
	v, err := g.do(ctx, func() (interface{}, error) {
		return g.next.FetchDerived(ctx, entity)
	})
	if err != nil {
		return nil, err
	}
	rows, _ := v.([]model.DerivedRow)
	return rows, nil
}
