package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// GuardConfig tunes the breaker, limiter and retry policy around one upstream
type GuardConfig struct {
	RPS                 float64       `yaml:"rps" default:"20" validate:"gt=0"`
	Burst               int           `yaml:"burst" default:"5" validate:"min=1"`
	MaxRetries          int           `yaml:"max_retries" default:"2" validate:"min=0"`
	InitialBackoff      time.Duration `yaml:"initial_backoff" default:"100ms"`
	MaxElapsed          time.Duration `yaml:"max_elapsed" default:"2s"`
	CallTimeout         time.Duration `yaml:"call_timeout" default:"3s"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" default:"5" validate:"min=1"`
	OpenTimeout         time.Duration `yaml:"open_timeout" default:"30s"`
	HalfOpenRequests    uint32        `yaml:"half_open_requests" default:"1" validate:"min=1"`
}

// DefaultGuardConfig returns the production policy
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		RPS:                 20,
		Burst:               5,
		MaxRetries:          2,
		InitialBackoff:      100 * time.Millisecond,
		MaxElapsed:          2 * time.Second,
		CallTimeout:         3 * time.Second,
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

// StateFunc observes breaker transitions
type StateFunc func(name string, from, to gobreaker.State)

// Guard serialises calls to one upstream through a rate limiter, a circuit breaker and a
// bounded exponential retry. Every failure it returns wraps ErrUnavailable.
type Guard struct {
	name    string
	config  GuardConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewGuard creates a guard; nil config uses defaults
func NewGuard(name string, config *GuardConfig, onState StateFunc) *Guard {
	cfg := DefaultGuardConfig()
	if config != nil {
		cfg = *config
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("provider", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Provider circuit breaker changed state")
			if onState != nil {
				onState(name, from, to)
			}
		},
	}

	return &Guard{
		name:    name,
		config:  cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Name returns the upstream label
func (g *Guard) Name() string { return g.name }

// State returns the breaker state
func (g *Guard) State() gobreaker.State { return g.breaker.State() }

// Do runs fn under the guard
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	operation := func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		_, err := g.breaker.Execute(func() (interface{}, error) {
			callCtx := ctx
			if g.config.CallTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, g.config.CallTimeout)
				defer cancel()
			}
			return nil, fn(callCtx)
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests),
			errors.Is(err, ErrNotFound), ctx.Err() != nil:
			return backoff.Permanent(err)
		}
		return err
	}

	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = g.config.InitialBackoff
	strategy.MaxElapsedTime = g.config.MaxElapsed

	retries := g.config.MaxRetries
	if retries < 0 {
		retries = 0
	}
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(strategy, uint64(retries)), ctx))
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return fmt.Errorf("%s: %w", g.name, err)
		}
		return fmt.Errorf("%s: %w: %w", g.name, ErrUnavailable, err)
	}
	return nil
}
