package provider

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig holds configuration for circuit breaking around a
// collaborator.
type BreakerConfig struct {
	Enabled          bool    `mapstructure:"enabled" yaml:"enabled"`
	MaxRequests      uint32  `mapstructure:"max_requests" yaml:"max_requests"`
	Interval         int     `mapstructure:"interval" yaml:"interval"` // seconds
	Timeout          int     `mapstructure:"timeout" yaml:"timeout"`   // seconds
	ReadyToTripRatio float64 `mapstructure:"ready_to_trip_ratio" yaml:"ready_to_trip_ratio"`
}

// DefaultBreakerConfig returns a breaker that trips after >=3 requests with
// a 60% failure ratio and half-opens after 30 seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:          true,
		MaxRequests:      1,
		Interval:         60,
		Timeout:          30,
		ReadyToTripRatio: 0.6,
	}
}

// Breaker wraps a gobreaker circuit breaker. When the breaker is open,
// calls fail fast with a transient error so callers fall back to their
// degraded paths without waiting out provider timeouts.
type Breaker struct {
	cb      *gobreaker.CircuitBreaker
	enabled bool
}

// NewBreaker creates a circuit breaker with the given name for logging.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if !cfg.Enabled {
		return &Breaker{enabled: false}
	}

	ratio := cfg.ReadyToTripRatio
	if ratio <= 0 {
		ratio = 0.6
	}
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    time.Duration(cfg.Interval) * time.Second,
		Timeout:     time.Duration(cfg.Timeout) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= ratio
		},
	}

	return &Breaker{cb: gobreaker.NewCircuitBreaker(st), enabled: true}
}

// Do executes fn through the breaker.
func Do[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	if b == nil || !b.enabled {
		return fn(ctx)
	}

	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, NewTransientError("circuit breaker open", err)
		}
		return zero, err
	}
	return result.(T), nil
}
