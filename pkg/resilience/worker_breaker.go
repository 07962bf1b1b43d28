package resilience

import (
	"errors"
	"time"

	"cleanup_worker/pkg/logger"

	"github.com/sony/gobreaker"
)

// NewCircuitBreaker opens after more than five consecutive failures or a 60%
// failure rate over at least ten requests, and half-opens after thirty seconds.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	log := logger.Component("circuit-breaker")
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
}

// Execute runs fn through cb. Errors for which trips returns false are
// returned to the caller without counting against the breaker.
func Execute(cb *gobreaker.CircuitBreaker, fn func() error, trips func(error) bool) error {
	var passThrough error
	_, err := cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			if trips != nil && !trips(err) {
				passThrough = err
				return nil, nil
			}
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	return passThrough
}

// IsOpen reports whether err came from an open or saturated breaker.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
