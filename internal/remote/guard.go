// Package remote paces and circuit-breaks calls to the archives. One Guard is
// shared by every session talking to the same service, so the politeness budget
// and failure accounting are per service rather than per worker.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/brensch/solarfetch/internal/metrics"
)

// ErrUnavailable is returned while the breaker is open.
var ErrUnavailable = errors.New("remote service unavailable (circuit open)")

// Guard wraps calls to one remote service.
type Guard struct {
	name    string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *slog.Logger
}

// NewGuard creates a guard allowing requestsPerSecond calls (no limit when <= 0).
// The breaker opens when at least 60% of 10 or more calls in a minute fail, and
// probes again after two minutes.
func NewGuard(name string, requestsPerSecond float64, logger *slog.Logger) *Guard {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	l := logger.With(slog.String("component", "guard"), slog.String("service", name))
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Warn("Circuit breaker state change.", slog.String("from", from.String()), slog.String("to", to.String()))
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	return &Guard{name: name, limiter: rate.NewLimiter(limit, 1), breaker: cb, logger: l}
}

// Do waits for a rate slot and runs fn through the breaker.
func (g *Guard) Do(ctx context.Context, operation string, fn func() ([]byte, error)) ([]byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s %s: rate limiter: %w", g.name, operation, err)
	}
	body, err := g.breaker.Execute(fn)
	metrics.RecordRemote(g.name, operation, err)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%s %s: %w", g.name, operation, ErrUnavailable)
		}
		return nil, err
	}
	return body, nil
}
