package recommend

import (
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"onebookreader/pkg/apierror"
	"onebookreader/pkg/domain"
)

const (
	DefaultBreakerFailures = 5
	DefaultBreakerCooldown = time.Minute

	codeCircuitOpen = "circuit_open"
)

// newBreaker trips after failures consecutive loads that ended in a
// transient error, retries included, and lets one load through after
// cooldown. Auth and caller errors count as successes.
func newBreaker(failures uint32, cooldown time.Duration, logger *slog.Logger) *gobreaker.CircuitBreaker[[]domain.Recommendation] {
	if failures == 0 {
		failures = DefaultBreakerFailures
	}
	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldown
	}
	return gobreaker.NewCircuitBreaker[[]domain.Recommendation](gobreaker.Settings{
		Name:        "recommendations",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !apierror.Transient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// breakerError turns a rejection by the breaker into a classified error and
// passes everything else through.
func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &apierror.Error{
			Kind:    apierror.KindServiceUnavailable,
			Code:    codeCircuitOpen,
			Message: "Recommendations are temporarily unavailable. Please try again shortly.",
			Err:     err,
		}
	}
	return err
}
