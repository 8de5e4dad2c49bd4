package quality

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/stablewatch/stablewatch/internal/config"
)

// Executor wraps source calls with exponential retry and a per-source
// circuit breaker. A tripped breaker fails fast until the cooldown passes.
type Executor struct {
	cfg   config.QualityConfig
	sleep func(context.Context, time.Duration) error

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewExecutor builds an executor from the quality config section.
func NewExecutor(cfg config.QualityConfig) *Executor {
	return &Executor{
		cfg:      cfg,
		sleep:    sleepCtx,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (x *Executor) breaker(source string) *gobreaker.CircuitBreaker {
	x.mu.Lock()
	defer x.mu.Unlock()
	if cb, ok := x.breakers[source]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    source,
		Timeout: time.Duration(x.cfg.CircuitCooldownSec) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= x.cfg.CircuitBreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("source", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("source circuit state change")
		},
	})
	x.breakers[source] = cb
	return cb
}

// Do runs fn through the source's breaker, retrying transient failures with
// exponential backoff. The breaker counts each exhausted retry sequence as
// one failure.
func (x *Executor) Do(ctx context.Context, source string, fn func(context.Context) error) error {
	_, err := x.breaker(source).Execute(func() (interface{}, error) {
		return nil, x.withRetry(ctx, source, fn)
	})
	return err
}

func (x *Executor) withRetry(ctx context.Context, source string, fn func(context.Context) error) error {
	attempts := x.cfg.MaxRetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && x.cfg.RetryBackoffBase > 0 {
			wait := time.Duration(math.Pow(x.cfg.RetryBackoffBase, float64(attempt-1)) * float64(time.Second))
			log.Debug().Str("source", source).Int("attempt", attempt+1).
				Dur("wait", wait).Msg("retrying source call")
			if serr := x.sleep(ctx, wait); serr != nil {
				return serr
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
	}
	log.Warn().Str("source", source).Int("attempts", attempts).Err(err).
		Msg("source call failed after retries")
	return err
}

// State returns the breaker state for a source, for status reporting.
func (x *Executor) State(source string) gobreaker.State {
	return x.breaker(source).State()
}
