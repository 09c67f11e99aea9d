package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/feichai0017/plan-takeoff/pkg/logger"
)

type Config struct {
	// Operation names the retried call in log lines.
	Operation   string
	MaxAttempts int
	// Delays is a fixed schedule; attempt n waits Delays[n-1] (the last
	// entry repeats). When empty the exponential settings apply.
	Delays          []time.Duration
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	JitterFraction  float64
	RetryableErrors []error
	Logger          logger.Logger
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.NewNop(),
	}
}

// FixedSchedule retries with the given delays and one attempt more than
// there are delays, unless maxAttempts overrides it.
func FixedSchedule(op string, maxAttempts int, delays []time.Duration, log logger.Logger) Config {
	if maxAttempts <= 0 {
		maxAttempts = len(delays) + 1
	}
	return Config{
		Operation:   op,
		MaxAttempts: maxAttempts,
		Delays:      delays,
		Logger:      log,
	}
}

// Do runs operation until it succeeds or the attempts are used up. Every
// failed attempt is logged once at warn level.
func Do(ctx context.Context, cfg Config, operation func(attempt int) error) error {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := operation(attempt)
		if err == nil {
			if attempt > 1 {
				cfg.Logger.Info("Operation succeeded after retry",
					logger.String("operation", cfg.Operation),
					logger.Int("attempt", attempt),
				)
			}
			return nil
		}

		lastErr = err

		if !isRetryable(err, cfg.RetryableErrors) {
			cfg.Logger.Warn("Operation failed with non-retryable error",
				logger.String("operation", cfg.Operation),
				logger.Int("attempt", attempt),
				logger.Int("max_attempts", cfg.MaxAttempts),
				logger.Error(err),
			)
			return err
		}

		if attempt == cfg.MaxAttempts {
			cfg.Logger.Warn("Operation attempt failed",
				logger.String("operation", cfg.Operation),
				logger.Int("attempt", attempt),
				logger.Int("max_attempts", cfg.MaxAttempts),
				logger.Error(err),
			)
			break
		}

		var wait time.Duration
		if len(cfg.Delays) > 0 {
			wait = scheduled(cfg.Delays, attempt)
		} else {
			wait = addJitter(delay, cfg.JitterFraction)
		}

		cfg.Logger.Warn("Operation attempt failed",
			logger.String("operation", cfg.Operation),
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", cfg.MaxAttempts),
			logger.Duration("delay", wait),
			logger.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}

		delay = time.Duration(math.Min(float64(cfg.MaxDelay), float64(delay)*cfg.Multiplier))
	}

	return lastErr
}

func DoWithResult[T any](ctx context.Context, cfg Config, operation func(attempt int) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func(attempt int) error {
		var err error
		result, err = operation(attempt)
		return err
	})
	return result, err
}

func scheduled(delays []time.Duration, attempt int) time.Duration {
	i := attempt - 1
	if i >= len(delays) {
		i = len(delays) - 1
	}
	return delays[i]
}

func isRetryable(err error, retryableErrors []error) bool {
	if len(retryableErrors) == 0 {
		return true
	}

	for _, retryableErr := range retryableErrors {
		if errors.Is(err, retryableErr) {
			return true
		}
	}
	return false
}

func addJitter(duration time.Duration, jitterFraction float64) time.Duration {
	if jitterFraction <= 0 {
		return duration
	}

	jitter := time.Duration(rand.Float64() * float64(duration) * jitterFraction)
	if rand.Intn(2) == 0 {
		return duration - jitter
	}
	return duration + jitter
}
