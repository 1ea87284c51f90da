package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Backoff - стратегия задержки между попытками
type Backoff string

const (
	BackoffConstant    Backoff = "constant"
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

// RetryConfig - повторы открытия соединения. Пакет команд не повторяется никогда.
type RetryConfig struct {
	// MaxAttempts - попыток вместе с первой, 0 или 1 - без повторов
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Backoff      Backoff       `yaml:"backoff"`
	// Multiplier - для exponential, default 2
	Multiplier float64 `yaml:"multiplier"`
	// Jitter - доля случайного отклонения задержки, 0..1
	Jitter float64 `yaml:"jitter"`

	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-"`
}

// DefaultRetryConfig - три попытки с экспоненциальной задержкой от 200ms
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Backoff:      BackoffExponential,
		Multiplier:   2,
		Jitter:       0.1,
	}
}

// Validate проверяет значения и подставляет умолчания
func (c *RetryConfig) Validate() error {
	if c.MaxAttempts < 0 {
		return fmt.Errorf("retry: max_attempts must be >= 0, got %d", c.MaxAttempts)
	}
	if c.InitialDelay < 0 {
		return fmt.Errorf("retry: initial_delay must be >= 0")
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = c.InitialDelay
	}
	if c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("retry: max_delay (%v) must be >= initial_delay (%v)", c.MaxDelay, c.InitialDelay)
	}
	switch c.Backoff {
	case "":
		c.Backoff = BackoffExponential
	case BackoffConstant, BackoffLinear, BackoffExponential:
	default:
		return fmt.Errorf("retry: invalid backoff %q", c.Backoff)
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		return fmt.Errorf("retry: jitter must be between 0 and 1, got %v", c.Jitter)
	}
	return nil
}

// Retryer повторяет вызов с задержкой. Безопасен для конкурентного использования.
type Retryer struct {
	config RetryConfig
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRetryer(config RetryConfig) (*Retryer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Retryer{config: config, sleep: sleepCtx}, nil
}

// Do вызывает fn до MaxAttempts раз. Открытый предохранитель и отмена
// контекста не повторяются.
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt >= r.config.MaxAttempts {
			if attempt > 1 {
				return fmt.Errorf("after %d attempts: %w", attempt, err)
			}
			return err
		}

		delay := r.delay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}
		if serr := r.sleep(ctx, delay); serr != nil {
			return fmt.Errorf("retry cancelled: %w", errors.Join(err, serr))
		}
	}
}

func retryable(err error) bool {
	return !errors.Is(err, ErrCircuitOpen) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// delay - задержка перед попыткой attempt+1
func (r *Retryer) delay(attempt int) time.Duration {
	c := r.config
	var d time.Duration
	switch c.Backoff {
	case BackoffLinear:
		d = c.InitialDelay * time.Duration(attempt)
	case BackoffExponential:
		d = time.Duration(float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt-1)))
	default:
		d = c.InitialDelay
	}
	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	if c.Jitter > 0 {
		d += time.Duration(float64(d) * c.Jitter * (rand.Float64()*2 - 1))
	}
	return max(d, 0)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
