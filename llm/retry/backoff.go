package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/BaSui01/codexmirror/internal/clock"
	"go.uber.org/zap"
)

// Policy 定义重试策略配置
type Policy struct {
	MaxRetries   int           // 最大重试次数（0 表示不重试）
	InitialDelay time.Duration // 初始延迟时间
	MaxDelay     time.Duration // 最大延迟时间
	Multiplier   float64       // 指数退避倍增因子
	Jitter       bool          // ±25% 随机抖动

	// Retryable decides whether an error earns another attempt. Nil retries
	// every error.
	Retryable func(error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
	// Clock drives the waits. Nil uses wall-clock time.
	Clock clock.Clock
}

// DefaultPolicy returns the policy used for gateway calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer runs a function under a Policy.
type Retryer struct {
	policy Policy
	logger *zap.Logger
}

// New 创建指数退避重试器
func New(policy Policy, logger *zap.Logger) *Retryer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 2.0
	}
	if policy.Clock == nil {
		policy.Clock = clock.Real()
	}
	return &Retryer{policy: policy, logger: logger.With(zap.String("component", "retry"))}
}

// Policy returns the normalized policy.
func (r *Retryer) Policy() Policy { return r.policy }

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempts run out.
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.delay(attempt)
			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}
			if err := clock.Sleep(ctx, r.policy.Clock, delay); err != nil {
				return fmt.Errorf("retry cancelled: %w", err)
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			if attempt > 0 {
				r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return nil
		}
		if !r.retryable(lastErr) {
			return lastErr
		}
	}

	r.logger.Warn("retries exhausted",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)
	return fmt.Errorf("failed after %d retries: %w", r.policy.MaxRetries, lastErr)
}

// Do is the typed form of Retryer.Do.
func Do[T any](ctx context.Context, r *Retryer, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// delay = initial * multiplier^(attempt-1)，上限 MaxDelay
func (r *Retryer) delay(attempt int) time.Duration {
	d := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	if d > float64(r.policy.MaxDelay) {
		d = float64(r.policy.MaxDelay)
	}
	if r.policy.Jitter {
		jitter := d * 0.25
		d += (rand.Float64()*2 - 1) * jitter
	}
	if d < float64(r.policy.InitialDelay) {
		d = float64(r.policy.InitialDelay)
	}
	return time.Duration(d)
}

func (r *Retryer) retryable(err error) bool {
	if r.policy.Retryable == nil {
		return true
	}
	return r.policy.Retryable(err)
}
