package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BaSui01/codexmirror/internal/clock"
	"go.uber.org/zap"
)

// State 熔断器状态
type State int

const (
	StateClosed   State = iota // 正常工作
	StateOpen                  // 熔断中
	StateHalfOpen              // 试探性恢复
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// Threshold 连续失败次数阈值
	Threshold int
	// ResetTimeout Open -> HalfOpen 的等待时间
	ResetTimeout time.Duration
	// HalfOpenMaxCalls 半开状态下允许的试探请求数
	HalfOpenMaxCalls int
	// Ignore reports errors that must not count as failures, such as
	// rejected requests. Nil counts every error.
	Ignore func(error) bool
	// OnStateChange is invoked synchronously under no lock after a transition.
	OnStateChange func(from, to State)
	Clock         clock.Clock
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Threshold:        5,
		ResetTimeout:     60 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

var (
	ErrCircuitOpen            = errors.New("circuit breaker is open")
	ErrTooManyCallsInHalfOpen = errors.New("too many calls while half-open")
)

// Breaker guards a dependency that fails in bursts.
type Breaker struct {
	cfg    Config
	logger *zap.Logger

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	halfOpenCalls int
}

// New 创建熔断器
func New(cfg Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 3
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &Breaker{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "circuit_breaker")),
		state:  StateClosed,
	}
}

// Do runs fn if the breaker admits the call and records its outcome.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

// Execute is the typed form of Breaker.Do.
func Execute[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := b.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// State 获取当前状态
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset 手动恢复到关闭状态
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.halfOpenCalls = 0
	b.mu.Unlock()

	b.logger.Info("circuit breaker reset", zap.Stringer("from_state", from))
	b.notify(from, StateClosed)
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if b.cfg.Clock.Now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.halfOpenCalls = 1
		b.mu.Unlock()
		b.logger.Info("circuit breaker half-open")
		b.notify(StateOpen, StateHalfOpen)
		return nil
	case StateHalfOpen:
		if b.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			b.mu.Unlock()
			return ErrTooManyCallsInHalfOpen
		}
		b.halfOpenCalls++
	}
	b.mu.Unlock()
	return nil
}

func (b *Breaker) record(err error) {
	failed := err != nil && !errors.Is(err, context.Canceled)
	if failed && b.cfg.Ignore != nil && b.cfg.Ignore(err) {
		failed = false
	}

	b.mu.Lock()
	from := b.state
	if !failed {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.state = StateClosed
			b.halfOpenCalls = 0
		}
	} else {
		b.failures++
		if (b.state == StateClosed && b.failures >= b.cfg.Threshold) || b.state == StateHalfOpen {
			b.state = StateOpen
			b.openedAt = b.cfg.Clock.Now()
			b.halfOpenCalls = 0
		}
	}
	to := b.state
	failures := b.failures
	b.mu.Unlock()

	if from != to {
		if to == StateOpen {
			b.logger.Warn("circuit breaker opened",
				zap.Int("failure_count", failures),
				zap.Int("threshold", b.cfg.Threshold),
				zap.Error(err),
			)
		} else {
			b.logger.Info("circuit breaker closed")
		}
		b.notify(from, to)
	}
}

func (b *Breaker) notify(from, to State) {
	if b.cfg.OnStateChange != nil && from != to {
		b.cfg.OnStateChange(from, to)
	}
}
