package workflow

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Task 并行任务
type Task[In, Out any] struct {
	Name string
	Run  func(ctx context.Context, input In) (Out, error)
}

// TaskResult 任务结果，Index 对应任务在输入中的位置
type TaskResult[Out any] struct {
	TaskName string
	Index    int
	Result   Out
	Err      error
	Duration time.Duration
}

// PanicError wraps a value recovered from a task.
type PanicError struct {
	TaskName string
	Value    any
	Stack    []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %s panicked: %v", e.TaskName, e.Value)
}

// FanOut 并行工作流
// 所有任务同时启动，单个任务的错误或 panic 只记录在自己的结果槽位中，
// 不会取消其他任务；Execute 在全部任务结束后返回，结果保持任务顺序。
type FanOut[In, Out any] struct {
	name   string
	tasks  []Task[In, Out]
	limit  int
	logger *zap.Logger
}

// Option configures a FanOut.
type Option func(*fanOutOptions)

type fanOutOptions struct {
	limit  int
	logger *zap.Logger
}

// WithConcurrencyLimit caps simultaneously running tasks. Zero means all at once.
func WithConcurrencyLimit(n int) Option {
	return func(o *fanOutOptions) { o.limit = n }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *fanOutOptions) { o.logger = logger }
}

// NewFanOut 创建并行工作流
func NewFanOut[In, Out any](name string, tasks []Task[In, Out], opts ...Option) *FanOut[In, Out] {
	o := fanOutOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return &FanOut[In, Out]{
		name:   name,
		tasks:  append([]Task[In, Out](nil), tasks...),
		limit:  o.limit,
		logger: o.logger.With(zap.String("component", "fan_out"), zap.String("workflow", name)),
	}
}

func (w *FanOut[In, Out]) Name() string { return w.name }

// Len returns the number of tasks.
func (w *FanOut[In, Out]) Len() int { return len(w.tasks) }

// Execute runs every task against input and joins. It never fails as a
// whole; per-task failures are in the returned slots.
func (w *FanOut[In, Out]) Execute(ctx context.Context, input In) []TaskResult[Out] {
	results := make([]TaskResult[Out], len(w.tasks))
	if len(w.tasks) == 0 {
		return results
	}

	// 每个分支都返回 nil，errgroup 只用作汇合屏障
	var g errgroup.Group
	if w.limit > 0 {
		g.SetLimit(w.limit)
	}
	start := time.Now()
	for i, task := range w.tasks {
		g.Go(func() error {
			results[i] = w.runOne(ctx, i, task, input)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	w.logger.Debug("fan-out joined",
		zap.Int("tasks", len(results)),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return results
}

func (w *FanOut[In, Out]) runOne(ctx context.Context, i int, task Task[In, Out], input In) (res TaskResult[Out]) {
	res = TaskResult[Out]{TaskName: task.Name, Index: i}
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		if r := recover(); r != nil {
			res.Err = &PanicError{TaskName: task.Name, Value: r, Stack: debug.Stack()}
			w.logger.Error("task panicked", zap.String("task", task.Name), zap.Any("panic", r))
		}
	}()

	if task.Run == nil {
		res.Err = fmt.Errorf("task %s has no run function", task.Name)
		return res
	}
	out, err := task.Run(ctx, input)
	res.Result = out
	res.Err = err
	return res
}
