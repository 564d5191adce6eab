package llm

import (
	"context"
	"time"

	"github.com/BaSui01/codexmirror/internal/ctxkeys"
	"github.com/BaSui01/codexmirror/llm/circuitbreaker"
	"github.com/BaSui01/codexmirror/llm/retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// CallObserver receives one notification per gateway call attempt sequence.
type CallObserver interface {
	ObserveGatewayCall(provider, operation string, duration time.Duration, err error)
}

// ResilientOptions configures NewResilient.
type ResilientOptions struct {
	Retry   retry.Policy
	Breaker circuitbreaker.Config
	// RequestsPerSecond caps outbound calls. Zero disables the limiter.
	RequestsPerSecond float64
	Burst             int
	Observer          CallObserver
}

// Resilient wraps a Gateway with retry, circuit breaking and rate limiting.
// Video submissions and polls go through the breaker and limiter but are never
// retried. A submission may have been accepted before its error arrived, and a
// failed poll is terminal for the job.
type Resilient struct {
	inner    Gateway
	retryer  *retry.Retryer
	breaker  *circuitbreaker.Breaker
	limiter  *rate.Limiter
	observer CallObserver
	logger   *zap.Logger
}

var _ Gateway = (*Resilient)(nil)

// NewResilient wraps gw.
func NewResilient(gw Gateway, opts ResilientOptions, logger *zap.Logger) *Resilient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = IsRetryable
	}
	if opts.Breaker.Ignore == nil {
		opts.Breaker.Ignore = IsClientError
	}
	r := &Resilient{
		inner:    gw,
		retryer:  retry.New(opts.Retry, logger),
		breaker:  circuitbreaker.New(opts.Breaker, logger),
		observer: opts.Observer,
		logger:   logger.With(zap.String("component", "resilient_gateway"), zap.String("provider", gw.Name())),
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return r
}

func (r *Resilient) Name() string { return r.inner.Name() }

// BreakerState exposes the breaker for health reporting.
func (r *Resilient) BreakerState() circuitbreaker.State { return r.breaker.State() }

func (r *Resilient) GenerateStructured(ctx context.Context, req *StructuredRequest) (*StructuredResponse, error) {
	return call(ctx, r, "structured", true, func(ctx context.Context) (*StructuredResponse, error) {
		return r.inner.GenerateStructured(ctx, req)
	})
}

func (r *Resilient) GenerateText(ctx context.Context, req *TextRequest) (*TextResponse, error) {
	return call(ctx, r, "text", true, func(ctx context.Context) (*TextResponse, error) {
		return r.inner.GenerateText(ctx, req)
	})
}

func (r *Resilient) GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResponse, error) {
	return call(ctx, r, "image", true, func(ctx context.Context) (*ImageResponse, error) {
		return r.inner.GenerateImage(ctx, req)
	})
}

func (r *Resilient) SubmitVideo(ctx context.Context, req *VideoRequest) (*VideoJob, error) {
	return call(ctx, r, "video_submit", false, func(ctx context.Context) (*VideoJob, error) {
		return r.inner.SubmitVideo(ctx, req)
	})
}

func (r *Resilient) PollVideo(ctx context.Context, job *VideoJob) (*VideoJob, error) {
	return call(ctx, r, "video_poll", false, func(ctx context.Context) (*VideoJob, error) {
		return r.inner.PollVideo(ctx, job)
	})
}

func (r *Resilient) FetchVideo(ctx context.Context, locator string) ([]byte, error) {
	return call(ctx, r, "video_fetch", true, func(ctx context.Context) ([]byte, error) {
		return r.inner.FetchVideo(ctx, locator)
	})
}

func call[T any](ctx context.Context, r *Resilient, op string, retryable bool, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	attempt := func(ctx context.Context) (T, error) {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				var zero T
				return zero, &Error{
					Code:     ErrRateLimited,
					Message:  "local rate limit wait aborted",
					Provider: r.inner.Name(),
					Cause:    err,
				}
			}
		}
		return circuitbreaker.Execute(ctx, r.breaker, fn)
	}

	var (
		out T
		err error
	)
	if retryable {
		out, err = retry.Do(ctx, r.retryer, attempt)
	} else {
		out, err = attempt(ctx)
	}

	if r.observer != nil {
		r.observer.ObserveGatewayCall(r.inner.Name(), op, time.Since(start), err)
	}
	if err != nil {
		fields := append([]zap.Field{zap.String("operation", op), zap.Error(err)}, ctxkeys.Fields(ctx)...)
		r.logger.Debug("gateway call failed", fields...)
	}
	return out, err
}
