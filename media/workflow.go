package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/codexmirror/internal/clock"
	"github.com/BaSui01/codexmirror/llm"
	"github.com/BaSui01/codexmirror/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/BaSui01/codexmirror/media"

// Progress messages for the video state machine.
const (
	MsgSubmitted = "video generation started, waiting for the backend"
	MsgPolling   = "the engine is still rendering the vision, please wait"
)

// VideoState is a step of the video state machine.
type VideoState string

const (
	StateSubmitted VideoState = "submitted"
	StatePolling   VideoState = "polling"
	StateFetching  VideoState = "fetching"
	StateComplete  VideoState = "complete"
	StateFailed    VideoState = "failed"
)

// Generator is the part of the gateway this package needs.
type Generator interface {
	llm.ImageGenerator
	llm.VideoGenerator
}

// Observer records finished generations. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveMedia(kind string, ok bool, duration time.Duration)
}

// Config tunes the workflow.
type Config struct {
	ImageModel       string        `yaml:"image_model" env:"IMAGE_MODEL"`
	ImageAspectRatio string        `yaml:"image_aspect_ratio" env:"IMAGE_ASPECT_RATIO"`
	VideoModel       string        `yaml:"video_model" env:"VIDEO_MODEL"`
	VideoResolution  string        `yaml:"video_resolution" env:"VIDEO_RESOLUTION"`
	VideoAspectRatio string        `yaml:"video_aspect_ratio" env:"VIDEO_ASPECT_RATIO"`
	PollInterval     time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	VideoTimeout     time.Duration `yaml:"video_timeout" env:"VIDEO_TIMEOUT"`
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		ImageModel:       "imagen-4.0-generate-001",
		ImageAspectRatio: "1:1",
		VideoModel:       "veo-3.1-fast-generate-preview",
		VideoResolution:  "720p",
		VideoAspectRatio: "16:9",
		PollInterval:     10 * time.Second,
		VideoTimeout:     10 * time.Minute,
	}
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(w *Workflow) { w.clock = c }
}

// WithObserver attaches an Observer.
func WithObserver(o Observer) Option {
	return func(w *Workflow) { w.observer = o }
}

// Workflow drives image and video generation.
type Workflow struct {
	gw       Generator
	cfg      Config
	clock    clock.Clock
	observer Observer
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewWorkflow creates a Workflow.
func NewWorkflow(gw Generator, cfg Config, logger *zap.Logger, opts ...Option) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Workflow{
		gw:     gw,
		cfg:    cfg,
		clock:  clock.Real(),
		tracer: otel.Tracer(instrumentationName),
		logger: logger.With(zap.String("component", "media")),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.cfg.PollInterval <= 0 {
		w.cfg.PollInterval = DefaultConfig().PollInterval
	}
	return w
}

// GenerateImage makes exactly one gateway call for a non-empty prompt.
func (w *Workflow) GenerateImage(ctx context.Context, prompt string) (art *Artifact, err error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, types.NewInvalidRequestError("image prompt is required")
	}

	ctx, span := w.tracer.Start(ctx, "media.image")
	start := w.clock.Now()
	defer func() { w.finish(span, string(KindImage), start, err) }()

	resp, err := w.gw.GenerateImage(ctx, &llm.ImageRequest{
		Prompt:      prompt,
		Model:       w.cfg.ImageModel,
		AspectRatio: w.cfg.ImageAspectRatio,
		MIMEType:    "image/png",
	})
	if err != nil {
		return nil, types.NewMediaError("image generation failed", err)
	}
	if resp == nil || len(resp.Data) == 0 {
		return nil, types.NewMediaError("image generation returned no image", nil)
	}

	mimeType := resp.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}
	return &Artifact{
		ID:        uuid.NewString(),
		Kind:      KindImage,
		Locator:   dataURL(mimeType, resp.Data),
		Prompt:    prompt,
		MIMEType:  mimeType,
		Data:      resp.Data,
		CreatedAt: w.clock.Now(),
	}, nil
}

// GenerateVideo submits a job, polls it until done and downloads the result.
// progress receives one message on submission and one after every poll that
// is not done. A failed poll is terminal.
func (w *Workflow) GenerateVideo(ctx context.Context, prompt string, seed *types.Asset, progress ProgressFunc) (art *Artifact, err error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" && seed == nil {
		return nil, types.NewInvalidRequestError("video requires a prompt or a seed image")
	}
	if seed != nil {
		if err := seed.Validate(); err != nil {
			return nil, err
		}
		if !seed.IsImage() {
			return nil, types.NewInvalidRequestError(fmt.Sprintf("seed asset %q is not an image", seed.Name))
		}
	}

	ctx, span := w.tracer.Start(ctx, "media.video", trace.WithAttributes(attribute.Bool("media.seed", seed != nil)))
	start := w.clock.Now()
	defer func() { w.finish(span, string(KindVideo), start, err) }()

	if w.cfg.VideoTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.VideoTimeout)
		defer cancel()
	}

	n := newNotifier(progress, w.logger)
	defer n.close(ctx)

	v := &videoRun{w: w, log: w.logger.With(zap.String("job", "pending"))}
	job, err := v.submit(ctx, prompt, seed)
	if err != nil {
		return nil, err
	}
	n.notify(MsgSubmitted)

	deadline := start.Add(w.cfg.VideoTimeout)
	for !job.Done {
		v.transition(StatePolling)
		if err := clock.Sleep(ctx, w.clock, w.cfg.PollInterval); err != nil {
			return nil, v.fail("video wait interrupted", err)
		}
		if job, err = v.poll(ctx, job); err != nil {
			return nil, err
		}
		if job.Done {
			break
		}
		n.notify(MsgPolling)
		if w.cfg.VideoTimeout > 0 && !w.clock.Now().Before(deadline) {
			return nil, v.fail("video generation timed out", context.DeadlineExceeded)
		}
	}

	v.transition(StateFetching)
	if job.Locator == "" {
		return nil, v.fail("video job finished without a result", nil)
	}
	data, err := w.gw.FetchVideo(ctx, job.Locator)
	if err != nil {
		return nil, v.fail("video download failed", err)
	}
	if len(data) == 0 {
		return nil, v.fail("video download returned no bytes", nil)
	}
	v.transition(StateComplete)

	return &Artifact{
		ID:        uuid.NewString(),
		Kind:      KindVideo,
		Locator:   job.Locator,
		Prompt:    prompt,
		MIMEType:  "video/mp4",
		Data:      data,
		CreatedAt: w.clock.Now(),
	}, nil
}

// videoRun tracks one pass through the state machine.
type videoRun struct {
	w     *Workflow
	state VideoState
	log   *zap.Logger
}

func (v *videoRun) submit(ctx context.Context, prompt string, seed *types.Asset) (*llm.VideoJob, error) {
	job, err := v.w.gw.SubmitVideo(ctx, &llm.VideoRequest{
		Prompt:      prompt,
		Model:       v.w.cfg.VideoModel,
		Resolution:  v.w.cfg.VideoResolution,
		AspectRatio: v.w.cfg.VideoAspectRatio,
		Seed:        seed,
	})
	if err != nil {
		return nil, v.fail("video submission failed", err)
	}
	if job == nil || job.Name == "" {
		return nil, v.fail("video submission returned no job", nil)
	}
	v.log = v.w.logger.With(zap.String("job", job.Name))
	v.transition(StateSubmitted)
	return job, nil
}

func (v *videoRun) poll(ctx context.Context, job *llm.VideoJob) (*llm.VideoJob, error) {
	next, err := v.w.gw.PollVideo(ctx, job)
	if err != nil {
		return nil, v.fail("video poll failed", err)
	}
	if next == nil {
		return nil, v.fail("video poll returned no job", nil)
	}
	if next.Name == "" {
		next.Name = job.Name
	}
	return next, nil
}

func (v *videoRun) transition(to VideoState) {
	if v.state == to {
		return
	}
	v.log.Debug("video state", zap.String("from", string(v.state)), zap.String("to", string(to)))
	v.state = to
}

func (v *videoRun) fail(msg string, cause error) error {
	from := v.state
	v.state = StateFailed
	v.log.Warn(msg, zap.String("state", string(from)), zap.Error(cause))
	return types.NewMediaError(msg, cause)
}

func (w *Workflow) finish(span trace.Span, kind string, start time.Time, err error) {
	defer span.End()
	ok := err == nil
	if !ok {
		span.RecordError(err)
		span.SetStatus(codes.Error, "media generation failed")
		var te *types.Error
		if errors.As(err, &te) {
			span.SetAttributes(attribute.String("error.code", string(te.Code)))
		}
	}
	if w.observer != nil {
		w.observer.ObserveMedia(kind, ok, w.clock.Now().Sub(start))
	}
}
