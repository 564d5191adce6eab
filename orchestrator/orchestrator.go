package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/codexmirror/council"
	"github.com/BaSui01/codexmirror/gate"
	"github.com/BaSui01/codexmirror/internal/clock"
	"github.com/BaSui01/codexmirror/internal/ctxkeys"
	"github.com/BaSui01/codexmirror/internal/sysmetrics"
	"github.com/BaSui01/codexmirror/media"
	"github.com/BaSui01/codexmirror/tactical"
	"github.com/BaSui01/codexmirror/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/BaSui01/codexmirror/orchestrator"

// Default task templates.
const (
	fileTaskFormat    = "Analyze the file %s."
	metricsTaskPrefix = "Analyze the current system state and provide a comprehensive status assessment and recommendations based on the following data:\n\n"
)

// errSuperseded is the cancel cause handed to an invocation replaced by a
// newer one.
var errSuperseded = errors.New("superseded by a newer invocation")

// IsSuperseded reports whether err comes from an invocation that a newer
// one replaced.
func IsSuperseded(err error) bool {
	return errors.Is(err, errSuperseded)
}

// =============================================================================
// 🎯 接口定义
// =============================================================================

// Dispatcher fans a task out to the roster.
type Dispatcher interface {
	Dispatch(ctx context.Context, task string, roster council.Roster, modes tactical.Modes, asset *types.Asset) []council.Outcome
}

// Synthesizer folds outcomes into one decision.
type Synthesizer interface {
	Synthesize(ctx context.Context, task string, outcomes []council.Outcome, prePhase bool) string
}

// MediaGenerator drives image and video generation.
type MediaGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (*media.Artifact, error)
	GenerateVideo(ctx context.Context, prompt string, seed *types.Asset, progress media.ProgressFunc) (*media.Artifact, error)
}

// Recorder receives pipeline-level counters. *metrics.Collector satisfies it.
type Recorder interface {
	RecordDispatch(status string, duration time.Duration)
	RecordPrePhase(status string)
}

// Archiver persists finished reports. A failing archive never fails the
// dispatch that produced the report.
type Archiver interface {
	Archive(ctx context.Context, r *Report) error
}

// archiveTimeout bounds one Archive call; it runs after the caller's context
// may already be done.
const archiveTimeout = 10 * time.Second

// =============================================================================
// 📋 请求与状态
// =============================================================================

// Phase is the coarse step of the current invocation.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseGate         Phase = "gate"
	PhaseDispatching  Phase = "dispatching"
	PhaseSynthesizing Phase = "synthesizing"
	PhaseMedia        Phase = "media"
	PhaseComplete     Phase = "complete"
	PhaseFailed       Phase = "failed"
)

// Dispatch statuses passed to the Recorder.
const (
	StatusOK         = "ok"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
	StatusSuperseded = "superseded"
)

// Request is one dispatch.
type Request struct {
	Task  string         `json:"task"`
	Asset *types.Asset   `json:"asset,omitempty"`
	Modes tactical.Modes `json:"modes"`
}

// Report is the result of a finished dispatch.
type Report struct {
	InvocationID string            `json:"invocation_id"`
	Task         string            `json:"task"`
	PrePhase     bool              `json:"pre_phase"`
	Modes        tactical.Modes    `json:"modes"`
	Outcomes     []council.Outcome `json:"outcomes"`
	Synthesis    string            `json:"synthesis"`
	Degraded     int               `json:"degraded"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
}

// State is what a caller sees between and during invocations.
type State struct {
	InvocationID    string            `json:"invocation_id,omitempty"`
	Phase           Phase             `json:"phase"`
	Task            string            `json:"task,omitempty"`
	PrePhaseEnabled bool              `json:"pre_phase_enabled"`
	Gate            *gate.Progress    `json:"gate,omitempty"`
	Outcomes        []council.Outcome `json:"outcomes,omitempty"`
	Synthesis       string            `json:"synthesis,omitempty"`
	Media           *media.Artifact   `json:"media,omitempty"`
	MediaProgress   string            `json:"media_progress,omitempty"`
	Error           string            `json:"error,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// =============================================================================
// ⚙️ 选项
// =============================================================================

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the wall clock used for timestamps and the gate timer.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithGateConfig sets the pre-phase gate configuration.
func WithGateConfig(cfg gate.Config) Option {
	return func(o *Orchestrator) { o.gateCfg = cfg }
}

// WithGateOptions adds options passed to every gate the orchestrator builds.
func WithGateOptions(opts ...gate.Option) Option {
	return func(o *Orchestrator) { o.gateOpts = append(o.gateOpts, opts...) }
}

// WithPrePhase sets the initial pre-phase flag.
func WithPrePhase(enabled bool) Option {
	return func(o *Orchestrator) { o.prePhase.Store(enabled) }
}

// WithSnapshotter sets the metrics source for the empty-task default.
func WithSnapshotter(s sysmetrics.Snapshotter) Option {
	return func(o *Orchestrator) { o.snapshots = s }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithArchiver stores every successful report.
func WithArchiver(a Archiver) Option {
	return func(o *Orchestrator) { o.archiver = a }
}

// =============================================================================
// 🧭 Orchestrator
// =============================================================================

// Orchestrator owns caller-visible state. Workers return values and only the
// orchestrator writes them into State.
type Orchestrator struct {
	roster      council.Roster
	dispatcher  Dispatcher
	synthesizer Synthesizer
	media       MediaGenerator
	snapshots   sysmetrics.Snapshotter
	recorder    Recorder
	archiver    Archiver
	clock       clock.Clock
	gateCfg     gate.Config
	gateOpts    []gate.Option
	tracer      trace.Tracer
	logger      *zap.Logger

	prePhase atomic.Bool

	mu     sync.RWMutex
	gen    uint64
	cancel context.CancelCauseFunc
	gate   *gate.Gate
	state  State
}

// New creates an Orchestrator. mg may be nil when media is not served.
func New(roster council.Roster, d Dispatcher, s Synthesizer, mg MediaGenerator, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		roster:      roster,
		dispatcher:  d,
		synthesizer: s,
		media:       mg,
		clock:       clock.Real(),
		gateCfg:     gate.DefaultConfig(),
		tracer:      otel.Tracer(instrumentationName),
		logger:      logger.With(zap.String("component", "orchestrator")),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.snapshots == nil {
		o.snapshots = sysmetrics.NewCollector("", o.logger)
	}
	o.state = State{Phase: PhaseIdle, PrePhaseEnabled: o.prePhase.Load(), UpdatedAt: o.clock.Now()}
	return o
}

// Roster returns the configured roster.
func (o *Orchestrator) Roster() council.Roster { return o.roster }

// PrePhase reports whether dispatches run through the gate first.
func (o *Orchestrator) PrePhase() bool { return o.prePhase.Load() }

// SetPrePhase toggles the pre-phase. It applies to the next dispatch.
func (o *Orchestrator) SetPrePhase(enabled bool) {
	o.prePhase.Store(enabled)
	o.mu.Lock()
	o.state.PrePhaseEnabled = enabled
	o.mu.Unlock()
	o.logger.Info("pre-phase toggled", zap.Bool("enabled", enabled))
}

// State returns a copy of the current state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s := o.state
	s.Outcomes = append([]council.Outcome(nil), o.state.Outcomes...)
	if o.state.Gate != nil {
		g := *o.state.Gate
		s.Gate = &g
	}
	return s
}

// invocation identifies one run. Writes from an invocation whose gen is no
// longer current are dropped.
type invocation struct {
	id     string
	gen    uint64
	kind   string
	cancel context.CancelCauseFunc
}

// begin resets state, cancels the previous invocation and returns the new one.
func (o *Orchestrator) begin(parent context.Context, kind, task string) (*invocation, context.Context) {
	ctx, cancel := context.WithCancelCause(parent)

	o.mu.Lock()
	if o.cancel != nil {
		o.cancel(errSuperseded)
	}
	o.gen++
	inv := &invocation{id: uuid.NewString(), gen: o.gen, kind: kind, cancel: cancel}
	o.cancel = cancel
	o.gate = nil
	o.state = State{
		InvocationID:    inv.id,
		Phase:           PhaseIdle,
		Task:            task,
		PrePhaseEnabled: o.prePhase.Load(),
		UpdatedAt:       o.clock.Now(),
	}
	o.mu.Unlock()

	o.logger.Debug("invocation started", zap.String("invocation_id", inv.id), zap.String("kind", kind))
	return inv, ctxkeys.WithInvocationID(ctx, inv.id)
}

func (o *Orchestrator) end(inv *invocation) {
	o.mu.Lock()
	if o.gen == inv.gen {
		o.cancel = nil
		o.gate = nil
	}
	o.mu.Unlock()
	inv.cancel(nil)
}

// update applies fn when inv is still current.
func (o *Orchestrator) update(inv *invocation, fn func(*State)) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen != inv.gen {
		return false
	}
	fn(&o.state)
	o.state.UpdatedAt = o.clock.Now()
	return true
}

// interrupted maps a cancelled invocation to a 409 error, or returns nil.
func interrupted(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(ctx)
	if errors.Is(cause, errSuperseded) {
		return types.NewError(types.ErrSuperseded, "invocation superseded").WithCause(errSuperseded).WithHTTPStatus(http.StatusConflict)
	}
	return types.NewPipelineError("invocation cancelled", cause).WithHTTPStatus(http.StatusConflict)
}

func (o *Orchestrator) fail(inv *invocation, err error) error {
	o.update(inv, func(s *State) {
		s.Phase = PhaseFailed
		s.Error = err.Error()
		s.MediaProgress = ""
	})
	return err
}

// =============================================================================
// 🚀 Dispatch
// =============================================================================

// Dispatch runs one council invocation. With the pre-phase enabled the gate
// runs to completion first and the dispatcher is only called from its hook.
func (o *Orchestrator) Dispatch(ctx context.Context, req Request) (*Report, error) {
	if err := req.Asset.Validate(); err != nil {
		return nil, err
	}

	start := o.clock.Now()
	prePhase := o.prePhase.Load()
	inv, ctx := o.begin(ctx, "dispatch", strings.TrimSpace(req.Task))
	defer o.end(inv)

	ctx, span := o.tracer.Start(ctx, "orchestrator.dispatch", trace.WithAttributes(
		attribute.String("invocation.id", inv.id),
		attribute.Bool("orchestrator.pre_phase", prePhase),
	))
	defer span.End()

	report, err := o.dispatch(ctx, inv, req, prePhase)
	status := StatusOK
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		switch {
		case IsSuperseded(err):
			status = StatusSuperseded
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			status = StatusCancelled
		default:
			status = StatusFailed
		}
		o.logger.Warn("dispatch failed", zap.String("invocation_id", inv.id), zap.Error(err))
		err = o.fail(inv, err)
	}
	if o.recorder != nil {
		o.recorder.RecordDispatch(status, o.clock.Now().Sub(start))
	}
	if err != nil {
		return nil, err
	}
	report.StartedAt = start
	o.archive(ctx, report)
	return report, nil
}

func (o *Orchestrator) archive(ctx context.Context, report *Report) {
	if o.archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()
	if err := o.archiver.Archive(ctx, report); err != nil {
		o.logger.Warn("archive report failed",
			append(ctxkeys.Fields(ctx), zap.Error(err))...)
	}
}

// DispatchSuggestion dispatches a briefing action as the task. Attached
// assets are never sent with a suggestion.
func (o *Orchestrator) DispatchSuggestion(ctx context.Context, action string, modes tactical.Modes) (*Report, error) {
	if strings.TrimSpace(action) == "" {
		return nil, types.NewInvalidRequestError("suggested action is empty")
	}
	return o.Dispatch(ctx, Request{Task: action, Modes: modes})
}

func (o *Orchestrator) dispatch(ctx context.Context, inv *invocation, req Request, prePhase bool) (*Report, error) {
	if o.roster.Len() == 0 {
		return nil, types.NewPipelineError("roster is empty", nil)
	}
	task, err := o.resolveTask(ctx, req)
	if err != nil {
		return nil, err
	}
	o.update(inv, func(s *State) { s.Task = task })

	if !prePhase {
		return o.pipeline(ctx, inv, task, req, false)
	}

	var (
		report  *Report
		perr    error
		invoked bool
	)
	opts := append([]gate.Option{
		gate.WithClock(o.clock),
		gate.WithProgressFunc(func(p gate.Progress) {
			o.update(inv, func(s *State) {
				s.Gate = &p
				if p.State == gate.StateActive {
					s.Phase = PhaseGate
				}
			})
		}),
	}, o.gateOpts...)
	g := gate.New(o.gateCfg, func(ctx context.Context) {
		invoked = true
		report, perr = o.pipeline(ctx, inv, task, req, true)
	}, o.logger, opts...)
	o.mu.Lock()
	if o.gen == inv.gen {
		o.gate = g
	}
	o.mu.Unlock()

	if err := g.Run(ctx); err != nil {
		if o.recorder != nil {
			o.recorder.RecordPrePhase("aborted")
		}
		if ierr := interrupted(ctx); ierr != nil {
			return nil, ierr
		}
		return nil, types.NewPipelineError("pre-phase aborted", err)
	}
	if o.recorder != nil {
		o.recorder.RecordPrePhase("complete")
	}
	if !invoked {
		return nil, types.NewPipelineError("pre-phase completed without dispatch", nil)
	}
	return report, perr
}

// CompletePrePhase ends the running gate early: its remaining stages and
// trailing delay are skipped and the council is called at once.
func (o *Orchestrator) CompletePrePhase() error {
	o.mu.RLock()
	g, id := o.gate, o.state.InvocationID
	o.mu.RUnlock()

	if g == nil {
		return types.NewError(types.ErrNotFound, "no pre-phase is running")
	}
	switch g.State() {
	case gate.StateIdle, gate.StateActive:
	default:
		return types.NewError(types.ErrNotFound, "no pre-phase is running")
	}
	g.Complete()
	o.logger.Info("pre-phase completed early", zap.String("invocation_id", id))
	return nil
}

// pipeline is dispatcher then synthesizer.
func (o *Orchestrator) pipeline(ctx context.Context, inv *invocation, task string, req Request, prePhase bool) (*Report, error) {
	o.update(inv, func(s *State) { s.Phase = PhaseDispatching })
	outcomes := o.dispatcher.Dispatch(ctx, task, o.roster, req.Modes, req.Asset)
	if err := interrupted(ctx); err != nil {
		return nil, err
	}
	if len(outcomes) != o.roster.Len() {
		return nil, types.NewPipelineError(
			fmt.Sprintf("dispatcher returned %d outcomes for %d agents", len(outcomes), o.roster.Len()), nil)
	}
	o.update(inv, func(s *State) {
		s.Outcomes = append([]council.Outcome(nil), outcomes...)
		s.Phase = PhaseSynthesizing
	})

	synthesis := o.synthesizer.Synthesize(ctx, task, outcomes, prePhase)
	if err := interrupted(ctx); err != nil {
		return nil, err
	}

	degraded := 0
	for _, out := range outcomes {
		if !out.OK() {
			degraded++
		}
	}
	o.update(inv, func(s *State) {
		s.Synthesis = synthesis
		s.Phase = PhaseComplete
	})
	o.logger.Info("dispatch complete",
		zap.String("invocation_id", inv.id),
		zap.Int("agents", len(outcomes)),
		zap.Int("degraded", degraded),
		zap.Bool("pre_phase", prePhase),
	)
	return &Report{
		InvocationID: inv.id,
		Task:         task,
		PrePhase:     prePhase,
		Modes:        req.Modes,
		Outcomes:     outcomes,
		Synthesis:    synthesis,
		Degraded:     degraded,
		FinishedAt:   o.clock.Now(),
	}, nil
}

// resolveTask applies the empty-task defaults.
func (o *Orchestrator) resolveTask(ctx context.Context, req Request) (string, error) {
	task := strings.TrimSpace(req.Task)
	if task != "" {
		return task, nil
	}
	if req.Asset != nil {
		return fmt.Sprintf(fileTaskFormat, req.Asset.Name), nil
	}
	snap, err := o.snapshots.Snapshot(ctx)
	if err != nil {
		return "", types.NewPipelineError("system metrics unavailable", err)
	}
	return metricsTaskPrefix + snap.JSON(), nil
}

// =============================================================================
// 🎬 Media
// =============================================================================

// GenerateImage renders one image and publishes it as the current media.
func (o *Orchestrator) GenerateImage(ctx context.Context, prompt string) (*media.Artifact, error) {
	if o.media == nil {
		return nil, types.NewError(types.ErrServiceUnavailable, "media generation is not configured")
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, types.NewInvalidRequestError("image prompt is required")
	}

	inv, ctx := o.begin(ctx, "image", prompt)
	defer o.end(inv)
	o.update(inv, func(s *State) { s.Phase = PhaseMedia })

	art, err := o.media.GenerateImage(ctx, prompt)
	if err != nil {
		if ierr := interrupted(ctx); ierr != nil {
			err = ierr
		}
		return nil, o.fail(inv, err)
	}
	o.update(inv, func(s *State) {
		s.Media = art
		s.Phase = PhaseComplete
	})
	return art, nil
}

// GenerateVideo runs the video job. Progress messages are mirrored into
// State.MediaProgress and forwarded to progress when it is not nil.
func (o *Orchestrator) GenerateVideo(ctx context.Context, prompt string, seed *types.Asset, progress media.ProgressFunc) (*media.Artifact, error) {
	if o.media == nil {
		return nil, types.NewError(types.ErrServiceUnavailable, "media generation is not configured")
	}
	if strings.TrimSpace(prompt) == "" && seed == nil {
		return nil, types.NewInvalidRequestError("video requires a prompt or a seed image")
	}
	if seed != nil {
		if err := seed.Validate(); err != nil {
			return nil, err
		}
		if !seed.IsImage() {
			return nil, types.NewInvalidRequestError(fmt.Sprintf("seed %q is not an image", seed.Name))
		}
	}

	inv, ctx := o.begin(ctx, "video", prompt)
	defer o.end(inv)
	o.update(inv, func(s *State) { s.Phase = PhaseMedia })

	mirror := func(msg string) {
		if !o.update(inv, func(s *State) { s.MediaProgress = msg }) {
			return
		}
		if progress != nil {
			progress(msg)
		}
	}

	art, err := o.media.GenerateVideo(ctx, prompt, seed, mirror)
	if err != nil {
		if ierr := interrupted(ctx); ierr != nil {
			err = ierr
		}
		return nil, o.fail(inv, err)
	}
	o.update(inv, func(s *State) {
		s.Media = art
		s.MediaProgress = ""
		s.Phase = PhaseComplete
	})
	return art, nil
}
