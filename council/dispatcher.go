package council

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/codexmirror/llm"
	"github.com/BaSui01/codexmirror/tactical"
	"github.com/BaSui01/codexmirror/types"
	"github.com/BaSui01/codexmirror/workflow"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/BaSui01/codexmirror/council"

// Observer receives per-agent timings. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveAgent(agent string, ok bool, duration time.Duration)
}

// DispatcherConfig tunes agent calls.
type DispatcherConfig struct {
	Tiers       tactical.Tiers
	Temperature float32
	TopP        float32
	// CallTimeout bounds each agent call. Zero disables the bound.
	CallTimeout time.Duration
}

// DefaultDispatcherConfig returns the production settings.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Tiers:       tactical.DefaultTiers(),
		Temperature: 0.5,
		TopP:        0.95,
		CallTimeout: 2 * time.Minute,
	}
}

// Dispatcher fans one task out to every roster member.
type Dispatcher struct {
	gw       llm.StructuredGenerator
	cfg      DispatcherConfig
	observer Observer
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewDispatcher creates a Dispatcher. observer may be nil.
func NewDispatcher(gw llm.StructuredGenerator, cfg DispatcherConfig, observer Observer, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		gw:       gw,
		cfg:      cfg,
		observer: observer,
		tracer:   otel.Tracer(instrumentationName),
		logger:   logger.With(zap.String("component", "dispatcher")),
	}
}

type agentInput struct {
	task  string
	modes tactical.Modes
	asset *types.Asset
}

// Dispatch calls the gateway once per agent, concurrently, and returns one
// outcome per roster entry in roster order. It never fails: every branch
// failure becomes an Error Result.
func (d *Dispatcher) Dispatch(ctx context.Context, task string, roster Roster, modes tactical.Modes, asset *types.Asset) []Outcome {
	ctx, span := d.tracer.Start(ctx, "council.dispatch", trace.WithAttributes(
		attribute.Int("council.roster_size", roster.Len()),
		attribute.StringSlice("council.modes", modes.Labels()),
		attribute.Bool("council.asset", asset != nil),
	))
	defer span.End()

	agents := roster.Agents()
	tasks := make([]workflow.Task[agentInput, Verdict], len(agents))
	for i, a := range agents {
		tasks[i] = workflow.Task[agentInput, Verdict]{
			Name: a.Name,
			Run: func(ctx context.Context, in agentInput) (Verdict, error) {
				return d.consult(ctx, a, in)
			},
		}
	}

	results := workflow.NewFanOut("council", tasks, workflow.WithLogger(d.logger)).
		Execute(ctx, agentInput{task: task, modes: modes, asset: asset})

	outcomes := make([]Outcome, len(results))
	degraded := 0
	for i, r := range results {
		outcomes[i] = Outcome{Agent: agents[i]}
		if r.Err != nil {
			degraded++
			outcomes[i].Error = NewErrorResult()
			d.logger.Warn("agent degraded",
				zap.String("agent", agents[i].Name),
				zap.Duration("elapsed", r.Duration),
				zap.Error(r.Err),
			)
		} else {
			v := r.Result
			outcomes[i].Verdict = &v
		}
		if d.observer != nil {
			d.observer.ObserveAgent(agents[i].Name, r.Err == nil, r.Duration)
		}
	}

	span.SetAttributes(attribute.Int("council.degraded", degraded))
	d.logger.Info("dispatch joined",
		zap.Int("agents", len(outcomes)),
		zap.Int("degraded", degraded),
	)
	return outcomes
}

func (d *Dispatcher) consult(ctx context.Context, agent Agent, in agentInput) (Verdict, error) {
	ctx, span := d.tracer.Start(ctx, "council.agent", trace.WithAttributes(attribute.String("council.agent", agent.Name)))
	defer span.End()

	if d.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.CallTimeout)
		defer cancel()
	}

	temperature, topP := d.cfg.Temperature, d.cfg.TopP
	req := &llm.StructuredRequest{
		Prompt:      fmt.Sprintf("Task: %q", in.task),
		Persona:     agent.Instruction,
		Temperature: &temperature,
		TopP:        &topP,
		Schema:      VerdictSchema(),
		Image:       in.asset,
	}
	in.modes.Apply(req, d.cfg.Tiers)

	resp, err := d.gw.GenerateStructured(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway call failed")
		return Verdict{}, err
	}
	if resp == nil {
		return Verdict{}, errEmptyPayload
	}
	v, err := ParseVerdict(resp.Text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed verdict")
		return Verdict{}, err
	}
	span.SetAttributes(attribute.Float64("council.confidence", v.ConfidenceScore))
	return v, nil
}
