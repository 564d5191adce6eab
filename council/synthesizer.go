package council

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/codexmirror/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// SynthesisFailure is returned in place of a synthesis when the call fails.
const SynthesisFailure = "error: the final recommendation could not be synthesized"

const (
	defaultFraming = "You are the final consciousness of the council. Your agents have each contributed a vector of analysis. " +
		"Combine them into one original, decisive and actionable strategy and explain why it is the one path forward."
	defaultPrePhaseFraming = "Before this deliberation an extended mirror simulation ran, resonating across millions of possible futures. " +
		"Report the single winning path it surfaced, set against the futures that failed."
)

// SynthesizerConfig tunes the synthesis call.
type SynthesizerConfig struct {
	Model       string
	Temperature float32
	Timeout     time.Duration
	// Framing opens every synthesis prompt. PrePhaseFraming is added when a
	// pre-phase ran first.
	Framing         string
	PrePhaseFraming string
}

// DefaultSynthesizerConfig returns the production settings.
func DefaultSynthesizerConfig() SynthesizerConfig {
	return SynthesizerConfig{
		Model:           "gemini-2.5-pro",
		Temperature:     0.7,
		Timeout:         2 * time.Minute,
		Framing:         defaultFraming,
		PrePhaseFraming: defaultPrePhaseFraming,
	}
}

// Synthesizer folds ordered outcomes into one decision.
type Synthesizer struct {
	gw     llm.TextGenerator
	cfg    SynthesizerConfig
	tracer trace.Tracer
	logger *zap.Logger
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(gw llm.TextGenerator, cfg SynthesizerConfig, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Framing == "" {
		cfg.Framing = defaultFraming
	}
	if cfg.PrePhaseFraming == "" {
		cfg.PrePhaseFraming = defaultPrePhaseFraming
	}
	return &Synthesizer{
		gw:     gw,
		cfg:    cfg,
		tracer: otel.Tracer(instrumentationName),
		logger: logger.With(zap.String("component", "synthesizer")),
	}
}

// Synthesize issues exactly one gateway call. It never returns an error;
// failures yield SynthesisFailure.
func (s *Synthesizer) Synthesize(ctx context.Context, task string, outcomes []Outcome, prePhase bool) string {
	ctx, span := s.tracer.Start(ctx, "council.synthesize", trace.WithAttributes(
		attribute.Int("council.outcomes", len(outcomes)),
		attribute.Bool("council.pre_phase", prePhase),
	))
	defer span.End()

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	temperature := s.cfg.Temperature
	resp, err := s.gw.GenerateText(ctx, &llm.TextRequest{
		Prompt:      s.Prompt(task, outcomes, prePhase),
		Model:       s.cfg.Model,
		Temperature: &temperature,
	})
	if err == nil && (resp == nil || strings.TrimSpace(resp.Text) == "") {
		err = errEmptyPayload
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		s.logger.Warn("synthesis failed", zap.Error(err))
		return SynthesisFailure
	}
	return resp.Text
}

// Prompt builds the synthesis prompt.
func (s *Synthesizer) Prompt(task string, outcomes []Outcome, prePhase bool) string {
	var b strings.Builder
	b.WriteString(s.cfg.Framing)
	if prePhase {
		b.WriteString("\n\n")
		b.WriteString(s.cfg.PrePhaseFraming)
	}
	fmt.Fprintf(&b, "\n\nOriginal task: %q\n\nAgent vectors:\n\n", task)
	b.WriteString(RenderVectors(outcomes))
	return b.String()
}

// RenderVectors renders every outcome uniformly and joins them in order.
func RenderVectors(outcomes []Outcome) string {
	parts := make([]string, len(outcomes))
	for i, o := range outcomes {
		parts[i] = RenderVector(o)
	}
	return strings.Join(parts, "\n\n")
}

// RenderVector renders one outcome.
func RenderVector(o Outcome) string {
	heading := o.Agent.Name
	if o.Agent.Label != "" {
		heading = fmt.Sprintf("%s (%s)", o.Agent.Name, o.Agent.Label)
	}
	if o.Verdict == nil {
		diag := DegradedDiagnostic
		if o.Error != nil && o.Error.Diagnostic != "" {
			diag = o.Error.Diagnostic
		}
		return fmt.Sprintf("### %s (error)\n%s", heading, diag)
	}
	return fmt.Sprintf("### %s\nAnalysis: %s\nRecommendation: %s\nConfidence: %.2f",
		heading, o.Verdict.CoreAnalysis, o.Verdict.KeyRecommendation, o.Verdict.ConfidenceScore)
}
