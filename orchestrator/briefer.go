package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/codexmirror/council"
	"github.com/BaSui01/codexmirror/internal/cache"
	"github.com/BaSui01/codexmirror/internal/clock"
	"github.com/BaSui01/codexmirror/internal/sysmetrics"
	"github.com/BaSui01/codexmirror/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	briefingCacheKey  = "briefing:latest"
	briefingCacheType = "briefing"
	maxActions        = 3
)

const defaultBriefingFraming = `You are a proactive staff AI serving your principal. You anticipate needs by analysing data and surfacing actionable information without waiting for orders.

The latest system status report follows:
%s

Analyse this data and produce a concise briefing as a JSON object with:
1. overview: a one-sentence summary of overall system health.
2. key_insight: the single most important observation or potential problem that needs attention.
3. suggested_actions: three distinct, actionable tasks the principal could delegate to the council, phrased as clear commands.`

// Briefing is a short proactive status report.
type Briefing struct {
	Overview         string    `json:"overview"`
	KeyInsight       string    `json:"key_insight"`
	SuggestedActions []string  `json:"suggested_actions"`
	Fallback         bool      `json:"fallback"`
	GeneratedAt      time.Time `json:"generated_at"`
}

// FallbackBriefing is returned whenever a briefing cannot be produced.
func FallbackBriefing() Briefing {
	return Briefing{
		Overview:   "The system analysis could not be completed.",
		KeyInsight: "The proactive agent failed to produce a briefing. This may be an API error or a network problem.",
		SuggestedActions: []string{
			"Retry the system analysis.",
			"Check the API key configuration.",
			"Review the network logs.",
		},
		Fallback: true,
	}
}

// BriefingSchema is the response schema for briefing requests.
func BriefingSchema() *llm.Schema {
	return &llm.Schema{
		Type: llm.TypeObject,
		Properties: map[string]*llm.Schema{
			"overview": {
				Type:        llm.TypeString,
				Description: "One-sentence summary of overall system health.",
			},
			"key_insight": {
				Type:        llm.TypeString,
				Description: "The single most important observation or potential problem.",
			},
			"suggested_actions": {
				Type:        llm.TypeArray,
				Description: "Three distinct, actionable tasks.",
				Items:       &llm.Schema{Type: llm.TypeString},
			},
		},
		Required: []string{"overview", "key_insight", "suggested_actions"},
	}
}

var errIncompleteBriefing = errors.New("incomplete briefing")

// ParseBriefing decodes an untrusted payload. Blank fields or an empty
// action list are errors; actions beyond the third are dropped.
func ParseBriefing(text string) (Briefing, error) {
	payload := council.StripFences(text)
	if payload == "" {
		return Briefing{}, fmt.Errorf("%w: empty payload", errIncompleteBriefing)
	}
	var raw struct {
		Overview         *string  `json:"overview"`
		KeyInsight       *string  `json:"key_insight"`
		SuggestedActions []string `json:"suggested_actions"`
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	if err := dec.Decode(&raw); err != nil {
		return Briefing{}, fmt.Errorf("decode briefing: %w", err)
	}
	if raw.Overview == nil || strings.TrimSpace(*raw.Overview) == "" {
		return Briefing{}, fmt.Errorf("%w: overview", errIncompleteBriefing)
	}
	if raw.KeyInsight == nil || strings.TrimSpace(*raw.KeyInsight) == "" {
		return Briefing{}, fmt.Errorf("%w: key_insight", errIncompleteBriefing)
	}

	actions := make([]string, 0, maxActions)
	for _, a := range raw.SuggestedActions {
		if a = strings.TrimSpace(a); a != "" && len(actions) < maxActions {
			actions = append(actions, a)
		}
	}
	if len(actions) == 0 {
		return Briefing{}, fmt.Errorf("%w: suggested_actions", errIncompleteBriefing)
	}
	return Briefing{
		Overview:         strings.TrimSpace(*raw.Overview),
		KeyInsight:       strings.TrimSpace(*raw.KeyInsight),
		SuggestedActions: actions,
	}, nil
}

// BriefingCache stores briefings. *cache.Manager satisfies it.
type BriefingCache interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// CacheRecorder counts cache lookups. *metrics.Collector satisfies it.
type CacheRecorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// BrieferConfig tunes briefing generation.
type BrieferConfig struct {
	Model       string        `yaml:"model" env:"MODEL"`
	Temperature float32       `yaml:"temperature" env:"TEMPERATURE"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	TTL         time.Duration `yaml:"ttl" env:"TTL"`
	// Framing must contain one %s for the metrics JSON.
	Framing string `yaml:"framing" env:"FRAMING"`
}

// DefaultBrieferConfig returns the production settings.
func DefaultBrieferConfig() BrieferConfig {
	return BrieferConfig{
		Model:       "gemini-2.5-pro",
		Temperature: 0.7,
		Timeout:     time.Minute,
		TTL:         5 * time.Minute,
		Framing:     defaultBriefingFraming,
	}
}

// BrieferOption configures a Briefer.
type BrieferOption func(*Briefer)

// WithBriefingCache enables caching.
func WithBriefingCache(c BriefingCache) BrieferOption {
	return func(b *Briefer) { b.cache = c }
}

// WithCacheRecorder records hits and misses.
func WithCacheRecorder(r CacheRecorder) BrieferOption {
	return func(b *Briefer) { b.recorder = r }
}

// WithBrieferClock replaces the wall clock.
func WithBrieferClock(c clock.Clock) BrieferOption {
	return func(b *Briefer) { b.clock = c }
}

// Briefer produces proactive briefings from a metrics snapshot.
type Briefer struct {
	gw        llm.StructuredGenerator
	snapshots sysmetrics.Snapshotter
	cfg       BrieferConfig
	cache     BriefingCache
	recorder  CacheRecorder
	clock     clock.Clock
	tracer    trace.Tracer
	logger    *zap.Logger
}

// NewBriefer creates a Briefer.
func NewBriefer(gw llm.StructuredGenerator, snapshots sysmetrics.Snapshotter, cfg BrieferConfig, logger *zap.Logger, opts ...BrieferOption) *Briefer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Framing == "" || !strings.Contains(cfg.Framing, "%s") {
		cfg.Framing = defaultBriefingFraming
	}
	b := &Briefer{
		gw:        gw,
		snapshots: snapshots,
		cfg:       cfg,
		clock:     clock.Real(),
		tracer:    otel.Tracer(instrumentationName),
		logger:    logger.With(zap.String("component", "briefer")),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Brief returns the cached briefing or generates a new one. It never fails:
// any error yields FallbackBriefing, which is not cached.
func (b *Briefer) Brief(ctx context.Context) Briefing {
	if cached, ok := b.lookup(ctx); ok {
		return cached
	}

	ctx, span := b.tracer.Start(ctx, "orchestrator.brief")
	defer span.End()

	br, err := b.generate(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("briefing.fallback", true))
		b.logger.Warn("briefing failed, using fallback", zap.Error(err))
		fb := FallbackBriefing()
		fb.GeneratedAt = b.clock.Now()
		return fb
	}

	if b.cache != nil && b.cfg.TTL > 0 {
		if err := b.cache.SetJSON(ctx, briefingCacheKey, br, b.cfg.TTL); err != nil {
			b.logger.Warn("cache briefing", zap.Error(err))
		}
	}
	return br
}

// Invalidate drops the cached briefing.
func (b *Briefer) Invalidate(ctx context.Context) error {
	if b.cache == nil {
		return nil
	}
	return b.cache.Delete(ctx, briefingCacheKey)
}

func (b *Briefer) lookup(ctx context.Context) (Briefing, bool) {
	if b.cache == nil {
		return Briefing{}, false
	}
	var br Briefing
	err := b.cache.GetJSON(ctx, briefingCacheKey, &br)
	switch {
	case err == nil:
		if b.recorder != nil {
			b.recorder.RecordCacheHit(briefingCacheType)
		}
		return br, true
	case cache.IsCacheMiss(err):
	default:
		b.logger.Warn("read cached briefing", zap.Error(err))
	}
	if b.recorder != nil {
		b.recorder.RecordCacheMiss(briefingCacheType)
	}
	return Briefing{}, false
}

func (b *Briefer) generate(ctx context.Context) (Briefing, error) {
	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	snap, err := b.snapshots.Snapshot(ctx)
	if err != nil {
		return Briefing{}, fmt.Errorf("snapshot: %w", err)
	}

	temperature := b.cfg.Temperature
	resp, err := b.gw.GenerateStructured(ctx, &llm.StructuredRequest{
		Prompt:      fmt.Sprintf(b.cfg.Framing, snap.JSON()),
		Model:       b.cfg.Model,
		Temperature: &temperature,
		Schema:      BriefingSchema(),
	})
	if err != nil {
		return Briefing{}, err
	}
	if resp == nil {
		return Briefing{}, fmt.Errorf("%w: empty payload", errIncompleteBriefing)
	}
	br, err := ParseBriefing(resp.Text)
	if err != nil {
		return Briefing{}, err
	}
	br.GeneratedAt = b.clock.Now()
	return br, nil
}
