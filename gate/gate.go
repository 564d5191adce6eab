// Package gate runs the optional pre-phase that must finish before a
// pre-phase dispatch starts. Progress values are cosmetic.
package gate

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/BaSui01/codexmirror/internal/clock"
	"go.uber.org/zap"
)

// State is the gate lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateActive     State = "active"
	StateComplete   State = "complete"
	StateDispatched State = "dispatched"
)

// Shape is the polyhedron shown while the gate runs.
type Shape string

const (
	Tetrahedron  Shape = "tetrahedron"
	Cube         Shape = "cube"
	Octahedron   Shape = "octahedron"
	Dodecahedron Shape = "dodecahedron"
	Icosahedron  Shape = "icosahedron"
)

// Shapes is the order the gate walks through.
var Shapes = []Shape{Tetrahedron, Cube, Octahedron, Dodecahedron, Icosahedron}

const (
	reflectionsMin  = 50_000
	reflectionsSpan = 100_000
	maxResonance    = 100.0
)

// ErrAlreadyStarted is returned by Run on a gate that left idle.
var ErrAlreadyStarted = errors.New("gate: already started")

// DefaultStages are the stage messages in display order.
func DefaultStages() []string {
	return []string{
		"building the polyhedral mirror lattice",
		"initializing the closed inner mirror system",
		"starting infinite light resonance",
		"synchronizing resonance frequencies between mirrors",
		"activating quantum entanglement simulation",
		"exploring 14,000,605 parallel universes",
		"forming the multiverse mirror space",
		"applying the space folding algorithm",
		"critical point reached, maximizing energy resonance",
		"infinite reflection achieved inside the mirror",
		"spinning up the virtual fusion turbine",
		"qubits stabilized",
		"hyperreal simulation space complete",
	}
}

// Config tunes the gate.
type Config struct {
	Stages        []string      `yaml:"stages"`
	Interval      time.Duration `yaml:"interval" env:"INTERVAL"`
	TrailingDelay time.Duration `yaml:"trailing_delay" env:"TRAILING_DELAY"`
	ResonanceStep float64       `yaml:"resonance_step" env:"RESONANCE_STEP"`
	ShapeEvery    int           `yaml:"shape_every" env:"SHAPE_EVERY"`
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		Stages:        DefaultStages(),
		Interval:      2 * time.Second,
		TrailingDelay: 2 * time.Second,
		ResonanceStep: 7.14,
		ShapeEvery:    3,
	}
}

// Progress is a point-in-time view of the gate.
type Progress struct {
	State       State   `json:"state"`
	Stage       int     `json:"stage"`
	Stages      int     `json:"stages"`
	Message     string  `json:"message"`
	Resonance   float64 `json:"resonance"`
	Reflections int64   `json:"reflections"`
	Shape       Shape   `json:"shape"`
}

// Hook runs once when the gate completes.
type Hook func(ctx context.Context)

// Option configures a Gate.
type Option func(*Gate)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(g *Gate) { g.clock = c }
}

// WithSeed makes the reflection counter deterministic.
func WithSeed(seed uint64) Option {
	return func(g *Gate) { g.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithProgressFunc is called after every state or stage change. It runs on
// the gate goroutine and must not block.
func WithProgressFunc(fn func(Progress)) Option {
	return func(g *Gate) { g.onProgress = fn }
}

// Gate is the pre-phase state machine.
type Gate struct {
	cfg        Config
	hook       Hook
	clock      clock.Clock
	rng        *rand.Rand
	onProgress func(Progress)
	logger     *zap.Logger

	mu       sync.RWMutex
	progress Progress
	shapeIdx int

	fire     sync.Once
	skip     chan struct{}
	skipOnce sync.Once
}

// New creates an idle gate.
func New(cfg Config, hook Hook, logger *zap.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if len(cfg.Stages) == 0 {
		cfg.Stages = def.Stages
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.TrailingDelay < 0 {
		cfg.TrailingDelay = 0
	}
	if cfg.ResonanceStep <= 0 {
		cfg.ResonanceStep = def.ResonanceStep
	}
	if cfg.ShapeEvery <= 0 {
		cfg.ShapeEvery = def.ShapeEvery
	}
	cfg.Stages = append([]string(nil), cfg.Stages...)

	g := &Gate{
		cfg:    cfg,
		hook:   hook,
		clock:  clock.Real(),
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		logger: logger.With(zap.String("component", "gate")),
		skip:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.progress = Progress{
		State:   StateIdle,
		Stages:  len(cfg.Stages),
		Message: cfg.Stages[0],
		Shape:   Shapes[0],
	}
	return g
}

// Progress returns a snapshot.
func (g *Gate) Progress() Progress {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.progress
}

// State returns the current state.
func (g *Gate) State() State {
	return g.Progress().State
}

// Complete skips the remaining stages and the trailing delay. Safe to call
// any number of times.
func (g *Gate) Complete() {
	g.skipOnce.Do(func() { close(g.skip) })
}

// Run walks every stage and then runs the hook. It blocks until the hook
// returns. If ctx ends first the gate goes back to idle, the hook does not
// run and ctx.Err() is returned.
func (g *Gate) Run(ctx context.Context) error {
	g.mu.Lock()
	if g.progress.State != StateIdle {
		g.mu.Unlock()
		return ErrAlreadyStarted
	}
	g.progress.State = StateActive
	snap := g.progress
	g.mu.Unlock()
	g.publish(snap)
	g.logger.Debug("gate active", zap.Int("stages", len(g.cfg.Stages)))

	last := len(g.cfg.Stages) - 1
stages:
	for snap.Stage < last {
		select {
		case <-ctx.Done():
			return g.abort(ctx.Err())
		case <-g.skip:
			break stages
		case <-g.clock.After(g.cfg.Interval):
			snap = g.advance()
			g.publish(snap)
		}
	}

	if g.cfg.TrailingDelay > 0 {
		select {
		case <-ctx.Done():
			return g.abort(ctx.Err())
		case <-g.skip:
		case <-g.clock.After(g.cfg.TrailingDelay):
		}
	}

	g.setState(StateComplete)
	g.logger.Info("gate complete")
	g.fire.Do(func() {
		if g.hook != nil {
			g.hook(ctx)
		}
	})
	g.setState(StateDispatched)
	return nil
}

func (g *Gate) advance() Progress {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := &g.progress
	p.Stage++
	p.Message = g.cfg.Stages[p.Stage]
	p.Resonance = math.Min(maxResonance, p.Resonance+g.cfg.ResonanceStep)
	p.Reflections += int64(reflectionsMin + g.rng.IntN(reflectionsSpan))
	if p.Stage%g.cfg.ShapeEvery == 0 && g.shapeIdx < len(Shapes)-1 {
		g.shapeIdx++
		p.Shape = Shapes[g.shapeIdx]
	}
	return *p
}

func (g *Gate) setState(s State) {
	g.mu.Lock()
	g.progress.State = s
	snap := g.progress
	g.mu.Unlock()
	g.publish(snap)
}

func (g *Gate) abort(err error) error {
	g.mu.Lock()
	g.progress = Progress{
		State:   StateIdle,
		Stages:  len(g.cfg.Stages),
		Message: g.cfg.Stages[0],
		Shape:   Shapes[0],
	}
	g.shapeIdx = 0
	snap := g.progress
	g.mu.Unlock()
	g.publish(snap)
	g.logger.Info("gate aborted", zap.Error(err))
	return err
}

func (g *Gate) publish(p Progress) {
	if g.onProgress != nil {
		g.onProgress(p)
	}
}
