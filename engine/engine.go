// Package engine ties the backends together into a run loop: a selector
// that owns the active backend, a monitor that watches frame rate, and a
// facade that accumulates generation history and composes it into a
// surface for display.
package engine

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/gridpulse/elca"
	"github.com/gridpulse/elca/backend"
	"github.com/gridpulse/elca/config"
	"github.com/gridpulse/elca/render"
)

// Config describes one engine instance.
type Config struct {
	// RuleID is the Wolfram code of the transition rule, 0 through 255.
	RuleID int

	// GridWidth is the number of cells in the toroidal grid.
	GridWidth int

	// GenerationCount is the number of generations per run. When a run
	// completes, OnRunCompleted fires and the engine reseeds.
	GenerationCount int

	// CellPixelSize scales the composed surface; 0 or 1 means one pixel
	// per cell.
	CellPixelSize int

	// AnimationInterval is the host's intended tick cadence. The engine
	// does not pace itself; the value is advisory for hosts.
	AnimationInterval time.Duration

	// Tuning overrides the selection and monitoring thresholds. Nil means
	// defaults.
	Tuning *config.Tuning

	// OnRunCompleted is called after the final generation of a run, before
	// the engine reseeds. May be nil.
	OnRunCompleted func(rule elca.Rule)
}

// Engine drives the automaton one generation per Tick and keeps the
// history of the current run.
type Engine struct {
	cfg    Config
	rule   elca.Rule
	tuning *config.Tuning

	selector *Selector
	monitor  *Monitor
	renderer *render.Renderer

	history []elca.Generation
	runDone bool
}

// New validates the configuration and returns an engine. No backend is
// touched until Start.
func New(cfg Config) (*Engine, error) {
	rule, err := elca.ParseRule(cfg.RuleID)
	if err != nil {
		return nil, err
	}
	if cfg.GridWidth <= 0 {
		return nil, elca.ErrInvalidGridSize
	}
	if cfg.GenerationCount <= 0 {
		return nil, fmt.Errorf("engine: generation count must be positive, got %d", cfg.GenerationCount)
	}

	tuning := cfg.Tuning
	if tuning == nil {
		tuning = config.Default()
	}
	if err := tuning.Validate(); err != nil {
		return nil, err
	}

	return &Engine{
		cfg:      cfg,
		rule:     rule,
		tuning:   tuning,
		selector: NewSelector(tuning),
		monitor:  NewMonitor(tuning),
		renderer: render.New(cfg.GridWidth, cfg.GenerationCount),
	}, nil
}

// Start selects a backend. The run begins from the canonical seed.
func (e *Engine) Start() error {
	if err := e.selector.Start(e.cfg.GridWidth); err != nil {
		return err
	}
	e.history = e.history[:0]
	e.monitor.Reset()
	return nil
}

// Tick advances one generation and appends it to the run history. When the
// run reaches its generation count, OnRunCompleted fires and the finished
// history stays in place, so Surface shows the completed run until the
// next Tick reseeds and starts over. A tier whose sustained frame rate
// falls below its floor is demoted between generations.
func (e *Engine) Tick(ctx context.Context) error {
	if e.runDone {
		e.runDone = false
		if err := e.Reset(); err != nil {
			return err
		}
	}

	start := time.Now()
	gen, err := e.selector.Step(ctx, e.rule)
	if err != nil {
		return err
	}
	e.monitor.Record(time.Since(start))

	e.history = append(e.history, gen)
	if len(e.history) >= e.cfg.GenerationCount {
		e.runDone = true
		if e.cfg.OnRunCompleted != nil {
			e.cfg.OnRunCompleted(e.rule)
		}
		return nil
	}

	if e.monitor.ShouldDemote(e.selector.Tier()) {
		logger().Info("sustained low FPS, demoting",
			"tier", e.selector.Tier().String(), "fps", e.monitor.FPS())
		if err := e.selector.Demote(); err != nil {
			return err
		}
		e.monitor.Reset()
	}
	return nil
}

// Surface composes the current run history into an image, scaled by the
// configured cell pixel size.
func (e *Engine) Surface() *image.RGBA {
	return render.Scale(e.renderer.Compose(e.history), e.cfg.CellPixelSize)
}

// SetRule switches the transition rule and restarts the run. The backend
// walk restarts from the top tier: the new workload may succeed where the
// old one failed.
func (e *Engine) SetRule(id int) error {
	rule, err := elca.ParseRule(id)
	if err != nil {
		return err
	}
	e.rule = rule
	e.cfg.RuleID = id
	return e.restart()
}

// Resize changes the grid width and restarts the run from the top tier.
func (e *Engine) Resize(width int) error {
	if width <= 0 {
		return elca.ErrInvalidGridSize
	}
	e.cfg.GridWidth = width
	e.renderer = render.New(width, e.cfg.GenerationCount)
	return e.restart()
}

func (e *Engine) restart() error {
	if err := e.selector.Reconfigure(e.cfg.GridWidth); err != nil {
		return err
	}
	e.history = e.history[:0]
	e.runDone = false
	e.monitor.Reset()
	return nil
}

// Reset discards the run history and reseeds the active backend with the
// canonical single-center-cell generation. The backend tier is kept.
func (e *Engine) Reset() error {
	e.history = e.history[:0]
	e.runDone = false
	active := e.selector.Active()
	if active == nil {
		return fmt.Errorf("%w: engine not started", elca.ErrBackendUnavailable)
	}
	return active.Upload(elca.NewSeedGeneration(e.cfg.GridWidth))
}

// Rule returns the current transition rule.
func (e *Engine) Rule() elca.Rule { return e.rule }

// Tier returns the active backend tier.
func (e *Engine) Tier() backend.Tier { return e.selector.Tier() }

// State returns the selector state.
func (e *Engine) State() State { return e.selector.State() }

// FPS returns the monitored average frame rate.
func (e *Engine) FPS() float64 { return e.monitor.FPS() }

// History returns the generations of the current run, oldest first. The
// slice is shared; callers must not mutate it.
func (e *Engine) History() []elca.Generation { return e.history }

// Close disposes the active backend.
func (e *Engine) Close() {
	e.selector.Close()
}
