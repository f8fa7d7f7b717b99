package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gridpulse/elca"
	"github.com/gridpulse/elca/backend"
	"github.com/gridpulse/elca/config"
)

// State tracks the selector's lifecycle.
type State int

const (
	// StateUninitialized means no backend has been probed yet.
	StateUninitialized State = iota

	// StateProbing means a probe walk is in progress.
	StateProbing

	// StateActive means a backend is selected and stepping.
	StateActive
)

// String returns the state identifier used in logs.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateProbing:
		return "probing"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Selector owns the active backend. It probes registered tiers from the
// highest capability down, demotes on device loss or sustained low FPS,
// and carries the last produced generation across a tier switch so the
// sequence never skips or repeats a generation.
//
// Selection only ever moves down. A driver that failed once is not probed
// again until the grid is reconfigured: a rule or width change restarts
// the walk from the top.
type Selector struct {
	tuning *config.Tuning

	state  State
	width  int
	active backend.Backend
}

// NewSelector returns a selector using the given tuning. A nil tuning
// selects the defaults.
func NewSelector(tuning *config.Tuning) *Selector {
	if tuning == nil {
		tuning = config.Default()
	}
	return &Selector{tuning: tuning}
}

// Start probes all registered tiers in priority order and activates the
// first one that initializes within the probe timeout. The new backend
// starts from the canonical seed generation.
func (s *Selector) Start(width int) error {
	if width <= 0 {
		return elca.ErrInvalidGridSize
	}
	if s.active != nil {
		s.active.Dispose()
		s.active = nil
	}
	s.width = width
	return s.probe(backend.ProbeOrder(), nil)
}

// probe walks the given tiers, activating the first that initializes. A
// non-nil seed is uploaded into the winner so it continues the sequence.
func (s *Selector) probe(tiers []backend.Tier, seed elca.Generation) error {
	s.state = StateProbing

	for _, tier := range tiers {
		b := backend.New(tier)
		if b == nil {
			continue
		}
		// A width beyond one tier's limit is fatal to that tier only; a
		// lower tier with a larger limit may still take the grid.
		if err := initWithTimeout(b, s.width, s.tuning.ProbeTimeout); err != nil {
			logger().Debug("backend probe failed", "tier", tier.String(), "error", err)
			continue
		}
		if seed != nil {
			if err := b.Upload(seed); err != nil {
				logger().Warn("seed upload failed, skipping tier", "tier", tier.String(), "error", err)
				b.Dispose()
				continue
			}
		}
		s.active = b
		s.state = StateActive
		logger().Info("backend selected", "tier", tier.String(), "width", s.width)
		return nil
	}

	s.state = StateUninitialized
	return fmt.Errorf("%w: no backend initialized for width %d", elca.ErrBackendUnavailable, s.width)
}

// initWithTimeout bounds a backend's Init. On overrun the probe moves on;
// if the abandoned Init later succeeds, its resources are disposed in the
// background so nothing leaks.
func initWithTimeout(b backend.Backend, width int, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- b.Init(width)
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		go func() {
			if err := <-done; err == nil {
				b.Dispose()
			}
		}()
		return fmt.Errorf("%w: init exceeded %v", elca.ErrBackendUnavailable, timeout)
	}
}

// Step advances one generation on the active backend. Device loss or a
// compute timeout demotes to the next tier, which retries the same step
// exactly once so the caller still gets a generation.
func (s *Selector) Step(ctx context.Context, rule elca.Rule) (elca.Generation, error) {
	if s.state != StateActive {
		return nil, fmt.Errorf("%w: selector not active", elca.ErrBackendUnavailable)
	}

	if err := s.active.Health(); err != nil {
		logger().Warn("backend health check failed", "tier", s.active.Tier().String(), "error", err)
		if err := s.Demote(); err != nil {
			return nil, err
		}
	}

	gen, err := s.active.ComputeNext(ctx, rule)
	if err == nil {
		return gen, nil
	}
	if !errors.Is(err, elca.ErrBackendLost) && !errors.Is(err, elca.ErrComputeTimeout) {
		return nil, err
	}

	logger().Warn("backend step failed", "tier", s.active.Tier().String(), "error", err)
	if err := s.Demote(); err != nil {
		return nil, err
	}
	return s.active.ComputeNext(ctx, rule)
}

// Demote disposes the active backend and activates the next lower tier,
// seeding it with the last generation the failed backend produced.
func (s *Selector) Demote() error {
	if s.active == nil {
		return fmt.Errorf("%w: no active backend", elca.ErrBackendUnavailable)
	}

	from := s.active.Tier()
	seed, err := s.active.Readback()
	if err != nil {
		// The device may be too far gone to read; the successor restarts
		// from the canonical seed.
		logger().Warn("readback before demotion failed", "tier", from.String(), "error", err)
		seed = nil
	}

	s.active.Dispose()
	s.active = nil

	if err := s.probe(backend.ProbeOrderBelow(from), seed); err != nil {
		return err
	}
	logger().Info("backend demoted", "from", from.String(), "to", s.active.Tier().String())
	return nil
}

// Reconfigure restarts the probe walk from the top for a new width. Rule
// and width changes go through here so a previously demoted GPU tier gets
// another chance under the new workload.
func (s *Selector) Reconfigure(width int) error {
	return s.Start(width)
}

// Active returns the current backend, or nil before Start.
func (s *Selector) Active() backend.Backend { return s.active }

// Tier returns the active backend's tier. Only valid in StateActive.
func (s *Selector) Tier() backend.Tier {
	if s.active == nil {
		return backend.TierCPU
	}
	return s.active.Tier()
}

// State returns the selector state.
func (s *Selector) State() State { return s.state }

// Close disposes the active backend.
func (s *Selector) Close() {
	if s.active != nil {
		s.active.Dispose()
		s.active = nil
	}
	s.state = StateUninitialized
}
