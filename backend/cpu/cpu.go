// Package cpu provides the scalar reference backend. It is the terminal
// fallback tier: initialization cannot fail for a valid width and stepping
// never reports device errors.
package cpu

import (
	"context"

	"github.com/gridpulse/elca"
	"github.com/gridpulse/elca/backend"
)

func init() {
	backend.Register(backend.TierCPU, func() backend.Backend { return New() })
}

// CPU advances generations with the scalar transition kernel. The other
// backends are validated against its output.
type CPU struct {
	width int
	front elca.Generation
	back  elca.Generation
}

// New returns an uninitialized CPU backend.
func New() *CPU {
	return &CPU{}
}

// Name implements backend.Backend.
func (c *CPU) Name() string { return "cpu" }

// Tier implements backend.Backend.
func (c *CPU) Tier() backend.Tier { return backend.TierCPU }

// Init implements backend.Backend.
func (c *CPU) Init(width int) error {
	if width <= 0 {
		return elca.ErrInvalidGridSize
	}
	c.width = width
	c.front = elca.NewSeedGeneration(width)
	c.back = make(elca.Generation, width)
	return nil
}

// ComputeNext implements backend.Backend. The context is accepted for
// interface uniformity; the scalar kernel completes immediately.
func (c *CPU) ComputeNext(_ context.Context, rule elca.Rule) (elca.Generation, error) {
	if c.front == nil {
		return nil, backend.ErrNotInitialized
	}
	table := rule.Table()
	c.front.Next(c.back, table)
	c.front, c.back = c.back, c.front
	return c.front.Clone(), nil
}

// Upload implements backend.Backend.
func (c *CPU) Upload(gen elca.Generation) error {
	if c.front == nil {
		return backend.ErrNotInitialized
	}
	if len(gen) != c.width {
		return backend.ErrWidthMismatch
	}
	copy(c.front, gen)
	return nil
}

// Readback implements backend.Backend.
func (c *CPU) Readback() (elca.Generation, error) {
	if c.front == nil {
		return nil, backend.ErrNotInitialized
	}
	return c.front.Clone(), nil
}

// Health implements backend.Backend. The CPU backend cannot be lost.
func (c *CPU) Health() error { return nil }

// Dispose implements backend.Backend.
func (c *CPU) Dispose() {
	c.front = nil
	c.back = nil
	c.width = 0
}
