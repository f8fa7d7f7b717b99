package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/gridpulse/elca"
)

// Common backend errors.
var (
	// ErrNotInitialized is returned when operations are called before Init.
	ErrNotInitialized = errors.New("backend: not initialized")

	// ErrWidthMismatch is returned by Upload when the generation's width
	// does not match the backend's grid.
	ErrWidthMismatch = errors.New("backend: generation width mismatch")
)

// Tier ranks execution strategies. Higher tiers are probed first; the CPU
// tier is terminal and can never fail once initialized.
type Tier int

const (
	// TierCPU is the single-threaded reference implementation.
	TierCPU Tier = iota

	// TierRaster runs the transition as a per-pixel fragment program over
	// 1-row textures.
	TierRaster

	// TierCompute dispatches a compute program over linear storage buffers.
	TierCompute
)

// String returns the tier identifier used in logs and diagnostics.
func (t Tier) String() string {
	switch t {
	case TierCPU:
		return "cpu"
	case TierRaster:
		return "raster"
	case TierCompute:
		return "compute"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// Backend is the interface every execution strategy implements. A backend
// exclusively owns its state buffer pair between Init and Dispose: the
// front buffer always reflects the generation it most recently produced.
//
// The contract is uniformly call-and-return even where the underlying work
// is asynchronous (GPU readback): ComputeNext does not return until the
// generation is resident on the CPU, so the caller can never overlap two
// generation advances. Synchronous backends simply resolve immediately.
type Backend interface {
	// Name returns the backend identifier (e.g. "cpu", "compute").
	Name() string

	// Tier returns the backend's capability tier.
	Tier() Tier

	// Init allocates all resources for the given grid width and seeds the
	// front buffer with the canonical single-seed generation. It returns
	// elca.ErrInvalidGridSize for a non-positive or unsupported width and
	// elca.ErrBackendUnavailable when the required capability is missing.
	Init(width int) error

	// ComputeNext advances one generation under the given rule: it reads
	// the front buffer, writes the back buffer, swaps them, and returns a
	// copy of the new generation. GPU backends honor ctx's deadline for
	// the readback and report elca.ErrComputeTimeout on overrun and
	// elca.ErrBackendLost on device loss.
	ComputeNext(ctx context.Context, rule elca.Rule) (elca.Generation, error)

	// Upload replaces the front buffer with the given generation. The
	// selector uses it to seed a successor backend after demotion so that
	// no generation is skipped or duplicated.
	Upload(gen elca.Generation) error

	// Readback returns a copy of the current front buffer.
	Readback() (elca.Generation, error)

	// Health reports device status. The selector polls it once per tick;
	// a non-nil result (elca.ErrBackendLost) triggers demotion. The CPU
	// backend always reports nil.
	Health() error

	// Dispose releases all resources. The backend must not be used after
	// Dispose; the selector fully disposes a backend before allocating
	// its successor.
	Dispose()
}
