package elca

import "errors"

// Engine error taxonomy. Backend-local failures are absorbed by the
// selector and drive tier transitions; they never surface to the host as
// anything more than a diagnostic log entry and a tier-change notification.
var (
	// ErrBackendUnavailable means a capability is missing or initialization
	// failed. The selector probes the next lower tier.
	ErrBackendUnavailable = errors.New("elca: backend not available")

	// ErrBackendLost means a previously working backend failed mid-session.
	// The selector demotes, seeding the successor from the last generation.
	ErrBackendLost = errors.New("elca: backend lost")

	// ErrInvalidGridSize means a non-positive or unsupported grid width.
	// Fatal to that backend's initialization only.
	ErrInvalidGridSize = errors.New("elca: invalid grid size")

	// ErrComputeTimeout means a GPU readback never resolved. The selector
	// treats it exactly like ErrBackendLost.
	ErrComputeTimeout = errors.New("elca: compute readback timeout")
)
