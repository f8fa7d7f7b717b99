package backend

import (
	"sync"
)

// Factory creates a new backend instance.
type Factory func() Backend

// registry holds registered backend factories.
var (
	registryMu sync.RWMutex
	factories  = make(map[Tier]Factory)

	// probeOrder is the priority order for backend selection: the selector
	// activates the first tier that initializes successfully.
	probeOrder = []Tier{TierCompute, TierRaster, TierCPU}
)

// Register registers a backend factory for the given tier. This is
// typically called from init() functions in backend packages. If a factory
// for the same tier is already registered, it is replaced.
func Register(tier Tier, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[tier] = factory
}

// Unregister removes a tier from the registry. This is useful for testing.
func Unregister(tier Tier) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(factories, tier)
}

// Registered checks whether a factory is registered for the given tier.
func Registered(tier Tier) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := factories[tier]
	return ok
}

// New returns a fresh backend instance for the given tier, or nil if no
// factory is registered.
func New(tier Tier) Backend {
	registryMu.RLock()
	defer registryMu.RUnlock()

	factory, ok := factories[tier]
	if !ok {
		return nil
	}
	return factory()
}

// ProbeOrder returns the tier priority order, highest capability first.
func ProbeOrder() []Tier {
	out := make([]Tier, len(probeOrder))
	copy(out, probeOrder)
	return out
}

// ProbeOrderBelow returns the probe order restricted to tiers strictly
// lower than the given tier. The selector walks it when demoting.
func ProbeOrderBelow(tier Tier) []Tier {
	var out []Tier
	for _, t := range probeOrder {
		if t < tier {
			out = append(out, t)
		}
	}
	return out
}
