package engine

import (
	"time"

	"github.com/gridpulse/elca/backend"
	"github.com/gridpulse/elca/config"
)

// Monitor tracks recent frame durations and decides when a GPU tier is too
// slow to keep. It averages a fixed rolling window of frame times and
// compares the implied FPS against the active tier's floor once every
// check interval, so a single slow frame never triggers a demotion.
type Monitor struct {
	window []time.Duration
	idx    int
	count  int
	ticks  int

	checkInterval int
	computeMinFPS float64
	rasterMinFPS  float64
}

// NewMonitor returns a monitor using the given tuning thresholds.
func NewMonitor(tuning *config.Tuning) *Monitor {
	return &Monitor{
		window:        make([]time.Duration, tuning.WindowSize),
		checkInterval: tuning.CheckInterval,
		computeMinFPS: tuning.ComputeMinFPS,
		rasterMinFPS:  tuning.RasterMinFPS,
	}
}

// Record adds one frame duration to the rolling window.
func (m *Monitor) Record(d time.Duration) {
	m.window[m.idx] = d
	m.idx = (m.idx + 1) % len(m.window)
	if m.count < len(m.window) {
		m.count++
	}
	m.ticks++
}

// FPS returns the average frame rate over the recorded window, or 0 when
// nothing has been recorded yet.
func (m *Monitor) FPS() float64 {
	if m.count == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < m.count; i++ {
		total += m.window[i]
	}
	if total <= 0 {
		return 0
	}
	return float64(m.count) / total.Seconds()
}

// ShouldDemote reports whether the given tier has sustained a frame rate
// below its floor. It only fires on check-interval boundaries with a full
// window, so it signals at most once per interval. The CPU tier has no
// floor: there is nothing to demote to.
func (m *Monitor) ShouldDemote(tier backend.Tier) bool {
	if m.count < len(m.window) {
		return false
	}
	if m.ticks%m.checkInterval != 0 {
		return false
	}

	var floor float64
	switch tier {
	case backend.TierCompute:
		floor = m.computeMinFPS
	case backend.TierRaster:
		floor = m.rasterMinFPS
	default:
		return false
	}
	return m.FPS() < floor
}

// Reset clears the window. The selector calls it after every tier change
// so the new backend is judged only on its own frames.
func (m *Monitor) Reset() {
	m.idx = 0
	m.count = 0
	m.ticks = 0
}
