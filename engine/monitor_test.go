package engine

import (
	"testing"
	"time"

	"github.com/gridpulse/elca/backend"
	"github.com/gridpulse/elca/config"
)

func testTuning() *config.Tuning {
	t := config.Default()
	t.WindowSize = 4
	t.CheckInterval = 2
	t.ComputeMinFPS = 20
	t.RasterMinFPS = 25
	return t
}

func TestMonitorFPS(t *testing.T) {
	m := NewMonitor(testTuning())
	if got := m.FPS(); got != 0 {
		t.Errorf("FPS() with empty window = %v, want 0", got)
	}

	for i := 0; i < 4; i++ {
		m.Record(10 * time.Millisecond)
	}
	got := m.FPS()
	if got < 99 || got > 101 {
		t.Errorf("FPS() = %v, want ~100", got)
	}
}

func TestMonitorDemoteOnSustainedLowFPS(t *testing.T) {
	m := NewMonitor(testTuning())

	// 100ms frames are 10 FPS, under both floors. The window holds 4
	// frames and checks land on every 2nd tick, so tick 4 must signal.
	fired := false
	for i := 0; i < 4; i++ {
		m.Record(100 * time.Millisecond)
		if m.ShouldDemote(backend.TierCompute) {
			fired = true
			if i < 3 {
				t.Fatalf("signaled at tick %d before the window filled", i+1)
			}
		}
	}
	if !fired {
		t.Error("never signaled despite sustained low FPS")
	}
}

func TestMonitorNoDemoteAboveFloor(t *testing.T) {
	m := NewMonitor(testTuning())
	for i := 0; i < 8; i++ {
		m.Record(10 * time.Millisecond) // 100 FPS
		if m.ShouldDemote(backend.TierCompute) {
			t.Fatalf("signaled at tick %d with 100 FPS", i+1)
		}
	}
}

func TestMonitorOnlyAtCheckInterval(t *testing.T) {
	m := NewMonitor(testTuning())
	for i := 0; i < 5; i++ {
		m.Record(time.Second)
	}
	// Tick 5 is not a multiple of the check interval.
	if m.ShouldDemote(backend.TierCompute) {
		t.Error("signaled off the check-interval boundary")
	}
	m.Record(time.Second)
	if !m.ShouldDemote(backend.TierCompute) {
		t.Error("did not signal on the check-interval boundary")
	}
}

func TestMonitorCPUNeverDemotes(t *testing.T) {
	m := NewMonitor(testTuning())
	for i := 0; i < 8; i++ {
		m.Record(time.Second)
		if m.ShouldDemote(backend.TierCPU) {
			t.Fatal("CPU tier signaled a demotion")
		}
	}
}

func TestMonitorReset(t *testing.T) {
	m := NewMonitor(testTuning())
	for i := 0; i < 4; i++ {
		m.Record(time.Second)
	}
	m.Reset()
	if got := m.FPS(); got != 0 {
		t.Errorf("FPS() after Reset = %v, want 0", got)
	}
	// A fresh window must fill again before any signal.
	m.Record(time.Second)
	m.Record(time.Second)
	if m.ShouldDemote(backend.TierCompute) {
		t.Error("signaled before the reset window refilled")
	}
}
