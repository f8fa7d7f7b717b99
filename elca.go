// Package elca computes the evolution of one-dimensional, two-state
// cellular automata in real time. The engine advances generations on
// whatever hardware is available: it probes execution backends in priority
// order (GPU compute > GPU raster > CPU), detects when the active backend
// is lost or too slow, and transparently downgrades to the next tier
// without skipping or duplicating a generation.
//
// The root package holds the pure domain types: Rule (the Wolfram code and
// its transition table), Generation (one row of cells, toroidal), and the
// engine's error taxonomy. Execution strategies live under backend/, the
// selector and animation loop under engine/, and cosmetic row compositing
// under render/.
package elca
