// Package backend defines the contract shared by the engine's execution
// strategies and the registry through which they are discovered.
//
// Three backends implement the contract, ranked by capability tier:
//
//   - backend/compute: WGSL compute dispatch over linear storage buffers
//   - backend/raster: per-pixel transition program over 1-row textures
//   - backend/cpu: single-threaded scalar reference, always available
//
// Backends register themselves via Register() from their package init(),
// following the blank-import convention: the host imports the backend
// packages it wants available, and the engine's selector probes whatever
// is registered in tier order.
package backend
