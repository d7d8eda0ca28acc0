// Package l2frames owns the frame layer: the fixed-capacity point buffer a
// revolution is assembled into, the azimuth state that decides where one
// revolution ends, and the frame-level geometry applied to every point.
//
// Dependency rule: l2frames may depend on calib, but never on decoder or the
// transports above it.
package l2frames
