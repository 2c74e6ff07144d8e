// Package physics provides small analytic potentials that stand in for an
// external force engine.
//
// Each potential implements [Potential]; [Provider] wraps one into a
// [dynamo.ForceProvider] so it can be driven by the integrator directly or
// served over a socket by the reference driver:
//
//   - [Harmonic]: isotropic harmonic well
//   - [DoubleWell]: bistable quartic well along every coordinate
//   - [LennardJones]: truncated pair potential with minimum-image wrapping
//
// All quantities are in atomic units.
package physics
