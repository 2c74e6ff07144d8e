// Package dynamo provides the core primitives shared by the simulation
// packages.
//
// The package defines the ring-polymer state and the force-evaluation
// contract:
//
//   - [Beads]: positions and momenta of every replica of every atom
//   - [Cell]: simulation box as a 3x3 matrix of lattice vectors
//   - [ForceProvider]: capability interface implemented by socket clients
//     and embedded potentials
//   - [ForEach]: bounded fan-out with a barrier, used for per-bead dispatch
//
// Errors shared across packages (socket timeouts, protocol violations,
// output failures) are defined in errors.go and are matched with errors.As.
//
// # Thread Safety
//
// Beads and Cell values are NOT thread-safe. The integrator owns them and
// hands read-only copies of positions to force providers.
package dynamo
