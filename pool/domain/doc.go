// Package domain holds the core types and contracts of the pool:
// the per-entry lifecycle state machine, the factory and eviction policy
// interfaces, the configuration surface and the error taxonomy.
//
// Nothing in this package performs I/O or owns goroutines.
package domain
