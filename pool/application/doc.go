// Package application orchestrates the pool: the blocking borrow/return
// protocol, capacity reservation, the eviction pass and the abandoned-entry
// sweep. It knows nothing about how the idle registry blocks or where stats
// end up; those arrive as domain contracts.
package application
