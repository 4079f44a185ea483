// Package pool provides a generic, thread-safe pool of reusable,
// expensive-to-create instances (typically network connections). It bounds
// concurrent usage, reuses idle instances across callers, reclaims instances
// abandoned by callers that never returned them, and periodically evicts
// instances that have been idle too long or fail revalidation.
package pool
