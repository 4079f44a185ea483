// Package infra implements the pool's synchronization and bookkeeping
// collaborators: the blocking idle deque, the process-wide maintenance
// scheduler and the stats recorders (memory and Redis).
package infra
