package infra

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"resource-pool/pool/domain"
)

// timingWindowSize bounds the circular buffers behind the mean timings.
const timingWindowSize = 100

// MemoryStats is the in-process stats recorder: monotonic counters plus
// bounded circular buffers for wait/idle/active time means.
//
// It implements domain.StatsSink and is always attached to a pool; extra
// sinks (e.g. Redis) are optional.
type MemoryStats struct {
	created               atomic.Int64
	borrowed              atomic.Int64
	returned              atomic.Int64
	destroyed             atomic.Int64
	destroyedByEvictor    atomic.Int64
	destroyedByValidation atomic.Int64
	abandoned             atomic.Int64

	maxWait atomic.Int64 // nanoseconds

	waitTimes   timingWindow
	idleTimes   timingWindow
	activeTimes timingWindow
}

// Snapshot is a point-in-time copy of the recorder.
type Snapshot struct {
	Created                     int64
	Borrowed                    int64
	Returned                    int64
	Destroyed                   int64
	DestroyedByEvictor          int64
	DestroyedByBorrowValidation int64
	Abandoned                   int64

	MeanWait      time.Duration
	MeanIdle      time.Duration
	MeanActive    time.Duration
	MaxBorrowWait time.Duration
}

func NewMemoryStats() *MemoryStats {
	return &MemoryStats{}
}

// Record implements domain.StatsSink. It never returns an error.
func (s *MemoryStats) Record(_ context.Context, ev domain.Event) error {
	switch ev.Kind {
	case domain.KindCreated:
		s.created.Add(1)
	case domain.KindBorrowed:
		s.borrowed.Add(1)
		s.waitTimes.add(ev.Wait)
		s.idleTimes.add(ev.Idle)
		for {
			cur := s.maxWait.Load()
			if int64(ev.Wait) <= cur || s.maxWait.CompareAndSwap(cur, int64(ev.Wait)) {
				break
			}
		}
	case domain.KindReturned:
		s.returned.Add(1)
		s.activeTimes.add(ev.Active)
	case domain.KindDestroyed:
		s.destroyed.Add(1)
	case domain.KindDestroyedByEvictor:
		s.destroyed.Add(1)
		s.destroyedByEvictor.Add(1)
	case domain.KindDestroyedByValidation:
		s.destroyed.Add(1)
		s.destroyedByValidation.Add(1)
	case domain.KindAbandoned:
		s.abandoned.Add(1)
	}
	return nil
}

func (s *MemoryStats) Snapshot() Snapshot {
	return Snapshot{
		Created:                     s.created.Load(),
		Borrowed:                    s.borrowed.Load(),
		Returned:                    s.returned.Load(),
		Destroyed:                   s.destroyed.Load(),
		DestroyedByEvictor:          s.destroyedByEvictor.Load(),
		DestroyedByBorrowValidation: s.destroyedByValidation.Load(),
		Abandoned:                   s.abandoned.Load(),
		MeanWait:                    s.waitTimes.mean(),
		MeanIdle:                    s.idleTimes.mean(),
		MeanActive:                  s.activeTimes.mean(),
		MaxBorrowWait:               time.Duration(s.maxWait.Load()),
	}
}

// timingWindow keeps the last timingWindowSize samples.
type timingWindow struct {
	mu      sync.Mutex
	samples [timingWindowSize]time.Duration
	next    int
	count   int
}

func (w *timingWindow) add(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = d
	w.next = (w.next + 1) % timingWindowSize
	if w.count < timingWindowSize {
		w.count++
	}
}

func (w *timingWindow) mean() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.count == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < w.count; i++ {
		sum += w.samples[i]
	}
	return sum / time.Duration(w.count)
}
