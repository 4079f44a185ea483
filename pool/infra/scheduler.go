package infra

import (
	"sync"
	"time"
)

// The maintenance scheduler is a single goroutine shared by every pool in the
// process, mirroring the one-timer-thread-for-all-pools arrangement. It starts
// lazily with the first task and exits once the last task is cancelled.

// Task is a handle for a scheduled periodic function.
type Task struct {
	run      func()
	interval time.Duration
	next     time.Time
}

type scheduler struct {
	mu      sync.Mutex
	tasks   map[*Task]struct{}
	wake    chan struct{}
	running bool
}

var sched scheduler

// Schedule registers run to be invoked every interval on the shared
// maintenance goroutine. Runs of all tasks are serialized.
func Schedule(run func(), interval time.Duration) *Task {
	return sched.schedule(run, interval)
}

// Cancel deregisters a task. A run already in flight may still complete.
func Cancel(t *Task) {
	sched.cancel(t)
}

func (s *scheduler) schedule(run func(), interval time.Duration) *Task {
	t := &Task{run: run, interval: interval, next: time.Now().Add(interval)}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks == nil {
		s.tasks = make(map[*Task]struct{})
	}
	s.tasks[t] = struct{}{}
	if !s.running {
		s.running = true
		s.wake = make(chan struct{}, 1)
		go s.loop()
	} else {
		s.poke()
	}
	return t
}

func (s *scheduler) cancel(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, t)
	if s.running {
		s.poke()
	}
}

// poke must be called with the lock held.
func (s *scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *scheduler) loop() {
	for {
		s.mu.Lock()
		if len(s.tasks) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		now := time.Now()
		var due []*Task
		var earliest time.Time
		for t := range s.tasks {
			if !t.next.After(now) {
				due = append(due, t)
				t.next = now.Add(t.interval)
			}
			if earliest.IsZero() || t.next.Before(earliest) {
				earliest = t.next
			}
		}
		wake := s.wake
		s.mu.Unlock()

		for _, t := range due {
			t.run()
		}
		if len(due) > 0 {
			// Deadlines may have moved while tasks ran.
			continue
		}

		timer := time.NewTimer(time.Until(earliest))
		select {
		case <-timer.C:
		case <-wake:
			timer.Stop()
		}
	}
}
