// Package scheduler provides named one-shot and repeating timers.
//
// Jobs are addressed by name so a later schedule or cancel can displace an
// earlier one. Callbacks run on their own goroutine; callers guard against
// stale fires by capturing a generation counter and re-checking it under
// their own lock.
package scheduler

import (
	"sync"
	"time"
)

type job struct {
	timer  *time.Timer
	ticker *time.Ticker
	done   chan struct{}
}

type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*job
}

func New() *Scheduler {
	return &Scheduler{jobs: make(map[string]*job)}
}

// Once schedules fn to run once after d, replacing any job with the same name.
func (s *Scheduler) Once(name string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(name)
	j := &job{}
	j.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.jobs[name] == j {
			delete(s.jobs, name)
		}
		s.mu.Unlock()
		fn()
	})
	s.jobs[name] = j
}

// Every schedules fn to run repeatedly at interval d until the job is
// cancelled, replacing any job with the same name.
func (s *Scheduler) Every(name string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(name)
	j := &job{
		ticker: time.NewTicker(d),
		done:   make(chan struct{}),
	}
	s.jobs[name] = j
	go func() {
		for {
			select {
			case <-j.ticker.C:
				fn()
			case <-j.done:
				return
			}
		}
	}()
}

// Cancel stops the named job. It reports whether a job was found. A
// one-shot callback that has already started running is not interrupted.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(name)
}

// CancelAll stops every job.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.jobs {
		s.stopLocked(name)
	}
}

func (s *Scheduler) stopLocked(name string) bool {
	j, ok := s.jobs[name]
	if !ok {
		return false
	}
	if j.timer != nil {
		j.timer.Stop()
	}
	if j.ticker != nil {
		j.ticker.Stop()
		close(j.done)
	}
	delete(s.jobs, name)
	return true
}
