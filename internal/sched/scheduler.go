// Package sched runs a periodic task with overlap suppression.
package sched

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Task is one scheduled unit of work. It receives the tick time.
type Task func(now time.Time)

// Scheduler invokes a task on a fixed interval. A tick that fires while
// the previous run is still in flight is skipped, never queued. Start
// runs the task once immediately so a restart does not wait a full
// interval for fresh rollups.
type Scheduler struct {
	name     string
	interval time.Duration
	task     Task

	inFlight sync.Mutex
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// New creates a scheduler. name appears in log output only.
func New(name string, interval time.Duration, task Task) *Scheduler {
	return &Scheduler{
		name:     name,
		interval: interval,
		task:     task,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the tick loop, beginning with an immediate run.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop halts the loop and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
	s.inFlight.Lock()
	s.inFlight.Unlock()
}

func (s *Scheduler) run() {
	defer close(s.done)

	s.tick(time.Now())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// tick runs the task unless the previous run is still going.
func (s *Scheduler) tick(now time.Time) {
	if !s.inFlight.TryLock() {
		log.Warn().Str("scheduler", s.name).Msg("previous run still in flight, skipping tick")
		return
	}
	go func() {
		defer s.inFlight.Unlock()
		s.task(now)
	}()
}
