package sched

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_RunsImmediatelyOnStart(t *testing.T) {
	var runs atomic.Int64
	s := New("test", time.Hour, func(time.Time) {
		runs.Add(1)
	})
	s.Start()
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("task did not run on start")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestScheduler_TicksRepeatedly(t *testing.T) {
	var runs atomic.Int64
	s := New("test", 10*time.Millisecond, func(time.Time) {
		runs.Add(1)
	})
	s.Start()

	deadline := time.After(2 * time.Second)
	for runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d runs before deadline", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	s.Stop()
}

func TestScheduler_SkipsOverlappingTicks(t *testing.T) {
	var started atomic.Int64
	release := make(chan struct{})

	s := New("test", 10*time.Millisecond, func(time.Time) {
		started.Add(1)
		<-release
	})
	s.Start()

	// Let several ticks fire while the first run blocks.
	time.Sleep(100 * time.Millisecond)
	if got := started.Load(); got != 1 {
		t.Errorf("runs started while blocked: got %d, want 1", got)
	}

	close(release)
	s.Stop()
}

func TestScheduler_StopWaitsForInFlightRun(t *testing.T) {
	finished := make(chan struct{})
	s := New("test", time.Hour, func(time.Time) {
		time.Sleep(50 * time.Millisecond)
		close(finished)
	})
	s.Start()

	// Give the immediate run a moment to start.
	time.Sleep(10 * time.Millisecond)
	s.Stop()

	select {
	case <-finished:
	default:
		t.Error("Stop returned before the in-flight run finished")
	}
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	s := New("test", time.Hour, func(time.Time) {})
	s.Start()
	s.Stop()
	s.Stop()
}
