package sched

import (
	"nyx/kernel/process"
	"testing"
)

func withFakeContextSwitch(t *testing.T) {
	t.Helper()
	prev := contextSwitchFn
	contextSwitchFn = func(from, to *process.Context, toCR3 uintptr) {}
	t.Cleanup(func() { contextSwitchFn = prev })
}

func newTestProcess(pid uint32) *process.Process {
	return &process.Process{PID: pid, State: process.StateNew}
}

func freshScheduler(t *testing.T) *Scheduler {
	t.Helper()
	var s Scheduler
	s.Init()
	return &s
}

func TestAllocatePIDMonotonicAndNonZero(t *testing.T) {
	a := AllocatePID()
	b := AllocatePID()
	if a == 0 || b == 0 {
		t.Fatal("expected PIDs to start above zero")
	}
	if b <= a {
		t.Fatalf("expected PIDs to increase monotonically, got %d then %d", a, b)
	}
}

func TestSchedulerTickNoReadyProcessFails(t *testing.T) {
	withFakeContextSwitch(t)
	s := freshScheduler(t)

	if err := s.Tick(); err == nil {
		t.Fatal("expected Tick on an empty scheduler to fail")
	}
}

func TestSchedulerAddProcessMarksReady(t *testing.T) {
	s := freshScheduler(t)
	p := newTestProcess(1)

	if err := s.AddProcess(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.State != process.StateReady {
		t.Fatalf("got state %v; want StateReady", p.State)
	}
	if s.ReadyLen() != 1 {
		t.Fatalf("got ready length %d; want 1", s.ReadyLen())
	}
}

func TestSchedulerTickDispatchesFIFOOrder(t *testing.T) {
	withFakeContextSwitch(t)
	s := freshScheduler(t)

	p1, p2 := newTestProcess(1), newTestProcess(2)
	if err := s.AddProcess(p1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.AddProcess(p2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.Tick(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Current() != p1 {
		t.Fatal("expected the first-added process to be dispatched first")
	}
	if p1.State != process.StateRunning {
		t.Fatalf("got p1 state %v; want StateRunning", p1.State)
	}

	if err := s.Tick(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Current() != p2 {
		t.Fatal("expected the second process to be dispatched next")
	}
	if p1.State != process.StateReady {
		t.Fatalf("expected p1 to be re-enqueued as Ready, got %v", p1.State)
	}
}

func TestSchedulerRoundRobinFairness(t *testing.T) {
	withFakeContextSwitch(t)
	s := freshScheduler(t)

	const n = 4
	procs := make([]*process.Process, n)
	for i := range procs {
		procs[i] = newTestProcess(uint32(i + 1))
		if err := s.AddProcess(procs[i]); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	seen := map[uint32]bool{}
	for i := 0; i < n; i++ {
		if err := s.Tick(); err != nil {
			t.Fatalf("unexpected error on tick %d: %v", i, err)
		}
		seen[s.Current().PID] = true
	}

	if len(seen) != n {
		t.Fatalf("expected every one of %d processes to run within %d ticks, saw %d distinct", n, n, len(seen))
	}
}

func TestSchedulerBlockAndUnblock(t *testing.T) {
	withFakeContextSwitch(t)
	s := freshScheduler(t)

	p1, p2 := newTestProcess(1), newTestProcess(2)
	s.AddProcess(p1)
	s.AddProcess(p2)

	if err := s.Tick(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// p1 is running; block it.
	if err := s.Block(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p1.State != process.StateBlocked {
		t.Fatalf("got p1 state %v; want StateBlocked", p1.State)
	}
	if s.Current() != p2 {
		t.Fatal("expected p2 to be dispatched after p1 blocks")
	}

	if err := s.Unblock(p1.PID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p1.State != process.StateReady {
		t.Fatalf("got p1 state %v; want StateReady", p1.State)
	}
}

func TestSchedulerExitDispatchesNext(t *testing.T) {
	withFakeContextSwitch(t)
	s := freshScheduler(t)

	p1, p2 := newTestProcess(1), newTestProcess(2)
	s.AddProcess(p1)
	s.AddProcess(p2)

	if err := s.Tick(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Exit(3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p1.State != process.StateTerminated {
		t.Fatalf("got p1 state %v; want StateTerminated", p1.State)
	}
	if p1.ExitCode != 3 {
		t.Fatalf("got exit code %d; want 3", p1.ExitCode)
	}
	if s.Current() != p2 {
		t.Fatal("expected p2 to be dispatched after p1 exits")
	}
}

func TestSchedulerLookupUnknownPID(t *testing.T) {
	s := freshScheduler(t)
	if s.Lookup(999) != nil {
		t.Fatal("expected Lookup of an unregistered pid to return nil")
	}
	if err := s.Unblock(999); err == nil {
		t.Fatal("expected Unblock of an unregistered pid to fail")
	}
}
