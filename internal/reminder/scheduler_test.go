package reminder

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logx "taskbot/pkg/logx"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestScheduleSupersedesPreviousTimer(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	defer s.Stop()

	var fires atomic.Int64
	s.Bind(func(ctx context.Context, userID, taskID int64) bool {
		fires.Add(1)
		return true
	}, nil)

	// Re-arm repeatedly; only the last timer may ever fire.
	for i := 0; i < 10; i++ {
		s.Schedule(1, 1, 30*time.Millisecond)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}

	waitFor(t, func() bool { return fires.Load() >= 1 }, "timer never fired")
	time.Sleep(45 * time.Millisecond)
	// With a single live 30ms timer, a ~75ms window allows 2-3 firings; ten
	// stacked timers would have produced far more.
	if n := fires.Load(); n > 4 {
		t.Fatalf("fires = %d, superseded timers still alive", n)
	}
}

func TestFireReturningFalseDropsTimer(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	defer s.Stop()

	var fires atomic.Int64
	s.Bind(func(ctx context.Context, userID, taskID int64) bool {
		fires.Add(1)
		return false
	}, nil)

	s.Schedule(2, 7, 10*time.Millisecond)
	waitFor(t, func() bool { return fires.Load() == 1 }, "timer never fired")
	waitFor(t, func() bool { return !s.Armed(2, 7) }, "dropped timer still armed")

	time.Sleep(40 * time.Millisecond)
	if n := fires.Load(); n != 1 {
		t.Fatalf("fires = %d after drop, want 1", n)
	}
}

func TestFireReturningTrueRearms(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	defer s.Stop()

	var fires atomic.Int64
	s.Bind(func(ctx context.Context, userID, taskID int64) bool {
		fires.Add(1)
		return true
	}, nil)

	s.Schedule(3, 1, 15*time.Millisecond)
	waitFor(t, func() bool { return fires.Load() >= 3 }, "timer did not re-arm")
	if !s.Armed(3, 1) {
		t.Fatal("re-arming timer no longer armed")
	}
}

func TestCancelIsFinalAndIdempotent(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	defer s.Stop()

	var fires atomic.Int64
	s.Bind(func(ctx context.Context, userID, taskID int64) bool {
		fires.Add(1)
		return true
	}, nil)

	s.Schedule(4, 1, 30*time.Millisecond)
	s.Cancel(4, 1)
	s.Cancel(4, 1) // no-op
	s.Cancel(4, 99)

	if s.Armed(4, 1) {
		t.Fatal("cancelled timer still armed")
	}
	time.Sleep(60 * time.Millisecond)
	if fires.Load() != 0 {
		t.Fatal("cancelled timer fired")
	}
}

func TestOneShotCoexistsWithRepeating(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	defer s.Stop()

	var repeats, onces atomic.Int64
	s.Bind(func(ctx context.Context, userID, taskID int64) bool {
		repeats.Add(1)
		return true
	}, func(ctx context.Context, userID, taskID int64) {
		onces.Add(1)
	})

	s.Schedule(5, 1, 20*time.Millisecond)
	s.ScheduleOnce(5, 1, 5*time.Millisecond)

	waitFor(t, func() bool { return onces.Load() == 1 }, "one-shot never fired")
	if !s.Armed(5, 1) {
		t.Fatal("one-shot firing disturbed the repeating timer")
	}
	waitFor(t, func() bool { return repeats.Load() >= 1 }, "repeating timer never fired")

	time.Sleep(30 * time.Millisecond)
	if onces.Load() != 1 {
		t.Fatalf("one-shot fired %d times, want 1", onces.Load())
	}
}

func TestZeroDelayOneShotFiresAndClearsEntry(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	defer s.Stop()

	var onces atomic.Int64
	s.Bind(nil, func(ctx context.Context, userID, taskID int64) {
		onces.Add(1)
	})

	// An immediate firing must not race timer arming: each one-shot fires
	// exactly once and leaves no registry entry behind.
	const n = 50
	for i := 0; i < n; i++ {
		s.ScheduleOnce(9, int64(i+1), 0)
	}
	waitFor(t, func() bool { return onces.Load() == n }, "zero-delay one-shots did not all fire")

	waitFor(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.once) == 0
	}, "fired one-shots left registry entries")
}

func TestReplacedOneShotFiresOnce(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	defer s.Stop()

	var onces atomic.Int64
	s.Bind(nil, func(ctx context.Context, userID, taskID int64) {
		onces.Add(1)
	})

	// Rapid replacement for the same key: only the latest generation counts.
	for i := 0; i < 10; i++ {
		s.ScheduleOnce(10, 1, 5*time.Millisecond)
	}
	waitFor(t, func() bool { return onces.Load() >= 1 }, "one-shot never fired")
	time.Sleep(30 * time.Millisecond)
	if n := onces.Load(); n != 1 {
		t.Fatalf("one-shot fired %d times, want 1", n)
	}
}

func TestActivePerUser(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	defer s.Stop()
	s.Bind(func(ctx context.Context, userID, taskID int64) bool { return true }, nil)

	s.Schedule(6, 1, time.Hour)
	s.Schedule(6, 2, time.Hour)
	s.Schedule(7, 9, time.Hour)

	got := s.Active(6)
	if len(got) != 2 {
		t.Fatalf("Active(6) = %v, want 2 entries", got)
	}
	seen := map[int64]bool{}
	for _, id := range got {
		seen[id] = true
	}
	if !seen[1] || !seen[2] {
		t.Fatalf("Active(6) = %v, want tasks 1 and 2", got)
	}
	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3", s.Len())
	}
}

func TestStopRejectsFurtherScheduling(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())

	var mu sync.Mutex
	fired := false
	s.Bind(func(ctx context.Context, userID, taskID int64) bool {
		mu.Lock()
		fired = true
		mu.Unlock()
		return true
	}, nil)

	s.Schedule(8, 1, 10*time.Millisecond)
	s.Stop()
	s.Schedule(8, 2, 10*time.Millisecond)

	if s.Len() != 0 {
		t.Fatalf("Len after Stop = %d, want 0", s.Len())
	}
	time.Sleep(40 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if fired {
		t.Fatal("timer fired after Stop")
	}
}
