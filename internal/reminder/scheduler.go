// Package reminder owns every live reminder timer, keyed by (user, task).
//
// The registry is the only holder of timer handles; callers interact through
// Schedule/Cancel/ScheduleOnce and never see the table. Firing hands control
// to the bound engine callback, which re-checks durable state under the
// user's gateway section before anything is sent.
package reminder

import (
	"context"
	"strconv"
	"sync"
	"time"

	logx "taskbot/pkg/logx"
)

// FireFunc is the repeating-timer callback. Returning keep=false drops the
// timer (the task is gone); keep=true re-arms it for the next interval.
type FireFunc func(ctx context.Context, userID, taskID int64) (keep bool)

// TestFireFunc is the one-shot (advisory) callback.
type TestFireFunc func(ctx context.Context, userID, taskID int64)

type key struct {
	user int64
	task int64
}

func (k key) String() string {
	return "rem:" + strconv.FormatInt(k.user, 10) + ":" + strconv.FormatInt(k.task, 10)
}

type entry struct {
	every time.Duration
	timer *time.Timer
}

// oneShot tags the pending advisory timer with a generation so a firing from
// a replaced timer can be told apart without the callback touching the timer
// handle itself.
type oneShot struct {
	gen   uint64
	timer *time.Timer
}

type Scheduler struct {
	log logx.Logger

	mu      sync.Mutex
	ctx     context.Context
	stopped bool
	entries map[key]*entry
	once    map[key]*oneShot
	onceGen uint64

	onFire FireFunc
	onTest TestFireFunc
}

func New(log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		log:     log,
		ctx:     context.Background(),
		entries: map[key]*entry{},
		once:    map[key]*oneShot{},
	}
}

// Bind installs the firing callbacks. Must be called before any timer is
// armed; firings with no callback re-arm silently.
func (s *Scheduler) Bind(fire FireFunc, test TestFireFunc) {
	s.mu.Lock()
	s.onFire = fire
	s.onTest = test
	s.mu.Unlock()
}

// Start sets the context passed to firing callbacks. Optional; callbacks use
// context.Background() until then.
func (s *Scheduler) Start(ctx context.Context) {
	if ctx == nil {
		return
	}
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
}

// Schedule arms a repeating timer for (userID, taskID), fully superseding any
// previous timer for that key: after return exactly one live timer exists.
// The first and every subsequent firing happen `every` after (re-)arming.
func (s *Scheduler) Schedule(userID, taskID int64, every time.Duration) {
	if every <= 0 {
		return
	}
	k := key{user: userID, task: taskID}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if old := s.entries[k]; old != nil {
		old.timer.Stop()
	}
	e := &entry{every: every}
	// Validity is checked by entry identity: a callback from a superseded or
	// cancelled timer finds a different (or no) entry and bails out.
	e.timer = time.AfterFunc(every, func() { s.tick(k, e) })
	s.entries[k] = e
	s.mu.Unlock()

	s.log.Debug("reminder armed", logx.String("key", k.String()), logx.Duration("every", every))
}

// Cancel stops and removes the repeating timer for the key. No-op when none
// exists. Pending one-shots are left alone; they re-check state on firing.
func (s *Scheduler) Cancel(userID, taskID int64) {
	k := key{user: userID, task: taskID}

	s.mu.Lock()
	e := s.entries[k]
	if e != nil {
		e.timer.Stop()
		delete(s.entries, k)
	}
	s.mu.Unlock()

	if e != nil {
		s.log.Debug("reminder cancelled", logx.String("key", k.String()))
	}
}

// ScheduleOnce arms a single advisory firing after delay. Independent of the
// repeating timer for the same key: both may coexist. Re-scheduling a pending
// one-shot replaces it.
func (s *Scheduler) ScheduleOnce(userID, taskID int64, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	k := key{user: userID, task: taskID}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if old := s.once[k]; old != nil {
		old.timer.Stop()
	}
	// The generation is fixed before the timer is armed, so a zero-delay
	// firing has nothing unsynchronized to read.
	s.onceGen++
	gen := s.onceGen
	t := time.AfterFunc(delay, func() { s.tickOnce(k, gen) })
	s.once[k] = &oneShot{gen: gen, timer: t}
	s.mu.Unlock()

	s.log.Debug("one-shot reminder armed", logx.String("key", k.String()), logx.Duration("delay", delay))
}

func (s *Scheduler) tick(k key, e *entry) {
	s.mu.Lock()
	if s.stopped || s.entries[k] != e {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	fire := s.onFire
	s.mu.Unlock()

	keep := true
	if fire != nil {
		keep = fire(ctx, k.user, k.task)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A Cancel or re-Schedule may have superseded this entry while the
	// callback ran; in that case the new owner decides, not us.
	if s.stopped || s.entries[k] != e {
		return
	}
	if !keep {
		e.timer.Stop()
		delete(s.entries, k)
		return
	}
	// Fixed interval: next firing counts from now, not from the wall clock.
	e.timer.Reset(e.every)
}

func (s *Scheduler) tickOnce(k key, gen uint64) {
	s.mu.Lock()
	o := s.once[k]
	if s.stopped || o == nil || o.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.once, k)
	ctx := s.ctx
	test := s.onTest
	s.mu.Unlock()

	if test != nil {
		test(ctx, k.user, k.task)
	}
}

// Armed reports whether a repeating timer is live for the key.
func (s *Scheduler) Armed(userID, taskID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key{user: userID, task: taskID}]
	return ok
}

// Active returns task ids with a live repeating timer for the user.
func (s *Scheduler) Active(userID int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for k := range s.entries {
		if k.user == userID {
			out = append(out, k.task)
		}
	}
	return out
}

// Len reports the number of live repeating timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop stops every timer and rejects further scheduling. Process shutdown
// only; there is no restart.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	for _, e := range s.entries {
		e.timer.Stop()
	}
	s.entries = map[key]*entry{}
	for _, o := range s.once {
		o.timer.Stop()
	}
	s.once = map[key]*oneShot{}
	s.log.Debug("scheduler stopped")
}
