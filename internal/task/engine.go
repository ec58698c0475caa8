package task

import (
	"context"
	"strings"
	"time"

	"taskbot/internal/eventbus"
	logx "taskbot/pkg/logx"
)

// Engine owns all task mutation. Every operation runs inside the owning
// user's gateway section: load, mutate, persist, then (still inside the
// section) reconcile the reminder scheduler. Timer firings come back in
// through HandleFire/HandleTestFire and take the same path.
type Engine struct {
	log   logx.Logger
	store Store
	sched Scheduler
	bus   eventbus.Bus
	gw    *gateway

	notif Notifier // bound once during wiring, before Recover
}

func NewEngine(store Store, sched Scheduler, log logx.Logger, bus eventbus.Bus) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		log:   log,
		store: store,
		sched: sched,
		bus:   bus,
		gw:    newGateway(),
	}
}

// SetNotifier binds the delivery collaborator. Must be called before Recover.
func (e *Engine) SetNotifier(n Notifier) { e.notif = n }

// withUser runs fn inside userID's gateway section with a freshly loaded
// state. If fn reports a change, the state is persisted before `after` runs;
// `after` (timer arm/cancel side effects, event publishes) still executes
// inside the section, so a cancellation is final once the section releases.
func (e *Engine) withUser(ctx context.Context, userID int64, fn func(st *UserState) (changed bool, after func(), err error)) error {
	mu := e.gw.forUser(userID)
	mu.Lock()
	defer mu.Unlock()

	st, err := e.store.Load(ctx, userID)
	if err != nil {
		return err
	}
	changed, after, ferr := fn(st)
	if changed {
		if err := e.store.Save(ctx, userID, st); err != nil {
			return err
		}
	}
	if after != nil {
		after()
	}
	return ferr
}

func (e *Engine) publish(typ string, userID, taskID int64) {
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: typ, UserID: userID, TaskID: taskID})
	}
}

// CreateTask appends a new task with the next id from the user's sequence.
// totalSteps <= 0 selects DefaultTotalSteps.
func (e *Engine) CreateTask(ctx context.Context, userID int64, name string, totalSteps int) (Task, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Task{}, ErrInvalidInput
	}
	if totalSteps <= 0 {
		totalSteps = DefaultTotalSteps
	}
	var out Task
	err := e.withUser(ctx, userID, func(st *UserState) (bool, func(), error) {
		st.Seq++
		t := &Task{ID: st.Seq, Name: name, Total: totalSteps}
		st.Tasks[t.ID] = t
		out = *t
		return true, func() { e.publish(eventbus.TaskCreated, userID, t.ID) }, nil
	})
	if err != nil {
		return Task{}, err
	}
	e.log.Info("task created", logx.Int64("user", userID), logx.Int64("task", out.ID), logx.String("name", out.Name))
	return out, nil
}

// AdjustProgress moves done by delta, clamped to [0, total].
func (e *Engine) AdjustProgress(ctx context.Context, userID, taskID int64, delta int) (Task, error) {
	var out Task
	err := e.withUser(ctx, userID, func(st *UserState) (bool, func(), error) {
		t := st.Tasks[taskID]
		if t == nil {
			return false, nil, ErrNotFound
		}
		t.Done += delta
		if t.Done < 0 {
			t.Done = 0
		}
		if t.Done > t.Total {
			t.Done = t.Total
		}
		out = *t
		return true, func() { e.publish(eventbus.TaskProgressed, userID, taskID) }, nil
	})
	return out, err
}

// SetProgress sets done to an absolute value in [0, total].
func (e *Engine) SetProgress(ctx context.Context, userID, taskID int64, done int) (Task, error) {
	var out Task
	err := e.withUser(ctx, userID, func(st *UserState) (bool, func(), error) {
		t := st.Tasks[taskID]
		if t == nil {
			return false, nil, ErrNotFound
		}
		if done < 0 || done > t.Total {
			return false, nil, ErrInvalidInput
		}
		t.Done = done
		out = *t
		return true, func() { e.publish(eventbus.TaskProgressed, userID, taskID) }, nil
	})
	return out, err
}

func (e *Engine) Rename(ctx context.Context, userID, taskID int64, name string) (Task, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Task{}, ErrInvalidInput
	}
	var out Task
	err := e.withUser(ctx, userID, func(st *UserState) (bool, func(), error) {
		t := st.Tasks[taskID]
		if t == nil {
			return false, nil, ErrNotFound
		}
		t.Name = name
		out = *t
		return true, func() { e.publish(eventbus.TaskRenamed, userID, taskID) }, nil
	})
	return out, err
}

// SetReminder arms a repeating reminder (every > 0) or disables it
// (every == 0). Activation persists first, then arms; deactivation cancels
// first, then persists. Both happen inside one gateway section, so the live
// timer set and the persisted interval never drift apart for longer than an
// in-flight firing (which self-heals, see HandleFire).
func (e *Engine) SetReminder(ctx context.Context, userID, taskID int64, every time.Duration) (Task, error) {
	if every < 0 {
		return Task{}, ErrInvalidInput
	}
	var out Task
	err := e.withUser(ctx, userID, func(st *UserState) (bool, func(), error) {
		t := st.Tasks[taskID]
		if t == nil {
			return false, nil, ErrNotFound
		}
		if every == 0 {
			e.sched.Cancel(userID, taskID)
			t.RemindEvery = nil
			out = *t
			return true, func() { e.publish(eventbus.ReminderCleared, userID, taskID) }, nil
		}
		sec := int64(every / time.Second)
		if sec < 1 {
			sec = 1
		}
		t.RemindEvery = &sec
		out = *t
		return true, func() {
			e.sched.Schedule(userID, taskID, time.Duration(sec)*time.Second)
			e.publish(eventbus.ReminderSet, userID, taskID)
		}, nil
	})
	if err != nil {
		return Task{}, err
	}
	e.log.Info("reminder updated", logx.Int64("user", userID), logx.Int64("task", taskID), logx.Duration("every", every))
	return out, nil
}

// Delete cancels any live timer for the task and then removes the record.
func (e *Engine) Delete(ctx context.Context, userID, taskID int64) error {
	err := e.withUser(ctx, userID, func(st *UserState) (bool, func(), error) {
		t := st.Tasks[taskID]
		if t == nil {
			return false, nil, ErrNotFound
		}
		e.sched.Cancel(userID, taskID)
		delete(st.Tasks, taskID)
		return true, func() { e.publish(eventbus.TaskDeleted, userID, taskID) }, nil
	})
	if err == nil {
		e.log.Info("task deleted", logx.Int64("user", userID), logx.Int64("task", taskID))
	}
	return err
}

// Close is Delete plus the closed-tasks counter.
func (e *Engine) Close(ctx context.Context, userID, taskID int64) error {
	err := e.withUser(ctx, userID, func(st *UserState) (bool, func(), error) {
		t := st.Tasks[taskID]
		if t == nil {
			return false, nil, ErrNotFound
		}
		e.sched.Cancel(userID, taskID)
		delete(st.Tasks, taskID)
		st.Stats.Closed++
		return true, func() { e.publish(eventbus.TaskClosed, userID, taskID) }, nil
	})
	if err == nil {
		e.log.Info("task closed", logx.Int64("user", userID), logx.Int64("task", taskID))
	}
	return err
}

// List returns the user's tasks in id order (copies, safe to render).
func (e *Engine) List(ctx context.Context, userID int64) ([]Task, error) {
	var out []Task
	err := e.withUser(ctx, userID, func(st *UserState) (bool, func(), error) {
		for _, t := range st.Sorted() {
			out = append(out, *t)
		}
		return false, nil, nil
	})
	return out, err
}

// Get returns a copy of one task.
func (e *Engine) Get(ctx context.Context, userID, taskID int64) (Task, error) {
	var out Task
	err := e.withUser(ctx, userID, func(st *UserState) (bool, func(), error) {
		t := st.Tasks[taskID]
		if t == nil {
			return false, nil, ErrNotFound
		}
		out = *t
		return false, nil, nil
	})
	return out, err
}

// UserStats reports open task count and the lifetime closed counter.
func (e *Engine) UserStats(ctx context.Context, userID int64) (open int, closed int64, err error) {
	err = e.withUser(ctx, userID, func(st *UserState) (bool, func(), error) {
		open = len(st.Tasks)
		closed = st.Stats.Closed
		return false, nil, nil
	})
	return open, closed, err
}

// ActiveReminders lists tasks with a persisted reminder interval, id order.
func (e *Engine) ActiveReminders(ctx context.Context, userID int64) ([]Task, error) {
	var out []Task
	err := e.withUser(ctx, userID, func(st *UserState) (bool, func(), error) {
		for _, t := range st.Sorted() {
			if t.ReminderInterval() > 0 {
				out = append(out, *t)
			}
		}
		return false, nil, nil
	})
	return out, err
}

// TestReminder arms an advisory one-shot, independent of the repeating
// schedule for the same task.
func (e *Engine) TestReminder(ctx context.Context, userID, taskID int64, delay time.Duration) error {
	if delay <= 0 {
		return ErrInvalidInput
	}
	return e.withUser(ctx, userID, func(st *UserState) (bool, func(), error) {
		if st.Tasks[taskID] == nil {
			return false, nil, ErrNotFound
		}
		return false, func() { e.sched.ScheduleOnce(userID, taskID, delay) }, nil
	})
}

// Recover re-arms the scheduler from durable state. Runs once at startup,
// before the transport accepts work. Purely additive: it never writes.
func (e *Engine) Recover(ctx context.Context) error {
	users, err := e.store.Users(ctx)
	if err != nil {
		return err
	}
	armed := 0
	for _, uid := range users {
		st, err := e.store.Load(ctx, uid)
		if err != nil {
			return err
		}
		for id, t := range st.Tasks {
			if d := t.ReminderInterval(); d > 0 {
				e.sched.Schedule(uid, id, d)
				armed++
			}
		}
	}
	e.log.Info("reminders restored", logx.Int("users", len(users)), logx.Int("armed", armed))
	return nil
}

// HandleFire is the repeating-timer callback. It re-reads current state under
// the gateway: a vanished task (deletion raced the firing) returns keep=false
// so the scheduler drops the stale timer; otherwise the reminder prompt is
// handed to the notifier and the timer stays armed. Delivery errors never
// cancel the schedule.
func (e *Engine) HandleFire(ctx context.Context, userID, taskID int64) (keep bool) {
	err := e.withUser(ctx, userID, func(st *UserState) (bool, func(), error) {
		t := st.Tasks[taskID]
		if t == nil || t.RemindEvery == nil {
			return false, nil, nil
		}
		keep = true
		snap := *t
		return false, func() {
			e.publish(eventbus.ReminderFired, userID, taskID)
			if e.notif == nil {
				return
			}
			if nerr := e.notif.TaskReminder(ctx, userID, snap); nerr != nil {
				e.log.Warn("reminder delivery failed", logx.Int64("user", userID), logx.Int64("task", taskID), logx.Err(nerr))
			}
		}, nil
	})
	if err != nil {
		// Storage hiccup: keep the timer, the next firing retries the read.
		e.log.Warn("reminder fire: state load failed", logx.Int64("user", userID), logx.Int64("task", taskID), logx.Err(err))
		return true
	}
	if !keep {
		e.log.Debug("stale reminder dropped", logx.Int64("user", userID), logx.Int64("task", taskID))
	}
	return keep
}

// HandleTestFire is the one-shot callback for TestReminder.
func (e *Engine) HandleTestFire(ctx context.Context, userID, taskID int64) {
	_ = e.withUser(ctx, userID, func(st *UserState) (bool, func(), error) {
		t := st.Tasks[taskID]
		if t == nil {
			return false, nil, nil
		}
		snap := *t
		return false, func() {
			if e.notif == nil {
				return
			}
			if nerr := e.notif.TestReminder(ctx, userID, snap); nerr != nil {
				e.log.Warn("test reminder delivery failed", logx.Int64("user", userID), logx.Int64("task", taskID), logx.Err(nerr))
			}
		}, nil
	})
}
