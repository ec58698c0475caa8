package task

import (
	"context"
	"sort"
	"time"
)

// DefaultTotalSteps is used when a task is created without an explicit step
// count. Ten steps keeps parity with the older percentage flavor (one step
// per 10%).
const DefaultTotalSteps = 10

// Task is a unit of trackable work with done/total progress and an optional
// repeating reminder.
type Task struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Done  int    `json:"done"`
	Total int    `json:"total"`

	// RemindEvery is the reminder interval in seconds; nil means reminders
	// are off for this task.
	RemindEvery *int64 `json:"remind_every,omitempty"`
}

// Percent reports progress as 0..100.
func (t *Task) Percent() int {
	if t.Total <= 0 {
		return 0
	}
	return t.Done * 100 / t.Total
}

// ReminderInterval returns the reminder interval, or 0 when reminders are off.
func (t *Task) ReminderInterval() time.Duration {
	if t.RemindEvery == nil || *t.RemindEvery <= 0 {
		return 0
	}
	return time.Duration(*t.RemindEvery) * time.Second
}

type Stats struct {
	Closed int64 `json:"closed"`
}

// UserState is the unit of durability: the whole per-user task collection,
// always persisted as one document.
type UserState struct {
	Seq   int64           `json:"seq"`
	Tasks map[int64]*Task `json:"tasks"`
	Stats Stats           `json:"stats"`
}

func NewUserState() *UserState {
	return &UserState{Tasks: map[int64]*Task{}}
}

// Normalize applies schema defaults after a load. Unknown fields were already
// dropped by the decoder; missing ones get zero-value defaults here so older
// or hand-edited documents stay usable.
func (s *UserState) Normalize() {
	if s.Tasks == nil {
		s.Tasks = map[int64]*Task{}
	}
	for id, t := range s.Tasks {
		if t == nil || id < 1 {
			delete(s.Tasks, id)
			continue
		}
		t.ID = id
		if t.Total < 1 {
			t.Total = DefaultTotalSteps
		}
		if t.Done < 0 {
			t.Done = 0
		}
		if t.Done > t.Total {
			t.Done = t.Total
		}
		if t.RemindEvery != nil && *t.RemindEvery <= 0 {
			t.RemindEvery = nil
		}
		// Seq must stay ahead of every id ever issued, even if the file was
		// edited by hand: ids are never reused.
		if id > s.Seq {
			s.Seq = id
		}
	}
	if s.Stats.Closed < 0 {
		s.Stats.Closed = 0
	}
}

// Sorted returns tasks in ascending id order (display order).
func (s *UserState) Sorted() []*Task {
	out := make([]*Task, 0, len(s.Tasks))
	for _, t := range s.Tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Store is the durable per-user state backend consumed by the engine.
// Load must return a default-initialized state for unknown users and for
// unparsable documents; only real I/O failures are errors.
type Store interface {
	Load(ctx context.Context, userID int64) (*UserState, error)
	Save(ctx context.Context, userID int64, st *UserState) error
	Users(ctx context.Context) ([]int64, error)
}

// Scheduler is the live-timer registry consumed by the engine.
type Scheduler interface {
	Schedule(userID, taskID int64, every time.Duration)
	Cancel(userID, taskID int64)
	ScheduleOnce(userID, taskID int64, delay time.Duration)
}

// Notifier delivers reminder prompts to the user.
//
// Implementations must not block: enqueue-and-return, because the engine
// calls this while holding the user's gateway section. Failures are
// best-effort (logged, never retried by the engine).
type Notifier interface {
	TaskReminder(ctx context.Context, userID int64, t Task) error
	TestReminder(ctx context.Context, userID int64, t Task) error
}
