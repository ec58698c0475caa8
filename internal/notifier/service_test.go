package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kit "taskbot/internal/transport"
	logx "taskbot/pkg/logx"
)

// fakeAdapter records sends; optionally fails every call.
type fakeAdapter struct {
	mu    sync.Mutex
	sent  []kit.Notification
	fail  bool
	calls int
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return kit.MessageRef{}, errors.New("telegram unavailable")
	}
	f.sent = append(f.sent, kit.Notification{Target: to, Text: text, Options: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.calls}, nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return nil
}

func (f *fakeAdapter) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

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

func TestEnqueueBeforeStartIsRejected(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &fakeAdapter{}, logx.Nop())
	err := s.Enqueue(kit.Notification{Target: kit.ChatTarget{ChatID: 1}, Text: "x"})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue before Start = %v, want ErrStopped", err)
	}
}

func TestDeliverAndStop(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s := New(Config{Workers: 2, QueueSize: 16, RatePerSec: 1000}, ad, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	for i := 0; i < 5; i++ {
		if err := s.Enqueue(kit.Notification{Target: kit.ChatTarget{ChatID: 42}, Text: "hi"}); err != nil {
			t.Fatalf("Enqueue error: %v", err)
		}
	}
	waitFor(t, func() bool { return ad.sentCount() == 5 }, "notifications not delivered")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	s.Stop(stopCtx)

	if err := s.Enqueue(kit.Notification{Text: "late"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue after Stop = %v, want ErrStopped", err)
	}
}

func TestQueueFullRejectsWithoutBlocking(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	// One worker throttled hard so the queue backs up.
	s := New(Config{Workers: 1, QueueSize: 2, RatePerSec: 1}, ad, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	sawFull := false
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			if err := s.Enqueue(kit.Notification{Text: "x"}); errors.Is(err, ErrQueueFull) {
				sawFull = true
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked")
	}
	if !sawFull {
		t.Fatal("queue never reported full")
	}
}

func TestDeliveryFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{fail: true}
	s := New(Config{Workers: 1, QueueSize: 8, RatePerSec: 1000}, ad, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	if err := s.Enqueue(kit.Notification{Target: kit.ChatTarget{ChatID: 9}, Text: "x"}); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	// The failed send must not wedge the worker.
	waitFor(t, func() bool {
		ad.mu.Lock()
		defer ad.mu.Unlock()
		return ad.calls >= 1
	}, "worker never attempted delivery")

	if err := s.Enqueue(kit.Notification{Text: "y"}); err != nil {
		t.Fatalf("Enqueue after failure = %v, want nil", err)
	}
}
