// Package notifier delivers outbound reminder prompts asynchronously.
//
// Queue + worker pool + rate limit. Delivery is at-least-once effort, not a
// guarantee: a failed send is logged and dropped, there is no retry queue or
// acknowledgment upstream to de-duplicate against.
package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	rtsup "taskbot/internal/runtime/supervisor"
	kit "taskbot/internal/transport"
	logx "taskbot/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type Config struct {
	Workers    int
	QueueSize  int
	RatePerSec int
}

// Service is safe for concurrent use. Enqueue never blocks.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter kit.Adapter

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	queue     chan kit.Notification
	sup       *rtsup.Supervisor
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, adapter: adapter}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 25
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't stall workers.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.accepting {
		s.mu.Unlock()
		return
	}
	s.accepting = true
	s.queue = make(chan kit.Notification, s.cfg.QueueSize)
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	workers := s.cfg.Workers
	queue := s.queue
	sup := s.sup
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.Go0("notifier.worker", func(c context.Context) {
			s.worker(c, queue)
		})
	}
	s.log.Info("notifier started", logx.Int("workers", workers), logx.Int("queue", cap(queue)))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.accepting {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()

	if sup != nil {
		sup.Cancel()
		_ = sup.Wait(ctx)
	}
	s.log.Debug("notifier stopped")
}

// Enqueue accepts a notification for async delivery. Never blocks: a full
// queue rejects with ErrQueueFull (the caller logs and moves on).
func (s *Service) Enqueue(n kit.Notification) error {
	s.mu.Lock()
	accepting := s.accepting
	queue := s.queue
	s.mu.Unlock()

	if !accepting || queue == nil {
		return ErrStopped
	}
	select {
	case queue <- n:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) worker(ctx context.Context, queue <-chan kit.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-queue:
			s.deliver(ctx, n)
		}
	}
}

func (s *Service) deliver(ctx context.Context, n kit.Notification) {
	s.mu.Lock()
	lim := s.limiter
	s.mu.Unlock()

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	start := time.Now()
	_, err := s.adapter.SendText(sendCtx, n.Target, n.Text, n.Options)
	if err != nil {
		// Best-effort: the reminder schedule is unaffected by a lost send.
		s.log.Warn("notification delivery failed",
			logx.Int64("chat", n.Target.ChatID),
			logx.Duration("took", time.Since(start)),
			logx.Err(err))
		return
	}
	s.log.Debug("notification sent", logx.Int64("chat", n.Target.ChatID), logx.Duration("took", time.Since(start)))
}
