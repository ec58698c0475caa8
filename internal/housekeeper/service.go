// Package housekeeper runs periodic maintenance: sweeping stale temp files
// left behind by interrupted atomic writes, and logging a daily usage summary.
package housekeeper

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "taskbot/pkg/logx"
)

type Config struct {
	Enabled         bool
	SweepSchedule   string
	SummarySchedule string
	TmpMaxAge       time.Duration
}

// Deps are the probes the summary job reads. Any of them may be nil.
type Deps struct {
	// DataDir is the file-driver state directory; empty disables the sweep.
	DataDir string
	// Summary returns (users, tasks, armed reminders).
	Summary func(ctx context.Context) (int, int, int, error)
}

type Service struct {
	mu sync.Mutex

	log  logx.Logger
	cfg  Config
	deps Deps

	c *cron.Cron
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "@hourly"
	}
	if cfg.SummarySchedule == "" {
		cfg.SummarySchedule = "0 4 * * *"
	}
	if cfg.TmpMaxAge <= 0 {
		cfg.TmpMaxAge = time.Hour
	}
	return &Service{log: log, cfg: cfg, deps: deps}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.c != nil {
		return nil
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))

	if s.deps.DataDir != "" {
		if _, err := c.AddFunc(s.cfg.SweepSchedule, func() { s.sweep() }); err != nil {
			return err
		}
	}
	if s.deps.Summary != nil {
		if _, err := c.AddFunc(s.cfg.SummarySchedule, func() { s.summary(ctx) }); err != nil {
			return err
		}
	}

	c.Start()
	s.c = c
	s.log.Info("housekeeper started",
		logx.String("sweep", s.cfg.SweepSchedule),
		logx.String("summary", s.cfg.SummarySchedule))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

// sweep removes *.tmp leftovers older than TmpMaxAge. A temp file that old is
// an interrupted write, never an in-flight one.
func (s *Service) sweep() {
	dir := s.deps.DataDir
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.log.Warn("housekeeping sweep failed", logx.String("dir", dir), logx.Err(err))
		return
	}
	cutoff := time.Now().Add(-s.cfg.TmpMaxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if err := os.Remove(p); err != nil {
			s.log.Warn("stale temp file not removed", logx.String("path", p), logx.Err(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info("stale temp files removed", logx.Int("count", removed), logx.String("dir", dir))
	}
}

func (s *Service) summary(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	users, tasks, armed, err := s.deps.Summary(sctx)
	if err != nil {
		s.log.Warn("housekeeping summary failed", logx.Err(err))
		return
	}
	s.log.Info("daily summary",
		logx.Int("users", users),
		logx.Int("tasks", tasks),
		logx.Int("armed_reminders", armed))
}
