// Package app wires the subsystems together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"taskbot/internal/config"
	"taskbot/internal/eventbus"
	"taskbot/internal/housekeeper"
	"taskbot/internal/notifier"
	"taskbot/internal/reminder"
	rtsup "taskbot/internal/runtime/supervisor"
	"taskbot/internal/storage"
	"taskbot/internal/task"
	kit "taskbot/internal/transport"
	telegram "taskbot/internal/transport/telegram/adapter"
	"taskbot/internal/transport/telegram/router"
	logx "taskbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	adapter *telegram.Adapter
	sched   *reminder.Scheduler
	eng     *task.Engine
	notif   *notifier.Service
	rt      *router.Router
	keeper  *housekeeper.Service

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:         cfg.Telegram.Token,
		PollTimeout:   pollTimeout,
		WebhookURL:    cfg.Telegram.Webhook.PublicURL,
		WebhookListen: cfg.Telegram.Webhook.Listen,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	sched := reminder.New(log.With(logx.String("comp", "reminders")))
	eng := task.NewEngine(store, sched, log.With(logx.String("comp", "tasks")), bus)
	sched.Bind(eng.HandleFire, eng.HandleTestFire)

	notif := notifier.New(mapNotifierConfig(cfg), ad, log.With(logx.String("comp", "notifier")))

	rt := router.New(log.With(logx.String("comp", "router")), ad, eng, notif)
	rt.SetReminderProbe(sched.Armed)
	eng.SetNotifier(rt)

	keeper := newHousekeeper(cfg, store, eng, sched, log)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		sched:   sched,
		eng:     eng,
		notif:   notif,
		rt:      rt,
		keeper:  keeper,
		updates: make(chan kit.Update, 256),
	}, nil
}

func newHousekeeper(cfg *config.Config, store storage.Store, eng *task.Engine, sched *reminder.Scheduler, log logx.Logger) *housekeeper.Service {
	hc := housekeeper.Config{Enabled: true}
	if h := cfg.Housekeeping; h != nil {
		hc.Enabled = h.Enabled
		hc.SweepSchedule = h.SweepSchedule
		hc.SummarySchedule = h.SummarySchedule
		hc.TmpMaxAge, _ = config.ParseDurationField("housekeeping.tmp_max_age", h.TmpMaxAge)
	}

	deps := housekeeper.Deps{
		Summary: func(ctx context.Context) (int, int, int, error) {
			users, err := store.Users(ctx)
			if err != nil {
				return 0, 0, 0, err
			}
			tasks := 0
			for _, u := range users {
				list, err := eng.List(ctx, u)
				if err != nil {
					return 0, 0, 0, err
				}
				tasks += len(list)
			}
			return len(users), tasks, sched.Len(), nil
		},
	}
	// The sweep only applies to the file driver's data directory.
	if d, ok := store.(interface{ Dir() string }); ok {
		deps.DataDir = d.Dir()
	}
	return housekeeper.New(hc, deps, log.With(logx.String("comp", "housekeeper")))
}

// Done is closed when the app supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	runCtx := a.sup.Context()

	a.sched.Start(runCtx)

	// Restore persisted reminder schedules before any update can mutate state.
	if err := a.eng.Recover(runCtx); err != nil {
		return fmt.Errorf("recover reminders: %w", err)
	}

	a.notif.Start(runCtx)

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	if cmds, order := router.Commands(); len(order) > 0 {
		if err := a.adapter.SetCommands(cmds, order); err != nil {
			a.log.Warn("command menu not published", logx.Err(err))
		}
	}

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.rt.DispatchLoop(c, a.updates)
	})

	if err := a.keeper.Start(runCtx); err != nil {
		a.log.Warn("housekeeper not started", logx.Err(err))
	}

	// Debug visibility into engine activity.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event",
					logx.String("type", e.Type),
					logx.Int64("user", e.UserID),
					logx.Int64("task", e.TaskID))
			}
		}
	})

	a.startConfigReload()

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// startConfigReload applies hot-reloadable sections (logging, notifier,
// housekeeping schedules are picked up on next start). Telegram and storage
// changes need a restart; we log that instead of half-applying them.
func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})

				a.notif.Apply(mapNotifierConfig(newCfg))

				if last != nil {
					if last.Telegram != newCfg.Telegram {
						a.log.Warn("telegram config changed; restart required for changes to take effect")
					}
					if !storageEqual(last.Storage, newCfg.Storage) {
						a.log.Warn("storage config changed; restart required for changes to take effect")
					}
				}
				last = newCfg
				a.log.Info("config reloaded")
			}
		}
	})
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	// Bound each shutdown step so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("housekeeper", 2*time.Second, func(c context.Context) error { a.keeper.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("scheduler", 1*time.Second, func(c context.Context) error { a.sched.Stop(); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	out := storage.Config{}
	if cfg == nil || cfg.Storage == nil {
		return out, nil
	}
	out.Driver = cfg.Storage.Driver
	out.Path = cfg.Storage.Path
	bt, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return out, err
	}
	out.BusyTimeout = bt
	return out, nil
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	out := notifier.Config{}
	if cfg == nil || cfg.Notifier == nil {
		return out
	}
	out.Workers = cfg.Notifier.Workers
	out.QueueSize = cfg.Notifier.QueueSize
	out.RatePerSec = cfg.Notifier.RatePerSec
	return out
}

func storageEqual(a, b *config.StorageConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
