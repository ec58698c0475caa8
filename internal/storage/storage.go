package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"taskbot/internal/task"
	logx "taskbot/pkg/logx"
)

// Config selects the persistence backend.
//
// Driver values:
//   - "file" (default): one pretty-printed JSON document per user
//   - "sqlite": one row per user (optional build tag "sqlite")
type Config struct {
	Driver      string
	Path        string        // data directory (file) or database file (sqlite)
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the durable user-state backend. It satisfies task.Store and adds
// lifecycle management for the app.
type Store interface {
	task.Store
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// ctxErr maps a cancelled context to its error so drivers can honor
// cancellation before touching the disk.
func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
