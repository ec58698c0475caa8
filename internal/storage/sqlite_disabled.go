//go:build !sqlite
// +build !sqlite

package storage

import (
	"errors"

	logx "taskbot/pkg/logx"
)

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	return nil, errors.New("sqlite driver not built (rebuild with -tags sqlite)")
}
