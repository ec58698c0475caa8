package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"taskbot/internal/task"
	logx "taskbot/pkg/logx"
)

// fileStore keeps one <userID>.json per user under a data directory.
//
// Save writes a uniquely named temp file and renames it over the canonical
// path, so a concurrent Load observes either the old or the new document in
// full, even when saves for the same user race. There is no in-process cache:
// cross-call consistency is the gateway's job, not ours.
type fileStore struct {
	log logx.Logger
	dir string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		dir = "./data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, dir: dir}, nil
}

// Dir returns the data directory (used by housekeeping).
func (s *fileStore) Dir() string { return s.dir }

func (s *fileStore) userPath(userID int64) string {
	return filepath.Join(s.dir, strconv.FormatInt(userID, 10)+".json")
}

func (s *fileStore) Load(ctx context.Context, userID int64) (*task.UserState, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.userPath(userID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return task.NewUserState(), nil
		}
		return nil, err
	}

	st := task.NewUserState()
	if err := json.Unmarshal(b, st); err != nil {
		// Malformed history is treated as no history: availability beats
		// forensic recovery here.
		s.log.Warn("unparsable user state, starting empty", logx.Int64("user", userID), logx.Err(err))
		return task.NewUserState(), nil
	}
	st.Normalize()
	return st, nil
}

func (s *fileStore) Save(ctx context.Context, userID int64, st *task.UserState) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if st == nil {
		return errors.New("nil user state")
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	path := s.userPath(userID)
	// A unique temp file per call: concurrent saves for the same user must
	// never interleave writes on a shared tmp path, or a reader could catch
	// a half-written document mid-rename.
	f, err := os.CreateTemp(s.dir, strconv.FormatInt(userID, 10)+"-*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (s *fileStore) Users(ctx context.Context) ([]int64, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	ents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []int64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *fileStore) Close() error { return nil }
