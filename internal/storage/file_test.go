package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"taskbot/internal/task"
	logx "taskbot/pkg/logx"
)

func newFileStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	return st
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	st := newFileStore(t)
	ctx := context.Background()

	every := int64(3600)
	in := task.NewUserState()
	in.Seq = 3
	in.Tasks[1] = &task.Task{ID: 1, Name: "write docs", Done: 2, Total: 10}
	in.Tasks[3] = &task.Task{ID: 3, Name: "nag", Done: 0, Total: 5, RemindEvery: &every}
	in.Stats.Closed = 4

	if err := st.Save(ctx, 42, in); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	out, err := st.Load(ctx, 42)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if out.Seq != 3 || len(out.Tasks) != 2 || out.Stats.Closed != 4 {
		t.Fatalf("round trip mismatch: %+v", out)
	}
	got := out.Tasks[3]
	if got == nil || got.Name != "nag" || got.RemindEvery == nil || *got.RemindEvery != 3600 {
		t.Fatalf("task 3 mismatch: %+v", got)
	}
}

func TestFileStoreUnknownUserIsEmpty(t *testing.T) {
	t.Parallel()
	st := newFileStore(t)

	out, err := st.Load(context.Background(), 999)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if out.Seq != 0 || len(out.Tasks) != 0 {
		t.Fatalf("unknown user state not empty: %+v", out)
	}
}

func TestFileStoreMalformedDocumentStartsEmpty(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "5.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}

	out, err := st.Load(context.Background(), 5)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(out.Tasks) != 0 || out.Seq != 0 {
		t.Fatalf("malformed file did not reset state: %+v", out)
	}
}

func TestFileStoreLoadNormalizes(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	// Hand-edited document: seq behind ids, done past total, zero total.
	doc := `{"seq":1,"tasks":{"7":{"id":7,"name":"odd","done":99,"total":0}},"stats":{"closed":0}}`
	if err := os.WriteFile(filepath.Join(dir, "8.json"), []byte(doc), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}

	out, err := st.Load(context.Background(), 8)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if out.Seq != 7 {
		t.Fatalf("Seq = %d, want 7 (healed past max id)", out.Seq)
	}
	got := out.Tasks[7]
	if got.Total != task.DefaultTotalSteps {
		t.Fatalf("Total = %d, want default %d", got.Total, task.DefaultTotalSteps)
	}
	if got.Done != got.Total {
		t.Fatalf("Done = %d, want clamped to %d", got.Done, got.Total)
	}
}

func TestFileStoreUsers(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	ctx := context.Background()

	for _, id := range []int64{30, 4, 100} {
		if err := st.Save(ctx, id, task.NewUserState()); err != nil {
			t.Fatalf("Save(%d) error: %v", id, err)
		}
	}
	// Non-state files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "11.json.tmp"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}

	users, err := st.Users(ctx)
	if err != nil {
		t.Fatalf("Users error: %v", err)
	}
	want := []int64{4, 30, 100}
	if len(users) != len(want) {
		t.Fatalf("Users = %v, want %v", users, want)
	}
	for i := range want {
		if users[i] != want[i] {
			t.Fatalf("Users = %v, want %v", users, want)
		}
	}
}

func TestFileStoreSaveLeavesNoTempFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	ctx := context.Background()

	state := task.NewUserState()
	state.Seq = 1
	state.Tasks[1] = &task.Task{ID: 1, Name: "t", Total: 10}
	for i := 0; i < 50; i++ {
		state.Tasks[1].Done = i % 10
		if err := st.Save(ctx, 77, state); err != nil {
			t.Fatalf("Save #%d error: %v", i, err)
		}
	}

	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir error: %v", err)
	}
	for _, e := range ents {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestFileStoreConcurrentUsers(t *testing.T) {
	t.Parallel()
	st := newFileStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for u := int64(1); u <= 8; u++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				s := task.NewUserState()
				s.Seq = int64(i + 1)
				s.Tasks[s.Seq] = &task.Task{ID: s.Seq, Name: "w", Total: 10}
				if err := st.Save(ctx, user, s); err != nil {
					t.Errorf("user %d: Save error: %v", user, err)
					return
				}
				got, err := st.Load(ctx, user)
				if err != nil {
					t.Errorf("user %d: Load error: %v", user, err)
					return
				}
				if got.Seq == 0 {
					t.Errorf("user %d: loaded zero state after save", user)
					return
				}
			}
		}(u)
	}
	wg.Wait()
}

func TestFileStoreSameUserConcurrentSaveNeverTorn(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	ctx := context.Background()

	// Two documents of very different sizes make a half-written file easy to
	// catch: the raw bytes on disk must always parse.
	small := task.NewUserState()
	small.Seq = 1
	small.Tasks[1] = &task.Task{ID: 1, Name: "s", Total: 10}
	big := task.NewUserState()
	big.Seq = 40
	for id := int64(1); id <= 40; id++ {
		big.Tasks[id] = &task.Task{ID: id, Name: strings.Repeat("x", 200), Total: 10}
	}
	if err := st.Save(ctx, 42, small); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 40; i++ {
				doc := small
				if (w+i)%2 == 0 {
					doc = big
				}
				if err := st.Save(ctx, 42, doc); err != nil {
					t.Errorf("Save error: %v", err)
					return
				}
			}
		}(w)
	}

	// Reader checks the raw file, not Load: Load masks a torn document by
	// mapping parse failures to empty state.
	path := filepath.Join(dir, "42.json")
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			b, err := os.ReadFile(path)
			if err != nil {
				t.Errorf("ReadFile error: %v", err)
				return
			}
			got := task.NewUserState()
			if err := json.Unmarshal(b, got); err != nil {
				t.Errorf("torn document observed: %v", err)
				return
			}
			if n := len(got.Tasks); n != 1 && n != 40 {
				t.Errorf("document is neither version: %d tasks", n)
				return
			}
		}
	}()

	wg.Wait()
	close(stop)
	<-readerDone
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
