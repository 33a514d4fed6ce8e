package blobstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "digestfanout/pkg/logx"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	fs, err := Open(ctx, Config{Driver: "file", Path: filepath.Join(dir, "files")}, logx.Nop())
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	sq, err := Open(ctx, Config{Driver: "sqlite", Path: filepath.Join(dir, "blobs.db"), BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() {
		_ = fs.Close()
		_ = sq.Close()
	})
	return map[string]Store{
		"memory": NewMemory(),
		"file":   fs,
		"sqlite": sq,
	}
}

func TestStoreCreateGetUpdate(t *testing.T) {
	for name, s := range testStores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ref, err := s.Create(ctx, "schedule_config.json", []byte(`{"version":1}`))
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if ref.Name != "schedule_config.json" {
				t.Fatalf("Name = %q", ref.Name)
			}
			if _, err := s.Create(ctx, "schedule_config.json", []byte(`{}`)); !errors.Is(err, ErrExists) {
				t.Fatalf("second Create err = %v, want ErrExists", err)
			}

			got, err := s.Get(ctx, ref.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if string(got) != `{"version":1}` {
				t.Fatalf("Get = %s", got)
			}

			if err := s.Update(ctx, ref.ID, []byte(`{"version":2}`)); err != nil {
				t.Fatalf("Update: %v", err)
			}
			got, _ = s.Get(ctx, ref.ID)
			if string(got) != `{"version":2}` {
				t.Fatalf("Get after update = %s", got)
			}

			if err := s.Update(ctx, "missing", []byte("x")); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Update missing err = %v, want ErrNotFound", err)
			}
			if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get missing err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreListAndAppend(t *testing.T) {
	for name, s := range testStores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, n := range []string{"job_runs_202601.jsonl", "job_runs_202602.jsonl", "cron_lock.json"} {
				if _, err := s.Create(ctx, n, []byte("x")); err != nil {
					t.Fatalf("Create %s: %v", n, err)
				}
			}

			refs, err := s.List(ctx, Query{Prefix: "job_runs_"})
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(refs) != 2 || refs[0].Name != "job_runs_202601.jsonl" {
				t.Fatalf("List prefix = %+v", refs)
			}

			refs, err = s.List(ctx, Query{Name: "cron_lock.json"})
			if err != nil || len(refs) != 1 {
				t.Fatalf("List name = %+v, %v", refs, err)
			}
			refs, err = s.List(ctx, Query{Name: "nope.json"})
			if err != nil || len(refs) != 0 {
				t.Fatalf("List missing name = %+v, %v", refs, err)
			}

			if err := AppendTo(ctx, s, "tail.jsonl", []byte("a\n")); err != nil {
				t.Fatalf("AppendTo new: %v", err)
			}
			if err := AppendTo(ctx, s, "tail.jsonl", []byte("b\n")); err != nil {
				t.Fatalf("AppendTo existing: %v", err)
			}
			b, _, err := ReadByName(ctx, s, "tail.jsonl")
			if err != nil {
				t.Fatalf("ReadByName: %v", err)
			}
			if string(b) != "a\nb\n" {
				t.Fatalf("appended body = %q", b)
			}
		})
	}
}

func TestWriteJSONFindsOrCreates(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	if err := WriteJSON(ctx, s, "state.json", map[string]int{"v": 1}); err != nil {
		t.Fatalf("WriteJSON create: %v", err)
	}
	if err := WriteJSON(ctx, s, "state.json", map[string]int{"v": 2}); err != nil {
		t.Fatalf("WriteJSON update: %v", err)
	}
	var got map[string]int
	if err := ReadJSON(ctx, s, "state.json", &got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got["v"] != 2 {
		t.Fatalf("v = %d, want 2", got["v"])
	}
	refs, _ := s.List(ctx, Query{})
	if len(refs) != 1 {
		t.Fatalf("expected a single document, got %d", len(refs))
	}

	if err := ReadJSON(ctx, s, "absent.json", &got); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReadJSON absent err = %v", err)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	t.Parallel()
	s, err := Open(context.Background(), Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, bad := range []string{"../escape", "a/b", "", ".."} {
		if _, err := s.Create(context.Background(), bad, nil); err == nil {
			t.Fatalf("Create(%q) should fail", bad)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
