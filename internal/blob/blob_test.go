package blob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func stores(t *testing.T) map[string]Store {
	fsStore, err := NewFSStore(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	return map[string]Store{
		"fs":  fsStore,
		"mem": NewMemStore(),
	}
}

func TestStore_Contract(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Get(ctx, "books/b1/index.json"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			if err := s.Put(ctx, "books/b1/index.json", []byte(`{"a":1}`)); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := s.Put(ctx, "books/b1/shards/t/s.json", []byte(`{}`)); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := s.Put(ctx, "books/b2/index.json", []byte(`{}`)); err != nil {
				t.Fatalf("Put: %v", err)
			}

			data, err := s.Get(ctx, "books/b1/index.json")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if string(data) != `{"a":1}` {
				t.Errorf("unexpected data %s", data)
			}

			if err := s.Put(ctx, "books/b1/index.json", []byte(`{"a":2}`)); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			data, _ = s.Get(ctx, "books/b1/index.json")
			if string(data) != `{"a":2}` {
				t.Errorf("overwrite not visible: %s", data)
			}

			keys, err := s.List(ctx, "books/b1/")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			want := []string{"books/b1/index.json", "books/b1/shards/t/s.json"}
			if len(keys) != len(want) {
				t.Fatalf("expected %v, got %v", want, keys)
			}
			for i := range want {
				if keys[i] != want[i] {
					t.Errorf("key %d: expected %s, got %s", i, want[i], keys[i])
				}
			}

			if err := s.Delete(ctx, "books/b1/shards/t/s.json"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := s.Delete(ctx, "books/b1/shards/t/s.json"); err != nil {
				t.Fatalf("second Delete should be a no-op: %v", err)
			}
			if _, err := s.Get(ctx, "books/b1/shards/t/s.json"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound after delete, got %v", err)
			}
		})
	}
}

func TestStore_RejectsBadKeys(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"", "/abs", "a/../b", "a//b"} {
				if err := s.Put(ctx, key, []byte("x")); err == nil {
					t.Errorf("expected error for key %q", key)
				}
			}
		})
	}
}

func TestFSStore_NoTempFilesLeft(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "blobs")
	s, err := NewFSStore(root)
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.Put(ctx, "books/b1/index.json", []byte("x")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	entries, err := os.ReadDir(filepath.Join(root, "books", "b1"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only index.json, found %d entries", len(entries))
	}
}

func TestMemStore_PutHook(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	boom := errors.New("boom")
	s.SetPutHook(func(key string) error {
		if key == "fail" {
			return boom
		}
		return nil
	})

	if err := s.Put(ctx, "fail", []byte("x")); !errors.Is(err, boom) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if _, err := s.Get(ctx, "fail"); !errors.Is(err, ErrNotFound) {
		t.Error("failed put must not store data")
	}
	if err := s.Put(ctx, "ok", []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, "fs", t.TempDir(), "", ""); err != nil {
		t.Errorf("fs: %v", err)
	}
	if _, err := Open(ctx, "mem", "", "", ""); err != nil {
		t.Errorf("mem: %v", err)
	}
	if _, err := Open(ctx, "s3", "", "", ""); err == nil {
		t.Error("expected error for unknown backend")
	}
	if _, err := Open(ctx, "gcs", "", "", ""); err == nil {
		t.Error("expected error for missing bucket")
	}
}
