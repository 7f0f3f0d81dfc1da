package index

import (
	"context"
	"errors"
	"testing"

	"github.com/jackzampolin/guideshelf/internal/blob"
	"github.com/jackzampolin/guideshelf/internal/shards"
)

func newTestManager() (*Manager, *shards.Store, *blob.MemStore) {
	mem := blob.NewMemStore()
	ss := shards.NewStore(mem, nil)
	return NewManager(mem, ss, nil), ss, mem
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusOpen, StatusStable, true},
		{StatusOpen, StatusFinal, true},
		{StatusStable, StatusFinal, true},
		{StatusStable, StatusOpen, false},
		{StatusFinal, StatusOpen, false},
		{StatusFinal, StatusStable, false},
		{StatusFinal, StatusFinal, true},
		{StatusFinal, StatusNeedsReview, true},
		{StatusOpen, StatusNeedsReview, true},
		{StatusNeedsReview, StatusFinal, true},
		{StatusNeedsReview, StatusOpen, false},
		{StatusNeedsReview, StatusStable, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestLoadEmpty(t *testing.T) {
	m, _, _ := newTestManager()
	idx, err := m.Load(context.Background(), "b1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if idx.BookID != "b1" || len(idx.Topics) != 0 {
		t.Errorf("unexpected empty index: %+v", idx)
	}
	pages, err := m.PageAssignments(context.Background(), "b1")
	if err != nil || len(pages) != 0 {
		t.Errorf("PageAssignments = %v, %v", pages, err)
	}
}

func TestSyncSubtopicAccumulatesPages(t *testing.T) {
	ctx := context.Background()
	m, ss, _ := newTestManager()
	k := shards.Key{TopicKey: "motion", SubtopicKey: "speed"}

	sh, err := ss.Create(ctx, "b1", shards.NewShard{Key: k, TopicTitle: "Motion", SubtopicTitle: "Speed", Content: "c", Page: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.SyncSubtopic(ctx, sh, 1); err != nil {
		t.Fatalf("SyncSubtopic: %v", err)
	}
	for _, page := range []int{2, 3, 6} {
		sh, err = ss.Merge(ctx, "b1", k, shards.MergeUpdate{Content: "c", PageStart: page, PageEnd: page})
		if err != nil {
			t.Fatal(err)
		}
		if err := m.SyncSubtopic(ctx, sh, page); err != nil {
			t.Fatal(err)
		}
	}

	idx, err := m.Load(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	entry, ok := idx.Subtopic(k)
	if !ok {
		t.Fatal("entry missing")
	}
	if entry.Pages.String() != "1-3,6" {
		t.Errorf("pages = %s, want 1-3,6", entry.Pages)
	}
	if entry.Status != StatusOpen || entry.Version != 4 || entry.SourcePageEnd != 6 {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if idx.Topics["motion"].Title != "Motion" {
		t.Errorf("topic title = %q", idx.Topics["motion"].Title)
	}
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()
	m, ss, _ := newTestManager()
	k := shards.Key{TopicKey: "t", SubtopicKey: "s"}
	sh, _ := ss.Create(ctx, "b1", shards.NewShard{Key: k, Content: "c", Page: 1})
	if err := m.SyncSubtopic(ctx, sh, 1); err != nil {
		t.Fatal(err)
	}

	if err := m.SetStatus(ctx, "b1", k, StatusStable); err != nil {
		t.Fatalf("open->stable: %v", err)
	}
	if err := m.SetStatus(ctx, "b1", k, StatusOpen); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("stable->open: expected ErrInvalidTransition, got %v", err)
	}
	if err := m.SetStatus(ctx, "b1", shards.Key{TopicKey: "x", SubtopicKey: "y"}, StatusFinal); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// a re-sync after a status change must not reopen the entry
	if err := m.SyncSubtopic(ctx, sh, 1); err != nil {
		t.Fatal(err)
	}
	idx, _ := m.Load(ctx, "b1")
	if e, _ := idx.Subtopic(k); e.Status != StatusStable {
		t.Errorf("status = %s, want stable", e.Status)
	}
}

func TestAssignmentsAndMerge(t *testing.T) {
	ctx := context.Background()
	m, ss, _ := newTestManager()
	a := shards.Key{TopicKey: "t", SubtopicKey: "a"}
	b := shards.Key{TopicKey: "u", SubtopicKey: "b"}

	shA, _ := ss.Create(ctx, "b1", shards.NewShard{Key: a, Content: "a", Page: 1})
	shB, _ := ss.Create(ctx, "b1", shards.NewShard{Key: b, Content: "b", Page: 2})
	for _, step := range []struct {
		sh   *shards.Shard
		page int
	}{{shA, 1}, {shB, 2}} {
		if err := m.SyncSubtopic(ctx, step.sh, step.page); err != nil {
			t.Fatal(err)
		}
		if err := m.RecordAssignment(ctx, "b1", Assignment{Page: step.page, TopicKey: step.sh.TopicKey,
			SubtopicKey: step.sh.SubtopicKey, Confidence: 0.9}); err != nil {
			t.Fatal(err)
		}
	}

	merged, err := ss.Merge(ctx, "b1", a, shards.MergeUpdate{Content: "a+b", PageStart: 2, PageEnd: 2})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.MergeSubtopics(ctx, b, merged); err != nil {
		t.Fatalf("MergeSubtopics: %v", err)
	}

	idx, _ := m.Load(ctx, "b1")
	if _, ok := idx.Subtopic(b); ok {
		t.Error("merged-away entry still present")
	}
	if _, ok := idx.Topics["u"]; ok {
		t.Error("empty topic should be removed")
	}
	entry, _ := idx.Subtopic(a)
	if entry.Pages.String() != "1-2" || entry.Version != 2 {
		t.Errorf("survivor = %+v", entry)
	}

	pages, _ := m.PageAssignments(ctx, "b1")
	if len(pages) != 2 || pages[1].Key() != a {
		t.Errorf("assignments not moved: %+v", pages)
	}
}

func TestRenameAndTopicSummary(t *testing.T) {
	ctx := context.Background()
	m, ss, _ := newTestManager()
	k := shards.Key{TopicKey: "t", SubtopicKey: "s"}
	sh, _ := ss.Create(ctx, "b1", shards.NewShard{Key: k, TopicTitle: "T", SubtopicTitle: "S", Content: "c", Page: 1})
	_ = m.SyncSubtopic(ctx, sh, 1)

	if err := m.Rename(ctx, "b1", k, "Topic", ""); err != nil {
		t.Fatal(err)
	}
	if err := m.SetTopicSummary(ctx, "b1", "t", "about t"); err != nil {
		t.Fatal(err)
	}
	if err := m.SetTopicSummary(ctx, "b1", "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	idx, _ := m.Load(ctx, "b1")
	if idx.Topics["t"].Title != "Topic" || idx.Topics["t"].Summary != "about t" {
		t.Errorf("topic = %+v", idx.Topics["t"])
	}
	if e, _ := idx.Subtopic(k); e.Title != "S" {
		t.Errorf("subtopic title changed: %q", e.Title)
	}
}

func TestFailedPutLeavesIndexUnchanged(t *testing.T) {
	ctx := context.Background()
	m, ss, mem := newTestManager()
	k := shards.Key{TopicKey: "t", SubtopicKey: "s"}
	sh, _ := ss.Create(ctx, "b1", shards.NewShard{Key: k, Content: "c", Page: 1})
	_ = m.SyncSubtopic(ctx, sh, 1)

	mem.SetPutHook(func(key string) error {
		if key == IndexKey("b1") {
			return errors.New("disk full")
		}
		return nil
	})
	if err := m.SetStatus(ctx, "b1", k, StatusFinal); err == nil {
		t.Fatal("expected write error")
	}
	mem.SetPutHook(nil)

	idx, _ := m.Load(ctx, "b1")
	if e, _ := idx.Subtopic(k); e.Status != StatusOpen {
		t.Errorf("status = %s after failed write", e.Status)
	}
}

func TestUpdateNoChangeSkipsWrite(t *testing.T) {
	ctx := context.Background()
	m, ss, mem := newTestManager()
	k := shards.Key{TopicKey: "t", SubtopicKey: "s"}
	sh, _ := ss.Create(ctx, "b1", shards.NewShard{Key: k, Content: "c", Page: 1})
	_ = m.SyncSubtopic(ctx, sh, 1)

	writes := 0
	mem.SetPutHook(func(key string) error {
		writes++
		return nil
	})
	idx, err := m.Update(ctx, "b1", func(*BookIndex) error { return ErrNoChange })
	mem.SetPutHook(nil)

	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if writes != 0 {
		t.Errorf("expected no writes, got %d", writes)
	}
	if _, ok := idx.Subtopic(k); !ok {
		t.Error("expected loaded index to be returned")
	}
}
