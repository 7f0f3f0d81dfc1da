package stability

import (
	"context"
	"testing"

	"github.com/jackzampolin/guideshelf/internal/blob"
	"github.com/jackzampolin/guideshelf/internal/index"
	"github.com/jackzampolin/guideshelf/internal/shards"
)

func setup(t *testing.T, ends map[shards.Key]int) *index.Manager {
	t.Helper()
	mem := blob.NewMemStore()
	ss := shards.NewStore(mem, nil)
	mgr := index.NewManager(mem, ss, nil)
	for k, end := range ends {
		sh := &shards.Shard{BookID: "b1", TopicKey: k.TopicKey, SubtopicKey: k.SubtopicKey,
			SourcePageStart: 1, SourcePageEnd: end, Version: 1}
		if err := mgr.SyncSubtopic(context.Background(), sh, end); err != nil {
			t.Fatal(err)
		}
	}
	return mgr
}

func TestGapBoundary(t *testing.T) {
	ctx := context.Background()
	k := shards.Key{TopicKey: "t", SubtopicKey: "s"}
	mgr := setup(t, map[shards.Key]int{k: 10})
	tr := New(5)

	for page := 11; page <= 14; page++ {
		got, err := tr.Apply(ctx, mgr, "b1", page)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Fatalf("page %d: unexpected transition %+v", page, got)
		}
	}
	idx, _ := mgr.Load(ctx, "b1")
	if e, _ := idx.Subtopic(k); e.Status != index.StatusOpen {
		t.Fatalf("status at page 14 = %s, want open", e.Status)
	}

	got, err := tr.Apply(ctx, mgr, "b1", 15)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Key != k || got[0].SourcePageEnd != 10 {
		t.Fatalf("page 15 transitions = %+v", got)
	}
	idx, _ = mgr.Load(ctx, "b1")
	if e, _ := idx.Subtopic(k); e.Status != index.StatusStable {
		t.Errorf("status at page 15 = %s, want stable", e.Status)
	}

	// already stable: no repeat transition
	if got, _ := tr.Apply(ctx, mgr, "b1", 16); len(got) != 0 {
		t.Errorf("repeat transition %+v", got)
	}
}

func TestChecksAllOpenSubtopics(t *testing.T) {
	early := shards.Key{TopicKey: "a", SubtopicKey: "early"}
	late := shards.Key{TopicKey: "b", SubtopicKey: "late"}
	mgr := setup(t, map[shards.Key]int{early: 2, late: 9})

	idx, _ := mgr.Load(context.Background(), "b1")
	got := New(5).Check(idx, 10)
	if len(got) != 1 || got[0].Key != early {
		t.Errorf("Check = %+v, want only %s", got, early)
	}
}

func TestDefaultGap(t *testing.T) {
	if New(0).Gap != DefaultGap {
		t.Errorf("New(0).Gap = %d", New(0).Gap)
	}
}
