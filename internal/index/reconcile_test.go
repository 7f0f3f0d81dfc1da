package index

import (
	"context"
	"testing"

	"github.com/jackzampolin/guideshelf/internal/shards"
)

func TestReconcileRepairsDrift(t *testing.T) {
	ctx := context.Background()
	m, ss, _ := newTestManager()
	k := shards.Key{TopicKey: "t", SubtopicKey: "s"}

	sh, _ := ss.Create(ctx, "b1", shards.NewShard{Key: k, SubtopicTitle: "S", Content: "c", Page: 1})
	if err := m.SyncSubtopic(ctx, sh, 1); err != nil {
		t.Fatal(err)
	}
	_ = m.RecordAssignment(ctx, "b1", Assignment{Page: 1, TopicKey: "t", SubtopicKey: "s"})

	// shard written for page 2, index update lost
	if _, err := ss.Merge(ctx, "b1", k, shards.MergeUpdate{Content: "c2", PageStart: 2, PageEnd: 2}); err != nil {
		t.Fatal(err)
	}
	// orphan entry with no shard
	orphan := &shards.Shard{BookID: "b1", TopicKey: "gone", SubtopicKey: "x", Version: 1, SourcePageStart: 3, SourcePageEnd: 3}
	if err := m.SyncSubtopic(ctx, orphan, 3); err != nil {
		t.Fatal(err)
	}
	// shard with no entry
	if _, err := ss.Create(ctx, "b1", shards.NewShard{Key: shards.Key{TopicKey: "new", SubtopicKey: "y"}, Content: "y", Page: 4}); err != nil {
		t.Fatal(err)
	}

	report, err := m.Reconcile(ctx, "b1")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !report.Drift() {
		t.Fatal("expected drift")
	}
	if len(report.Added) != 1 || report.Added[0] != "new/y" {
		t.Errorf("added = %v", report.Added)
	}
	if len(report.Updated) != 1 || report.Updated[0] != "t/s" {
		t.Errorf("updated = %v", report.Updated)
	}
	if len(report.Removed) != 1 || report.Removed[0] != "gone/x" {
		t.Errorf("removed = %v", report.Removed)
	}

	idx, _ := m.Load(ctx, "b1")
	e, _ := idx.Subtopic(k)
	if e.Version != 2 || e.SourcePageEnd != 2 || e.Pages.String() != "1-2" {
		t.Errorf("repaired entry = %+v", e)
	}

	again, err := m.Reconcile(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if again.Drift() {
		t.Errorf("second reconcile found drift: %+v", again)
	}
}
