package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hamed0406/downdetector/internal/domain"
)

var base = time.Date(2025, 8, 18, 9, 0, 0, 0, time.UTC)

func TestMemoryStore_CommitAndRead(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.Snapshot(ctx, "a"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if b, err := s.LastBatch(ctx); err != nil || b != nil {
		t.Fatalf("expected no batch yet, got %+v err=%v", b, err)
	}

	snaps := []domain.ServiceSnapshot{
		{TargetID: "b", State: domain.Down, StatusCode: domain.IntPtr(503), ConsecutiveFailures: 1},
		{TargetID: "a", State: domain.Operational, StatusCode: domain.IntPtr(200)},
	}
	meta := domain.BatchMeta{ID: "b1", Timestamp: base, TotalTargets: 2, WrittenCount: 2}
	if err := s.CommitBatch(ctx, meta, snaps); err != nil {
		t.Fatalf("CommitBatch: %v", err)
	}

	// mutating the caller's copy must not leak into the store
	*snaps[0].StatusCode = 200

	all, err := s.Snapshots(ctx)
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if len(all) != 2 || all[0].TargetID != "a" || all[1].TargetID != "b" {
		t.Fatalf("unexpected snapshots: %+v", all)
	}
	if *all[1].StatusCode != 503 {
		t.Fatalf("store aliased caller data")
	}

	last, err := s.LastBatch(ctx)
	if err != nil || last == nil || last.ID != "b1" {
		t.Fatalf("LastBatch: %+v err=%v", last, err)
	}
}

func TestMemoryStore_CountBatchesSince(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := 0; i < 4; i++ {
		meta := domain.BatchMeta{ID: "x", Timestamp: base.Add(time.Duration(i) * 20 * time.Minute)}
		if err := s.CommitBatch(ctx, meta, nil); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.CountBatchesSince(ctx, base.Add(20*time.Minute))
	if err != nil || n != 3 {
		t.Fatalf("want 3, got %d err=%v", n, err)
	}
}

func TestMemoryStore_HistoryNewestFirstAndPrune(t *testing.T) {
	ctx := context.Background()
	s := New()
	var entries []domain.HistoryEntry
	for i := 0; i < 5; i++ {
		entries = append(entries, domain.HistoryEntry{TargetID: "a", Timestamp: base.Add(time.Duration(i) * time.Hour)})
	}
	if err := s.AppendHistory(ctx, entries); err != nil {
		t.Fatal(err)
	}

	got, _ := s.History(ctx, "a", 2)
	if len(got) != 2 || !got[0].Timestamp.Equal(base.Add(4*time.Hour)) {
		t.Fatalf("unexpected history: %+v", got)
	}

	n, err := s.PruneHistory(ctx, base.Add(2*time.Hour))
	if err != nil || n != 2 {
		t.Fatalf("prune: n=%d err=%v", n, err)
	}
	got, _ = s.History(ctx, "a", 0)
	if len(got) != 3 {
		t.Fatalf("want 3 left, got %d", len(got))
	}
}

func TestMemoryStore_HistoryDedupesAndOrders(t *testing.T) {
	ctx := context.Background()
	s := New()
	late := domain.HistoryEntry{TargetID: "a", Timestamp: base.Add(2 * time.Minute), State: domain.Down}
	early := domain.HistoryEntry{TargetID: "a", Timestamp: base.Add(time.Minute), State: domain.Operational}

	// a slower overlapping cycle lands after a newer one
	if err := s.AppendHistory(ctx, []domain.HistoryEntry{late}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendHistory(ctx, []domain.HistoryEntry{early}); err != nil {
		t.Fatal(err)
	}
	dup := late
	dup.State = domain.Degraded
	if err := s.AppendHistory(ctx, []domain.HistoryEntry{dup}); err != nil {
		t.Fatal(err)
	}

	got, _ := s.History(ctx, "a", 0)
	if len(got) != 2 {
		t.Fatalf("want 2 entries, got %+v", got)
	}
	if !got[0].Timestamp.Equal(late.Timestamp) || got[0].State != domain.Down {
		t.Fatalf("newest first and first write kept, got %+v", got[0])
	}
	if !got[1].Timestamp.Equal(early.Timestamp) {
		t.Fatalf("older entry second, got %+v", got[1])
	}
}

func TestMemoryStore_Alerts(t *testing.T) {
	ctx := context.Background()
	s := New()

	rec, err := s.GetAlert(ctx, "T1")
	if err != nil || rec != nil {
		t.Fatalf("expected nil, got %+v err=%v", rec, err)
	}
	if err := s.SetAlert(ctx, "T1", domain.Down, time.Time{}); err != nil {
		t.Fatal(err)
	}
	rec, _ = s.GetAlert(ctx, "T1")
	if rec == nil || rec.LastSentAt != nil || rec.LastState != domain.Down {
		t.Fatalf("unexpected: %+v", rec)
	}
	if err := s.SetAlert(ctx, "T1", domain.Operational, base); err != nil {
		t.Fatal(err)
	}
	rec, _ = s.GetAlert(ctx, "T1")
	if rec == nil || rec.LastSentAt == nil || rec.LastState != domain.Operational {
		t.Fatalf("unexpected: %+v", rec)
	}
}
