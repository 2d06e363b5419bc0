package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func storeContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	first := sampleCheckpoint("c1", "2026-01-01T00:00:00Z")
	second := sampleCheckpoint("c2", "2026-01-02T00:00:00Z")
	second.Params[1].Values = []float64{5, 6}
	other := sampleCheckpoint("c3", "2026-01-03T00:00:00Z")
	other.ModelName = "encoder"

	if err := store.SaveCheckpoint(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := store.SaveCheckpoint(ctx, second); err != nil {
		t.Fatalf("save second: %v", err)
	}
	if err := store.SaveCheckpoint(ctx, other); err != nil {
		t.Fatalf("save other: %v", err)
	}

	got, ok, err := store.GetCheckpoint(ctx, "c1")
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if !ok || got.ModelName != "jigsaw_complete" || got.Params[0].Values[3] != 4 {
		t.Fatalf("unexpected checkpoint: ok=%t %+v", ok, got)
	}

	latest, ok, err := store.LatestCheckpoint(ctx, "jigsaw_complete")
	if err != nil {
		t.Fatalf("latest checkpoint: %v", err)
	}
	if !ok || latest.ID != "c2" || latest.Params[1].Values[0] != 5 {
		t.Fatalf("unexpected latest checkpoint: ok=%t %+v", ok, latest)
	}

	if _, ok, err := store.GetCheckpoint(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing checkpoint, ok=%t err=%v", ok, err)
	}
	if _, ok, err := store.LatestCheckpoint(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected no latest checkpoint, ok=%t err=%v", ok, err)
	}

	list, err := store.ListCheckpoints(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].ID != "c1" || list[2].ID != "c3" || list[0].ParamCount != 6 {
		t.Fatalf("unexpected listing: %+v", list)
	}
}

func TestMemoryStoreCheckpoints(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	storeContract(t, store)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	in := sampleCheckpoint("c1", "2026-01-01T00:00:00Z")
	if err := store.SaveCheckpoint(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	in.Params[0].Values[0] = 100
	got, _, _ := store.GetCheckpoint(ctx, "c1")
	if got.Params[0].Values[0] != 1 {
		t.Fatalf("store shared caller memory: %+v", got.Params[0])
	}
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	if err := NewMemoryStore().SaveCheckpoint(context.Background(), sampleCheckpoint("c1", "")); err == nil {
		t.Fatal("expected uninitialized store error")
	}
}

func TestFileStoreCheckpointsPersist(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "weights.json")

	store := NewFileStore(path)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	storeContract(t, store)

	reopened := NewFileStore(path)
	if err := reopened.Init(ctx); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	latest, ok, err := reopened.LatestCheckpoint(ctx, "jigsaw_complete")
	if err != nil || !ok || latest.ID != "c2" {
		t.Fatalf("expected persisted latest checkpoint, ok=%t err=%v %+v", ok, err, latest)
	}
}
