package docstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestStore(t *testing.T) *Redis {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedis("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type testDoc struct {
	ID     string `json:"id"`
	Points int    `json:"points"`
}

func TestGetMissingDocument(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var doc testDoc
	found, err := store.Get(ctx, UserPath("STMISSING"), &doc)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Error("expected found=false for missing document")
	}
}

func TestSetAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	want := testDoc{ID: "STAAAA01", Points: 30}
	if err := store.Set(ctx, UserPath(want.ID), want); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var got testDoc
	found, err := store.Get(ctx, UserPath(want.ID), &got)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Fatal("expected document to exist")
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestUpdateMergesFields(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	path := UserPath("STAAAA02")

	if err := store.Set(ctx, path, map[string]any{"id": "STAAAA02", "points": 10}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Update(ctx, path, map[string]any{"points": 20}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	var got testDoc
	if _, err := store.Get(ctx, path, &got); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != "STAAAA02" || got.Points != 20 {
		t.Errorf("merge result %+v, want id kept and points=20", got)
	}
}

func TestPushListDeleteChild(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	path := MessagesPath("STAAAA01_STBBBB01")

	if err := store.Push(ctx, path, "m1", map[string]any{"id": "m1", "text": "hi"}); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if err := store.Push(ctx, path, "m2", map[string]any{"id": "m2", "text": "yo"}); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	docs, err := store.List(ctx, path)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 children, got %d", len(docs))
	}

	if err := store.DeleteChild(ctx, path, "m1"); err != nil {
		t.Fatalf("DeleteChild failed: %v", err)
	}
	docs, err = store.List(ctx, path)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 child after delete, got %d", len(docs))
	}
}

func TestWatchDeliversFullValue(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	path := UserPath("STAAAA03")

	got := make(chan json.RawMessage, 1)
	cancel, err := store.Watch(ctx, path, func(raw json.RawMessage) {
		select {
		case got <- raw:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer cancel()

	if err := store.Set(ctx, path, testDoc{ID: "STAAAA03", Points: 50}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	select {
	case raw := <-got:
		var doc testDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			t.Fatalf("decode watch payload: %v", err)
		}
		if doc.Points != 50 {
			t.Errorf("watch payload %+v, want points=50", doc)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch callback never fired")
	}
}

func TestWatchEchoesOwnWrite(t *testing.T) {
	// The writer's own Set comes back through its watch. This is the
	// echo the sync engine's suppression window guards against, so the
	// store must actually exhibit it.
	store := setupTestStore(t)
	ctx := context.Background()
	path := UserPath("STAAAA04")

	fired := make(chan struct{}, 1)
	cancel, err := store.Watch(ctx, path, func(json.RawMessage) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer cancel()

	if err := store.Set(ctx, path, testDoc{ID: "STAAAA04"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the writer's own watch to echo the write")
	}
}

func TestWatchCollectionSignalsOnPush(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	path := MessagesPath("STAAAA01_STBBBB01")

	fired := make(chan struct{}, 2)
	cancel, err := store.Watch(ctx, path, func(json.RawMessage) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer cancel()

	if err := store.Push(ctx, path, "m1", map[string]any{"id": "m1"}); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("collection watch never fired")
	}
}

func TestWatchCancelIsIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	cancel, err := store.Watch(ctx, UserPath("STAAAA05"), func(json.RawMessage) {})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	cancel()
	cancel() // must not panic or block
}
