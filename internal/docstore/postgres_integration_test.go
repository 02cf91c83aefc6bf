package docstore

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"
)

// These tests need a live Postgres instance; they skip in short mode or
// when TEST_DATABASE_URL is not set.

func setupTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := OpenPostgres(ctx, url)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPostgresSetGetRoundtrip(t *testing.T) {
	store := setupTestPostgres(t)
	ctx := context.Background()
	path := UserPath("STITEST1")
	defer func() { _ = store.Delete(ctx, path) }()

	want := testDoc{ID: "STITEST1", Points: 10}
	if err := store.Set(ctx, path, want); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var got testDoc
	found, err := store.Get(ctx, path, &got)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found || got != want {
		t.Errorf("got (%v, %+v), want (true, %+v)", found, got, want)
	}
}

func TestPostgresUpdateMerges(t *testing.T) {
	store := setupTestPostgres(t)
	ctx := context.Background()
	path := UserPath("STITEST2")
	defer func() { _ = store.Delete(ctx, path) }()

	if err := store.Set(ctx, path, map[string]any{"id": "STITEST2", "points": 10}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Update(ctx, path, map[string]any{"points": 30}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	var got testDoc
	if _, err := store.Get(ctx, path, &got); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != "STITEST2" || got.Points != 30 {
		t.Errorf("merge result %+v, want id kept and points=30", got)
	}
}

func TestPostgresWatchDeliversOnNotify(t *testing.T) {
	store := setupTestPostgres(t)
	ctx := context.Background()
	path := UserPath("STITEST3")
	defer func() { _ = store.Delete(ctx, path) }()

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

	if err := store.Set(ctx, path, testDoc{ID: "STITEST3", Points: 70}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	select {
	case raw := <-got:
		var doc testDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			t.Fatalf("decode watch payload: %v", err)
		}
		if doc.Points != 70 {
			t.Errorf("watch payload %+v, want points=70", doc)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch callback never fired")
	}
}
