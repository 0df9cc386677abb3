package production

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/comalice/valuechange"
	"github.com/comalice/valuechange/internal/core"
)

func openTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "valuechange.db")
	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	snapshot := sampleSnapshot("sqlite-contract")
	snapshot.Storage.Score = math.MaxUint64
	if err := store.Save(ctx, snapshot); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load(ctx, "sqlite-contract")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertSnapshotEqual(t, loaded, snapshot)
}

func TestSQLiteStore_LoadNonExistent(t *testing.T) {
	store, _ := openTestStore(t)
	if _, err := store.Load(context.Background(), "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected core.ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_CommitJournalsEvents(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	snap := sampleSnapshot("journal")
	records := []core.Record{
		{ContractID: "journal", Message: core.MsgAddScore, Block: 2, Event: valuechange.ScoreReturn{Score: 1}, Timestamp: ts},
		{ContractID: "journal", Message: core.MsgAddScore, Block: 3, Event: valuechange.ScoreReturn{Score: 2}, Timestamp: ts},
	}
	if err := store.Commit(ctx, snap, records[:1]); err != nil {
		t.Fatal(err)
	}
	if err := store.Commit(ctx, snap, records[1:]); err != nil {
		t.Fatal(err)
	}

	got, err := store.Events(ctx, "journal")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	for i, rec := range got {
		if rec.Block != records[i].Block || rec.Message != records[i].Message {
			t.Errorf("event %d: got %+v", i, rec)
		}
		if rec.Event != records[i].Event {
			t.Errorf("event %d: payload %#v, want %#v", i, rec.Event, records[i].Event)
		}
		if !rec.Timestamp.Equal(ts) {
			t.Errorf("event %d: timestamp %v", i, rec.Timestamp)
		}
	}

	other, err := store.Events(ctx, "someone-else")
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("expected no events for other contract, got %d", len(other))
	}
}

func TestSQLiteStore_CanceledCommitWritesNothing(t *testing.T) {
	store, _ := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Commit(ctx, sampleSnapshot("canceled"), []core.Record{
		{ContractID: "canceled", Event: valuechange.ScoreReturn{Score: 1}},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := store.Load(context.Background(), "canceled"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected nothing stored, got %v", err)
	}
}

func TestSQLiteStore_ReopenKeepsStateAndMigrations(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	c := core.NewContract("reopen", core.WithPersister(store))
	if _, err := c.Instantiate(ctx, true); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := c.AddScore(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	c2 := core.NewContract("reopen", core.WithPersister(reopened))
	score, err := c2.GetScore(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if score != 3 {
		t.Errorf("expected score 3 after reopen, got %d", score)
	}
	events, err := reopened.Events(ctx, "reopen")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 journaled events, got %d", len(events))
	}
	for i, rec := range events {
		if sr := rec.Event.(valuechange.ScoreReturn); sr.Score != uint64(i+1) {
			t.Errorf("event %d: score %d", i, sr.Score)
		}
	}
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	if _, err := OpenSQLite("  "); err == nil {
		t.Error("expected error for empty path")
	}
}
