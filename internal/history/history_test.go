package history

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gac1u21/harcapture/internal/config"
)

func at(hour, min, sec int) time.Time {
	return time.Date(2024, 3, 1, hour, min, sec, 0, time.Local)
}

func testStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	records, err := store.ReadAll(ctx)
	if err != nil {
		t.Fatalf("Failed to read empty store: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("Expected no records, got: %d", len(records))
	}
	if Format(records) != EmptyText {
		t.Errorf("Expected %q, got: %q", EmptyText, Format(records))
	}

	appended := []Record{
		{Timestamp: at(14, 5, 9), Result: "You are performing StarJumps"},
		{Timestamp: at(14, 5, 20), Result: "Error sending data: Internal Server Error\nPlease try again"},
		{Timestamp: at(14, 6, 0), Result: "Data for Squats was received and saved"},
	}
	for _, r := range appended {
		if err := store.Append(ctx, r); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
	}

	records, err = store.ReadAll(ctx)
	if err != nil {
		t.Fatalf("Failed to read records: %v", err)
	}
	if len(records) != len(appended) {
		t.Fatalf("Expected %d records, got: %d", len(appended), len(records))
	}
	for i, r := range records {
		if !r.Timestamp.Equal(appended[i].Timestamp) || r.Result != appended[i].Result {
			t.Errorf("Record %d: expected %v, got: %v", i, appended[i], r)
		}
	}

	expected := "2024-03-01 14:05:09: You are performing StarJumps\n" +
		"2024-03-01 14:05:20: Error sending data: Internal Server Error\nPlease try again\n" +
		"2024-03-01 14:06:00: Data for Squats was received and saved"
	if got := Format(records); got != expected {
		t.Errorf("Expected:\n%s\ngot:\n%s", expected, got)
	}
}

func TestBadgerStore(t *testing.T) {
	store, err := OpenInMemoryBadgerStore()
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()
	testStore(t, store)
}

func TestSQLiteStore(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	defer store.Close()
	testStore(t, store)
}

func TestConcurrentAppendsAreNotLost(t *testing.T) {
	store, err := OpenInMemoryBadgerStore()
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.Append(ctx, Record{Timestamp: at(10, 0, i), Result: "result"}); err != nil {
				t.Errorf("Failed to append: %v", err)
			}
		}(i)
	}
	wg.Wait()

	records, err := store.ReadAll(ctx)
	if err != nil {
		t.Fatalf("Failed to read records: %v", err)
	}
	if len(records) != 20 {
		t.Errorf("Expected 20 records, got: %d", len(records))
	}
}

func TestBadgerStorePersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := OpenBadgerStore(dir)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	if err := store.Append(ctx, Record{Timestamp: at(9, 0, 0), Result: "You are performing Squats"}); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	store, err = OpenBadgerStore(dir)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer store.Close()
	records, err := store.ReadAll(ctx)
	if err != nil {
		t.Fatalf("Failed to read records: %v", err)
	}
	if len(records) != 1 || records[0].Result != "You are performing Squats" {
		t.Errorf("Expected the record to survive a reopen, got: %v", records)
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	store, err := Open(config.HistoryConfig{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "sub", "history.db")})
	if err != nil {
		t.Fatalf("Failed to open sqlite history: %v", err)
	}
	if _, ok := store.(*SQLiteStore); !ok {
		t.Errorf("Expected *SQLiteStore, got: %T", store)
	}
	store.Close()

	if _, err := Open(config.HistoryConfig{Backend: "csv", Path: t.TempDir()}); err == nil {
		t.Error("Expected error for unknown backend")
	}
}

func TestParseIgnoresLeadingGarbage(t *testing.T) {
	records := Parse("garbage\n2024-03-01 14:05:09: ok")
	if len(records) != 1 || records[0].Result != "ok" {
		t.Errorf("Expected one record, got: %v", records)
	}
}
