package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
)

func setupTestDB(t *testing.T) *SQLiteDB {
	db, err := NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	return db
}

func TestSQLiteDB_GetMissingKey(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	got, err := db.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing key, got %q", got)
	}
}

func TestSQLiteDB_PutAndGet(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	if err := db.Put(ctx, KeyRiskSnapshots, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	// Overwrite
	if err := db.Put(ctx, KeyRiskSnapshots, []byte(`{"a":2}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := db.Get(ctx, KeyRiskSnapshots)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != `{"a":2}` {
		t.Errorf("expected overwritten value, got %q", got)
	}
}

func TestSQLiteDB_KeysAreIndependent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	db.Put(ctx, KeyEmergencyQueue, []byte("queue"))
	db.Put(ctx, KeyDashboardSnapshot, []byte("dashboard"))

	got, _ := db.Get(ctx, KeyEmergencyQueue)
	if string(got) != "queue" {
		t.Errorf("expected 'queue', got %q", got)
	}
	got, _ = db.Get(ctx, KeyDistrictOverlay)
	if got != nil {
		t.Errorf("expected nil for untouched key, got %q", got)
	}
}

func TestSQLiteDB_UpdateAbortLeavesValue(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	db.Put(ctx, KeyEmergencyQueue, []byte("before"))

	boom := errors.New("boom")
	err := db.Update(ctx, KeyEmergencyQueue, func(current []byte) ([]byte, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, _ := db.Get(ctx, KeyEmergencyQueue)
	if string(got) != "before" {
		t.Errorf("expected value untouched, got %q", got)
	}
}

func TestSQLiteDB_ConcurrentUpdates(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.Update(ctx, "counter", func(current []byte) ([]byte, error) {
				v := 0
				if current != nil {
					parsed, err := strconv.Atoi(string(current))
					if err != nil {
						return nil, err
					}
					v = parsed
				}
				return []byte(strconv.Itoa(v + 1)), nil
			})
			if err != nil {
				t.Errorf("Update failed: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := db.Get(ctx, "counter")
	if string(got) != fmt.Sprint(n) {
		t.Errorf("expected %d, got %q", n, got)
	}
}

func TestSQLiteDB_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")
	ctx := context.Background()

	db, err := NewSQLiteDB(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := db.Put(ctx, KeyEmergencyQueue, []byte("persisted")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	db.Close()

	db, err = NewSQLiteDB(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()

	got, err := db.Get(ctx, KeyEmergencyQueue)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "persisted" {
		t.Errorf("expected 'persisted', got %q", got)
	}
}
