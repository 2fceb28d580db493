package postgres

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"reqcore/internal/infra/persistence/memory"
	"reqcore/pkg/domain"
)

// openStandin opens a SQLite handle that accepts the store's DDL and upsert
// statements, standing in for a real Postgres server.
func openStandin(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open standin: %v", err)
	}
	return db
}

func tick(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func TestSnapshotRoundTripThroughDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "standin.db")
	start := time.Date(2026, 5, 3, 7, 0, 0, 0, time.UTC)

	db := openStandin(t, path)
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	store, err := NewStore("", nil, domain.NewRulesEngine(), memory.WithNowFunc(tick(start)))
	restore()
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	var identity domain.Requirement
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		identity, _, err = tx.CreateRequirement(domain.TypeObstacle, domain.RequirementVersion{
			State:      domain.StateProposed,
			Name:       "Single point of failure",
			ModifiedBy: "ana",
		})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db2 := openStandin(t, path)
	restore = OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db2, nil })
	reopened, err := NewStore("", nil, domain.NewRulesEngine(), memory.WithNowFunc(tick(start.Add(time.Hour))))
	restore()
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	err = reopened.View(ctx, func(view domain.TransactionView) error {
		got, ok := view.FindIdentity(identity.ID)
		if !ok || got.Type != domain.TypeObstacle {
			t.Fatalf("identity lost: %+v ok=%v", got, ok)
		}
		current, ok := view.GetAt(identity.ID, view.Now())
		if !ok || current.Name != "Single point of failure" {
			t.Fatalf("version lost: %+v ok=%v", current, ok)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestNewStoreSurfacesOpenFailure(t *testing.T) {
	boom := errors.New("connection refused")
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, boom })
	defer restore()

	_, err := NewStore("postgres://example/reqcore", nil, domain.NewRulesEngine())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped open error, got %v", err)
	}
}

func TestPersistRunsAfterEverySuccessfulTransaction(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "standin.db")
	db := openStandin(t, path)
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore("", nil, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer func() { _ = store.Close() }()

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, _, err := tx.CreateRequirement(domain.TypeGoal, domain.RequirementVersion{Name: "persisted", ModifiedBy: "ana", State: domain.StateProposed})
		return err
	}); err != nil {
		t.Fatalf("transaction: %v", err)
	}

	var buckets int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM state`).Scan(&buckets); err != nil {
		t.Fatalf("count buckets: %v", err)
	}
	if buckets != len(postgresBuckets) {
		t.Fatalf("expected %d buckets, got %d", len(postgresBuckets), buckets)
	}
}
