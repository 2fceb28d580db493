package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"reqcore/internal/infra/persistence/memory"
	"reqcore/pkg/domain"
)

func tick(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reqcore.db")
	start := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)

	store, err := NewStore(path, nil, domain.NewRulesEngine(), memory.WithNowFunc(tick(start)))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	var identity domain.Requirement
	var version domain.RequirementVersion
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		identity, version, err = tx.CreateRequirement(domain.TypeConstraint, domain.RequirementVersion{
			State:       domain.StateProposed,
			Name:        "Data residency",
			Description: "All data stays in region.",
			ModifiedBy:  "ana",
			Fields:      map[string]any{"rationale": "regulatory"},
		})
		if err != nil {
			return err
		}
		_, err = tx.CreateRelation(domain.Relation{Left: identity.ID, Right: "sol-1", Type: domain.RelationBelongs, CreatedBy: "ana"})
		return err
	}); err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.PutEndorsement(domain.Endorsement{
			RequirementID: identity.ID,
			EffectiveFrom: version.EffectiveFrom,
			Category:      domain.CategoryReadability,
			Status:        domain.EndorsementApproved,
			EndorsedBy:    "ben",
		})
		return err
	}); err != nil {
		t.Fatalf("endorse: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path, nil, domain.NewRulesEngine(), memory.WithNowFunc(tick(start.Add(time.Hour))))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	err = reopened.View(ctx, func(view domain.TransactionView) error {
		got, ok := view.FindIdentity(identity.ID)
		if !ok || got.Type != domain.TypeConstraint {
			t.Fatalf("identity lost: %+v ok=%v", got, ok)
		}
		current, ok := view.GetAt(identity.ID, view.Now())
		if !ok || current.Name != "Data residency" {
			t.Fatalf("version lost: %+v ok=%v", current, ok)
		}
		if !current.EffectiveFrom.Equal(version.EffectiveFrom) {
			t.Fatalf("effective instant drifted: %v vs %v", current.EffectiveFrom, version.EffectiveFrom)
		}
		if current.Fields["rationale"] != "regulatory" {
			t.Fatalf("fields lost: %v", current.Fields)
		}
		if rels := view.ListRelations(domain.RelationFilter{Left: identity.ID}); len(rels) != 1 {
			t.Fatalf("relations lost: %v", rels)
		}
		if rows := view.Endorsements(version.Key()); len(rows) != 1 || rows[0].EndorsedBy != "ben" {
			t.Fatalf("endorsements lost: %v", rows)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestDefaultPathAndFailedTransactionNotPersisted(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "dir", "state.db")

	store, err := NewStore(path, nil, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer func() { _ = store.Close() }()
	if store.Path() != path {
		t.Fatalf("path = %q", store.Path())
	}

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, _, cErr := tx.CreateRequirement(domain.TypeGoal, domain.RequirementVersion{Name: "doomed", ModifiedBy: "ana", State: domain.StateProposed})
		if cErr != nil {
			return cErr
		}
		return context.Canceled
	}); err == nil {
		t.Fatalf("expected callback error")
	}

	var buckets int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM state`).Scan(&buckets); err != nil {
		t.Fatalf("count buckets: %v", err)
	}
	if buckets != 0 {
		t.Fatalf("aborted transaction persisted %d buckets", buckets)
	}
}
