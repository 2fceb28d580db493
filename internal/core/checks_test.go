package core

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"reqcore/pkg/domain"
)

func TestOrchestratorSettlesEveryCheck(t *testing.T) {
	var slowDone atomic.Bool
	orch := NewCheckOrchestrator(
		CheckerFunc{Cat: domain.CategorySpellingGrammar, Fn: func(_ context.Context, _ domain.RequirementVersion) (domain.EndorsementStatus, string, error) {
			return domain.EndorsementApproved, "no typos", nil
		}},
		CheckerFunc{Cat: domain.CategoryReadability, Fn: func(_ context.Context, _ domain.RequirementVersion) (domain.EndorsementStatus, string, error) {
			time.Sleep(20 * time.Millisecond)
			slowDone.Store(true)
			return domain.EndorsementRejected, "sentence too long", nil
		}},
	)

	results := orch.Run(context.Background(), domain.RequirementVersion{Name: "checked"})
	if !slowDone.Load() {
		t.Fatalf("orchestrator returned before the slow check settled")
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Category != domain.CategorySpellingGrammar || results[0].Status != domain.EndorsementApproved {
		t.Fatalf("results[0] = %+v", results[0])
	}
	if results[1].Category != domain.CategoryReadability || results[1].Status != domain.EndorsementRejected {
		t.Fatalf("results[1] = %+v", results[1])
	}
}

func TestOrchestratorFailurePolicy(t *testing.T) {
	boom := errors.New("service down")
	orch := NewCheckOrchestrator(
		CheckerFunc{Cat: domain.CategoryGlossaryCompliance, Open: false, Fn: func(_ context.Context, _ domain.RequirementVersion) (domain.EndorsementStatus, string, error) {
			return "", "", boom
		}},
		CheckerFunc{Cat: domain.CategoryFormalLanguage, Open: true, Fn: func(_ context.Context, _ domain.RequirementVersion) (domain.EndorsementStatus, string, error) {
			return "", "", boom
		}},
	)

	results := orch.Run(context.Background(), domain.RequirementVersion{})

	closed := results[0]
	if closed.Status != domain.EndorsementPending {
		t.Fatalf("fail-closed check must stay pending, got %s", closed.Status)
	}
	var unavailable domain.CheckUnavailableError
	if !errors.As(closed.Err, &unavailable) || unavailable.Category != domain.CategoryGlossaryCompliance {
		t.Fatalf("closed.Err = %v", closed.Err)
	}
	if !errors.Is(closed.Err, boom) {
		t.Fatalf("cause must be preserved, got %v", closed.Err)
	}

	open := results[1]
	if open.Status != domain.EndorsementApproved {
		t.Fatalf("fail-open check must approve, got %s", open.Status)
	}
	if open.Err == nil {
		t.Fatalf("fail-open result still records the unavailability")
	}
}

func TestRunChecksRecordsEndorsements(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	svc.RegisterChecker(CheckerFunc{Cat: domain.CategorySpellingGrammar, Fn: func(_ context.Context, v domain.RequirementVersion) (domain.EndorsementStatus, string, error) {
		if strings.Contains(v.Description, "teh") {
			return domain.EndorsementRejected, "typo: teh", nil
		}
		return domain.EndorsementApproved, "clean", nil
	}})
	svc.RegisterChecker(CheckerFunc{Cat: domain.CategoryReadability, Open: true, Fn: func(_ context.Context, _ domain.RequirementVersion) (domain.EndorsementStatus, string, error) {
		return "", "", errors.New("readability service unreachable")
	}})

	goal, _, _, err := svc.CreateRequirement(ctx, CreateRequirementInput{
		Type:        domain.TypeGoal,
		Name:        "Checked goal",
		Description: "teh system shall respond quickly",
		CreatedBy:   "ana",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := svc.SubmitForReview(ctx, goal.ID, "ana"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	results, _, err := svc.RunChecks(ctx, goal.ID)
	if err != nil {
		t.Fatalf("run checks: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	rows, err := svc.Endorsements(ctx, goal.ID)
	if err != nil {
		t.Fatalf("endorsements: %v", err)
	}
	byEndorser := make(map[string]Endorsement, len(rows))
	for _, row := range rows {
		byEndorser[row.EndorsedBy] = row
	}
	spelling, ok := byEndorser["check:spelling_grammar"]
	if !ok || spelling.Status != domain.EndorsementRejected || spelling.RejectedAt == nil {
		t.Fatalf("spelling endorsement = %+v ok=%v", spelling, ok)
	}
	readability, ok := byEndorser["check:readability"]
	if !ok || readability.Status != domain.EndorsementApproved {
		t.Fatalf("fail-open readability endorsement = %+v ok=%v", readability, ok)
	}
	if !strings.Contains(readability.Comments, "unreachable") {
		t.Fatalf("unavailability detail lost: %+v", readability)
	}

	// The rejection feeds straight into the gate.
	verdict, err := svc.EvaluateEndorsements(ctx, goal.ID)
	if err != nil || verdict != domain.VerdictAnyRejected {
		t.Fatalf("verdict = %s, err=%v", verdict, err)
	}
}

func TestRunChecksOutsideReviewFails(t *testing.T) {
	svc := newTestService(t)
	goal := mustCreate(t, svc, domain.TypeGoal, "unchecked", "")

	_, _, err := svc.RunChecks(context.Background(), goal.ID)
	var notFound domain.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}
