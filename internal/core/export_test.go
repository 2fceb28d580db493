package core

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	blobmemory "reqcore/internal/blob/memory"
	"reqcore/pkg/domain"
)

func TestExportSolutionHistoryWritesBaseline(t *testing.T) {
	blobs := blobmemory.New()
	svc := newTestService(t, WithBlobStore(blobs))
	ctx := context.Background()

	goal := mustCreate(t, svc, domain.TypeGoal, "Exported goal", "sol-1")
	activate(t, svc, goal.ID)
	mustCreate(t, svc, domain.TypeGoal, "Unscoped goal", "")

	info, err := svc.ExportSolutionHistory(ctx, "sol-1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.HasPrefix(info.Key, "baselines/sol-1/") || !strings.HasSuffix(info.Key, ".json") {
		t.Fatalf("key = %q", info.Key)
	}
	if info.ContentType != "application/json" || info.Metadata["solution"] != "sol-1" {
		t.Fatalf("info = %+v", info)
	}

	_, body, err := blobs.Get(ctx, info.Key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	raw, err := io.ReadAll(body)
	_ = body.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var baseline SolutionBaseline
	if err := json.Unmarshal(raw, &baseline); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if baseline.Solution != "sol-1" || len(baseline.Requirements) != 1 {
		t.Fatalf("baseline = %+v", baseline)
	}
	exported := baseline.Requirements[0]
	if exported.Identity.ID != goal.ID {
		t.Fatalf("wrong identity exported: %+v", exported.Identity)
	}
	// Proposal, review, and activation versions all survive the export.
	if len(exported.Versions) != 3 {
		t.Fatalf("expected full history, got %d versions", len(exported.Versions))
	}
	if len(exported.Relations) != 1 || exported.Relations[0].Right != "sol-1" {
		t.Fatalf("relations = %+v", exported.Relations)
	}
}

func TestExportSolutionHistoryGuards(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.ExportSolutionHistory(context.Background(), "sol-1"); err == nil {
		t.Fatalf("export without a blob store must fail")
	}

	svc = newTestService(t, WithBlobStore(blobmemory.New()))
	if _, err := svc.ExportSolutionHistory(context.Background(), ""); err == nil {
		t.Fatalf("export without a solution id must fail")
	}
}
