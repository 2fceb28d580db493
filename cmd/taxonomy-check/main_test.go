package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"reqcore/pkg/domain"
)

func TestBuildReportOnBuiltinRegistry(t *testing.T) {
	rep := buildReport(domain.BuiltinRegistry())
	if len(rep.Errors) != 0 {
		t.Fatalf("builtin registry reported errors: %v", rep.Errors)
	}

	byTag := make(map[domain.TypeTag]typeSummary, len(rep.Types))
	for _, summary := range rep.Types {
		byTag[summary.Tag] = summary
	}

	goal, ok := byTag[domain.TypeGoal]
	if !ok {
		t.Fatalf("goal type missing from report")
	}
	if goal.Prefix != "G" {
		t.Fatalf("goal prefix = %q", goal.Prefix)
	}
	if len(goal.Categories) == 0 {
		t.Fatalf("goal has no endorsement categories")
	}

	root, ok := byTag[domain.TypeRequirement]
	if !ok {
		t.Fatalf("abstract root missing from report")
	}
	if !root.Abstract || root.Prefix != "" {
		t.Fatalf("abstract root summary = %+v", root)
	}

	// Report order is deterministic.
	for i := 1; i < len(rep.Types); i++ {
		if rep.Types[i-1].Tag >= rep.Types[i].Tag {
			t.Fatalf("types not sorted: %s before %s", rep.Types[i-1].Tag, rep.Types[i].Tag)
		}
	}
}

func TestRunWritesValidJSONAndExitsZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	code := run(out, true)
	if cerr := out.Close(); cerr != nil {
		t.Fatalf("close: %v", cerr)
	}
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var rep report
	if err := json.Unmarshal(raw, &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(rep.Types) == 0 || len(rep.Errors) != 0 {
		t.Fatalf("report = %+v", rep)
	}
}
