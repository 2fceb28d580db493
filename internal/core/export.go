package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"reqcore/internal/blob"
	"reqcore/pkg/domain"
)

// BlobStore is the blob backend used for solution history exports.
type BlobStore = blob.Store

// exportKeyTimeLayout names baseline blobs by export instant.
const exportKeyTimeLayout = "20060102T150405.000000000Z"

// RequirementHistory bundles one identity with its full version history and
// relations for a baseline export.
type RequirementHistory struct {
	Identity  Requirement          `json:"identity"`
	Versions  []RequirementVersion `json:"versions"`
	Relations []Relation           `json:"relations,omitempty"`
}

// SolutionBaseline is the serialized form of a solution history export.
type SolutionBaseline struct {
	Solution     string               `json:"solution"`
	ExportedAt   time.Time            `json:"exported_at"`
	Requirements []RequirementHistory `json:"requirements"`
}

// ExportSolutionHistory snapshots the complete version history of every
// requirement scoped under the solution and writes it as a JSON baseline to
// the configured blob store.
func (s *Service) ExportSolutionHistory(ctx context.Context, solution string) (blob.Info, error) {
	var info blob.Info
	err := s.instrument(ctx, "export_solution", func(ctx context.Context) (string, error) {
		if s.blobs == nil {
			return solution, fmt.Errorf("no blob store configured for exports")
		}
		if solution == "" {
			return solution, domain.ValidationError{Field: "solution", Msg: "solution id required"}
		}

		baseline := SolutionBaseline{Solution: solution}
		viewErr := s.store.View(ctx, func(view domain.TransactionView) error {
			baseline.ExportedAt = view.Now()
			members := view.ListRelations(domain.RelationFilter{Right: solution, Type: domain.RelationBelongs})
			seen := make(map[string]bool, len(members))
			for _, rel := range members {
				if seen[rel.Left] {
					continue
				}
				seen[rel.Left] = true
				identity, ok := view.FindIdentity(rel.Left)
				if !ok {
					continue
				}
				baseline.Requirements = append(baseline.Requirements, RequirementHistory{
					Identity:  identity,
					Versions:  view.History(identity.ID),
					Relations: view.ListRelations(domain.RelationFilter{Left: identity.ID}),
				})
			}
			return nil
		})
		if viewErr != nil {
			return solution, viewErr
		}
		sort.Slice(baseline.Requirements, func(i, j int) bool {
			return baseline.Requirements[i].Identity.ID < baseline.Requirements[j].Identity.ID
		})

		payload, err := json.MarshalIndent(baseline, "", "  ")
		if err != nil {
			return solution, err
		}
		key := fmt.Sprintf("baselines/%s/%s.json", solution, baseline.ExportedAt.UTC().Format(exportKeyTimeLayout))
		info, err = s.blobs.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
			ContentType: "application/json",
			Metadata:    map[string]string{"solution": solution},
		})
		return solution, err
	})
	return info, err
}
