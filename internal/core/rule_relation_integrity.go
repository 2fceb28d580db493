package core

import (
	"context"
	"fmt"

	"reqcore/pkg/domain"
)

// NewRelationIntegrityRule verifies relation endpoints. Every relation's left
// side must reference a known identity, and ordering relations must point at
// a known identity on the right as well. Belongs rights name external
// solution scopes and are not resolved here.
func NewRelationIntegrityRule() domain.Rule {
	return relationIntegrityRule{}
}

type relationIntegrityRule struct{}

func (relationIntegrityRule) Name() string { return "relation_integrity" }

func (relationIntegrityRule) Evaluate(_ context.Context, view domain.TransactionView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, rel := range view.ListRelations(domain.RelationFilter{}) {
		if _, ok := view.FindIdentity(rel.Left); !ok {
			res.Violations = append(res.Violations, relationViolation(rel.ID,
				fmt.Sprintf("relation %s references missing requirement %s", rel.ID, rel.Left)))
		}
		if rel.Type == domain.RelationFollows {
			if _, ok := view.FindIdentity(rel.Right); !ok {
				res.Violations = append(res.Violations, relationViolation(rel.ID,
					fmt.Sprintf("relation %s follows missing requirement %s", rel.ID, rel.Right)))
			}
			if rel.Left == rel.Right {
				res.Violations = append(res.Violations, relationViolation(rel.ID,
					fmt.Sprintf("relation %s orders requirement %s against itself", rel.ID, rel.Left)))
			}
		}
	}
	return res, nil
}

func relationViolation(entityID, message string) domain.Violation {
	return domain.Violation{
		Rule:     "relation_integrity",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityRelation,
		EntityID: entityID,
	}
}
