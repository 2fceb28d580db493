package core

import (
	"context"
	"fmt"
	"sort"

	"reqcore/pkg/domain"
)

// NewReqIDDensityRule enforces dense, duplicate-free requirement id numbering
// within every (solution, prefix) scope. Ordinals of current versions must
// form exactly 1..N.
func NewReqIDDensityRule() domain.Rule {
	return reqIDDensityRule{}
}

type reqIDDensityRule struct{}

func (reqIDDensityRule) Name() string { return "reqid_density" }

func (reqIDDensityRule) Evaluate(_ context.Context, view domain.TransactionView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}

	type scopeKey struct {
		solution string
		prefix   string
	}
	occupants := make(map[scopeKey]map[int][]string)

	for identity, version := range view.QueryCurrent(view.Now(), domain.Filter{}) {
		if version.ReqID == nil {
			if version.State == domain.StateActive {
				res.Violations = append(res.Violations, densityViolation(identity.ID,
					fmt.Sprintf("active requirement %s has no requirement id", identity.ID)))
			}
			continue
		}
		prefix, ordinal, err := ParseReqID(*version.ReqID)
		if err != nil {
			res.Violations = append(res.Violations, densityViolation(identity.ID,
				fmt.Sprintf("requirement %s carries malformed id %q", identity.ID, *version.ReqID)))
			continue
		}
		key := scopeKey{solution: solutionOf(view, identity.ID), prefix: prefix}
		if occupants[key] == nil {
			occupants[key] = make(map[int][]string)
		}
		occupants[key][ordinal] = append(occupants[key][ordinal], identity.ID)
	}

	keys := make([]scopeKey, 0, len(occupants))
	for key := range occupants {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].solution != keys[j].solution {
			return keys[i].solution < keys[j].solution
		}
		return keys[i].prefix < keys[j].prefix
	})

	for _, key := range keys {
		slots := occupants[key]
		for ordinal, ids := range slots {
			if len(ids) > 1 {
				sort.Strings(ids)
				res.Violations = append(res.Violations, densityViolation(ids[0],
					fmt.Sprintf("scope %s/%s ordinal %d assigned to %d requirements", key.solution, key.prefix, ordinal, len(ids))))
			}
		}
		for ordinal := 1; ordinal <= len(slots); ordinal++ {
			if _, ok := slots[ordinal]; !ok {
				res.Violations = append(res.Violations, densityViolation("",
					fmt.Sprintf("scope %s/%s numbering has a gap at ordinal %d", key.solution, key.prefix, ordinal)))
			}
		}
	}

	return res, nil
}

// solutionOf resolves the solution scope an identity belongs to, empty when
// unscoped. The lowest relation id wins if several exist.
func solutionOf(view domain.TransactionView, id string) string {
	rels := view.ListRelations(domain.RelationFilter{Left: id, Type: domain.RelationBelongs})
	if len(rels) == 0 {
		return ""
	}
	best := rels[0]
	for _, rel := range rels[1:] {
		if rel.ID < best.ID {
			best = rel
		}
	}
	return best.Right
}

func densityViolation(entityID, message string) domain.Violation {
	return domain.Violation{
		Rule:     "reqid_density",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityVersion,
		EntityID: entityID,
	}
}
