package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"reqcore/pkg/domain"
)

// FormatReqID renders a requirement id from a type prefix and ordinal, e.g.
// "O.3" for the third obstacle in its scope.
func FormatReqID(prefix string, ordinal int) string {
	return prefix + "." + strconv.Itoa(ordinal)
}

// ParseReqID splits a requirement id into prefix and ordinal. The ordinal is
// everything after the last dot, so multi-segment prefixes round-trip.
func ParseReqID(reqID string) (prefix string, ordinal int, err error) {
	idx := strings.LastIndex(reqID, ".")
	if idx <= 0 || idx == len(reqID)-1 {
		return "", 0, fmt.Errorf("malformed requirement id %q", reqID)
	}
	ordinal, err = strconv.Atoi(reqID[idx+1:])
	if err != nil || ordinal < 1 {
		return "", 0, fmt.Errorf("malformed requirement id ordinal %q", reqID)
	}
	return reqID[:idx], ordinal, nil
}

// scopeMember is one identity occupying an ordinal in a numbering scope.
type scopeMember struct {
	identity domain.Requirement
	version  domain.RequirementVersion
	ordinal  int
}

// scopeMembers returns the identities whose current version carries a reqId
// with the given prefix inside the solution scope, sorted by ordinal.
//
// Membership is by carried reqId rather than workflow state: a previously
// active requirement keeps its number through revise cycles, so its ordinal
// stays occupied until it is removed.
func scopeMembers(view domain.TransactionView, solution, prefix string, asOf time.Time) ([]scopeMember, error) {
	var members []scopeMember
	for identity, version := range view.QueryCurrent(asOf, domain.Filter{Solution: solution}) {
		if version.ReqID == nil {
			continue
		}
		// An empty solution names the unscoped pool, not a wildcard.
		if solution == "" && len(view.ListRelations(domain.RelationFilter{Left: identity.ID, Type: domain.RelationBelongs})) > 0 {
			continue
		}
		p, ordinal, err := ParseReqID(*version.ReqID)
		if err != nil {
			return nil, err
		}
		if p != prefix {
			continue
		}
		members = append(members, scopeMember{identity: identity, version: version, ordinal: ordinal})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ordinal < members[j].ordinal })
	return members, nil
}

// nextOrdinal returns the ordinal for the next allocation in the scope, one
// past the count of occupied slots.
func nextOrdinal(view domain.TransactionView, solution, prefix string, asOf time.Time) (int, error) {
	members, err := scopeMembers(view, solution, prefix, asOf)
	if err != nil {
		return 0, err
	}
	return len(members) + 1, nil
}

// renumberAfterRemoval builds the batch of rewritten versions closing the gap
// left by removedOrdinal. Every member above the gap shifts down by one. The
// removed identity itself must already be excluded from members.
func renumberAfterRemoval(members []scopeMember, prefix string, removedOrdinal int, modifiedBy string, effectiveFrom time.Time) []domain.RequirementVersion {
	var batch []domain.RequirementVersion
	for _, m := range members {
		if m.ordinal <= removedOrdinal {
			continue
		}
		next := m.version
		next.EffectiveFrom = effectiveFrom
		next.ModifiedBy = modifiedBy
		reqID := FormatReqID(prefix, m.ordinal-1)
		next.ReqID = &reqID
		next.Fields = cloneFields(m.version.Fields)
		batch = append(batch, next)
	}
	return batch
}

// renumberForMove builds the batch realizing a deliberate reorder: the moved
// identity takes newOrdinal and everything between shifts by one. Ordinals
// outside [min,max] of the move are untouched.
func renumberForMove(members []scopeMember, prefix, movedID string, newOrdinal int, modifiedBy string, effectiveFrom time.Time) ([]domain.RequirementVersion, error) {
	var moved *scopeMember
	for i := range members {
		if members[i].identity.ID == movedID {
			moved = &members[i]
			break
		}
	}
	if moved == nil {
		return nil, domain.NotFoundError{Entity: domain.EntityVersion, ID: movedID}
	}
	if newOrdinal < 1 || newOrdinal > len(members) {
		return nil, domain.ValidationError{Field: "ordinal", Msg: fmt.Sprintf("ordinal %d out of range 1..%d", newOrdinal, len(members))}
	}
	if newOrdinal == moved.ordinal {
		return nil, nil
	}

	var batch []domain.RequirementVersion
	appendShift := func(m scopeMember, ordinal int) {
		next := m.version
		next.EffectiveFrom = effectiveFrom
		next.ModifiedBy = modifiedBy
		reqID := FormatReqID(prefix, ordinal)
		next.ReqID = &reqID
		next.Fields = cloneFields(m.version.Fields)
		batch = append(batch, next)
	}
	for _, m := range members {
		switch {
		case m.identity.ID == movedID:
			appendShift(m, newOrdinal)
		case newOrdinal > moved.ordinal && m.ordinal > moved.ordinal && m.ordinal <= newOrdinal:
			appendShift(m, m.ordinal-1)
		case newOrdinal < moved.ordinal && m.ordinal >= newOrdinal && m.ordinal < moved.ordinal:
			appendShift(m, m.ordinal+1)
		}
	}
	return batch, nil
}

func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
