package core

import (
	"reqcore/pkg/domain"
)

// CategoryVerdict aggregates all endorsements recorded for one category on a
// version. Any rejection outvotes approvals; approvals outvote silence.
func CategoryVerdict(rows []domain.Endorsement, category domain.Category) domain.EndorsementStatus {
	verdict := domain.EndorsementPending
	for _, row := range rows {
		if row.Category != category {
			continue
		}
		switch row.Status {
		case domain.EndorsementRejected:
			return domain.EndorsementRejected
		case domain.EndorsementApproved:
			verdict = domain.EndorsementApproved
		}
	}
	return verdict
}

// EvaluateGate computes the review verdict for the version under review.
// Endorsements bind to the exact version key, so a resubmitted draft starts
// from a clean slate and stale approvals never leak across revisions.
func EvaluateGate(view domain.TransactionView, registry *domain.Registry, identity domain.Requirement, version domain.RequirementVersion) (domain.Verdict, error) {
	required, err := registry.RequiredCategories(identity.Type)
	if err != nil {
		return domain.VerdictPending, err
	}
	rows := view.Endorsements(version.Key())

	verdict := domain.VerdictAllApproved
	for _, category := range required {
		switch CategoryVerdict(rows, category) {
		case domain.EndorsementRejected:
			return domain.VerdictAnyRejected, nil
		case domain.EndorsementPending:
			verdict = domain.VerdictPending
		}
	}
	if len(required) == 0 {
		return domain.VerdictAllApproved, nil
	}
	return verdict, nil
}

// reviewVersion resolves the current version of id and requires it to be in
// review. A current version in any other state counts as "no review version
// exists", so the caller sees NotFoundError rather than a transition error.
func reviewVersion(view domain.TransactionView, id string) (domain.Requirement, domain.RequirementVersion, error) {
	identity, ok := view.FindIdentity(id)
	if !ok {
		return domain.Requirement{}, domain.RequirementVersion{}, domain.NotFoundError{Entity: domain.EntityIdentity, ID: id}
	}
	version, ok := view.GetAt(id, view.Now())
	if !ok || version.State != domain.StateReview {
		return domain.Requirement{}, domain.RequirementVersion{}, domain.NotFoundError{Entity: domain.EntityVersion, ID: id}
	}
	return identity, version, nil
}
