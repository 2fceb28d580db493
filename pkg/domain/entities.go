// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by reqcore.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// TypeTag identifies a requirement subtype in the taxonomy.
type TypeTag string

// Built-in taxonomy tags. The root tag anchors every parent chain.
const (
	// TypeRequirement is the abstract root of the taxonomy.
	TypeRequirement TypeTag = "requirement"
	// TypeGoal identifies a goal statement.
	TypeGoal TypeTag = "goal"
	// TypeObstacle identifies an obstacle statement.
	TypeObstacle TypeTag = "obstacle"
	// TypeConstraint identifies a constraint statement.
	TypeConstraint TypeTag = "constraint"
	// TypeUseCase identifies a use-case statement.
	TypeUseCase TypeTag = "use_case"
	// TypeActor identifies an actor participating in use cases.
	TypeActor TypeTag = "actor"
	// TypeComponent identifies a system component actor.
	TypeComponent TypeTag = "component"
	// TypeStakeholder identifies a stakeholder, the deepest chain in the
	// built-in taxonomy (stakeholder -> component -> actor -> requirement).
	TypeStakeholder TypeTag = "stakeholder"
	// TypePerson identifies an individual human actor.
	TypePerson TypeTag = "person"
)

// WorkflowState enumerates the review workflow states a version can carry.
type WorkflowState string

// Canonical workflow states.
const (
	StateProposed WorkflowState = "proposed"
	StateReview   WorkflowState = "review"
	StateActive   WorkflowState = "active"
	StateRejected WorkflowState = "rejected"
	StateRemoved  WorkflowState = "removed"
)

// Requirement is the static identity anchoring a version history. It is
// immutable once created; its type never changes across versions.
type Requirement struct {
	ID        string    `json:"id"`
	Type      TypeTag   `json:"type"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// RequirementVersion is an immutable temporal snapshot of a requirement.
// (RequirementID, EffectiveFrom) forms the primary key. "Updating" a
// requirement always appends a new version with a later EffectiveFrom.
type RequirementVersion struct {
	RequirementID string         `json:"requirement_id"`
	EffectiveFrom time.Time      `json:"effective_from"`
	IsDeleted     bool           `json:"is_deleted"`
	ModifiedBy    string         `json:"modified_by"`
	State         WorkflowState  `json:"workflow_state"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	ReqID         *string        `json:"req_id,omitempty"`
	Fields        map[string]any `json:"fields,omitempty"`
}

// Key returns the composite primary key of the version.
func (v RequirementVersion) Key() VersionKey {
	return VersionKey{RequirementID: v.RequirementID, EffectiveFrom: v.EffectiveFrom.UTC()}
}

// VersionKey identifies a single version row.
type VersionKey struct {
	RequirementID string    `json:"requirement_id"`
	EffectiveFrom time.Time `json:"effective_from"`
}

// String renders a stable textual form used for composite map keys.
func (k VersionKey) String() string {
	return k.RequirementID + "@" + k.EffectiveFrom.UTC().Format(time.RFC3339Nano)
}

// RelationType enumerates the fixed relation vocabulary.
type RelationType string

// Relation vocabulary.
const (
	// RelationBelongs scopes the left requirement under the right entity,
	// typically a solution.
	RelationBelongs RelationType = "belongs"
	// RelationFollows records that the left requirement was derived from the
	// right one, typically a parsed-requirement trace.
	RelationFollows RelationType = "follows"
)

// Relation is a directed typed edge between two identities. Relations are
// versionless facts: they are created or removed, never retargeted.
type Relation struct {
	ID        string       `json:"id"`
	Left      string       `json:"left"`
	Right     string       `json:"right"`
	Type      RelationType `json:"rel_type"`
	CreatedBy string       `json:"created_by"`
	CreatedAt time.Time    `json:"created_at"`
}

// Category identifies an endorsement category. Role categories require human
// sign-off; automated categories are produced by checks.
type Category string

// Built-in endorsement categories.
const (
	CategoryReadability        Category = "readability"
	CategorySpellingGrammar    Category = "spelling_grammar"
	CategoryGlossaryCompliance Category = "glossary_compliance"
	CategoryTypeCorrespondence Category = "type_correspondence"
	CategoryFormalLanguage     Category = "formal_language"
	CategoryOrganizationAdmin  Category = "organization_admin"
)

// RoleCategory reports whether the category requires a human role sign-off
// rather than an automated check verdict.
func RoleCategory(c Category) bool {
	return c == CategoryOrganizationAdmin
}

// EndorsementStatus enumerates per-endorsement verdicts.
type EndorsementStatus string

// Endorsement statuses.
const (
	EndorsementPending  EndorsementStatus = "pending"
	EndorsementApproved EndorsementStatus = "approved"
	EndorsementRejected EndorsementStatus = "rejected"
)

// Endorsement records one endorser's verdict for one category against a
// specific review-state version. It is never retargeted to a later version.
type Endorsement struct {
	RequirementID string            `json:"requirement_id"`
	EffectiveFrom time.Time         `json:"effective_from"`
	Category      Category          `json:"category"`
	Status        EndorsementStatus `json:"status"`
	EndorsedBy    string            `json:"endorsed_by"`
	Comments      string            `json:"comments,omitempty"`
	EndorsedAt    *time.Time        `json:"endorsed_at,omitempty"`
	RejectedAt    *time.Time        `json:"rejected_at,omitempty"`
}

// VersionKey returns the key of the version the endorsement is bound to.
func (e Endorsement) VersionKey() VersionKey {
	return VersionKey{RequirementID: e.RequirementID, EffectiveFrom: e.EffectiveFrom.UTC()}
}

// Verdict aggregates the endorsement gate state for one identity.
type Verdict string

// Gate verdicts.
const (
	VerdictPending     Verdict = "pending"
	VerdictAllApproved Verdict = "all_approved"
	VerdictAnyRejected Verdict = "any_rejected"
)

// EntityKind identifies the kind of record referenced by Change entries and
// persistence buckets.
type EntityKind string

// Supported entity kinds.
const (
	EntityIdentity    EntityKind = "requirement"
	EntityVersion     EntityKind = "requirement_version"
	EntityRelation    EntityKind = "relation"
	EntityEndorsement EntityKind = "endorsement"
)

// Action enumerates mutation kinds recorded on Change entries.
type Action string

// Change actions.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Change describes one mutation applied within a transaction.
type Change struct {
	Entity EntityKind
	Action Action
	Before ChangePayload
	After  ChangePayload
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string     `json:"rule"`
	Severity Severity   `json:"severity"`
	Message  string     `json:"message"`
	Entity   EntityKind `json:"entity"`
	EntityID string     `json:"entity_id"`
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	msgs := make([]string, 0, len(e.Result.Violations))
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			msgs = append(msgs, fmt.Sprintf("%s: %s", v.Rule, v.Message))
		}
	}
	return "rule violations: " + strings.Join(msgs, "; ")
}
