package domain

import (
	"context"
	"iter"
	"time"
)

// Filter selects identities for QueryCurrent. The zero value matches every
// identity that has a live current version.
type Filter struct {
	// Type restricts matches to one taxonomy tag. With IncludeSubtypes set,
	// descendants of the tag match as well.
	Type            TypeTag
	IncludeSubtypes bool
	// Solution restricts matches to identities with a Belongs relation to the
	// given scope id.
	Solution string
	// States restricts matches to versions in any of the listed workflow
	// states. Empty means any state.
	States []WorkflowState
}

// MatchesState reports whether the filter admits the given state.
func (f Filter) MatchesState(state WorkflowState) bool {
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if s == state {
			return true
		}
	}
	return false
}

// RelationFilter selects relations. Zero-value fields are wildcards.
type RelationFilter struct {
	Left  string
	Right string
	Type  RelationType
}

// Matches reports whether the relation satisfies the filter.
func (f RelationFilter) Matches(rel Relation) bool {
	if f.Left != "" && rel.Left != f.Left {
		return false
	}
	if f.Right != "" && rel.Right != f.Right {
		return false
	}
	if f.Type != "" && rel.Type != f.Type {
		return false
	}
	return true
}

// TransactionView provides read-only access to a consistent snapshot for
// rules and queries. Reads take explicit asOf instants; no implicit "current"
// state is held anywhere.
type TransactionView interface {
	// Now returns the snapshot's transaction instant.
	Now() time.Time
	// FindIdentity retrieves a static identity record.
	FindIdentity(id string) (Requirement, bool)
	// GetAt returns the current version per the temporal invariant: the
	// version with the greatest effectiveFrom <= asOf, suppressed when that
	// version is a tombstone.
	GetAt(id string, asOf time.Time) (RequirementVersion, bool)
	// GetAtIncludingDeleted is GetAt without tombstone suppression.
	GetAtIncludingDeleted(id string, asOf time.Time) (RequirementVersion, bool)
	// History returns every version for the identity in ascending
	// effectiveFrom order.
	History(id string) []RequirementVersion
	// QueryCurrent yields, for each identity admitted by the filter, its
	// current version as of asOf. The sequence is lazy and restartable; no
	// ordering is guaranteed beyond the filter semantics.
	QueryCurrent(asOf time.Time, filter Filter) iter.Seq2[Requirement, RequirementVersion]
	// ListRelations returns relations matching the filter.
	ListRelations(filter RelationFilter) []Relation
	// Endorsements returns the endorsement rows bound to one version.
	Endorsements(key VersionKey) []Endorsement
}

// Transaction exposes the mutations a persistence implementation must support
// within an atomic scope. Workflow legality is deliberately not enforced
// here; the workflow engine layers it on top.
type Transaction interface {
	Snapshot() TransactionView
	Now() time.Time
	// CreateRequirement allocates a new identity and writes its first version
	// atomically.
	CreateRequirement(typ TypeTag, first RequirementVersion) (Requirement, RequirementVersion, error)
	// AppendVersion appends a version to an existing identity. It fails with
	// NotFoundError when the identity has no version at or before the new
	// effectiveFrom, and with ConcurrentWriteError on an effectiveFrom
	// collision.
	AppendVersion(id string, version RequirementVersion) (RequirementVersion, error)
	// AppendVersionBatch appends one version per identity, all sharing the
	// same effectiveFrom, atomically. Used by reqId re-sequencing so
	// point-in-time reads never observe a partially renumbered scope.
	AppendVersionBatch(versions []RequirementVersion) error
	CreateRelation(rel Relation) (Relation, error)
	DeleteRelation(id string) error
	// PutEndorsement upserts the row keyed by (version, category, endorsedBy).
	PutEndorsement(e Endorsement) (Endorsement, error)
}

// Rule defines an evaluation executed within a transaction boundary.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view TransactionView, changes []Change) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Evaluate executes all registered rules and aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, view TransactionView, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	NowFunc() func() time.Time
}
