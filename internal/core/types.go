// Package core wires the versioned store, workflow engine, endorsement gate,
// check orchestrator, and reqId allocator into a transactional service.
package core

import "reqcore/pkg/domain"

type (
	TypeTag            = domain.TypeTag
	WorkflowState      = domain.WorkflowState
	Requirement        = domain.Requirement
	RequirementVersion = domain.RequirementVersion
	Relation           = domain.Relation
	Endorsement        = domain.Endorsement
	Category           = domain.Category
	Verdict            = domain.Verdict
	Change             = domain.Change
	Result             = domain.Result
	Violation          = domain.Violation
	Rule               = domain.Rule
	RulesEngine        = domain.RulesEngine
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
	PersistentStore    = domain.PersistentStore
	Filter             = domain.Filter
	RelationFilter     = domain.RelationFilter
)

const (
	StateProposed = domain.StateProposed
	StateReview   = domain.StateReview
	StateActive   = domain.StateActive
	StateRejected = domain.StateRejected
	StateRemoved  = domain.StateRemoved
)

const (
	EndorsementPending  = domain.EndorsementPending
	EndorsementApproved = domain.EndorsementApproved
	EndorsementRejected = domain.EndorsementRejected
)

const (
	VerdictPending     = domain.VerdictPending
	VerdictAllApproved = domain.VerdictAllApproved
	VerdictAnyRejected = domain.VerdictAnyRejected
)

// NewRulesEngine re-exports the empty engine constructor.
func NewRulesEngine() *RulesEngine { return domain.NewRulesEngine() }

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewReqIDDensityRule())
	engine.Register(NewRelationIntegrityRule())
	return engine
}
