package core

import (
	"context"
	"sync"

	"reqcore/pkg/domain"
)

// Checker runs one automated quality check against a requirement version.
// Implementations typically call an external service (spellchecker, glossary
// index, formal language parser).
type Checker interface {
	// Category names the endorsement category the check writes.
	Category() domain.Category
	// FailOpen reports whether an unreachable backing service counts as
	// approval instead of leaving the category pending.
	FailOpen() bool
	// Check inspects the version and returns the resulting status with an
	// optional human-readable detail.
	Check(ctx context.Context, version domain.RequirementVersion) (domain.EndorsementStatus, string, error)
}

// CheckerFunc adapts a function plus static metadata to the Checker interface.
type CheckerFunc struct {
	Cat  domain.Category
	Open bool
	Fn   func(ctx context.Context, version domain.RequirementVersion) (domain.EndorsementStatus, string, error)
}

// Category implements Checker.
func (c CheckerFunc) Category() domain.Category { return c.Cat }

// FailOpen implements Checker.
func (c CheckerFunc) FailOpen() bool { return c.Open }

// Check implements Checker.
func (c CheckerFunc) Check(ctx context.Context, version domain.RequirementVersion) (domain.EndorsementStatus, string, error) {
	return c.Fn(ctx, version)
}

// CheckResult is the settled outcome of one checker run.
type CheckResult struct {
	Category domain.Category
	Status   domain.EndorsementStatus
	Detail   string
	// Err carries a CheckUnavailableError when the checker's backing service
	// failed. Status then reflects the checker's fail-open policy.
	Err error
}

// CheckOrchestrator fans a version out to all registered checkers
// concurrently and settles every result before reporting. One slow or failing
// check never hides the others' outcomes.
type CheckOrchestrator struct {
	mu       sync.RWMutex
	checkers []Checker
}

// NewCheckOrchestrator returns an orchestrator with the given checkers.
func NewCheckOrchestrator(checkers ...Checker) *CheckOrchestrator {
	return &CheckOrchestrator{checkers: checkers}
}

// Register adds a checker.
func (o *CheckOrchestrator) Register(c Checker) {
	o.mu.Lock()
	o.checkers = append(o.checkers, c)
	o.mu.Unlock()
}

// Categories lists the categories covered by registered checkers, in
// registration order.
func (o *CheckOrchestrator) Categories() []domain.Category {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]domain.Category, len(o.checkers))
	for i, c := range o.checkers {
		out[i] = c.Category()
	}
	return out
}

// Run executes every checker against the version and waits for all of them.
// Results preserve registration order. A checker error is converted to a
// CheckUnavailableError and its status settles per the fail-open policy.
func (o *CheckOrchestrator) Run(ctx context.Context, version domain.RequirementVersion) []CheckResult {
	o.mu.RLock()
	checkers := make([]Checker, len(o.checkers))
	copy(checkers, o.checkers)
	o.mu.RUnlock()

	results := make([]CheckResult, len(checkers))
	var wg sync.WaitGroup
	for i, checker := range checkers {
		wg.Add(1)
		go func(i int, checker Checker) {
			defer wg.Done()
			status, detail, err := checker.Check(ctx, version)
			if err != nil {
				status = domain.EndorsementPending
				if checker.FailOpen() {
					status = domain.EndorsementApproved
				}
				results[i] = CheckResult{
					Category: checker.Category(),
					Status:   status,
					Detail:   detail,
					Err:      domain.CheckUnavailableError{Category: checker.Category(), Err: err},
				}
				return
			}
			results[i] = CheckResult{Category: checker.Category(), Status: status, Detail: detail}
		}(i, checker)
	}
	wg.Wait()
	return results
}
