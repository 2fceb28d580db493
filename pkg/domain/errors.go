package domain

import (
	"fmt"
	"time"
)

// NotFoundError indicates an identity or required version is absent.
type NotFoundError struct {
	Entity EntityKind
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ValidationError indicates a field or type schema violation.
type ValidationError struct {
	Type  TypeTag
	Field string
	Msg   string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed for type %s: %s", e.Type, e.Msg)
	}
	return fmt.Sprintf("validation failed for %s.%s: %s", e.Type, e.Field, e.Msg)
}

// InvalidTransitionError indicates a workflow transition that is not legal
// from the current state.
type InvalidTransitionError struct {
	From  WorkflowState
	Input TransitionInput
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("transition %s is not legal from state %s", e.Input, e.From)
}

// DuplicateEntityError indicates a uniqueness violation.
type DuplicateEntityError struct {
	Entity EntityKind
	Key    string
}

func (e DuplicateEntityError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Entity, e.Key)
}

// ConcurrentWriteError indicates two appends raced for the same effective-from
// instant on one identity. The later writer must re-read the current version
// and reapply its transition.
type ConcurrentWriteError struct {
	ID            string
	EffectiveFrom time.Time
}

func (e ConcurrentWriteError) Error() string {
	return fmt.Sprintf("concurrent write on %s at %s", e.ID, e.EffectiveFrom.UTC().Format(time.RFC3339Nano))
}

// CheckUnavailableError indicates an automated check's backing service failed.
// The orchestrator records it on the check result instead of propagating it.
type CheckUnavailableError struct {
	Category Category
	Err      error
}

func (e CheckUnavailableError) Error() string {
	return fmt.Sprintf("check %s unavailable: %v", e.Category, e.Err)
}

func (e CheckUnavailableError) Unwrap() error { return e.Err }
