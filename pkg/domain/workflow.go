package domain

import (
	"slices"
	"time"
)

// TransitionInput names a workflow transition request.
type TransitionInput string

// Workflow transition inputs.
const (
	InputSubmitForReview TransitionInput = "submit_for_review"
	InputApprove         TransitionInput = "approve"
	InputReject          TransitionInput = "reject"
	InputRevise          TransitionInput = "revise"
	InputRemove          TransitionInput = "remove"
	InputRestore         TransitionInput = "restore"
)

// workflowTransitions is the full legal transition table. Any (state, input)
// pair absent here fails with InvalidTransitionError.
var workflowTransitions = map[WorkflowState]map[TransitionInput]WorkflowState{
	StateProposed: {
		InputSubmitForReview: StateReview,
	},
	StateReview: {
		InputApprove: StateActive,
		InputReject:  StateRejected,
	},
	StateActive: {
		InputRevise: StateProposed,
		InputRemove: StateRemoved,
	},
	StateRejected: {
		InputRevise: StateProposed,
		InputRemove: StateRemoved,
	},
	StateRemoved: {
		InputRestore: StateProposed,
	},
}

// NextState resolves the target state for a transition input.
func NextState(from WorkflowState, input TransitionInput) (WorkflowState, error) {
	targets, ok := workflowTransitions[from]
	if !ok {
		return "", InvalidTransitionError{From: from, Input: input}
	}
	next, ok := targets[input]
	if !ok {
		return "", InvalidTransitionError{From: from, Input: input}
	}
	return next, nil
}

// LegalInputs returns the transition inputs accepted from the given state.
func LegalInputs(from WorkflowState) []TransitionInput {
	targets := workflowTransitions[from]
	out := make([]TransitionInput, 0, len(targets))
	for input := range targets {
		out = append(out, input)
	}
	slices.Sort(out)
	return out
}

// ApplyTransition is the pure transition function: it derives the next
// version draft from the current version and an input, without touching the
// store. The draft copies the current version's content; state and reqId
// handling follow the workflow rules:
//
//   - remove clears the reqId so a later restore + activation allocates a
//     fresh one,
//   - every other transition carries the reqId forward unchanged, which keeps
//     numbering stable across revise cycles,
//   - approve does not allocate: allocation is the id allocator's job and
//     happens only when the preceding current version carries no reqId.
func ApplyTransition(current RequirementVersion, input TransitionInput, modifiedBy string, effectiveFrom time.Time) (RequirementVersion, error) {
	next, err := NextState(current.State, input)
	if err != nil {
		return RequirementVersion{}, err
	}
	draft := current
	draft.State = next
	draft.ModifiedBy = modifiedBy
	draft.EffectiveFrom = effectiveFrom.UTC()
	draft.IsDeleted = false
	if input == InputRemove {
		draft.ReqID = nil
	}
	if current.Fields != nil {
		fields := make(map[string]any, len(current.Fields))
		for k, v := range current.Fields {
			fields[k] = v
		}
		draft.Fields = fields
	}
	return draft, nil
}
