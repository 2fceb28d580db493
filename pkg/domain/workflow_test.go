package domain

import (
	"errors"
	"testing"
	"time"
)

func TestNextStateLegalTransitions(t *testing.T) {
	cases := []struct {
		from  WorkflowState
		input TransitionInput
		want  WorkflowState
	}{
		{StateProposed, InputSubmitForReview, StateReview},
		{StateReview, InputApprove, StateActive},
		{StateReview, InputReject, StateRejected},
		{StateActive, InputRevise, StateProposed},
		{StateActive, InputRemove, StateRemoved},
		{StateRejected, InputRevise, StateProposed},
		{StateRejected, InputRemove, StateRemoved},
		{StateRemoved, InputRestore, StateProposed},
	}
	for _, tc := range cases {
		got, err := NextState(tc.from, tc.input)
		if err != nil {
			t.Fatalf("NextState(%s, %s): %v", tc.from, tc.input, err)
		}
		if got != tc.want {
			t.Fatalf("NextState(%s, %s) = %s, want %s", tc.from, tc.input, got, tc.want)
		}
	}
}

func TestNextStateRejectsEveryIllegalPair(t *testing.T) {
	states := []WorkflowState{StateProposed, StateReview, StateActive, StateRejected, StateRemoved}
	inputs := []TransitionInput{InputSubmitForReview, InputApprove, InputReject, InputRevise, InputRemove, InputRestore}
	legal := map[WorkflowState]map[TransitionInput]bool{
		StateProposed: {InputSubmitForReview: true},
		StateReview:   {InputApprove: true, InputReject: true},
		StateActive:   {InputRevise: true, InputRemove: true},
		StateRejected: {InputRevise: true, InputRemove: true},
		StateRemoved:  {InputRestore: true},
	}
	for _, from := range states {
		for _, input := range inputs {
			if legal[from][input] {
				continue
			}
			_, err := NextState(from, input)
			var invalid InvalidTransitionError
			if !errors.As(err, &invalid) {
				t.Fatalf("NextState(%s, %s): expected InvalidTransitionError, got %v", from, input, err)
			}
			if invalid.From != from || invalid.Input != input {
				t.Fatalf("error carries (%s, %s), want (%s, %s)", invalid.From, invalid.Input, from, input)
			}
		}
	}
}

func TestLegalInputsSorted(t *testing.T) {
	inputs := LegalInputs(StateActive)
	if len(inputs) != 2 {
		t.Fatalf("expected 2 legal inputs from active, got %v", inputs)
	}
	for i := 1; i < len(inputs); i++ {
		if inputs[i-1] > inputs[i] {
			t.Fatalf("legal inputs not sorted: %v", inputs)
		}
	}
	if got := LegalInputs("bogus"); len(got) != 0 {
		t.Fatalf("expected no inputs for unknown state, got %v", got)
	}
}

func TestApplyTransitionCarriesContent(t *testing.T) {
	reqID := "G.2"
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := RequirementVersion{
		RequirementID: "req-1",
		EffectiveFrom: now.Add(-time.Hour),
		ModifiedBy:    "ana",
		State:         StateActive,
		Name:          "Throughput",
		Description:   "The system shall sustain 100 rps.",
		ReqID:         &reqID,
		Fields:        map[string]any{"priority": "high"},
	}

	draft, err := ApplyTransition(current, InputRevise, "ben", now)
	if err != nil {
		t.Fatalf("ApplyTransition: %v", err)
	}
	if draft.State != StateProposed {
		t.Fatalf("expected proposed, got %s", draft.State)
	}
	if draft.ModifiedBy != "ben" || !draft.EffectiveFrom.Equal(now) {
		t.Fatalf("authorship not updated: %+v", draft)
	}
	if draft.ReqID == nil || *draft.ReqID != reqID {
		t.Fatalf("revise must carry the requirement id forward, got %v", draft.ReqID)
	}
	if draft.Name != current.Name || draft.Description != current.Description {
		t.Fatalf("content not carried: %+v", draft)
	}

	draft.Fields["priority"] = "low"
	if current.Fields["priority"] != "high" {
		t.Fatalf("draft fields must not alias the current version")
	}
}

func TestApplyTransitionRemoveClearsReqID(t *testing.T) {
	reqID := "O.1"
	current := RequirementVersion{RequirementID: "req-2", State: StateActive, ReqID: &reqID}
	draft, err := ApplyTransition(current, InputRemove, "ana", time.Now())
	if err != nil {
		t.Fatalf("ApplyTransition: %v", err)
	}
	if draft.State != StateRemoved {
		t.Fatalf("expected removed, got %s", draft.State)
	}
	if draft.ReqID != nil {
		t.Fatalf("remove must clear the requirement id, got %v", *draft.ReqID)
	}
}

func TestApplyTransitionIllegalInput(t *testing.T) {
	_, err := ApplyTransition(RequirementVersion{State: StateProposed}, InputApprove, "ana", time.Now())
	var invalid InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}
