package models

import "fmt"

// OpportunityState is the lifecycle state of a single opportunity as
// it moves through the execution queue.
type OpportunityState string

const (
	StateReady            OpportunityState = "ready"
	StateReserved         OpportunityState = "reserved"
	StateLegAFilled       OpportunityState = "leg_a_filled"
	StateBothFilled       OpportunityState = "both_filled"
	StateCommitted        OpportunityState = "committed"
	StateSkipped          OpportunityState = "skipped"
	StateReleased         OpportunityState = "released"
	StateSingleLegExposed OpportunityState = "single_leg_exposed"
)

// OpportunityTransition defines one allowed move in the execution
// queue's per-opportunity state machine.
type OpportunityTransition struct {
	From        OpportunityState
	To          OpportunityState
	Condition   string
	Description string
}

// ValidOpportunityTransitions is the complete transition table for
// the execution queue's state machine (spec section 4.5).
var ValidOpportunityTransitions = []OpportunityTransition{
	{StateReady, StateSkipped, "reserve_failed", "reserve_budget rejected the opportunity"},
	{StateReady, StateReserved, "reserve_ok", "reserve_budget succeeded"},

	{StateReserved, StateReleased, "leg_a_submit_failed", "leg-A submission rejected or failed"},
	{StateReserved, StateLegAFilled, "leg_a_filled", "leg-A order filled"},

	{StateLegAFilled, StateSingleLegExposed, "leg_b_submit_failed", "leg-B submission rejected, failed, or timed out pending"},
	{StateLegAFilled, StateBothFilled, "leg_b_filled", "leg-B order filled"},

	{StateBothFilled, StateCommitted, "commit_reservation", "reservation committed, position opened"},
}

var opportunityTransitionLookup map[OpportunityState]map[OpportunityState]map[string]bool

func init() {
	opportunityTransitionLookup = make(map[OpportunityState]map[OpportunityState]map[string]bool)
	for _, t := range ValidOpportunityTransitions {
		if opportunityTransitionLookup[t.From] == nil {
			opportunityTransitionLookup[t.From] = make(map[OpportunityState]map[string]bool)
		}
		if opportunityTransitionLookup[t.From][t.To] == nil {
			opportunityTransitionLookup[t.From][t.To] = make(map[string]bool)
		}
		opportunityTransitionLookup[t.From][t.To][t.Condition] = true
	}
}

// OpportunityStateMachine tracks one opportunity's progress through
// the execution queue. It is not safe for concurrent use -- the
// execution queue itself guarantees only one opportunity is ever in
// flight at a time, so no internal locking is needed.
type OpportunityStateMachine struct {
	opportunityID string
	current       OpportunityState
	previous      OpportunityState
}

// NewOpportunityStateMachine creates a state machine starting in
// StateReady for the given opportunity.
func NewOpportunityStateMachine(opportunityID string) *OpportunityStateMachine {
	return &OpportunityStateMachine{
		opportunityID: opportunityID,
		current:       StateReady,
		previous:      StateReady,
	}
}

// Current returns the current state.
func (sm *OpportunityStateMachine) Current() OpportunityState { return sm.current }

// IsValidTransition reports whether moving to `to` under `condition`
// is defined from the current state.
func (sm *OpportunityStateMachine) IsValidTransition(to OpportunityState, condition string) bool {
	fromMap, ok := opportunityTransitionLookup[sm.current]
	if !ok {
		return false
	}
	toMap, ok := fromMap[to]
	if !ok {
		return false
	}
	return toMap[condition]
}

// Transition moves the machine to `to` under `condition`, failing if
// the move is not in ValidOpportunityTransitions from the current
// state.
func (sm *OpportunityStateMachine) Transition(to OpportunityState, condition string) error {
	if !sm.IsValidTransition(to, condition) {
		return fmt.Errorf("opportunity %s: invalid transition from %s to %s on condition %q",
			sm.opportunityID, sm.current, to, condition)
	}
	sm.previous = sm.current
	sm.current = to
	return nil
}

// IsTerminal reports whether the current state has no outgoing
// transitions -- the opportunity's pass through the queue is done.
func (sm *OpportunityStateMachine) IsTerminal() bool {
	switch sm.current {
	case StateCommitted, StateSkipped, StateReleased, StateSingleLegExposed:
		return true
	default:
		return false
	}
}
