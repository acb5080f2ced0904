package governor

// RuleState is the per-(provider, rule) admission state. Transitions
// are lazy: every Admit recomputes the window from the ledger, so a
// Closed rule reopens automatically once now crosses the window end;
// no background timer, nothing to resynchronize after a restart.
type RuleState string

const (
	// StateOpen admits freely.
	StateOpen RuleState = "open"
	// StateThrottled still admits but signals callers to slow down:
	// remaining budget is inside the warning buffer.
	StateThrottled RuleState = "throttled"
	// StateClosed admits nothing until the window resets.
	StateClosed RuleState = "closed"
)

// throttleBuffer is the warning zone: 10% of the hard stop, at least 1.
func throttleBuffer(hardStop int) int {
	buffer := hardStop / 10
	if buffer < 1 {
		buffer = 1
	}
	return buffer
}

func stateFor(rule QuotaRule, remaining int) RuleState {
	switch {
	case remaining <= 0:
		return StateClosed
	case remaining <= throttleBuffer(rule.HardStop):
		return StateThrottled
	default:
		return StateOpen
	}
}

// worseState returns the more restrictive of two states.
func worseState(a, b RuleState) RuleState {
	rank := map[RuleState]int{StateOpen: 0, StateThrottled: 1, StateClosed: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
