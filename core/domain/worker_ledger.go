package domain

import (
	"fmt"
	"time"
)

// ActionState is the per-action execution state.
type ActionState int

const (
	StatePending ActionState = iota
	StateInFlight
	StateSucceeded
	StateFailed
)

func (s ActionState) String() string {
	switch s {
	case StateInFlight:
		return "IN_FLIGHT"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateFailed:
		return "FAILED"
	default:
		return "PENDING"
	}
}

func (s ActionState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *ActionState) UnmarshalText(b []byte) error {
	v, err := ParseActionState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseActionState parses the textual form.
func ParseActionState(s string) (ActionState, error) {
	switch s {
	case "PENDING":
		return StatePending, nil
	case "IN_FLIGHT":
		return StateInFlight, nil
	case "SUCCEEDED":
		return StateSucceeded, nil
	case "FAILED":
		return StateFailed, nil
	}
	return StatePending, fmt.Errorf("unknown action state %q", s)
}

// Terminal reports whether no further transition is allowed.
func (s ActionState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// CanTransition allows PENDING→IN_FLIGHT and IN_FLIGHT→{SUCCEEDED,FAILED} only.
func (s ActionState) CanTransition(to ActionState) bool {
	switch s {
	case StatePending:
		return to == StateInFlight
	case StateInFlight:
		return to == StateSucceeded || to == StateFailed
	default:
		return false
	}
}

// Outcome details for SUCCEEDED entries.
const (
	OutcomeDeleted     = "deleted"
	OutcomeAlreadyGone = "already gone"
)

// LedgerEntry is one append-only record.
type LedgerEntry struct {
	EntryID     string      `json:"entry_id" db:"entry_id"`
	RunID       string      `json:"run_id" db:"run_id"`
	Sequence    int64       `json:"sequence" db:"sequence"`
	Item        ItemRef     `json:"item" db:"-"`
	State       ActionState `json:"state" db:"-"`
	Attempt     int         `json:"attempt" db:"attempt"`
	AttemptedAt time.Time   `json:"attempted_at" db:"attempted_at"`
	Outcome     string      `json:"outcome,omitempty" db:"outcome"`
	Error       string      `json:"error,omitempty" db:"error"`
}
