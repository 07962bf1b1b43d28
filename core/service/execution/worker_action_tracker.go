package execution

import (
	"sync"

	"cleanup_worker/core/domain"
	"cleanup_worker/pkg/apperr"
)

// actionTracker holds the in-memory state machine of every plan action.
type actionTracker struct {
	mu      sync.Mutex
	states  map[int64]domain.ActionState
	skipped map[int64]bool
	items   map[int64]domain.ItemRef
	order   []int64
}

func newActionTracker(plan *domain.DeletionPlan) *actionTracker {
	t := &actionTracker{
		states:  make(map[int64]domain.ActionState, plan.Len()),
		skipped: make(map[int64]bool),
		items:   make(map[int64]domain.ItemRef, plan.Len()),
	}
	for _, a := range plan.Actions {
		t.states[a.Sequence] = domain.StatePending
		t.items[a.Sequence] = a.Item
		t.order = append(t.order, a.Sequence)
	}
	return t
}

// transition applies to, rejecting anything the state machine forbids.
func (t *actionTracker) transition(seq int64, to domain.ActionState) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	from, ok := t.states[seq]
	if !ok {
		return apperr.NotFound("plan action")
	}
	if !from.CanTransition(to) {
		return apperr.InvalidTransition(from.String(), to.String())
	}
	t.states[seq] = to
	return nil
}

// skip marks a pending action that needs no dispatch because the ledger already has it.
func (t *actionTracker) skip(seq int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.states[seq] == domain.StatePending {
		t.skipped[seq] = true
	}
}

func (t *actionTracker) state(seq int64) domain.ActionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[seq]
}

// pending returns undispatched, unskipped items in plan order.
func (t *actionTracker) pending() []domain.ItemRef {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []domain.ItemRef
	for _, seq := range t.order {
		if t.states[seq] == domain.StatePending && !t.skipped[seq] {
			out = append(out, t.items[seq])
		}
	}
	return out
}
