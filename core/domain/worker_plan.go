package domain

// ItemKind distinguishes the two deletable corpora.
type ItemKind string

const (
	ItemMedia ItemKind = "media"
	ItemEmail ItemKind = "email"
)

// rank orders media before email in a plan.
func (k ItemKind) rank() int {
	if k == ItemMedia {
		return 0
	}
	return 1
}

// ItemRef identifies one remote item across both sources.
type ItemRef struct {
	Kind ItemKind `json:"kind"`
	ID   string   `json:"id"`
}

// Key is the ledger key for the item.
func (r ItemRef) Key() string {
	return string(r.Kind) + ":" + r.ID
}

// KindRank exposes the kind ordering for plan sorting.
func (r ItemRef) KindRank() int { return r.Kind.rank() }

// ActionKind is always ActionDelete today.
type ActionKind string

const ActionDelete ActionKind = "DELETE"

// PlanAction is one entry of a DeletionPlan.
type PlanAction struct {
	Sequence   int64      `json:"sequence"`
	Item       ItemRef    `json:"item"`
	Kind       ActionKind `json:"kind"`
	Reason     string     `json:"reason"`
	Confidence float64    `json:"confidence"`
	FetchOrder int        `json:"fetch_order"`
}

// DeletionPlan is ordered, deduplicated and capped.
type DeletionPlan struct {
	Actions []PlanAction `json:"actions"`

	Cap                 int       `json:"cap"`
	Excess              int       `json:"excess"`
	Truncated           []ItemRef `json:"truncated,omitempty"`
	ExcludedAlreadyDone int       `json:"excluded_already_done"`
	Vetoed              int       `json:"vetoed"`

	// Fingerprint is a hash of the ordered actions.
	Fingerprint string `json:"fingerprint"`
}

// Len returns the number of actions.
func (p *DeletionPlan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Actions)
}
