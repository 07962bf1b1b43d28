package domain

import "time"

// RunStatus is the overall outcome of a run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunDryRun    RunStatus = "dry_run"
	RunCancelled RunStatus = "cancelled"
	RunFailed    RunStatus = "failed"
)

// MediaCounts tallies media decisions.
type MediaCounts struct {
	Fetched    int `json:"fetched"`
	Keep       int `json:"keep"`
	Delete     int `json:"delete"`
	Quarantine int `json:"quarantine"`
}

// EmailCounts tallies email dispositions.
type EmailCounts struct {
	Fetched         int                       `json:"fetched"`
	Keep            int                       `json:"keep"`
	Delete          int                       `json:"delete"`
	Escalated       int                       `json:"escalated"`
	EscalationsLost int                       `json:"escalations_unavailable"`
	BySource        map[DispositionSource]int `json:"by_source"`
}

// ExecutionSummary tallies coordinator outcomes.
type ExecutionSummary struct {
	Dispatched    int       `json:"dispatched"`
	Succeeded     int       `json:"succeeded"`
	AlreadyGone   int       `json:"already_gone"`
	Failed        int       `json:"failed"`
	SkippedDone   int       `json:"skipped_already_succeeded"`
	NotDispatched int       `json:"not_dispatched"`
	Retries       int       `json:"retries"`
	Cancelled     bool      `json:"cancelled"`
	FailedItems   []ItemRef `json:"failed_items,omitempty"`
	PendingItems  []ItemRef `json:"pending_items,omitempty"`
}

// ByteTotals sums item sizes per kind.
type ByteTotals struct {
	Media int64 `json:"media"`
	Email int64 `json:"email"`
}

// Add counts n bytes against kind.
func (b *ByteTotals) Add(kind ItemKind, n int64) {
	if kind == ItemMedia {
		b.Media += n
	} else {
		b.Email += n
	}
}

// Total is the sum over both kinds.
func (b ByteTotals) Total() int64 { return b.Media + b.Email }

// QuarantineItem is surfaced for manual review.
type QuarantineItem struct {
	ItemID     string         `json:"item_id"`
	Name       string         `json:"name,omitempty"`
	Reason     ReasonCode     `json:"reason"`
	Confidence float64        `json:"confidence"`
	Verdicts   []MatchVerdict `json:"verdicts,omitempty"`
}

// RunReport is the produced artifact of one run.
type RunReport struct {
	RunID      string    `json:"run_id"`
	Status     RunStatus `json:"status"`
	DryRun     bool      `json:"dry_run"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Media MediaCounts `json:"media"`
	Email EmailCounts `json:"email"`

	// PlannedBytes covers the plan's actions; FreedBytes only actions this run deleted.
	PlannedBytes ByteTotals `json:"planned_bytes"`
	FreedBytes   ByteTotals `json:"freed_bytes"`

	Plan       *DeletionPlan     `json:"plan"`
	Execution  *ExecutionSummary `json:"execution,omitempty"`
	Quarantine []QuarantineItem  `json:"quarantine,omitempty"`

	// LedgerDelta holds every ledger entry appended by this run.
	LedgerDelta []LedgerEntry `json:"ledger_delta,omitempty"`

	Error string `json:"error,omitempty"`
}
