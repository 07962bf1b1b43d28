// Package plan aggregates item decisions into a deterministic deletion plan.
package plan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"cleanup_worker/core/domain"
	"cleanup_worker/core/port/out"
	"cleanup_worker/pkg/apperr"
)

// Candidate is one decided item, media or email.
type Candidate struct {
	Item       domain.ItemRef
	FetchOrder int
	Delete     bool
	Reason     string
	Confidence float64
}

// FromMedia converts media decisions into candidates.
func FromMedia(decisions []domain.MediaDecision) []Candidate {
	out := make([]Candidate, 0, len(decisions))
	for _, d := range decisions {
		out = append(out, Candidate{
			Item:       domain.ItemRef{Kind: domain.ItemMedia, ID: d.ItemID},
			FetchOrder: d.FetchOrder,
			Delete:     d.Decision == domain.DecisionDelete,
			Reason:     string(d.Reason),
			Confidence: d.Confidence,
		})
	}
	return out
}

// FromEmail converts email dispositions into candidates.
func FromEmail(dispositions []domain.EmailDisposition) []Candidate {
	out := make([]Candidate, 0, len(dispositions))
	for _, d := range dispositions {
		reason := string(d.Source)
		if d.Reason != "" {
			reason += ": " + d.Reason
		}
		out = append(out, Candidate{
			Item:       domain.ItemRef{Kind: domain.ItemEmail, ID: d.MessageID},
			FetchOrder: d.FetchOrder,
			Delete:     d.Decision == domain.DispositionDelete,
			Reason:     reason,
			Confidence: d.Confidence,
		})
	}
	return out
}

// Builder is the single-writer aggregation step run after the decision barrier.
type Builder struct {
	maxDeletes int
}

// NewBuilder requires a positive per-run cap.
func NewBuilder(maxDeletes int) (*Builder, error) {
	if maxDeletes <= 0 {
		return nil, apperr.ConfigErrorf("max deletes per run %d must be > 0", maxDeletes)
	}
	return &Builder{maxDeletes: maxDeletes}, nil
}

// Cap returns the per-run delete cap.
func (b *Builder) Cap() int { return b.maxDeletes }

// Build produces the plan. succeeded holds ledger keys already recorded SUCCEEDED.
func (b *Builder) Build(candidates []Candidate, succeeded map[string]bool) *domain.DeletionPlan {
	plan := &domain.DeletionPlan{Cap: b.maxDeletes, Actions: []domain.PlanAction{}}

	// Collapse duplicates; any non-DELETE occurrence vetoes the item.
	first := make(map[string]Candidate, len(candidates))
	vetoed := make(map[string]bool)
	for _, c := range candidates {
		key := c.Item.Key()
		if !c.Delete {
			vetoed[key] = true
		}
		prev, seen := first[key]
		if !seen || lessCandidate(c, prev) {
			first[key] = c
		}
	}

	selected := make([]Candidate, 0, len(first))
	for key, c := range first {
		switch {
		case vetoed[key]:
			if c.Delete {
				plan.Vetoed++
			}
		case succeeded[key]:
			plan.ExcludedAlreadyDone++
		default:
			selected = append(selected, c)
		}
	}

	sort.Slice(selected, func(i, j int) bool { return lessCandidate(selected[i], selected[j]) })

	if len(selected) > b.maxDeletes {
		plan.Excess = len(selected) - b.maxDeletes
		for _, c := range selected[b.maxDeletes:] {
			plan.Truncated = append(plan.Truncated, c.Item)
		}
		selected = selected[:b.maxDeletes]
	}

	for i, c := range selected {
		plan.Actions = append(plan.Actions, domain.PlanAction{
			Sequence:   int64(i + 1),
			Item:       c.Item,
			Kind:       domain.ActionDelete,
			Reason:     c.Reason,
			Confidence: c.Confidence,
			FetchOrder: c.FetchOrder,
		})
	}
	plan.Fingerprint = Fingerprint(plan.Actions)
	return plan
}

// BuildWithLedger looks up the ledger for every DELETE candidate and then builds.
func (b *Builder) BuildWithLedger(ctx context.Context, ledger out.LedgerRepository, candidates []Candidate) (*domain.DeletionPlan, error) {
	refs := make([]domain.ItemRef, 0, len(candidates))
	for _, c := range candidates {
		if c.Delete {
			refs = append(refs, c.Item)
		}
	}
	succeeded, err := ledger.SucceededSet(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	return b.Build(candidates, succeeded), nil
}

// lessCandidate orders media before email, then fetch order, then id.
func lessCandidate(a, b Candidate) bool {
	if a.Item.KindRank() != b.Item.KindRank() {
		return a.Item.KindRank() < b.Item.KindRank()
	}
	if a.FetchOrder != b.FetchOrder {
		return a.FetchOrder < b.FetchOrder
	}
	return a.Item.ID < b.Item.ID
}

// Fingerprint hashes the ordered actions so two plans can be compared cheaply.
func Fingerprint(actions []domain.PlanAction) string {
	h := sha256.New()
	for _, a := range actions {
		fmt.Fprintf(h, "%d|%s|%s|%s\n", a.Sequence, a.Item.Key(), a.Kind, a.Reason)
	}
	return hex.EncodeToString(h.Sum(nil))
}
