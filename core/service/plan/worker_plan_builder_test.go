package plan

import (
	"context"
	"testing"

	"cleanup_worker/core/domain"
	"cleanup_worker/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func media(id string, order int, dec domain.Decision) domain.MediaDecision {
	return domain.MediaDecision{ItemID: id, FetchOrder: order, Decision: dec, Reason: domain.ReasonBulkCandidate, Confidence: 1}
}

func email(id string, order int, dec domain.Disposition) domain.EmailDisposition {
	return domain.EmailDisposition{MessageID: id, FetchOrder: order, Decision: dec, Source: domain.SourceRule, Confidence: 0.9}
}

func candidates() []Candidate {
	c := FromMedia([]domain.MediaDecision{
		media("m3", 3, domain.DecisionDelete),
		media("m1", 1, domain.DecisionDelete),
		media("m2", 2, domain.DecisionQuarantine),
		media("m4", 4, domain.DecisionKeep),
	})
	return append(c, FromEmail([]domain.EmailDisposition{
		email("e2", 2, domain.DispositionDelete),
		email("e1", 1, domain.DispositionDelete),
		email("e3", 3, domain.DispositionKeep),
	})...)
}

func keys(p *domain.DeletionPlan) []string {
	out := make([]string, 0, len(p.Actions))
	for _, a := range p.Actions {
		out = append(out, a.Item.Key())
	}
	return out
}

func TestBuild_OnlyDeletesInStableOrder(t *testing.T) {
	b, err := NewBuilder(100)
	require.NoError(t, err)

	p := b.Build(candidates(), nil)

	assert.Equal(t, []string{"media:m1", "media:m3", "email:e1", "email:e2"}, keys(p))
	for i, a := range p.Actions {
		assert.Equal(t, int64(i+1), a.Sequence)
		assert.Equal(t, domain.ActionDelete, a.Kind)
	}
	assert.Zero(t, p.Excess)
	assert.NotEmpty(t, p.Fingerprint)
}

func TestBuild_Idempotent(t *testing.T) {
	b, err := NewBuilder(100)
	require.NoError(t, err)

	first := b.Build(candidates(), nil)

	reversed := candidates()
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}
	second := b.Build(reversed, nil)

	assert.Equal(t, first, second)
}

func TestBuild_ExcludesSucceeded(t *testing.T) {
	b, err := NewBuilder(100)
	require.NoError(t, err)

	p := b.Build(candidates(), map[string]bool{"media:m1": true, "email:e3": true})

	assert.NotContains(t, keys(p), "media:m1")
	assert.Equal(t, 1, p.ExcludedAlreadyDone)
	assert.Equal(t, int64(1), p.Actions[0].Sequence)
}

func TestBuild_DuplicatesCollapseAndVeto(t *testing.T) {
	b, err := NewBuilder(100)
	require.NoError(t, err)

	c := FromMedia([]domain.MediaDecision{
		media("dup", 5, domain.DecisionDelete),
		media("dup", 2, domain.DecisionDelete),
		media("veto", 1, domain.DecisionDelete),
		media("veto", 7, domain.DecisionQuarantine),
	})
	p := b.Build(c, nil)

	require.Len(t, p.Actions, 1)
	assert.Equal(t, "media:dup", p.Actions[0].Item.Key())
	assert.Equal(t, 2, p.Actions[0].FetchOrder)
	assert.Equal(t, 1, p.Vetoed)
}

func TestBuild_CapTruncatesAndReportsExcess(t *testing.T) {
	b, err := NewBuilder(2)
	require.NoError(t, err)

	p := b.Build(candidates(), nil)

	assert.Equal(t, []string{"media:m1", "media:m3"}, keys(p))
	assert.Equal(t, 2, p.Excess)
	assert.Equal(t, []domain.ItemRef{
		{Kind: domain.ItemEmail, ID: "e1"},
		{Kind: domain.ItemEmail, ID: "e2"},
	}, p.Truncated)
}

func TestBuild_EmptyInput(t *testing.T) {
	b, err := NewBuilder(1)
	require.NoError(t, err)

	p := b.Build(nil, nil)
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, Fingerprint(nil), p.Fingerprint)
}

func TestNewBuilder_RejectsNonPositiveCap(t *testing.T) {
	_, err := NewBuilder(0)
	assert.True(t, apperr.IsConfiguration(err))
}

type stubLedger struct {
	done  map[string]bool
	asked []domain.ItemRef
}

func (s *stubLedger) SucceededSet(_ context.Context, items []domain.ItemRef) (map[string]bool, error) {
	s.asked = items
	out := map[string]bool{}
	for _, it := range items {
		if s.done[it.Key()] {
			out[it.Key()] = true
		}
	}
	return out, nil
}

func (s *stubLedger) Append(context.Context, *domain.LedgerEntry) error { return nil }
func (s *stubLedger) IsSucceeded(_ context.Context, item domain.ItemRef) (bool, error) {
	return s.done[item.Key()], nil
}
func (s *stubLedger) EntriesForRun(context.Context, string) ([]domain.LedgerEntry, error) {
	return nil, nil
}
func (s *stubLedger) History(context.Context, domain.ItemRef) ([]domain.LedgerEntry, error) {
	return nil, nil
}
func (s *stubLedger) Close() error { return nil }

func TestBuildWithLedger_QueriesOnlyDeleteCandidates(t *testing.T) {
	b, err := NewBuilder(100)
	require.NoError(t, err)
	ledger := &stubLedger{done: map[string]bool{"email:e2": true}}

	p, err := b.BuildWithLedger(context.Background(), ledger, candidates())
	require.NoError(t, err)

	assert.Len(t, ledger.asked, 4)
	assert.Equal(t, []string{"media:m1", "media:m3", "email:e1"}, keys(p))
}
