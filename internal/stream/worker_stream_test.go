package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"cleanup_worker/core/domain"
	"cleanup_worker/core/service/cleanup"
	"cleanup_worker/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionEvent(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := &domain.LedgerEntry{
		EntryID:     "e-1",
		RunID:       "run-1",
		Sequence:    1,
		Item:        domain.ItemRef{Kind: domain.ItemMedia, ID: "m1"},
		State:       domain.StateSucceeded,
		Attempt:     1,
		AttemptedAt: at,
		Outcome:     domain.OutcomeDeleted,
	}

	ev := transitionEvent(entry)
	assert.Equal(t, EventTransition, ev.Type)
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, at, ev.At)

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"SUCCEEDED"`)
	assert.NotContains(t, string(data), `"summary"`)
}

func TestRunFinishedEvent(t *testing.T) {
	report := &domain.RunReport{
		RunID:      "run-2",
		Status:     domain.RunCompleted,
		Plan:       &domain.DeletionPlan{Actions: make([]domain.PlanAction, 3), Excess: 2, Fingerprint: "abc"},
		Quarantine: []domain.QuarantineItem{{ItemID: "m4"}},
		Execution:  &domain.ExecutionSummary{Succeeded: 3},
	}

	ev := runFinishedEvent(report)
	require.NotNil(t, ev.Summary)
	assert.Equal(t, EventRunFinished, ev.Type)
	assert.Equal(t, 3, ev.Summary.PlanActions)
	assert.Equal(t, 2, ev.Summary.PlanExcess)
	assert.Equal(t, "abc", ev.Summary.Fingerprint)
	assert.Equal(t, 1, ev.Summary.Quarantined)
	assert.Nil(t, ev.Entry)
}

func TestRunFinishedEvent_NoPlan(t *testing.T) {
	ev := runFinishedEvent(&domain.RunReport{RunID: "run-3", Status: domain.RunFailed, Error: "fetch media: boom"})
	assert.Equal(t, 0, ev.Summary.PlanActions)
	assert.Equal(t, "fetch media: boom", ev.Summary.ErrorMessage)
}

func TestDecodeRunRequest(t *testing.T) {
	req, err := decodeRunRequest([]byte(`{"request_id":"r1","dry_run":true,"requested_by":"cron"}`))
	require.NoError(t, err)
	require.NotNil(t, req.DryRun)
	assert.True(t, *req.DryRun)

	_, err = decodeRunRequest([]byte(`{"dry_run":true}`))
	assert.Error(t, err)

	_, err = decodeRunRequest([]byte(`not json`))
	assert.Error(t, err)
}

type fakeTrigger struct {
	opts   []cleanup.RunOptions
	report *domain.RunReport
	err    error
}

func (f *fakeTrigger) Run(_ context.Context, opts cleanup.RunOptions) (*domain.RunReport, error) {
	f.opts = append(f.opts, opts)
	return f.report, f.err
}

func TestConsumer_Handle(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		report  *domain.RunReport
		err     error
		wantErr bool
		wantRun bool
	}{
		{"runs", `{"request_id":"r1"}`, &domain.RunReport{RunID: "x", Status: domain.RunCompleted}, nil, false, true},
		{"malformed is dropped", `{`, nil, nil, false, false},
		{"conflict is coalesced", `{"request_id":"r2"}`, nil, apperr.Conflict("busy"), false, true},
		{"startup failure is retried", `{"request_id":"r3"}`, nil, errors.New("boom"), true, true},
		{"failed run is acked", `{"request_id":"r4"}`, &domain.RunReport{RunID: "y", Status: domain.RunFailed}, errors.New("boom"), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trig := &fakeTrigger{report: tt.report, err: tt.err}
			c := NewConsumer(nil, trig, "test")

			err := c.handle(context.Background(), "1-0", []byte(tt.data))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantRun, len(trig.opts) == 1)
		})
	}
}
