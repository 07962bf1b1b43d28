package mongodb

import (
	"strings"
	"testing"
	"time"

	"cleanup_worker/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport(quarantined int) *domain.RunReport {
	r := &domain.RunReport{
		RunID:      "run-1",
		Status:     domain.RunCompleted,
		StartedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Media:      domain.MediaCounts{Fetched: 10, Delete: 2},
		Email:      domain.EmailCounts{Fetched: 5, Delete: 3},
		Plan:       &domain.DeletionPlan{Actions: make([]domain.PlanAction, 5), Fingerprint: "fp"},
		Execution:  &domain.ExecutionSummary{Succeeded: 4, Failed: 1},
		FreedBytes: domain.ByteTotals{Media: 3 << 20, Email: 1 << 10},
	}
	for i := 0; i < quarantined; i++ {
		r.Quarantine = append(r.Quarantine, domain.QuarantineItem{
			ItemID: strings.Repeat("q", 8) + string(rune('a'+i%26)),
			Reason: domain.ReasonAmbiguous,
		})
	}
	return r
}

func TestToDocument_FlattensQueryFields(t *testing.T) {
	a := &ReportAdapter{now: func() time.Time { return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) }, retention: 24 * time.Hour}

	doc, err := a.toDocument(sampleReport(1))
	require.NoError(t, err)

	assert.Equal(t, "run-1", doc.RunID)
	assert.Equal(t, "completed", doc.Status)
	assert.Equal(t, 5, doc.PlanActions)
	assert.Equal(t, "fp", doc.Fingerprint)
	assert.Equal(t, 2, doc.MediaDeleted)
	assert.Equal(t, 3, doc.EmailDeleted)
	assert.Equal(t, 1, doc.FailedActions)
	assert.Equal(t, int64(3<<20+1<<10), doc.FreedBytes)
	require.NotNil(t, doc.ExpiresAt)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), *doc.ExpiresAt)
}

func TestToDocument_CompressesLargeReports(t *testing.T) {
	a := &ReportAdapter{now: time.Now}

	doc, err := a.toDocument(sampleReport(200))
	require.NoError(t, err)
	assert.True(t, doc.IsCompressed)
	assert.Less(t, doc.CompressedSize, doc.OriginalSize)
	assert.Nil(t, doc.ExpiresAt)

	back, err := fromDocument(doc)
	require.NoError(t, err)
	assert.Len(t, back.Quarantine, 200)
	assert.Equal(t, domain.RunCompleted, back.Status)
}

func TestFromDocument_CorruptContent(t *testing.T) {
	_, err := fromDocument(&reportDocument{RunID: "x", Content: []byte("not gzip"), IsCompressed: true})
	assert.Error(t, err)
}
