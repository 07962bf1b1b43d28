package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cleanup_worker/adapter/out/persistence"
	"cleanup_worker/core/domain"
	"cleanup_worker/core/port/out"
	"cleanup_worker/core/service/classification"
	"cleanup_worker/core/service/execution"
	"cleanup_worker/core/service/face"
	"cleanup_worker/core/service/media"
	"cleanup_worker/core/service/plan"
	"cleanup_worker/pkg/apperr"
	"cleanup_worker/pkg/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// =============================================================================
// Fakes
// =============================================================================

type fakeMedia struct {
	mu       sync.Mutex
	pages    map[string]*out.MediaPage
	faces    map[string][]domain.FaceObservation
	faceErr  map[string]error
	delErr   map[string]error
	listErr  error
	listed   int
	deleted  []string
	listGate chan struct{}
	entered  chan struct{}
}

func (f *fakeMedia) ListItems(ctx context.Context, cursor string) (*out.MediaPage, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.listGate != nil {
		<-f.listGate
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	f.listed++
	f.mu.Unlock()
	page, ok := f.pages[cursor]
	if !ok {
		return &out.MediaPage{}, nil
	}
	cp := *page
	cp.Items = append([]domain.MediaItem(nil), page.Items...)
	return &cp, nil
}

func (f *fakeMedia) FetchFaces(_ context.Context, item *domain.MediaItem) ([]domain.FaceObservation, error) {
	if err := f.faceErr[item.ID]; err != nil {
		return nil, err
	}
	return f.faces[item.ID], nil
}

func (f *fakeMedia) DeleteItem(_ context.Context, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.delErr[itemID]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, itemID)
	return nil
}

func (f *fakeMedia) deletes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type fakeEmail struct {
	mu       sync.Mutex
	messages []domain.EmailMessage
	deleted  []string
}

func (f *fakeEmail) ListMessages(ctx context.Context, _ string) (*out.EmailPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &out.EmailPage{Messages: append([]domain.EmailMessage(nil), f.messages...)}, nil
}

func (f *fakeEmail) DeleteMessage(_ context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeEmail) deletes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type fakeReports struct {
	mu    sync.Mutex
	saved []*domain.RunReport
}

func (r *fakeReports) Save(_ context.Context, report *domain.RunReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, report)
	return nil
}

func (r *fakeReports) GetByRunID(context.Context, string) (*domain.RunReport, error) {
	return nil, apperr.NotFound("report")
}

func (r *fakeReports) Latest(context.Context) (*domain.RunReport, error) {
	return nil, apperr.NotFound("report")
}

func (r *fakeReports) List(context.Context, int) ([]*domain.RunReport, error) { return nil, nil }

type fakeAudit struct {
	mu          sync.Mutex
	transitions int
	finished    []string
}

func (a *fakeAudit) PublishTransition(context.Context, *domain.LedgerEntry) error {
	a.mu.Lock()
	a.transitions++
	a.mu.Unlock()
	return nil
}

func (a *fakeAudit) PublishRunFinished(_ context.Context, report *domain.RunReport) error {
	a.mu.Lock()
	a.finished = append(a.finished, report.RunID)
	a.mu.Unlock()
	return nil
}

// =============================================================================
// Fixtures
// =============================================================================

func photo(id string, size int64) domain.MediaItem {
	return domain.MediaItem{ID: id, Name: id + ".jpg", Type: domain.MediaPhoto, MimeType: "image/jpeg", SizeBytes: size, ModifiedAt: testNow.Add(-48 * time.Hour)}
}

// m1 alice, m2 faceless bulk photo, m3 extraction failure, m4 near-threshold stranger.
func newFakeMedia() *fakeMedia {
	return &fakeMedia{
		pages: map[string]*out.MediaPage{
			"":   {Items: []domain.MediaItem{photo("m1", 1<<20), photo("m2", 10<<20)}, NextCursor: "p2"},
			"p2": {Items: []domain.MediaItem{photo("m3", 10<<20), photo("m4", 10<<20)}},
		},
		faces: map[string][]domain.FaceObservation{
			"m1": {{Embedding: domain.Embedding{1, 0, 0}, DetectorConfidence: 0.99}},
			"m4": {{Embedding: domain.Embedding{0.7071, 0.7071, 0}, DetectorConfidence: 0.99}},
		},
		faceErr: map[string]error{
			"m3": apperr.ClassifierUnavailable("face", errors.New("detector down")),
		},
	}
}

// e1 confident spam, e2 starred, e3 uncertain promotion with no adjudicator.
func newFakeEmail() *fakeEmail {
	return &fakeEmail{messages: []domain.EmailMessage{
		{ID: "e1", Sender: "deals@news.mailchimp.com", Subject: "Deal", LabelHints: []string{"SPAM"},
			Headers: domain.EmailHeaders{ListUnsubscribe: "<mailto:u@x.com>"}, SizeBytes: 2048},
		{ID: "e2", Sender: "mom@family.org", Subject: "Dinner", LabelHints: []string{"STARRED"}},
		{ID: "e3", Sender: "shop@store.com", Subject: "New arrivals", LabelHints: []string{"CATEGORY_PROMOTIONS"}},
	}}
}

type harness struct {
	runner  *Runner
	media   *fakeMedia
	email   *fakeEmail
	ledger  *persistence.MemoryLedger
	reports *fakeReports
	audit   *fakeAudit
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		media:   newFakeMedia(),
		email:   newFakeEmail(),
		ledger:  persistence.NewMemoryLedger(),
		reports: &fakeReports{},
		audit:   &fakeAudit{},
	}

	store, err := face.NewEmbeddingStore([]domain.Person{
		{ID: "alice", Name: "Alice", Embeddings: []domain.Embedding{{1, 0, 0}}},
		{ID: "bob", Name: "Bob", Embeddings: []domain.Embedding{{0, 1, 0}}},
	}, face.MetricCosine)
	require.NoError(t, err)
	engine, err := face.NewMatchEngine(store, face.MatchPolicy{Metric: face.MetricCosine, MatchThreshold: 0.8, AmbiguityMargin: 0.05})
	require.NoError(t, err)
	mediaUnit, err := media.NewDecisionUnit(engine, media.Policy{
		NearThresholdBand: 0.1,
		ConfidenceFloor:   0.2,
		Bulk: media.BulkFilter{
			Enabled:      true,
			MediaTypes:   []domain.MediaType{domain.MediaPhoto},
			MinSizeBytes: 5 << 20,
		},
	})
	require.NoError(t, err)

	rules, err := classification.NewRuleEngine(classification.DefaultRulePolicy())
	require.NoError(t, err)
	emailUnit, err := classification.NewEmailDecisionUnit(rules, classification.NullAdjudicator{},
		classification.EscalationPolicy{EscalateBelow: 0.7, MinLLMConfidence: 0.8})
	require.NoError(t, err)

	builder, err := plan.NewBuilder(100)
	require.NoError(t, err)

	execCfg := execution.DefaultConfig()
	execCfg.Backoff = resilience.Backoff{Base: time.Millisecond, Max: time.Millisecond}
	coord, err := execution.NewCoordinator(h.ledger, execution.SourceDeleter{Media: h.media, Email: h.email}, nil, execCfg,
		execution.WithAuditPublisher(h.audit))
	require.NoError(t, err)

	h.runner, err = NewRunner(Deps{
		MediaSource: h.media,
		EmailSource: h.email,
		MediaUnit:   mediaUnit,
		EmailUnit:   emailUnit,
		Builder:     builder,
		Ledger:      h.ledger,
		Coordinator: coord,
		Reports:     h.reports,
		Audit:       h.audit,
		Now:         func() time.Time { return testNow },
	}, cfg)
	require.NoError(t, err)
	return h
}

// =============================================================================
// Tests
// =============================================================================

func TestRunner_FullRun(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	report, err := h.runner.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.RunCompleted, report.Status)
	assert.Equal(t, domain.MediaCounts{Fetched: 4, Keep: 2, Delete: 1, Quarantine: 1}, report.Media)
	assert.Equal(t, 3, report.Email.Fetched)
	assert.Equal(t, 1, report.Email.Delete)
	assert.Equal(t, 2, report.Email.Keep)
	assert.Equal(t, 1, report.Email.Escalated)
	assert.Equal(t, 1, report.Email.EscalationsLost)
	assert.Equal(t, 2, report.Email.BySource[domain.SourceRule])
	assert.Equal(t, 1, report.Email.BySource[domain.SourceCombined])

	require.Len(t, report.Quarantine, 1)
	assert.Equal(t, "m4", report.Quarantine[0].ItemID)
	assert.Equal(t, "m4.jpg", report.Quarantine[0].Name)

	require.Equal(t, 2, report.Plan.Len())
	assert.Equal(t, domain.ItemRef{Kind: domain.ItemMedia, ID: "m2"}, report.Plan.Actions[0].Item)
	assert.Equal(t, domain.ItemRef{Kind: domain.ItemEmail, ID: "e1"}, report.Plan.Actions[1].Item)

	require.NotNil(t, report.Execution)
	assert.Equal(t, 2, report.Execution.Succeeded)
	assert.Len(t, report.LedgerDelta, 4)
	assert.Equal(t, []string{"m2"}, h.media.deletes())
	assert.Equal(t, []string{"e1"}, h.email.deletes())

	assert.Len(t, h.reports.saved, 1)
	assert.Equal(t, []string{report.RunID}, h.audit.finished)
	assert.Equal(t, 4, h.audit.transitions)
	assert.Same(t, report, h.runner.Latest())

	assert.Equal(t, domain.ByteTotals{Media: 10 << 20, Email: 2048}, report.PlannedBytes)
	assert.Equal(t, domain.ByteTotals{Media: 10 << 20, Email: 2048}, report.FreedBytes)
}

func TestRunner_AlreadyGoneFreesNothing(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.media.delErr = map[string]error{"m2": apperr.PermanentRemote("drive", "m2", errors.New("404"))}

	report, err := h.runner.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Execution.AlreadyGone)
	assert.Equal(t, int64(10<<20), report.PlannedBytes.Media)
	assert.Equal(t, domain.ByteTotals{Email: 2048}, report.FreedBytes)
}

func TestRunner_ReplayProducesIdenticalPlan(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DecisionWorkers = 8
	cfg.DryRun = true
	h := newHarness(t, cfg)

	first, err := h.runner.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	second, err := h.runner.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	require.NotZero(t, first.Plan.Len())
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Plan.Fingerprint, second.Plan.Fingerprint)
	assert.Equal(t, first.Plan.Actions, second.Plan.Actions)
	assert.Equal(t, first.Quarantine, second.Quarantine)
}

func TestRunner_LargeOldVideoIsKept(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	video := domain.MediaItem{ID: "v1", Name: "clip.mp4", Type: domain.MediaVideo, MimeType: "video/mp4",
		SizeBytes: 500 << 20, ModifiedAt: testNow.AddDate(-3, 0, 0)}
	h.media.pages = map[string]*out.MediaPage{"": {Items: []domain.MediaItem{video}}}

	report, err := h.runner.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.MediaCounts{Fetched: 1, Keep: 1}, report.Media)
	assert.Empty(t, h.media.deletes())
	assert.Zero(t, report.PlannedBytes.Media)
}

func TestRunner_SecondRunSkipsSucceeded(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	_, err := h.runner.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	second, err := h.runner.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 0, second.Plan.Len())
	assert.Equal(t, 2, second.Plan.ExcludedAlreadyDone)
	assert.Empty(t, second.LedgerDelta)
	assert.Equal(t, []string{"m2"}, h.media.deletes())
	assert.Equal(t, []string{"e1"}, h.email.deletes())
}

func TestRunner_DryRunDoesNotDelete(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	dry := true

	report, err := h.runner.Run(context.Background(), RunOptions{DryRun: &dry})
	require.NoError(t, err)

	assert.Equal(t, domain.RunDryRun, report.Status)
	assert.True(t, report.DryRun)
	assert.Equal(t, 2, report.Plan.Len())
	assert.Nil(t, report.Execution)
	assert.Equal(t, int64(10<<20+2048), report.PlannedBytes.Total())
	assert.Zero(t, report.FreedBytes.Total())
	assert.Empty(t, report.LedgerDelta)
	assert.Empty(t, h.media.deletes())
	assert.Empty(t, h.email.deletes())
}

func TestRunner_ItemLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMediaItems = 1
	cfg.MaxEmails = 2
	cfg.DryRun = true
	h := newHarness(t, cfg)

	report, err := h.runner.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Media.Fetched)
	assert.Equal(t, 2, report.Email.Fetched)
	assert.Equal(t, 1, h.media.listed)
}

func TestRunner_FetchFailureDeletesNothing(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.media.listErr = apperr.TransientRemote("drive", errors.New("503"))

	report, err := h.runner.Run(context.Background(), RunOptions{})
	require.Error(t, err)

	assert.Equal(t, domain.RunFailed, report.Status)
	assert.Contains(t, report.Error, "fetch media")
	assert.Nil(t, report.Plan)
	assert.Empty(t, h.email.deletes())
	assert.Len(t, h.reports.saved, 1)
}

func TestRunner_CancelledBeforeStart(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.runner.Run(ctx, RunOptions{})
	require.Error(t, err)

	assert.Equal(t, domain.RunCancelled, report.Status)
	assert.Empty(t, h.media.deletes())
	assert.Empty(t, h.email.deletes())
}

func TestRunner_RejectsConcurrentRun(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.media.listGate = make(chan struct{})
	h.media.entered = make(chan struct{}, 4)

	done := make(chan error, 1)
	go func() {
		_, err := h.runner.Run(context.Background(), RunOptions{})
		done <- err
	}()
	<-h.media.entered
	assert.True(t, h.runner.Running())

	_, err := h.runner.Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeConflict))

	close(h.media.listGate)
	require.NoError(t, <-done)
	assert.False(t, h.runner.Running())
}

func TestRunner_MediaOnly(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.runner.emailSource = nil

	report, err := h.runner.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 0, report.Email.Fetched)
	assert.Equal(t, 1, report.Plan.Len())
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{DecisionWorkers: 0}.Validate())
	assert.Error(t, Config{DecisionWorkers: 1, MaxEmails: -1}.Validate())
}

func TestNewRunner_RequiresUnitForSource(t *testing.T) {
	_, err := NewRunner(Deps{
		MediaSource: &fakeMedia{},
		Builder:     &plan.Builder{},
		Ledger:      persistence.NewMemoryLedger(),
		Coordinator: &execution.Coordinator{},
	}, DefaultConfig())
	require.Error(t, err)
	assert.True(t, apperr.IsConfiguration(err))
}

func TestDecideAll_VisitsEveryIndex(t *testing.T) {
	seen := make([]bool, 50)
	err := decideAll(context.Background(), 4, len(seen), func(_ context.Context, i int) {
		seen[i] = true
	})
	require.NoError(t, err)
	for i, ok := range seen {
		assert.True(t, ok, "index %d", i)
	}
}
