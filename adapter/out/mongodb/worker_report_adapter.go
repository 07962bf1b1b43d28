package mongodb

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cleanup_worker/core/domain"
	"cleanup_worker/core/port/out"
	"cleanup_worker/pkg/apperr"

	"github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// =============================================================================
// MongoDB Run Report Adapter
// =============================================================================

const (
	collectionRunReports = "run_reports"

	// Reports larger than this are stored gzip-compressed.
	reportCompressionThreshold = 512
)

// ReportAdapter implements out.ReportRepository using MongoDB.
type ReportAdapter struct {
	collection *mongo.Collection
	retention  time.Duration
	now        func() time.Time
}

// NewReportAdapter archives reports for retention; zero keeps them forever.
func NewReportAdapter(db *mongo.Database, retention time.Duration) *ReportAdapter {
	return &ReportAdapter{
		collection: db.Collection(collectionRunReports),
		retention:  retention,
		now:        time.Now,
	}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *ReportAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "run_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "started_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "started_at", Value: -1}},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}
	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// =============================================================================
// Document Model
// =============================================================================

// reportDocument keeps the queryable fields flat and the full report as JSON.
type reportDocument struct {
	RunID      string    `bson:"run_id"`
	Status     string    `bson:"status"`
	DryRun     bool      `bson:"dry_run"`
	StartedAt  time.Time `bson:"started_at"`
	FinishedAt time.Time `bson:"finished_at"`

	PlanActions    int    `bson:"plan_actions"`
	Fingerprint    string `bson:"fingerprint,omitempty"`
	MediaDeleted   int    `bson:"media_deleted"`
	EmailDeleted   int    `bson:"email_deleted"`
	Quarantined    int    `bson:"quarantined"`
	FailedActions  int    `bson:"failed_actions"`
	FreedBytes     int64  `bson:"freed_bytes"`
	ErrorMessage   string `bson:"error_message,omitempty"`
	Content        []byte `bson:"content"`
	IsCompressed   bool   `bson:"is_compressed"`
	OriginalSize   int64  `bson:"original_size"`
	CompressedSize int64  `bson:"compressed_size"`

	CreatedAt time.Time  `bson:"created_at"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty"`
}

// =============================================================================
// Operations
// =============================================================================

// Save upserts the report by run id.
func (a *ReportAdapter) Save(ctx context.Context, report *domain.RunReport) error {
	doc, err := a.toDocument(report)
	if err != nil {
		return fmt.Errorf("failed to convert report to document: %w", err)
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := a.collection.ReplaceOne(ctx, bson.M{"run_id": report.RunID}, doc, opts); err != nil {
		return apperr.DatabaseError("save run report", err)
	}
	return nil
}

func (a *ReportAdapter) GetByRunID(ctx context.Context, runID string) (*domain.RunReport, error) {
	return a.findOne(ctx, bson.M{"run_id": runID}, nil)
}

// Latest returns the most recently started run.
func (a *ReportAdapter) Latest(ctx context.Context) (*domain.RunReport, error) {
	return a.findOne(ctx, bson.M{}, options.FindOne().SetSort(bson.D{{Key: "started_at", Value: -1}}))
}

// List returns up to limit reports, newest first.
func (a *ReportAdapter) List(ctx context.Context, limit int) ([]*domain.RunReport, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}

	cursor, err := a.collection.Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, apperr.DatabaseError("list run reports", err)
	}
	defer cursor.Close(ctx)

	var reports []*domain.RunReport
	for cursor.Next(ctx) {
		var doc reportDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode report: %w", err)
		}
		report, err := fromDocument(&doc)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	if err := cursor.Err(); err != nil {
		return nil, apperr.DatabaseError("list run reports", err)
	}
	return reports, nil
}

func (a *ReportAdapter) findOne(ctx context.Context, filter bson.M, opts *options.FindOneOptions) (*domain.RunReport, error) {
	var doc reportDocument
	var err error
	if opts != nil {
		err = a.collection.FindOne(ctx, filter, opts).Decode(&doc)
	} else {
		err = a.collection.FindOne(ctx, filter).Decode(&doc)
	}
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("run report")
		}
		return nil, apperr.DatabaseError("get run report", err)
	}
	return fromDocument(&doc)
}

// =============================================================================
// Conversion Helpers
// =============================================================================

func (a *ReportAdapter) toDocument(report *domain.RunReport) (*reportDocument, error) {
	content, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	originalSize := int64(len(content))
	compressed := false
	if originalSize > reportCompressionThreshold {
		if content, err = compressReport(content); err != nil {
			return nil, fmt.Errorf("failed to compress report: %w", err)
		}
		compressed = true
	}

	now := a.now().UTC()
	doc := &reportDocument{
		RunID:          report.RunID,
		Status:         string(report.Status),
		DryRun:         report.DryRun,
		StartedAt:      report.StartedAt,
		FinishedAt:     report.FinishedAt,
		PlanActions:    report.Plan.Len(),
		MediaDeleted:   report.Media.Delete,
		EmailDeleted:   report.Email.Delete,
		FreedBytes:     report.FreedBytes.Total(),
		Quarantined:    len(report.Quarantine),
		ErrorMessage:   report.Error,
		Content:        content,
		IsCompressed:   compressed,
		OriginalSize:   originalSize,
		CompressedSize: int64(len(content)),
		CreatedAt:      now,
	}
	if report.Plan != nil {
		doc.Fingerprint = report.Plan.Fingerprint
	}
	if report.Execution != nil {
		doc.FailedActions = report.Execution.Failed
	}
	if a.retention > 0 {
		exp := now.Add(a.retention)
		doc.ExpiresAt = &exp
	}
	return doc, nil
}

func fromDocument(doc *reportDocument) (*domain.RunReport, error) {
	content := doc.Content
	if doc.IsCompressed {
		var err error
		if content, err = decompressReport(content); err != nil {
			return nil, fmt.Errorf("failed to decompress report %s: %w", doc.RunID, err)
		}
	}
	var report domain.RunReport
	if err := json.Unmarshal(content, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report %s: %w", doc.RunID, err)
	}
	return &report, nil
}

// =============================================================================
// Compression Helpers
// =============================================================================

func compressReport(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressReport(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// =============================================================================
// Interface Compliance
// =============================================================================

var _ out.ReportRepository = (*ReportAdapter)(nil)
