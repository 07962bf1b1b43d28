package provider

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cleanup_worker/core/domain"
	"cleanup_worker/core/port/out"
	"cleanup_worker/pkg/apperr"
	"cleanup_worker/pkg/metrics"
	"cleanup_worker/pkg/ratelimit"
	"cleanup_worker/pkg/resilience"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const driveService = "drive"

const driveFileFields = "nextPageToken, files(id, name, mimeType, size, createdTime, modifiedTime, imageMediaMetadata/time)"

// exifTimeLayout is the layout of imageMediaMetadata.time.
const exifTimeLayout = "2006:01:02 15:04:05"

// DefaultImageMimeTypes are the photo formats the cleaner scans.
var DefaultImageMimeTypes = []string{
	"image/jpeg", "image/png", "image/gif", "image/bmp", "image/webp", "image/heic", "image/heif",
}

// DefaultVideoMimeTypes are the video formats the cleaner scans.
var DefaultVideoMimeTypes = []string{
	"video/mp4", "video/quicktime", "video/x-msvideo", "video/x-matroska", "video/webm", "video/3gpp",
}

// =============================================================================
// Configuration
// =============================================================================

type DriveConfig struct {
	// MimeTypes restricts listing; empty means every image and video.
	MimeTypes []string
	// MinSizeBytes skips smaller files at listing time.
	MinSizeBytes int64
	// DeleteMode is "trash" (reversible, default) or "delete" (permanent).
	DeleteMode string
	PageSize   int64
	// MaxDownloadBytes caps what face extraction will read.
	MaxDownloadBytes int64
}

func DefaultDriveConfig() DriveConfig {
	return DriveConfig{
		DeleteMode:       DeleteModeTrash,
		PageSize:         200,
		MaxDownloadBytes: 64 << 20,
	}
}

func (c DriveConfig) Validate() error {
	switch c.DeleteMode {
	case DeleteModeTrash, DeleteModePermanent:
	default:
		return apperr.ConfigErrorf("drive delete mode %q must be %q or %q", c.DeleteMode, DeleteModeTrash, DeleteModePermanent)
	}
	if c.PageSize <= 0 || c.PageSize > 1000 {
		return apperr.ConfigErrorf("drive page size %d must be in (0, 1000]", c.PageSize)
	}
	if c.MinSizeBytes < 0 {
		return apperr.ConfigErrorf("drive min size %d must be >= 0", c.MinSizeBytes)
	}
	if c.MaxDownloadBytes <= 0 {
		return apperr.ConfigErrorf("drive max download %d must be > 0", c.MaxDownloadBytes)
	}
	return nil
}

// BuildDriveQuery returns the files.list q expression.
func BuildDriveQuery(mimeTypes []string) string {
	q := "trashed = false and 'me' in owners and mimeType != 'application/vnd.google-apps.folder'"
	if len(mimeTypes) == 0 {
		return q + " and (mimeType contains 'image/' or mimeType contains 'video/')"
	}
	terms := make([]string, 0, len(mimeTypes))
	for _, m := range mimeTypes {
		terms = append(terms, fmt.Sprintf("mimeType = '%s'", strings.ReplaceAll(m, "'", `\'`)))
	}
	return q + " and (" + strings.Join(terms, " or ") + ")"
}

// =============================================================================
// DriveSource
// =============================================================================

// DriveSource implements out.MediaSource and out.MediaDownloader over Drive v3.
type DriveSource struct {
	svc     *drive.Service
	cfg     DriveConfig
	query   string
	cb      *gobreaker.CircuitBreaker
	limiter ratelimit.Limiter
	faces   out.FaceExtractor
}

var (
	_ out.MediaSource     = (*DriveSource)(nil)
	_ out.MediaDownloader = (*DriveSource)(nil)
)

func NewDriveSource(ctx context.Context, ts oauth2.TokenSource, cfg DriveConfig, limiter ratelimit.Limiter) (*DriveSource, error) {
	svc, err := drive.NewService(ctx, option.WithHTTPClient(authorizedClient(ctx, ts)))
	if err != nil {
		return nil, apperr.ConfigErrorf("create drive service: %v", err)
	}
	return NewDriveSourceWithService(svc, cfg, limiter)
}

func NewDriveSourceWithService(svc *drive.Service, cfg DriveConfig, limiter ratelimit.Limiter) (*DriveSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	return &DriveSource{
		svc:     svc,
		cfg:     cfg,
		query:   BuildDriveQuery(cfg.MimeTypes),
		cb:      resilience.NewCircuitBreaker("drive-api"),
		limiter: limiter,
	}, nil
}

// SetFaceExtractor installs the pipeline used by FetchFaces. The extractor
// usually downloads through this same source, hence the setter.
func (s *DriveSource) SetFaceExtractor(x out.FaceExtractor) {
	s.faces = x
}

func (s *DriveSource) ListItems(ctx context.Context, cursor string) (*out.MediaPage, error) {
	var resp *drive.FileList
	err := s.call(ctx, "list", "", func() error {
		req := s.svc.Files.List().
			Q(s.query).
			PageSize(s.cfg.PageSize).
			OrderBy("createdTime").
			Fields(driveFileFields)
		if cursor != "" {
			req = req.PageToken(cursor)
		}
		var err error
		resp, err = req.Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	page := &out.MediaPage{NextCursor: resp.NextPageToken}
	for _, f := range resp.Files {
		if f.Size < s.cfg.MinSizeBytes {
			continue
		}
		page.Items = append(page.Items, convertDriveFile(f))
	}
	return page, nil
}

// FetchFaces runs face extraction. Without an extractor it reports the
// classifier unavailable so the decision unit keeps the item.
func (s *DriveSource) FetchFaces(ctx context.Context, item *domain.MediaItem) ([]domain.FaceObservation, error) {
	if s.faces == nil {
		return nil, apperr.ClassifierUnavailable("face-extractor", fmt.Errorf("not configured"))
	}
	return s.faces.Extract(ctx, item)
}

func (s *DriveSource) Download(ctx context.Context, itemID string) ([]byte, error) {
	var data []byte
	err := s.call(ctx, "download", itemID, func() error {
		resp, err := s.svc.Files.Get(itemID).Context(ctx).Download()
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err = io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxDownloadBytes+1))
		if err != nil {
			return err
		}
		if int64(len(data)) > s.cfg.MaxDownloadBytes {
			return apperr.RemoteRejected(driveService, 0, fmt.Errorf("file %s exceeds %d bytes", itemID, s.cfg.MaxDownloadBytes))
		}
		return nil
	})
	return data, err
}

func (s *DriveSource) DeleteItem(ctx context.Context, itemID string) error {
	start := time.Now()
	err := classifyError(driveService, itemID, resilience.Execute(s.cb, func() error {
		if s.cfg.DeleteMode == DeleteModePermanent {
			return s.svc.Files.Delete(itemID).Context(ctx).Do()
		}
		_, err := s.svc.Files.Update(itemID, &drive.File{Trashed: true}).Fields("id").Context(ctx).Do()
		return err
	}, tripsBreaker))
	metrics.ObserveRemoteCall(driveService, s.cfg.DeleteMode, start, err)
	return err
}

func (s *DriveSource) call(ctx context.Context, op, itemID string, fn func() error) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	start := time.Now()
	err := classifyError(driveService, itemID, resilience.Execute(s.cb, fn, tripsBreaker))
	metrics.ObserveRemoteCall(driveService, op, start, err)
	return err
}

func convertDriveFile(f *drive.File) domain.MediaItem {
	item := domain.MediaItem{
		ID:        f.Id,
		Name:      f.Name,
		MimeType:  f.MimeType,
		Type:      domain.MediaTypeForMime(f.MimeType),
		SizeBytes: f.Size,
	}
	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		item.ModifiedAt = t.UTC()
	} else if t, err := time.Parse(time.RFC3339, f.CreatedTime); err == nil {
		item.ModifiedAt = t.UTC()
	}
	if f.ImageMediaMetadata != nil && f.ImageMediaMetadata.Time != "" {
		if t, err := time.Parse(exifTimeLayout, f.ImageMediaMetadata.Time); err == nil {
			item.CapturedAt = t.UTC()
		}
	}
	return item
}
