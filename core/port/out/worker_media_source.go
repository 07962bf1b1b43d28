package out

import (
	"context"

	"cleanup_worker/core/domain"
)

// MediaPage is one page of a media listing.
type MediaPage struct {
	Items      []domain.MediaItem
	NextCursor string
}

// MediaSource is the remote media store (Drive).
// An empty NextCursor ends the listing.
type MediaSource interface {
	ListItems(ctx context.Context, cursor string) (*MediaPage, error)
	FetchFaces(ctx context.Context, item *domain.MediaItem) ([]domain.FaceObservation, error)
	DeleteItem(ctx context.Context, itemID string) error
}

// MediaDownloader fetches the raw bytes of a media item for face extraction.
type MediaDownloader interface {
	Download(ctx context.Context, itemID string) ([]byte, error)
}

// FaceRegion is a cropped face handed to the embedder.
type FaceRegion struct {
	Box                domain.BoundingBox
	DetectorConfidence float64
	Pixels             []byte // PNG-encoded crop
}

// FaceDetector locates faces in a decoded image; it is a black box.
type FaceDetector interface {
	Detect(ctx context.Context, image []byte) ([]FaceRegion, error)
}

// FaceEmbedder maps a face crop to an identity vector; it is a black box.
type FaceEmbedder interface {
	Embed(ctx context.Context, region FaceRegion) (domain.Embedding, error)
}

// FaceExtractor runs the detect-and-embed pipeline for one media item.
// It may fill item.CapturedAt from embedded metadata.
type FaceExtractor interface {
	Extract(ctx context.Context, item *domain.MediaItem) ([]domain.FaceObservation, error)
}
