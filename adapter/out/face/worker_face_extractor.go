// Package face turns downloaded media into face observations.
package face

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"
	"time"

	"cleanup_worker/core/domain"
	"cleanup_worker/core/port/out"
	"cleanup_worker/pkg/apperr"
	"cleanup_worker/pkg/logger"

	"github.com/bep/imagemeta"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/webp"
)

const extractorName = "face-extractor"

// exifDateLayout is the EXIF DateTimeOriginal layout.
const exifDateLayout = "2006:01:02 15:04:05"

// Config tunes extraction.
type Config struct {
	// MinDetectorConfidence drops weaker detections before embedding.
	MinDetectorConfidence float64
	// MaxFaces bounds embedder calls per image.
	MaxFaces int
	// Padding enlarges each crop by this fraction of the box size per side.
	Padding float64
}

func DefaultConfig() Config {
	return Config{
		MinDetectorConfidence: 0.6,
		MaxFaces:              32,
		Padding:               0.15,
	}
}

func (c Config) Validate() error {
	if c.MinDetectorConfidence < 0 || c.MinDetectorConfidence > 1 {
		return apperr.ConfigErrorf("min detector confidence %v must be in [0,1]", c.MinDetectorConfidence)
	}
	if c.MaxFaces <= 0 {
		return apperr.ConfigErrorf("max faces %d must be > 0", c.MaxFaces)
	}
	if c.Padding < 0 || c.Padding > 1 {
		return apperr.ConfigErrorf("crop padding %v must be in [0,1]", c.Padding)
	}
	return nil
}

// Extractor downloads, decodes, detects and embeds. Any failure that leaves
// the face set unknown is reported as CLASSIFIER_UNAVAILABLE so the item is kept.
type Extractor struct {
	downloader out.MediaDownloader
	detector   out.FaceDetector
	embedder   out.FaceEmbedder
	cfg        Config
	log        zerolog.Logger
}

var _ out.FaceExtractor = (*Extractor)(nil)

func NewExtractor(downloader out.MediaDownloader, detector out.FaceDetector, embedder out.FaceEmbedder, cfg Config) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Extractor{
		downloader: downloader,
		detector:   detector,
		embedder:   embedder,
		cfg:        cfg,
		log:        logger.Component("face-extractor"),
	}, nil
}

func (x *Extractor) Extract(ctx context.Context, item *domain.MediaItem) ([]domain.FaceObservation, error) {
	if item.Type != domain.MediaPhoto {
		return nil, apperr.ClassifierUnavailable(extractorName, fmt.Errorf("no face scan for %s items", item.Type))
	}

	data, err := x.downloader.Download(ctx, item.ID)
	if err != nil {
		return nil, apperr.ClassifierUnavailable(extractorName, fmt.Errorf("download %s: %w", item.ID, err))
	}

	if item.CapturedAt.IsZero() {
		if t, ok := CaptureTime(data); ok {
			item.CapturedAt = t
		}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.ClassifierUnavailable(extractorName, fmt.Errorf("decode %s: %w", item.ID, err))
	}

	regions, err := x.detector.Detect(ctx, data)
	if err != nil {
		return nil, apperr.ClassifierUnavailable(extractorName, fmt.Errorf("detect %s: %w", item.ID, err))
	}

	var faces []domain.FaceObservation
	for _, region := range regions {
		if region.DetectorConfidence < x.cfg.MinDetectorConfidence {
			continue
		}
		if len(faces) == x.cfg.MaxFaces {
			x.log.Warn().Str("item_id", item.ID).Int("max_faces", x.cfg.MaxFaces).Msg("face limit reached")
			// Faces beyond the limit stay unexamined; that must not look like "no known person".
			return nil, apperr.ClassifierUnavailable(extractorName, fmt.Errorf("more than %d faces in %s", x.cfg.MaxFaces, item.ID))
		}

		if len(region.Pixels) == 0 {
			crop, err := Crop(img, region.Box, x.cfg.Padding)
			if err != nil {
				return nil, apperr.ClassifierUnavailable(extractorName, err)
			}
			region.Pixels = crop
		}

		emb, err := x.embedder.Embed(ctx, region)
		if err != nil {
			return nil, apperr.ClassifierUnavailable(extractorName, fmt.Errorf("embed %s: %w", item.ID, err))
		}
		if !emb.Valid() {
			return nil, apperr.ClassifierUnavailable(extractorName, fmt.Errorf("invalid embedding for %s", item.ID))
		}

		faces = append(faces, domain.FaceObservation{
			Embedding:          emb,
			Region:             region.Box,
			DetectorConfidence: region.DetectorConfidence,
		})
	}

	x.log.Debug().Str("item_id", item.ID).Int("faces", len(faces)).Int("detections", len(regions)).Msg("faces extracted")
	return faces, nil
}

// Crop cuts box (grown by padding) out of img and returns it PNG-encoded.
func Crop(img image.Image, box domain.BoundingBox, padding float64) ([]byte, error) {
	if box.Width <= 0 || box.Height <= 0 {
		return nil, fmt.Errorf("empty face box %+v", box)
	}
	padX := int(float64(box.Width) * padding)
	padY := int(float64(box.Height) * padding)
	rect := image.Rect(box.X-padX, box.Y-padY, box.X+box.Width+padX, box.Y+box.Height+padY).
		Intersect(img.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("face box %+v outside image bounds %v", box, img.Bounds())
	}

	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CaptureTime reads EXIF DateTimeOriginal, falling back to DateTime.
func CaptureTime(data []byte) (time.Time, bool) {
	if len(data) == 0 {
		return time.Time{}, false
	}

	var original, fallback string
	_, err := imagemeta.Decode(imagemeta.Options{
		R:       bytes.NewReader(data),
		Sources: imagemeta.EXIF,
		ShouldHandleTag: func(ti imagemeta.TagInfo) bool {
			return ti.Tag == "DateTimeOriginal" || ti.Tag == "DateTime"
		},
		HandleTag: func(ti imagemeta.TagInfo) error {
			s, ok := ti.Value.(string)
			if !ok {
				return nil
			}
			switch ti.Tag {
			case "DateTimeOriginal":
				original = strings.TrimSpace(s)
			case "DateTime":
				fallback = strings.TrimSpace(s)
			}
			return nil
		},
	})
	if err != nil {
		return time.Time{}, false
	}

	for _, s := range []string{original, fallback} {
		if s == "" {
			continue
		}
		if t, err := time.Parse(exifDateLayout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
