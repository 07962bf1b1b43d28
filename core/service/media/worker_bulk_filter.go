package media

import (
	"slices"
	"strings"
	"time"

	"cleanup_worker/core/domain"
	"cleanup_worker/pkg/apperr"
)

// BulkFilter selects large, faceless items that may be deleted outright.
// An item must satisfy every configured criterion. Only photos qualify: other
// media types are never face-scanned, so "no faces" is unknown for them.
type BulkFilter struct {
	Enabled      bool               `yaml:"enabled"`
	MediaTypes   []domain.MediaType `yaml:"media_types"`
	MimeTypes    []string           `yaml:"mime_types"`
	MinSizeBytes int64              `yaml:"min_size_bytes"`
	MinAge       time.Duration      `yaml:"min_age"`
}

// Validate rejects negative bounds and media types that are not face-scanned.
func (f BulkFilter) Validate() error {
	for _, t := range f.MediaTypes {
		if t != domain.MediaPhoto {
			return apperr.ConfigErrorf("bulk filter media type %q is not face-scanned; only %q is allowed", t, domain.MediaPhoto)
		}
	}
	if f.MinSizeBytes < 0 {
		return apperr.ConfigErrorf("bulk filter min size %d must be >= 0", f.MinSizeBytes)
	}
	if f.MinAge < 0 {
		return apperr.ConfigErrorf("bulk filter min age %s must be >= 0", f.MinAge)
	}
	return nil
}

// Matches reports whether item qualifies as a bulk-delete candidate at now.
func (f BulkFilter) Matches(item *domain.MediaItem, now time.Time) bool {
	if !f.Enabled || item == nil || item.Type != domain.MediaPhoto {
		return false
	}
	if len(f.MediaTypes) > 0 && !slices.Contains(f.MediaTypes, item.Type) {
		return false
	}
	if len(f.MimeTypes) > 0 && !slices.ContainsFunc(f.MimeTypes, func(m string) bool {
		return strings.EqualFold(m, item.MimeType)
	}) {
		return false
	}
	if item.SizeBytes < f.MinSizeBytes {
		return false
	}
	if f.MinAge > 0 && item.Age(now) < f.MinAge {
		return false
	}
	return true
}
