package domain

import (
	"fmt"
	"strings"
	"time"
)

// MediaType distinguishes photos from videos.
type MediaType string

const (
	MediaPhoto MediaType = "photo"
	MediaVideo MediaType = "video"
	MediaOther MediaType = "other"
)

// MediaItem is immutable once fetched for a decision pass.
type MediaItem struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Type       MediaType `json:"type"`
	MimeType   string    `json:"mime_type"`
	SizeBytes  int64     `json:"size_bytes"`
	CapturedAt time.Time `json:"captured_at,omitempty"`
	ModifiedAt time.Time `json:"modified_at"`

	// FetchOrder is the position in the source listing for this run.
	FetchOrder int `json:"fetch_order"`

	Faces []FaceObservation `json:"faces,omitempty"`
}

// Timestamp returns capture time when known, otherwise modification time.
func (m *MediaItem) Timestamp() time.Time {
	if !m.CapturedAt.IsZero() {
		return m.CapturedAt
	}
	return m.ModifiedAt
}

// Age is measured from Timestamp to now; unknown timestamps have zero age.
func (m *MediaItem) Age(now time.Time) time.Duration {
	ts := m.Timestamp()
	if ts.IsZero() || now.Before(ts) {
		return 0
	}
	return now.Sub(ts)
}

// MediaTypeForMime maps a MIME type to photo or video.
func MediaTypeForMime(mime string) MediaType {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return MediaPhoto
	case strings.HasPrefix(mime, "video/"):
		return MediaVideo
	default:
		return MediaOther
	}
}

// =============================================================================
// Decision
// =============================================================================

// Decision is the per-item outcome. The zero value is DecisionKeep.
type Decision int

const (
	DecisionKeep Decision = iota
	DecisionQuarantine
	DecisionDelete
)

func (d Decision) String() string {
	switch d {
	case DecisionDelete:
		return "DELETE"
	case DecisionQuarantine:
		return "QUARANTINE"
	default:
		return "KEEP"
	}
}

func (d Decision) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Decision) UnmarshalText(b []byte) error {
	switch string(b) {
	case "KEEP":
		*d = DecisionKeep
	case "QUARANTINE":
		*d = DecisionQuarantine
	case "DELETE":
		*d = DecisionDelete
	default:
		return fmt.Errorf("unknown decision %q", string(b))
	}
	return nil
}

// ReasonCode explains a decision in the audit trail.
type ReasonCode string

const (
	ReasonKnownPerson       ReasonCode = "known person present"
	ReasonBulkCandidate     ReasonCode = "no faces, matches bulk-candidate filter"
	ReasonNoFacesNotBulk    ReasonCode = "no faces, bulk filter not matched"
	ReasonAmbiguous         ReasonCode = "ambiguous, below confidence floor"
	ReasonUnverifiable      ReasonCode = "faces could not be verified against known persons"
	ReasonUnknownFacesOnly  ReasonCode = "only confidently unknown faces"
	ReasonBelowFloor        ReasonCode = "delete confidence below floor"
	ReasonDetectionFailed   ReasonCode = "face detection unavailable"
	ReasonEscalationMissing ReasonCode = "escalation unavailable"
)

// MediaDecision maps one MediaItem to a decision.
type MediaDecision struct {
	ItemID     string         `json:"item_id"`
	FetchOrder int            `json:"fetch_order"`
	Decision   Decision       `json:"decision"`
	Reason     ReasonCode     `json:"reason"`
	Confidence float64        `json:"confidence"`
	Verdicts   []MatchVerdict `json:"verdicts,omitempty"`
}
