package domain

import "math"

// Embedding is a fixed-length face identity vector.
type Embedding []float32

// Valid reports whether every component is finite and the vector is non-zero.
func (e Embedding) Valid() bool {
	if len(e) == 0 {
		return false
	}
	nonZero := false
	for _, v := range e {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
		if v != 0 {
			nonZero = true
		}
	}
	return nonZero
}

// Person is a known identity with its reference embeddings.
type Person struct {
	ID         string      `json:"id" yaml:"id"`
	Name       string      `json:"name" yaml:"name"`
	Embeddings []Embedding `json:"embeddings" yaml:"embeddings"`
}

// BoundingBox is the detected face region in pixel coordinates.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// FaceObservation belongs to exactly one MediaItem.
type FaceObservation struct {
	Embedding          Embedding   `json:"embedding"`
	Region             BoundingBox `json:"region"`
	DetectorConfidence float64     `json:"detector_confidence"`
}

// VerdictStatus is the identification outcome for one face.
type VerdictStatus int

const (
	// VerdictUnverifiable is the zero value: nothing could be compared.
	VerdictUnverifiable VerdictStatus = iota
	VerdictUnknown
	VerdictAmbiguous
	VerdictKnown
)

func (s VerdictStatus) String() string {
	switch s {
	case VerdictKnown:
		return "known"
	case VerdictUnknown:
		return "unknown"
	case VerdictAmbiguous:
		return "ambiguous"
	default:
		return "unverifiable"
	}
}

// MatchVerdict is derived per FaceObservation and never persisted on its own.
type MatchVerdict struct {
	Status VerdictStatus `json:"status"`

	// PersonID is set only when Status is VerdictKnown.
	PersonID string `json:"person_id,omitempty"`

	// BestPersonID is the nearest person regardless of thresholds.
	BestPersonID string  `json:"best_person_id,omitempty"`
	Similarity   float64 `json:"similarity"`
	RunnerUpID   string  `json:"runner_up_id,omitempty"`
	RunnerUp     float64 `json:"runner_up_similarity"`
	Margin       float64 `json:"margin"`
}

// IsKnown reports whether the verdict positively identifies a person.
func (v MatchVerdict) IsKnown() bool {
	return v.Status == VerdictKnown && v.PersonID != ""
}
