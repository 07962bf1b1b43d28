package face

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"cleanup_worker/core/domain"
	"cleanup_worker/pkg/apperr"

	"github.com/hupe1980/vecgo/distance"
)

// Metric selects how face embeddings are compared.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricDot       Metric = "dot"
	MetricEuclidean Metric = "euclidean"
)

// ParseMetric accepts the configured metric name.
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case "", MetricCosine:
		return MetricCosine, nil
	case MetricDot:
		return MetricDot, nil
	case MetricEuclidean, "l2":
		return MetricEuclidean, nil
	}
	return "", apperr.ConfigErrorf("unknown similarity metric %q", s)
}

func (m Metric) vecgo() distance.Metric {
	switch m {
	case MetricDot:
		return distance.MetricDot
	case MetricEuclidean:
		return distance.MetricL2
	default:
		return distance.MetricCosine
	}
}

type reference struct {
	personID string
	vector   []float32
}

// EmbeddingStore is the read-only catalog of known-person reference embeddings.
// It copies its input and is never mutated after construction.
type EmbeddingStore struct {
	metric  Metric
	dim     int
	persons []string
	names   map[string]string
	refs    []reference
}

// NewEmbeddingStore validates and loads persons. Cosine references are L2-normalized.
func NewEmbeddingStore(persons []domain.Person, metric Metric) (*EmbeddingStore, error) {
	s := &EmbeddingStore{
		metric: metric,
		names:  make(map[string]string, len(persons)),
	}

	for _, p := range persons {
		if p.ID == "" {
			return nil, apperr.ConfigError("person without id")
		}
		if _, dup := s.names[p.ID]; dup {
			return nil, apperr.ConfigErrorf("duplicate person id %q", p.ID)
		}
		if len(p.Embeddings) == 0 {
			return nil, apperr.ConfigErrorf("person %q has no reference embeddings", p.ID)
		}
		s.names[p.ID] = p.Name
		s.persons = append(s.persons, p.ID)

		for i, emb := range p.Embeddings {
			if !emb.Valid() {
				return nil, apperr.ConfigErrorf("person %q embedding %d is empty, zero or non-finite", p.ID, i)
			}
			if s.dim == 0 {
				s.dim = len(emb)
			} else if len(emb) != s.dim {
				return nil, apperr.ConfigErrorf("person %q embedding %d has dimension %d, want %d", p.ID, i, len(emb), s.dim)
			}

			vec := slices.Clone([]float32(emb))
			if metric == MetricCosine {
				normalized, ok := distance.NormalizeL2Copy(vec)
				if !ok {
					return nil, apperr.ConfigErrorf("person %q embedding %d cannot be normalized", p.ID, i)
				}
				vec = normalized
			}
			s.refs = append(s.refs, reference{personID: p.ID, vector: vec})
		}
	}

	slices.Sort(s.persons)
	return s, nil
}

// Empty reports whether the store holds no references.
func (s *EmbeddingStore) Empty() bool { return s == nil || len(s.refs) == 0 }

// Dimension is the shared embedding length, zero when empty.
func (s *EmbeddingStore) Dimension() int {
	if s == nil {
		return 0
	}
	return s.dim
}

// Metric returns the configured metric.
func (s *EmbeddingStore) Metric() Metric { return s.metric }

// PersonIDs returns sorted person ids.
func (s *EmbeddingStore) PersonIDs() []string {
	if s == nil {
		return nil
	}
	return slices.Clone(s.persons)
}

// PersonName returns the display name of a person.
func (s *EmbeddingStore) PersonName(id string) string { return s.names[id] }

// Len returns the number of reference embeddings.
func (s *EmbeddingStore) Len() int {
	if s == nil {
		return 0
	}
	return len(s.refs)
}

// similarity returns a higher-is-closer score for a prepared query.
func (s *EmbeddingStore) similarity(query, ref []float32) float64 {
	switch s.metric {
	case MetricEuclidean:
		return 1 / (1 + math.Sqrt(float64(distance.SquaredL2(query, ref))))
	default:
		return float64(distance.Dot(query, ref))
	}
}

// prepare validates and, for cosine, normalizes an observation embedding.
func (s *EmbeddingStore) prepare(e domain.Embedding) ([]float32, error) {
	if !e.Valid() {
		return nil, fmt.Errorf("invalid embedding")
	}
	if len(e) != s.dim {
		return nil, fmt.Errorf("embedding dimension %d, store dimension %d", len(e), s.dim)
	}
	if s.metric.vecgo() == distance.MetricCosine {
		v, ok := distance.NormalizeL2Copy(e)
		if !ok {
			return nil, fmt.Errorf("zero-norm embedding")
		}
		return v, nil
	}
	return e, nil
}
