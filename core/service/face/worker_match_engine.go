package face

import (
	"math"
	"sort"

	"cleanup_worker/core/domain"
	"cleanup_worker/pkg/apperr"
)

// MatchPolicy holds the identification thresholds.
type MatchPolicy struct {
	Metric          Metric  `yaml:"metric"`
	MatchThreshold  float64 `yaml:"match_threshold"`
	AmbiguityMargin float64 `yaml:"ambiguity_margin"`
}

// Validate rejects thresholds outside their domain.
func (p MatchPolicy) Validate() error {
	if math.IsNaN(p.MatchThreshold) || p.MatchThreshold < -1 || p.MatchThreshold > 1 {
		return apperr.ConfigErrorf("match threshold %v out of range [-1,1]", p.MatchThreshold)
	}
	if math.IsNaN(p.AmbiguityMargin) || p.AmbiguityMargin < 0 {
		return apperr.ConfigErrorf("ambiguity margin %v must be >= 0", p.AmbiguityMargin)
	}
	return nil
}

// MatchEngine scores face observations against an EmbeddingStore.
// It is safe for concurrent use.
type MatchEngine struct {
	store  *EmbeddingStore
	policy MatchPolicy
}

func NewMatchEngine(store *EmbeddingStore, policy MatchPolicy) (*MatchEngine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &MatchEngine{store: store, policy: policy}, nil
}

// Policy returns the thresholds in use.
func (e *MatchEngine) Policy() MatchPolicy { return e.policy }

// Store returns the backing store.
func (e *MatchEngine) Store() *EmbeddingStore { return e.store }

type personScore struct {
	id    string
	score float64
}

// Match produces the verdict for one observation.
func (e *MatchEngine) Match(obs domain.FaceObservation) domain.MatchVerdict {
	if e.store.Empty() {
		return domain.MatchVerdict{Status: domain.VerdictUnverifiable}
	}

	query, err := e.store.prepare(obs.Embedding)
	if err != nil {
		return domain.MatchVerdict{Status: domain.VerdictUnverifiable}
	}

	best := make(map[string]float64, len(e.store.persons))
	for _, ref := range e.store.refs {
		sim := e.store.similarity(query, ref.vector)
		if math.IsNaN(sim) {
			continue
		}
		if cur, ok := best[ref.personID]; !ok || sim > cur {
			best[ref.personID] = sim
		}
	}
	if len(best) == 0 {
		return domain.MatchVerdict{Status: domain.VerdictUnverifiable}
	}

	ranked := make([]personScore, 0, len(best))
	for id, score := range best {
		ranked = append(ranked, personScore{id: id, score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].id < ranked[j].id
	})

	v := domain.MatchVerdict{
		BestPersonID: ranked[0].id,
		Similarity:   ranked[0].score,
		Margin:       ranked[0].score,
	}
	hasRunnerUp := len(ranked) > 1
	if hasRunnerUp {
		v.RunnerUpID = ranked[1].id
		v.RunnerUp = ranked[1].score
		v.Margin = ranked[0].score - ranked[1].score
	}

	switch {
	case v.Similarity < e.policy.MatchThreshold:
		v.Status = domain.VerdictUnknown
	case hasRunnerUp && v.Margin < e.policy.AmbiguityMargin:
		v.Status = domain.VerdictAmbiguous
	default:
		v.Status = domain.VerdictKnown
		v.PersonID = v.BestPersonID
	}
	return v
}

// MatchAll returns one verdict per observation, in order.
func (e *MatchEngine) MatchAll(faces []domain.FaceObservation) []domain.MatchVerdict {
	verdicts := make([]domain.MatchVerdict, len(faces))
	for i, f := range faces {
		verdicts[i] = e.Match(f)
	}
	return verdicts
}
