package media

import (
	"math"
	"time"

	"cleanup_worker/core/domain"
	"cleanup_worker/core/service/face"
	"cleanup_worker/pkg/apperr"
)

// Policy configures the media decision.
type Policy struct {
	// NearThresholdBand (δ): unknown faces scoring at or above τ_match − δ are quarantined.
	NearThresholdBand float64 `yaml:"near_threshold_band"`

	// ConfidenceFloor: DELETE decisions below it become QUARANTINE.
	ConfidenceFloor float64 `yaml:"confidence_floor"`

	Bulk BulkFilter `yaml:"bulk_filter"`
}

func (p Policy) Validate() error {
	if math.IsNaN(p.NearThresholdBand) || p.NearThresholdBand < 0 {
		return apperr.ConfigErrorf("near-threshold band %v must be >= 0", p.NearThresholdBand)
	}
	if math.IsNaN(p.ConfidenceFloor) || p.ConfidenceFloor < 0 || p.ConfidenceFloor > 1 {
		return apperr.ConfigErrorf("confidence floor %v out of range [0,1]", p.ConfidenceFloor)
	}
	return p.Bulk.Validate()
}

// Context is the immutable input shared by every media decision in a run.
type Context struct {
	Match  face.MatchPolicy
	Policy Policy
	Now    time.Time
}

// Decide is a pure function of the item, its verdicts and the run context.
func Decide(item *domain.MediaItem, verdicts []domain.MatchVerdict, dc Context) domain.MediaDecision {
	d := domain.MediaDecision{
		ItemID:     item.ID,
		FetchOrder: item.FetchOrder,
		Verdicts:   verdicts,
	}

	if len(verdicts) == 0 {
		if dc.Policy.Bulk.Matches(item, dc.Now) {
			d.Decision = domain.DecisionDelete
			d.Reason = domain.ReasonBulkCandidate
			d.Confidence = 1
			return applyFloor(d, dc.Policy.ConfidenceFloor)
		}
		d.Decision = domain.DecisionKeep
		d.Reason = domain.ReasonNoFacesNotBulk
		d.Confidence = 1
		return d
	}

	var (
		known        bool
		knownSim     = math.Inf(-1)
		ambiguous    bool
		unverifiable bool
		maxUnknown   = math.Inf(-1)
	)
	for _, v := range verdicts {
		switch v.Status {
		case domain.VerdictKnown:
			known = true
			knownSim = math.Max(knownSim, v.Similarity)
		case domain.VerdictAmbiguous:
			ambiguous = true
			maxUnknown = math.Max(maxUnknown, v.Similarity)
		case domain.VerdictUnknown:
			maxUnknown = math.Max(maxUnknown, v.Similarity)
		default:
			unverifiable = true
		}
	}

	if known {
		d.Decision = domain.DecisionKeep
		d.Reason = domain.ReasonKnownPerson
		d.Confidence = clamp01(knownSim)
		return d
	}

	if unverifiable {
		d.Decision = domain.DecisionQuarantine
		d.Reason = domain.ReasonUnverifiable
		return d
	}

	bandFloor := dc.Match.MatchThreshold - dc.Policy.NearThresholdBand
	if ambiguous || maxUnknown >= bandFloor {
		d.Decision = domain.DecisionQuarantine
		d.Reason = domain.ReasonAmbiguous
		d.Confidence = clamp01(maxUnknown)
		return d
	}

	d.Decision = domain.DecisionDelete
	d.Reason = domain.ReasonUnknownFacesOnly
	d.Confidence = unknownConfidence(maxUnknown, bandFloor)
	return applyFloor(d, dc.Policy.ConfidenceFloor)
}

// Unavailable is the decision for an item whose faces could not be extracted.
func Unavailable(item *domain.MediaItem) domain.MediaDecision {
	return domain.MediaDecision{
		ItemID:     item.ID,
		FetchOrder: item.FetchOrder,
		Decision:   domain.DecisionKeep,
		Reason:     domain.ReasonDetectionFailed,
	}
}

// unknownConfidence grows with the distance of the best unknown score below the band.
func unknownConfidence(maxUnknown, bandFloor float64) float64 {
	if bandFloor <= 0 {
		return 1
	}
	return clamp01((bandFloor - maxUnknown) / bandFloor)
}

func applyFloor(d domain.MediaDecision, floor float64) domain.MediaDecision {
	if d.Decision == domain.DecisionDelete && d.Confidence < floor {
		d.Decision = domain.DecisionQuarantine
		d.Reason = domain.ReasonBelowFloor
	}
	return d
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// DecisionUnit binds a match engine to a media policy.
type DecisionUnit struct {
	engine *face.MatchEngine
	policy Policy
}

func NewDecisionUnit(engine *face.MatchEngine, policy Policy) (*DecisionUnit, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &DecisionUnit{engine: engine, policy: policy}, nil
}

// Context returns the immutable decision context for a run started at now.
func (u *DecisionUnit) Context(now time.Time) Context {
	return Context{Match: u.engine.Policy(), Policy: u.policy, Now: now}
}

// Decide matches the item's faces and applies the policy.
func (u *DecisionUnit) Decide(item *domain.MediaItem, dc Context) domain.MediaDecision {
	return Decide(item, u.engine.MatchAll(item.Faces), dc)
}
