package classification

import (
	"context"
	"math"

	"cleanup_worker/core/domain"
	"cleanup_worker/pkg/apperr"
)

// EscalationPolicy gates and resolves escalation.
type EscalationPolicy struct {
	// EscalateBelow (τ_escalate): rule outcomes with lower confidence are escalated.
	EscalateBelow float64 `yaml:"escalate_below"`

	// MinLLMConfidence (τ_llm): an adjudicator DELETE needs at least this confidence.
	MinLLMConfidence float64 `yaml:"min_llm_confidence"`
}

func (p EscalationPolicy) Validate() error {
	if math.IsNaN(p.EscalateBelow) || p.EscalateBelow <= 0 || p.EscalateBelow > 1 {
		return apperr.ConfigErrorf("escalation threshold %v out of range (0,1]", p.EscalateBelow)
	}
	if math.IsNaN(p.MinLLMConfidence) || p.MinLLMConfidence < 0 || p.MinLLMConfidence > 1 {
		return apperr.ConfigErrorf("minimum adjudicator confidence %v out of range [0,1]", p.MinLLMConfidence)
	}
	return nil
}

// EmailDecisionUnit reconciles the rule engine and the adjudicator.
type EmailDecisionUnit struct {
	rules       *RuleEngine
	adjudicator Adjudicator
	policy      EscalationPolicy
}

func NewEmailDecisionUnit(rules *RuleEngine, adjudicator Adjudicator, policy EscalationPolicy) (*EmailDecisionUnit, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if adjudicator == nil {
		adjudicator = NullAdjudicator{}
	}
	return &EmailDecisionUnit{rules: rules, adjudicator: adjudicator, policy: policy}, nil
}

// NeedsEscalation reports whether a rule result cannot be final on its own.
func (p EscalationPolicy) NeedsEscalation(rule domain.RuleResult) bool {
	return rule.Disposition == domain.DispositionUncertain || rule.Confidence < p.EscalateBelow
}

// Decide classifies msg, invoking the adjudicator only when the rule result is not confident.
func (u *EmailDecisionUnit) Decide(ctx context.Context, msg *domain.EmailMessage) domain.EmailDisposition {
	rule := u.rules.Evaluate(msg)
	if !u.policy.NeedsEscalation(rule) {
		return Reconcile(msg, rule, nil, u.policy)
	}
	adj := u.adjudicator.Adjudicate(ctx, msg, rule)
	return Reconcile(msg, rule, &adj, u.policy)
}

// Reconcile is total over rule dispositions and adjudication outcomes.
// adj is nil when no escalation took place.
func Reconcile(msg *domain.EmailMessage, rule domain.RuleResult, adj *Adjudication, p EscalationPolicy) domain.EmailDisposition {
	d := domain.EmailDisposition{
		MessageID:  msg.ID,
		FetchOrder: msg.FetchOrder,
		Rule:       rule,
		Escalated:  adj != nil,
	}

	if adj == nil {
		if p.NeedsEscalation(rule) {
			d.Decision = domain.DispositionKeep
			d.Source = domain.SourceCombined
			d.Reason = string(domain.ReasonEscalationMissing)
			d.Confidence = keepConfidence(rule)
			return d
		}
		d.Decision = rule.Disposition
		d.Source = domain.SourceRule
		d.Confidence = rule.Confidence
		d.Reason = "rule score"
		return d
	}

	if adj.Kind != AdjudicationAvailable {
		d.Decision = domain.DispositionKeep
		d.Source = domain.SourceCombined
		d.Reason = string(domain.ReasonEscalationMissing)
		d.Confidence = keepConfidence(rule)
		return d
	}

	switch adj.Label {
	case domain.DispositionDelete:
		if adj.Confidence >= p.MinLLMConfidence {
			d.Decision = domain.DispositionDelete
			d.Source = domain.SourceLLM
			d.Confidence = adj.Confidence
			d.Reason = "adjudicator delete"
			return d
		}
		if rule.Disposition == domain.DispositionDelete {
			combined := 1 - (1-rule.Confidence)*(1-adj.Confidence)
			if combined >= p.MinLLMConfidence {
				d.Decision = domain.DispositionDelete
				d.Source = domain.SourceCombined
				d.Confidence = combined
				d.Reason = "rule and adjudicator agree"
				return d
			}
		}
		d.Decision = domain.DispositionKeep
		d.Source = domain.SourceCombined
		d.Confidence = 1 - adj.Confidence
		d.Reason = "low-confidence delete"
		return d
	default:
		d.Decision = domain.DispositionKeep
		d.Source = domain.SourceLLM
		d.Confidence = adj.Confidence
		d.Reason = "adjudicator keep"
		return d
	}
}

func keepConfidence(rule domain.RuleResult) float64 {
	if rule.Disposition == domain.DispositionKeep {
		return rule.Confidence
	}
	return 0
}
