package classification

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"cleanup_worker/core/domain"
	"cleanup_worker/core/port/out"
	"cleanup_worker/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// =============================================================================
// Adjudication Outcome
// =============================================================================

// AdjudicationKind tags an Adjudication. The zero value is Unavailable.
type AdjudicationKind int

const (
	AdjudicationUnavailable AdjudicationKind = iota
	AdjudicationAvailable
)

// Adjudication is the escalation result: either a KEEP/DELETE judgement or a reason it is missing.
type Adjudication struct {
	Kind       AdjudicationKind   `json:"kind"`
	Label      domain.Disposition `json:"label"`
	Confidence float64            `json:"confidence"`
	Reason     string             `json:"reason,omitempty"`
}

// Available builds a usable judgement; confidence is clamped to [0,1].
func Available(label domain.Disposition, confidence float64, reason string) Adjudication {
	return Adjudication{
		Kind:       AdjudicationAvailable,
		Label:      label,
		Confidence: math.Min(1, math.Max(0, confidence)),
		Reason:     reason,
	}
}

// Unavailable builds the missing-judgement variant.
func Unavailable(reason string) Adjudication {
	return Adjudication{Kind: AdjudicationUnavailable, Reason: reason}
}

// Adjudicator resolves low-confidence rule outcomes. Implementations never return errors;
// every failure becomes an Unavailable outcome.
type Adjudicator interface {
	Adjudicate(ctx context.Context, msg *domain.EmailMessage, rule domain.RuleResult) Adjudication
}

// =============================================================================
// Null Adjudicator
// =============================================================================

// NullAdjudicator is the variant used when no model is configured.
type NullAdjudicator struct {
	Reason string
}

func (a NullAdjudicator) Adjudicate(context.Context, *domain.EmailMessage, domain.RuleResult) Adjudication {
	reason := a.Reason
	if reason == "" {
		reason = "no adjudicator configured"
	}
	return Unavailable(reason)
}

// =============================================================================
// LLM Adjudicator
// =============================================================================

// LLMAdjudicator escalates to a language model classifier.
type LLMAdjudicator struct {
	classifier out.LLMClassifier
	timeout    time.Duration
	log        zerolog.Logger
}

// NewLLMAdjudicator wraps classifier; timeout bounds each call.
func NewLLMAdjudicator(classifier out.LLMClassifier, timeout time.Duration) *LLMAdjudicator {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &LLMAdjudicator{
		classifier: classifier,
		timeout:    timeout,
		log:        logger.Component("llm-adjudicator"),
	}
}

func (a *LLMAdjudicator) Adjudicate(ctx context.Context, msg *domain.EmailMessage, rule domain.RuleResult) Adjudication {
	if a.classifier == nil {
		return Unavailable("no adjudicator configured")
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	judgement, err := a.classifier.ClassifyEmail(callCtx, FeaturesFor(msg, rule))
	if err != nil {
		a.log.Warn().Err(err).Str("message_id", msg.ID).Msg("adjudication failed, falling back")
		return Unavailable("adjudicator error: " + err.Error())
	}
	return ValidateJudgement(judgement)
}

// ValidateJudgement turns a raw model answer into an outcome; malformed answers are Unavailable.
func ValidateJudgement(j *out.LLMJudgement) Adjudication {
	if j == nil {
		return Unavailable("empty adjudicator response")
	}
	if math.IsNaN(j.Confidence) || math.IsInf(j.Confidence, 0) {
		return Unavailable("non-finite adjudicator confidence")
	}
	switch strings.ToUpper(strings.TrimSpace(j.Label)) {
	case "DELETE":
		return Available(domain.DispositionDelete, j.Confidence, j.Reason)
	case "KEEP":
		return Available(domain.DispositionKeep, j.Confidence, j.Reason)
	default:
		return Unavailable(fmt.Sprintf("malformed adjudicator label %q", j.Label))
	}
}

// FeaturesFor builds the adjudicator input including the rule engine's partial reasoning.
func FeaturesFor(msg *domain.EmailMessage, rule domain.RuleResult) *out.EmailFeatures {
	return &out.EmailFeatures{
		MessageID:       msg.ID,
		Sender:          msg.Sender,
		Subject:         msg.Subject,
		BodyExcerpt:     msg.BodyExcerpt,
		LabelHints:      msg.LabelHints,
		SizeBytes:       msg.SizeBytes,
		RuleDisposition: rule.Disposition.String(),
		RuleScore:       rule.Score,
		RuleConfidence:  rule.Confidence,
		RuleSignals:     rule.Signals,
	}
}

// =============================================================================
// Cached Adjudicator
// =============================================================================

const adjudicationCachePrefix = "adjudication:"

// CachedAdjudicator replays earlier judgements for unchanged messages.
// Only Available outcomes are cached.
type CachedAdjudicator struct {
	next  Adjudicator
	cache out.Cache
	ttl   time.Duration
	log   zerolog.Logger
}

func NewCachedAdjudicator(next Adjudicator, cache out.Cache, ttl time.Duration) *CachedAdjudicator {
	return &CachedAdjudicator{
		next:  next,
		cache: cache,
		ttl:   ttl,
		log:   logger.Component("adjudication-cache"),
	}
}

func (a *CachedAdjudicator) Adjudicate(ctx context.Context, msg *domain.EmailMessage, rule domain.RuleResult) Adjudication {
	key := adjudicationKey(msg)

	if data, err := a.cache.Get(ctx, key); err == nil && len(data) > 0 {
		var cached Adjudication
		if err := json.Unmarshal(data, &cached); err == nil && cached.Kind == AdjudicationAvailable {
			return cached
		}
	}

	result := a.next.Adjudicate(ctx, msg, rule)
	if result.Kind != AdjudicationAvailable {
		return result
	}
	if data, err := json.Marshal(result); err == nil {
		if err := a.cache.Set(ctx, key, data, a.ttl); err != nil {
			a.log.Debug().Err(err).Str("message_id", msg.ID).Msg("cache write failed")
		}
	}
	return result
}

// adjudicationKey covers the fields the model sees.
func adjudicationKey(msg *domain.EmailMessage) string {
	h := sha256.New()
	for _, part := range []string{msg.ID, msg.Sender, msg.Subject, msg.BodyExcerpt, strings.Join(msg.LabelHints, ",")} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return adjudicationCachePrefix + msg.ID + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}
