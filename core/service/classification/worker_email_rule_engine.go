package classification

import (
	"math"
	"sort"
	"strings"

	"cleanup_worker/core/domain"
)

// =============================================================================
// Rule Features
// =============================================================================

// Contribution is one matched signal and its weight.
type Contribution struct {
	Signal string
	Weight float64
}

// RuleFeature scores one aspect of a message. It returns nil when nothing matches.
type RuleFeature interface {
	Name() string
	Score(msg *domain.EmailMessage) []Contribution
}

// Signal names
const (
	SignalListUnsubscribe   = "list-unsubscribe"
	SignalListID            = "list-id"
	SignalPrecedenceBulk    = "precedence-bulk"
	SignalPrecedenceJunk    = "precedence-junk"
	SignalAutoSubmitted     = "auto-submitted"
	SignalFeedbackID        = "feedback-id"
	SignalMarketingMailer   = "marketing-mailer"
	SignalBulkSenderDomain  = "bulk-sender-domain"
	SignalNoReply           = "noreply-sender"
	SignalProtectedSender   = "protected-sender"
	SignalUnsubscribeMarker = "unsubscribe-marker"
	SignalLabelPrefix       = "label:"
	SignalSubjectPrefix     = "subject:"
	SignalBodyPrefix        = "body:"
)

// headerFeature scores RFC bulk-mail headers.
type headerFeature struct{ w RuleWeights }

func (f headerFeature) Name() string { return "rfc" }

func (f headerFeature) Score(msg *domain.EmailMessage) []Contribution {
	h := msg.Headers
	var out []Contribution
	if h.ListUnsubscribe != "" {
		out = append(out, Contribution{SignalListUnsubscribe, f.w.ListUnsubscribe})
	}
	if h.ListID != "" {
		out = append(out, Contribution{SignalListID, f.w.ListID})
	}
	switch strings.ToLower(strings.TrimSpace(h.Precedence)) {
	case "bulk", "list":
		out = append(out, Contribution{SignalPrecedenceBulk, f.w.PrecedenceBulk})
	case "junk":
		out = append(out, Contribution{SignalPrecedenceJunk, f.w.PrecedenceJunk})
	}
	if as := strings.ToLower(strings.TrimSpace(h.AutoSubmitted)); as != "" && as != "no" {
		out = append(out, Contribution{SignalAutoSubmitted, f.w.AutoSubmitted})
	}
	if h.FeedbackID != "" {
		out = append(out, Contribution{SignalFeedbackID, f.w.FeedbackID})
	}
	return out
}

// senderFeature scores the sender address and mailer.
type senderFeature struct {
	w                RuleWeights
	bulkDomains      []string
	protected        []string
	noReplyPatterns  []string
	marketingMailers []string
}

func (f senderFeature) Name() string { return "sender" }

func (f senderFeature) Score(msg *domain.EmailMessage) []Contribution {
	addr := msg.SenderAddress()
	senderDomain := msg.SenderDomain()
	local := msg.SenderLocalPart()

	var out []Contribution
	for _, p := range f.protected {
		if addr == p || domainMatches(senderDomain, p) {
			out = append(out, Contribution{SignalProtectedSender, f.w.ProtectedSender})
			break
		}
	}
	for _, d := range f.bulkDomains {
		if domainMatches(senderDomain, d) {
			out = append(out, Contribution{SignalBulkSenderDomain, f.w.BulkSenderDomain})
			break
		}
	}
	for _, p := range f.noReplyPatterns {
		if strings.Contains(local, p) {
			out = append(out, Contribution{SignalNoReply, f.w.NoReplySender})
			break
		}
	}
	if mailer := strings.ToLower(msg.Headers.XMailer); mailer != "" {
		for _, m := range f.marketingMailers {
			if strings.Contains(mailer, m) {
				out = append(out, Contribution{SignalMarketingMailer, f.w.MarketingMailer})
				break
			}
		}
	}
	return out
}

// domainMatches reports whether host equals pattern or is a subdomain of it.
func domainMatches(host, pattern string) bool {
	if host == "" || pattern == "" {
		return false
	}
	pattern = strings.TrimPrefix(pattern, "@")
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}

// labelFeature scores provider category hints.
type labelFeature struct{ weights map[string]float64 }

func (f labelFeature) Name() string { return "labels" }

func (f labelFeature) Score(msg *domain.EmailMessage) []Contribution {
	seen := make(map[string]bool, len(msg.LabelHints))
	var out []Contribution
	for _, l := range msg.LabelHints {
		label := strings.ToUpper(strings.TrimSpace(l))
		if seen[label] {
			continue
		}
		seen[label] = true
		if w, ok := f.weights[label]; ok {
			out = append(out, Contribution{SignalLabelPrefix + label, w})
		}
	}
	return out
}

// keywordFeature scores subject and body keywords plus unsubscribe markers.
type keywordFeature struct {
	w             RuleWeights
	subject       map[string]float64
	body          map[string]float64
	unsubscribers []string
}

func (f keywordFeature) Name() string { return "keywords" }

func (f keywordFeature) Score(msg *domain.EmailMessage) []Contribution {
	subject := strings.ToLower(msg.Subject)
	body := strings.ToLower(msg.BodyExcerpt)

	var out []Contribution
	for _, kw := range sortedKeys(f.subject) {
		if strings.Contains(subject, kw) {
			out = append(out, Contribution{SignalSubjectPrefix + kw, f.subject[kw]})
		}
	}
	for _, kw := range sortedKeys(f.body) {
		if strings.Contains(body, kw) {
			out = append(out, Contribution{SignalBodyPrefix + kw, f.body[kw]})
		}
	}
	for _, m := range f.unsubscribers {
		if strings.Contains(body, m) {
			out = append(out, Contribution{SignalUnsubscribeMarker, f.w.UnsubscribeMarker})
			break
		}
	}
	return out
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func lowerKeys(in map[string]float64, upper bool) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		k = strings.TrimSpace(k)
		if upper {
			k = strings.ToUpper(k)
		} else {
			k = strings.ToLower(k)
		}
		out[k] = v
	}
	return out
}

// =============================================================================
// Rule Engine
// =============================================================================

// RuleEngine is a pure, deterministic weighted-feature classifier.
type RuleEngine struct {
	policy   RulePolicy
	features []RuleFeature
}

// NewRuleEngine validates the policy and builds the feature set.
func NewRuleEngine(policy RulePolicy) (*RuleEngine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &RuleEngine{
		policy: policy,
		features: []RuleFeature{
			headerFeature{w: policy.Weights},
			senderFeature{
				w:                policy.Weights,
				bulkDomains:      lowerAll(policy.BulkSenderDomains),
				protected:        lowerAll(policy.ProtectedSenders),
				noReplyPatterns:  lowerAll(policy.NoReplyPatterns),
				marketingMailers: lowerAll(policy.MarketingMailers),
			},
			labelFeature{weights: lowerKeys(policy.LabelWeights, true)},
			keywordFeature{
				w:             policy.Weights,
				subject:       lowerKeys(policy.SubjectKeywords, false),
				body:          lowerKeys(policy.BodyKeywords, false),
				unsubscribers: lowerAll(policy.UnsubscribeMarkers),
			},
		},
	}, nil
}

// Policy returns the policy in use.
func (e *RuleEngine) Policy() RulePolicy { return e.policy }

// Evaluate scores msg and maps the score onto KEEP, DELETE or UNCERTAIN.
func (e *RuleEngine) Evaluate(msg *domain.EmailMessage) domain.RuleResult {
	var (
		score   float64
		signals []string
	)
	for _, f := range e.features {
		for _, c := range f.Score(msg) {
			score += c.Weight
			signals = append(signals, c.Signal)
		}
	}
	return e.classify(score, signals)
}

func (e *RuleEngine) classify(score float64, signals []string) domain.RuleResult {
	p := e.policy
	r := domain.RuleResult{Score: score, Signals: signals}
	switch {
	case score >= p.DeleteThreshold:
		r.Disposition = domain.DispositionDelete
		r.Confidence = normalizeDistance(score-p.DeleteThreshold, p.ConfidenceScale)
	case score <= p.KeepThreshold:
		r.Disposition = domain.DispositionKeep
		r.Confidence = normalizeDistance(p.KeepThreshold-score, p.ConfidenceScale)
	default:
		r.Disposition = domain.DispositionUncertain
	}
	return r
}

func normalizeDistance(d, scale float64) float64 {
	return math.Min(1, math.Max(0, d/scale))
}
