package classification

import (
	"math"

	"cleanup_worker/pkg/apperr"
)

// =============================================================================
// Rule Policy
// =============================================================================

// RuleWeights are the contributions of fixed header and sender signals.
// Positive weights push toward DELETE, negative toward KEEP.
type RuleWeights struct {
	ListUnsubscribe   float64 `yaml:"list_unsubscribe"`
	ListID            float64 `yaml:"list_id"`
	PrecedenceBulk    float64 `yaml:"precedence_bulk"`
	PrecedenceJunk    float64 `yaml:"precedence_junk"`
	AutoSubmitted     float64 `yaml:"auto_submitted"`
	FeedbackID        float64 `yaml:"feedback_id"`
	MarketingMailer   float64 `yaml:"marketing_mailer"`
	BulkSenderDomain  float64 `yaml:"bulk_sender_domain"`
	NoReplySender     float64 `yaml:"noreply_sender"`
	UnsubscribeMarker float64 `yaml:"unsubscribe_marker"`
	ProtectedSender   float64 `yaml:"protected_sender"`
}

// RulePolicy configures the email rule engine.
type RulePolicy struct {
	DeleteThreshold float64 `yaml:"delete_threshold"`
	KeepThreshold   float64 `yaml:"keep_threshold"`
	ConfidenceScale float64 `yaml:"confidence_scale"`

	Weights RuleWeights `yaml:"weights"`

	BulkSenderDomains  []string           `yaml:"bulk_sender_domains"`
	ProtectedSenders   []string           `yaml:"protected_senders"`
	NoReplyPatterns    []string           `yaml:"noreply_patterns"`
	MarketingMailers   []string           `yaml:"marketing_mailers"`
	UnsubscribeMarkers []string           `yaml:"unsubscribe_markers"`
	LabelWeights       map[string]float64 `yaml:"label_weights"`
	SubjectKeywords    map[string]float64 `yaml:"subject_keywords"`
	BodyKeywords       map[string]float64 `yaml:"body_keywords"`
}

// DefaultRulePolicy returns a policy tuned for the categories the cleanup targets.
func DefaultRulePolicy() RulePolicy {
	return RulePolicy{
		DeleteThreshold: 1.2,
		KeepThreshold:   0.4,
		ConfidenceScale: 0.5,
		Weights: RuleWeights{
			ListUnsubscribe:   0.4,
			ListID:            0.2,
			PrecedenceBulk:    0.3,
			PrecedenceJunk:    0.8,
			AutoSubmitted:     0.1,
			FeedbackID:        0.2,
			MarketingMailer:   0.3,
			BulkSenderDomain:  0.4,
			NoReplySender:     0.2,
			UnsubscribeMarker: 0.3,
			ProtectedSender:   -2.0,
		},
		BulkSenderDomains: []string{
			"mailchimp.com", "mcsv.net", "sendgrid.net", "mailgun.org", "klaviyomail.com",
			"hubspotemail.net", "exacttarget.com", "sparkpostmail.com", "mandrillapp.com",
		},
		NoReplyPatterns: []string{
			"noreply", "no-reply", "donotreply", "do-not-reply", "newsletter", "marketing", "promo",
		},
		MarketingMailers: []string{
			"mailchimp", "sendgrid", "mailgun", "sendinblue", "constant contact", "campaign monitor",
			"hubspot", "marketo", "klaviyo", "activecampaign", "pardot", "braze", "mailjet", "mandrill",
		},
		UnsubscribeMarkers: []string{
			"unsubscribe", "opt out", "opt-out", "manage your email preferences", "view in browser",
		},
		LabelWeights: map[string]float64{
			"SPAM":                1.5,
			"CATEGORY_PROMOTIONS": 0.8,
			"CATEGORY_SOCIAL":     0.5,
			"CATEGORY_UPDATES":    0.1,
			"IMPORTANT":           -0.8,
			"STARRED":             -2.0,
			"SENT":                -2.0,
			"CATEGORY_PERSONAL":   -0.5,
		},
		SubjectKeywords: map[string]float64{
			"% off":        0.3,
			"sale":         0.2,
			"limited time": 0.3,
			"deal":         0.2,
			"newsletter":   0.2,
			"invoice":      -0.5,
			"receipt":      -0.4,
			"password":     -0.6,
			"verification": -0.6,
		},
		BodyKeywords: map[string]float64{
			"click here":     0.2,
			"act now":        0.3,
			"winner":         0.3,
			"order number":   -0.4,
			"account number": -0.4,
		},
	}
}

// Validate rejects unusable thresholds.
func (p RulePolicy) Validate() error {
	for name, v := range map[string]float64{
		"delete threshold": p.DeleteThreshold,
		"keep threshold":   p.KeepThreshold,
		"confidence scale": p.ConfidenceScale,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return apperr.ConfigErrorf("rule %s must be finite", name)
		}
	}
	if p.KeepThreshold >= p.DeleteThreshold {
		return apperr.ConfigErrorf("rule keep threshold %v must be below delete threshold %v", p.KeepThreshold, p.DeleteThreshold)
	}
	if p.ConfidenceScale <= 0 {
		return apperr.ConfigErrorf("rule confidence scale %v must be > 0", p.ConfidenceScale)
	}
	return nil
}
