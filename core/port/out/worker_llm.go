package out

import "context"

// EmailFeatures is what the adjudicator sees of a message.
type EmailFeatures struct {
	MessageID   string   `json:"message_id"`
	Sender      string   `json:"sender"`
	Subject     string   `json:"subject"`
	BodyExcerpt string   `json:"body_excerpt"`
	LabelHints  []string `json:"label_hints,omitempty"`
	SizeBytes   int64    `json:"size_bytes"`

	// Rule engine context
	RuleDisposition string   `json:"rule_disposition"`
	RuleScore       float64  `json:"rule_score"`
	RuleConfidence  float64  `json:"rule_confidence"`
	RuleSignals     []string `json:"rule_signals,omitempty"`
}

// LLMJudgement is the raw classifier answer before validation.
type LLMJudgement struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// LLMClassifier is the black-box language model used for escalation.
type LLMClassifier interface {
	ClassifyEmail(ctx context.Context, features *EmailFeatures) (*LLMJudgement, error)
}
