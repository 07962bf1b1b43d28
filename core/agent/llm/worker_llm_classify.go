package llm

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"cleanup_worker/core/port/out"
	"cleanup_worker/pkg/apperr"

	"github.com/goccy/go-json"
)

const cleanupSystemPrompt = `You review email for a mailbox cleanup tool. Decide whether the message is safe to delete permanently.

DELETE only clear bulk mail: marketing, newsletters, promotions, social network notifications, expired offers, spam.
KEEP anything personal, transactional (receipts, invoices, bookings, security or account notices), work related, or unclear.
When unsure, answer KEEP with low confidence.

A rule engine already scored the message; its verdict is provided as context and may be wrong.

Respond with JSON only:
{"label": "KEEP" | "DELETE", "confidence": 0.0-1.0, "reason": "short explanation"}`

var _ out.LLMClassifier = (*Client)(nil)

// ClassifyEmail asks the model for a KEEP/DELETE judgement.
func (c *Client) ClassifyEmail(ctx context.Context, f *out.EmailFeatures) (*out.LLMJudgement, error) {
	resp, err := c.CompleteJSON(ctx, cleanupSystemPrompt, buildEmailPrompt(f))
	if err != nil {
		return nil, err
	}
	return parseJudgement(resp)
}

func buildEmailPrompt(f *out.EmailFeatures) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\n", f.Sender)
	fmt.Fprintf(&b, "Subject: %s\n", f.Subject)
	if len(f.LabelHints) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(f.LabelHints, ", "))
	}
	fmt.Fprintf(&b, "Size: %d bytes\n", f.SizeBytes)
	fmt.Fprintf(&b, "\nExcerpt:\n%s\n", truncateBody(f.BodyExcerpt, 2000))
	fmt.Fprintf(&b, "\nRule engine: %s (score %.2f, confidence %.2f)", f.RuleDisposition, f.RuleScore, f.RuleConfidence)
	if len(f.RuleSignals) > 0 {
		fmt.Fprintf(&b, "\nSignals: %s", strings.Join(f.RuleSignals, ", "))
	}
	return b.String()
}

func parseJudgement(resp string) (*out.LLMJudgement, error) {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimSuffix(resp, "```")
	resp = strings.TrimSpace(resp)

	var j out.LLMJudgement
	if err := json.Unmarshal([]byte(resp), &j); err != nil {
		return nil, apperr.ClassifierUnavailable("llm", fmt.Errorf("parse judgement: %w", err))
	}
	j.Label = strings.ToUpper(strings.TrimSpace(j.Label))
	return &j, nil
}

func truncateBody(body string, maxLen int) string {
	if len(body) <= maxLen {
		return body
	}
	// Cut on a rune boundary.
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "..."
}
