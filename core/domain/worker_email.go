package domain

import (
	"fmt"
	"strings"
	"time"
)

// EmailHeaders carries the RFC headers the rule engine scores.
type EmailHeaders struct {
	ListUnsubscribe string `json:"list_unsubscribe,omitempty"`
	ListID          string `json:"list_id,omitempty"`
	Precedence      string `json:"precedence,omitempty"`
	AutoSubmitted   string `json:"auto_submitted,omitempty"`
	FeedbackID      string `json:"feedback_id,omitempty"`
	XMailer         string `json:"x_mailer,omitempty"`
}

// EmailMessage is immutable once fetched for a decision pass.
type EmailMessage struct {
	ID          string       `json:"id"`
	ThreadID    string       `json:"thread_id,omitempty"`
	Sender      string       `json:"sender"`
	Subject     string       `json:"subject"`
	BodyExcerpt string       `json:"body_excerpt"`
	LabelHints  []string     `json:"label_hints,omitempty"`
	Headers     EmailHeaders `json:"headers"`
	SizeBytes   int64        `json:"size_bytes"`
	ReceivedAt  time.Time    `json:"received_at,omitempty"`

	// FetchOrder is the position in the source listing for this run.
	FetchOrder int `json:"fetch_order"`
}

// SenderAddress extracts the bare address from "Name <addr>" forms.
func (m *EmailMessage) SenderAddress() string {
	s := strings.TrimSpace(m.Sender)
	if i := strings.LastIndex(s, "<"); i >= 0 {
		if j := strings.Index(s[i:], ">"); j > 0 {
			s = s[i+1 : i+j]
		}
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// SenderDomain returns the lowercase domain of the sender address.
func (m *EmailMessage) SenderDomain() string {
	addr := m.SenderAddress()
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return addr[i+1:]
	}
	return ""
}

// SenderLocalPart returns the part before '@'.
func (m *EmailMessage) SenderLocalPart() string {
	addr := m.SenderAddress()
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return addr[:i]
	}
	return addr
}

// =============================================================================
// Disposition
// =============================================================================

// Disposition is the email outcome. The zero value is DispositionKeep.
// DispositionUncertain is produced only by the rule engine and never final.
type Disposition int

const (
	DispositionKeep Disposition = iota
	DispositionUncertain
	DispositionDelete
)

func (d Disposition) String() string {
	switch d {
	case DispositionDelete:
		return "DELETE"
	case DispositionUncertain:
		return "UNCERTAIN"
	default:
		return "KEEP"
	}
}

func (d Disposition) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Disposition) UnmarshalText(b []byte) error {
	switch string(b) {
	case "KEEP":
		*d = DispositionKeep
	case "UNCERTAIN":
		*d = DispositionUncertain
	case "DELETE":
		*d = DispositionDelete
	default:
		return fmt.Errorf("unknown disposition %q", string(b))
	}
	return nil
}

// DispositionSource records which layer made the final call.
type DispositionSource string

const (
	SourceRule     DispositionSource = "RULE"
	SourceLLM      DispositionSource = "LLM"
	SourceCombined DispositionSource = "COMBINED"
)

// RuleResult is the email rule engine output.
type RuleResult struct {
	Disposition Disposition `json:"disposition"`
	Score       float64     `json:"score"`
	Confidence  float64     `json:"confidence"`
	Signals     []string    `json:"signals,omitempty"`
}

// EmailDisposition maps one EmailMessage to a final KEEP or DELETE.
type EmailDisposition struct {
	MessageID  string            `json:"message_id"`
	FetchOrder int               `json:"fetch_order"`
	Decision   Disposition       `json:"decision"`
	Source     DispositionSource `json:"source"`
	Confidence float64           `json:"confidence"`
	Reason     string            `json:"reason,omitempty"`
	Escalated  bool              `json:"escalated"`
	Rule       RuleResult        `json:"rule"`
}
