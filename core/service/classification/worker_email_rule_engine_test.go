package classification

import (
	"testing"

	"cleanup_worker/core/domain"
)

func testRulePolicy() RulePolicy {
	p := DefaultRulePolicy()
	p.ProtectedSenders = []string{"mybank.com", "boss@work.example"}
	return p
}

// TestRuleEngine tests the weighted rule classification.
func TestRuleEngine(t *testing.T) {
	engine, err := NewRuleEngine(testRulePolicy())
	if err != nil {
		t.Fatalf("NewRuleEngine() error = %v", err)
	}

	tests := []struct {
		name            string
		msg             *domain.EmailMessage
		wantDisposition domain.Disposition
		wantMinConf     float64
		wantSignal      string
	}{
		{
			name: "Spam from ESP domain with unsubscribe header should be deleted",
			msg: &domain.EmailMessage{
				ID:         "m1",
				Sender:     "Deals <deals@news.mailchimp.com>",
				Subject:    "Deal of the day",
				LabelHints: []string{"SPAM"},
				Headers:    domain.EmailHeaders{ListUnsubscribe: "<mailto:u@x.com>"},
			},
			wantDisposition: domain.DispositionDelete,
			wantMinConf:     0.99,
			wantSignal:      SignalBulkSenderDomain,
		},
		{
			name: "Plain personal email should be kept",
			msg: &domain.EmailMessage{
				ID:          "m2",
				Sender:      "alice@example.com",
				Subject:     "Dinner on Friday?",
				BodyExcerpt: "see you there",
			},
			wantDisposition: domain.DispositionKeep,
			wantMinConf:     0.79,
		},
		{
			name: "Protected sender overrides promotions label",
			msg: &domain.EmailMessage{
				ID:         "m3",
				Sender:     "alerts@secure.mybank.com",
				Subject:    "Your statement",
				LabelHints: []string{"CATEGORY_PROMOTIONS"},
			},
			wantDisposition: domain.DispositionKeep,
			wantMinConf:     0.99,
			wantSignal:      SignalProtectedSender,
		},
		{
			name: "Promotions label alone is uncertain",
			msg: &domain.EmailMessage{
				ID:         "m4",
				Sender:     "shop@store.com",
				Subject:    "New arrivals",
				LabelHints: []string{"category_promotions"},
			},
			wantDisposition: domain.DispositionUncertain,
			wantSignal:      SignalLabelPrefix + "CATEGORY_PROMOTIONS",
		},
		{
			name: "Starred message is kept despite unsubscribe marker",
			msg: &domain.EmailMessage{
				ID:          "m5",
				Sender:      "newsletter@blog.example",
				BodyExcerpt: "Click here to unsubscribe",
				LabelHints:  []string{"STARRED"},
			},
			wantDisposition: domain.DispositionKeep,
			wantMinConf:     0.99,
			wantSignal:      SignalUnsubscribeMarker,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.Evaluate(tt.msg)

			if got.Disposition != tt.wantDisposition {
				t.Errorf("Disposition = %v, want %v (score %.2f, signals %v)", got.Disposition, tt.wantDisposition, got.Score, got.Signals)
			}
			if got.Confidence < tt.wantMinConf {
				t.Errorf("Confidence = %.2f, want >= %.2f", got.Confidence, tt.wantMinConf)
			}
			if got.Confidence < 0 || got.Confidence > 1 {
				t.Errorf("Confidence = %.2f, want within [0,1]", got.Confidence)
			}
			if tt.wantDisposition == domain.DispositionUncertain && got.Confidence != 0 {
				t.Errorf("uncertain Confidence = %.2f, want 0", got.Confidence)
			}
			if tt.wantSignal != "" && !containsSignal(got.Signals, tt.wantSignal) {
				t.Errorf("Signals = %v, want to contain %q", got.Signals, tt.wantSignal)
			}
		})
	}
}

// TestRuleEngine_Deterministic ensures repeated evaluation is stable.
func TestRuleEngine_Deterministic(t *testing.T) {
	engine, err := NewRuleEngine(testRulePolicy())
	if err != nil {
		t.Fatalf("NewRuleEngine() error = %v", err)
	}
	msg := &domain.EmailMessage{
		Sender:      "promo@shop.example",
		Subject:     "Limited time: 50% off sale",
		BodyExcerpt: "act now, click here. unsubscribe",
		LabelHints:  []string{"CATEGORY_PROMOTIONS", "CATEGORY_PROMOTIONS"},
	}

	first := engine.Evaluate(msg)
	for i := 0; i < 50; i++ {
		got := engine.Evaluate(msg)
		if got.Score != first.Score || len(got.Signals) != len(first.Signals) {
			t.Fatalf("run %d: score %v signals %v, want %v %v", i, got.Score, got.Signals, first.Score, first.Signals)
		}
		for j := range got.Signals {
			if got.Signals[j] != first.Signals[j] {
				t.Fatalf("run %d: signal order changed: %v vs %v", i, got.Signals, first.Signals)
			}
		}
	}
}

// TestRulePolicy_Validate tests threshold validation.
func TestRulePolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *RulePolicy)
		wantErr bool
	}{
		{"defaults", func(p *RulePolicy) {}, false},
		{"inverted thresholds", func(p *RulePolicy) { p.KeepThreshold = 2 }, true},
		{"zero scale", func(p *RulePolicy) { p.ConfidenceScale = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultRulePolicy()
			tt.mutate(&p)
			if err := p.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDomainMatches(t *testing.T) {
	tests := []struct {
		host, pattern string
		want          bool
	}{
		{"mailchimp.com", "mailchimp.com", true},
		{"news.mailchimp.com", "mailchimp.com", true},
		{"notmailchimp.com", "mailchimp.com", false},
		{"mailchimp.com", "@mailchimp.com", true},
		{"", "mailchimp.com", false},
	}
	for _, tt := range tests {
		if got := domainMatches(tt.host, tt.pattern); got != tt.want {
			t.Errorf("domainMatches(%q, %q) = %v, want %v", tt.host, tt.pattern, got, tt.want)
		}
	}
}

func containsSignal(signals []string, want string) bool {
	for _, s := range signals {
		if s == want {
			return true
		}
	}
	return false
}
