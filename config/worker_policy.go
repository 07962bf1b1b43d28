package config

import (
	"bytes"
	"errors"
	"io"
	"os"

	"cleanup_worker/core/domain"
	"cleanup_worker/core/service/classification"
	"cleanup_worker/core/service/face"
	"cleanup_worker/core/service/media"
	"cleanup_worker/pkg/apperr"

	"gopkg.in/yaml.v3"
)

// FacePolicy configures identification.
type FacePolicy struct {
	Enabled         bool    `yaml:"enabled"`
	Metric          string  `yaml:"metric"`
	MatchThreshold  float64 `yaml:"match_threshold"`
	AmbiguityMargin float64 `yaml:"ambiguity_margin"`
}

// MatchPolicy converts to the engine policy.
func (p FacePolicy) MatchPolicy() (face.MatchPolicy, error) {
	metric, err := face.ParseMetric(p.Metric)
	if err != nil {
		return face.MatchPolicy{}, err
	}
	return face.MatchPolicy{Metric: metric, MatchThreshold: p.MatchThreshold, AmbiguityMargin: p.AmbiguityMargin}, nil
}

// Policy is the decision policy loaded from POLICY_FILE.
type Policy struct {
	Persons          []domain.Person                 `yaml:"persons"`
	Face             FacePolicy                      `yaml:"face"`
	Media            media.Policy                    `yaml:"media"`
	EmailRules       classification.RulePolicy       `yaml:"email_rules"`
	Escalation       classification.EscalationPolicy `yaml:"escalation"`
	MaxDeletesPerRun int                             `yaml:"max_deletes_per_run"`
}

// DefaultPolicy is the base every policy file is decoded over.
func DefaultPolicy() Policy {
	return Policy{
		Face: FacePolicy{
			Enabled:         true,
			Metric:          string(face.MetricCosine),
			MatchThreshold:  0.8,
			AmbiguityMargin: 0.05,
		},
		Media: media.Policy{
			NearThresholdBand: 0.1,
			ConfidenceFloor:   0.5,
			Bulk: media.BulkFilter{
				Enabled:      true,
				MediaTypes:   []domain.MediaType{domain.MediaPhoto},
				MinSizeBytes: 5 << 20,
			},
		},
		EmailRules: classification.DefaultRulePolicy(),
		Escalation: classification.EscalationPolicy{EscalateBelow: 0.7, MinLLMConfidence: 0.8},

		MaxDeletesPerRun: 500,
	}
}

// LoadPolicy reads path, applies env overrides from cfg and validates.
func LoadPolicy(path string, cfg *Config) (*Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ConfigErrorf("policy file %s not found", path)
		}
		return nil, apperr.ConfigErrorf("open policy file %s: %v", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, apperr.ConfigErrorf("read policy file %s: %v", path, err)
	}
	p, err := ParsePolicy(data)
	if err != nil {
		return nil, err
	}
	p.applyEnv(cfg)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ParsePolicy decodes YAML over DefaultPolicy. Unknown keys are rejected.
func ParsePolicy(data []byte) (*Policy, error) {
	p := DefaultPolicy()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, apperr.ConfigErrorf("parse policy: %v", err)
	}
	return &p, nil
}

func (p *Policy) applyEnv(cfg *Config) {
	p.Face.MatchThreshold = getEnvFloat("MATCH_THRESHOLD", p.Face.MatchThreshold)
	p.Face.AmbiguityMargin = getEnvFloat("AMBIGUITY_MARGIN", p.Face.AmbiguityMargin)
	p.Media.ConfidenceFloor = getEnvFloat("CONFIDENCE_FLOOR", p.Media.ConfidenceFloor)
	p.Escalation.EscalateBelow = getEnvFloat("ESCALATE_BELOW", p.Escalation.EscalateBelow)
	p.Escalation.MinLLMConfidence = getEnvFloat("MIN_LLM_CONFIDENCE", p.Escalation.MinLLMConfidence)
	if cfg != nil && cfg.MaxDeletesPerRun > 0 {
		p.MaxDeletesPerRun = cfg.MaxDeletesPerRun
	}
}

// Validate checks every section; all failures are ConfigurationErrors.
func (p *Policy) Validate() error {
	mp, err := p.Face.MatchPolicy()
	if err != nil {
		return err
	}
	if err := mp.Validate(); err != nil {
		return err
	}
	if p.Face.Enabled && len(p.Persons) == 0 {
		return apperr.ConfigError("face matching is enabled but the policy lists no persons")
	}
	if err := p.Media.Validate(); err != nil {
		return err
	}
	if err := p.EmailRules.Validate(); err != nil {
		return err
	}
	if err := p.Escalation.Validate(); err != nil {
		return err
	}
	if p.MaxDeletesPerRun <= 0 {
		return apperr.ConfigErrorf("max deletes per run %d must be > 0", p.MaxDeletesPerRun)
	}
	return nil
}
