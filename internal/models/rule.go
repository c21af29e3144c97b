package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrRuleNotFound is returned when a rule id does not exist in the registry.
var ErrRuleNotFound = errors.New("rule not found")

// ErrRuleMisconfigured is returned when a rule fails validation, e.g. a
// non-monotonic severity mapping. A misconfigured rule is skipped during
// evaluation, never fatal to the pipeline.
var ErrRuleMisconfigured = errors.New("rule misconfigured")

// RuleMatcher selects which detections a rule applies to. Empty fields act
// as wildcards.
type RuleMatcher struct {
	Category   string     `json:"category,omitempty"`
	SourceType SourceType `json:"source_type,omitempty"`
}

// Matches reports whether the matcher selects the given detection
func (m RuleMatcher) Matches(d DetectionEvent) bool {
	if m.Category != "" && m.Category != d.Category {
		return false
	}
	if m.SourceType != "" && m.SourceType != d.SourceType {
		return false
	}
	return true
}

// SeverityStep maps a minimum confidence to a severity. Steps are evaluated
// in descending MinConfidence order; the first step at or below the observed
// confidence wins.
type SeverityStep struct {
	MinConfidence float64  `json:"min_confidence"`
	Severity      Severity `json:"severity"`
}

// Rule is static alerting configuration. Rules are ordered; the first rule
// whose matcher selects a detection is applied.
type Rule struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	AppliesTo           RuleMatcher    `json:"applies_to"`
	ConfidenceThreshold float64        `json:"confidence_threshold"`
	SeverityMapping     []SeverityStep `json:"severity_mapping"`
	EscalateAfter       time.Duration  `json:"escalate_after"`
	AutoResolveAfter    time.Duration  `json:"auto_resolve_after"`
	TargetTeam          string         `json:"target_team,omitempty"`
	Enabled             bool           `json:"enabled"`
}

// Validate checks the rule configuration. The severity mapping must be a
// monotonic step function: confidence thresholds strictly decreasing and
// severities non-increasing in rank.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", ErrRuleMisconfigured)
	}
	for i, step := range r.SeverityMapping {
		if !step.Severity.IsValid() {
			return fmt.Errorf("%w: unknown severity %q in mapping", ErrRuleMisconfigured, step.Severity)
		}
		if step.MinConfidence < 0 || step.MinConfidence > 100 {
			return fmt.Errorf("%w: min_confidence %.1f out of range", ErrRuleMisconfigured, step.MinConfidence)
		}
		if i == 0 {
			continue
		}
		prev := r.SeverityMapping[i-1]
		if step.MinConfidence >= prev.MinConfidence {
			return fmt.Errorf("%w: severity mapping thresholds not strictly decreasing", ErrRuleMisconfigured)
		}
		if step.Severity.Rank() > prev.Severity.Rank() {
			return fmt.Errorf("%w: severity mapping not monotonic", ErrRuleMisconfigured)
		}
	}
	return nil
}

// SeverityFor maps a confidence value through the rule's step function.
// Confidence below every step falls through to low.
func (r Rule) SeverityFor(confidence float64) Severity {
	for _, step := range r.SeverityMapping {
		if confidence >= step.MinConfidence {
			return step.Severity
		}
	}
	return SeverityLow
}

// DecisionAction represents what the rule engine decided to do with a detection
type DecisionAction string

const (
	DecisionOpenNew        DecisionAction = "open_new"
	DecisionUpdateExisting DecisionAction = "update_existing"
	DecisionIgnore         DecisionAction = "ignore"
)

// Decision is the outcome of evaluating one detection against the rule set
// and the current open alert for its dedup key.
type Decision struct {
	Action     DecisionAction `json:"action"`
	Severity   Severity       `json:"severity,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	RuleID     string         `json:"rule_id,omitempty"`
	TargetTeam string         `json:"target_team,omitempty"`
	// Escalatable is false for detections matched by no rule; such alerts
	// get default medium severity and are never auto-escalated.
	Escalatable bool   `json:"escalatable"`
	Reason      string `json:"reason,omitempty"`
}
