package rules

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"watchtower-alerts-go/internal/models"
)

// Service holds the ordered rule registry and evaluates detections against
// it. Rule changes take effect on the next evaluation, never retroactively.
type Service struct {
	mu      sync.RWMutex
	ordered []models.Rule
}

// NewService creates the rule engine seeded with the default rule set
func NewService() *Service {
	s := &Service{}
	for _, r := range DefaultRules() {
		s.ordered = append(s.ordered, r)
	}

	log.Info().Int("rules", len(s.ordered)).Msg("Rule engine initialized")
	return s
}

// Evaluate decides what to do with a normalized detection given the current
// open alert (nil if none) for its dedup key.
func (s *Service) Evaluate(det models.DetectionEvent, current *models.Alert) models.Decision {
	rule, matched := s.match(det)

	if matched && det.Confidence < rule.ConfidenceThreshold {
		return models.Decision{
			Action: models.DecisionIgnore,
			RuleID: rule.ID,
			Reason: fmt.Sprintf("confidence %.1f below threshold %.1f", det.Confidence, rule.ConfidenceThreshold),
		}
	}

	severity := models.SeverityMedium
	escalatable := false
	ruleID := ""
	team := ""
	if matched {
		severity = rule.SeverityFor(det.Confidence)
		escalatable = true
		ruleID = rule.ID
		team = rule.TargetTeam
	}
	// A producer-supplied hint can only raise severity, never lower it.
	if det.SeverityHint.IsValid() {
		severity = models.MaxSeverity(severity, det.SeverityHint)
	}

	dec := models.Decision{
		Severity:    severity,
		Confidence:  det.Confidence,
		RuleID:      ruleID,
		TargetTeam:  team,
		Escalatable: escalatable,
	}

	if current != nil && current.Status.IsOpen() {
		dec.Action = models.DecisionUpdateExisting
		dec.Reason = "folded into open alert"
	} else {
		dec.Action = models.DecisionOpenNew
	}
	return dec
}

// match walks the ordered registry and returns the first enabled, valid rule
// selecting the detection. A misconfigured rule is reported and skipped so
// one bad rule never blocks the pipeline.
func (s *Service) match(det models.DetectionEvent) (models.Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.ordered {
		if !r.Enabled || !r.AppliesTo.Matches(det) {
			continue
		}
		if err := r.Validate(); err != nil {
			log.Error().
				Err(err).
				Str("rule_id", r.ID).
				Str("category", det.Category).
				Msg("Rule evaluation error, rule skipped for this detection")
			continue
		}
		return r, true
	}
	return models.Rule{}, false
}

// RuleFor returns the rule a stored alert was matched by, used by the
// scheduler for escalation timers and by the dispatcher for team routing.
func (s *Service) RuleFor(id string) (models.Rule, bool) {
	if id == "" {
		return models.Rule{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.ordered {
		if r.ID == id {
			return r, true
		}
	}
	return models.Rule{}, false
}

// List returns the ordered rule set
func (s *Service) List() []models.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Rule, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// Get returns the rule with the given id
func (s *Service) Get(id string) (models.Rule, error) {
	if r, ok := s.RuleFor(id); ok {
		return r, nil
	}
	return models.Rule{}, models.ErrRuleNotFound
}

// Create validates and appends a rule to the end of the evaluation order
func (s *Service) Create(r models.Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.ordered {
		if existing.ID == r.ID {
			return fmt.Errorf("%w: duplicate id %q", models.ErrRuleMisconfigured, r.ID)
		}
	}
	s.ordered = append(s.ordered, r)

	log.Info().Str("rule_id", r.ID).Msg("Rule created")
	return nil
}

// Update replaces a rule in place, preserving its evaluation order
func (s *Service) Update(id string, r models.Rule) error {
	r.ID = id
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.ordered {
		if existing.ID == id {
			s.ordered[i] = r
			log.Info().Str("rule_id", id).Msg("Rule updated")
			return nil
		}
	}
	return models.ErrRuleNotFound
}

// Delete removes a rule from the registry
func (s *Service) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.ordered {
		if existing.ID == id {
			s.ordered = append(s.ordered[:i], s.ordered[i+1:]...)
			log.Info().Str("rule_id", id).Msg("Rule deleted")
			return nil
		}
	}
	return models.ErrRuleNotFound
}

// DefaultRules is the seed rule set covering the stock detection categories.
// Deployments replace or extend it through the rules API.
func DefaultRules() []models.Rule {
	standardMapping := []models.SeverityStep{
		{MinConfidence: 90, Severity: models.SeverityCritical},
		{MinConfidence: 70, Severity: models.SeverityHigh},
		{MinConfidence: 40, Severity: models.SeverityMedium},
	}

	return []models.Rule{
		{
			ID:                  "fire-smoke-camera",
			Name:                "Fire / smoke camera detection",
			AppliesTo:           models.RuleMatcher{Category: "fire_smoke", SourceType: models.SourceTypeCamera},
			ConfidenceThreshold: 30,
			SeverityMapping:     standardMapping,
			EscalateAfter:       5 * time.Minute,
			AutoResolveAfter:    30 * time.Minute,
			TargetTeam:          "fire-response",
			Enabled:             true,
		},
		{
			ID:                  "intrusion-camera",
			Name:                "Perimeter intrusion",
			AppliesTo:           models.RuleMatcher{Category: "intrusion", SourceType: models.SourceTypeCamera},
			ConfidenceThreshold: 50,
			SeverityMapping:     standardMapping,
			EscalateAfter:       10 * time.Minute,
			AutoResolveAfter:    time.Hour,
			TargetTeam:          "security",
			Enabled:             true,
		},
		{
			ID:                  "bin-fill-level",
			Name:                "Smart bin fill level",
			AppliesTo:           models.RuleMatcher{Category: "fill_level", SourceType: models.SourceTypeSensor},
			ConfidenceThreshold: 60,
			SeverityMapping: []models.SeverityStep{
				{MinConfidence: 95, Severity: models.SeverityHigh},
				{MinConfidence: 80, Severity: models.SeverityMedium},
			},
			EscalateAfter:    4 * time.Hour,
			AutoResolveAfter: 24 * time.Hour,
			TargetTeam:       "sanitation",
			Enabled:          true,
		},
		{
			ID:                  "air-quality-sensor",
			Name:                "Air quality threshold",
			AppliesTo:           models.RuleMatcher{Category: "air_quality", SourceType: models.SourceTypeSensor},
			ConfidenceThreshold: 40,
			SeverityMapping:     standardMapping,
			EscalateAfter:       30 * time.Minute,
			AutoResolveAfter:    2 * time.Hour,
			TargetTeam:          "environment",
			Enabled:             true,
		},
		{
			ID:                  "geofence-breach",
			Name:                "Geofence breach",
			AppliesTo:           models.RuleMatcher{Category: "breach", SourceType: models.SourceTypeGeofence},
			ConfidenceThreshold: 50,
			SeverityMapping:     standardMapping,
			EscalateAfter:       15 * time.Minute,
			AutoResolveAfter:    time.Hour,
			TargetTeam:          "security",
			Enabled:             true,
		},
	}
}
