package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchtower-alerts-go/internal/models"
)

func cameraDetection(category string, confidence float64) models.DetectionEvent {
	return models.DetectionEvent{
		SourceID:   "CAM-7",
		SourceType: models.SourceTypeCamera,
		DetectedAt: time.Now(),
		Location:   "zone-a",
		Category:   category,
		Confidence: confidence,
	}
}

func TestEvaluate_SeverityMapping(t *testing.T) {
	s := NewService()

	tests := []struct {
		name       string
		confidence float64
		want       models.Severity
	}{
		{"critical band", 92, models.SeverityCritical},
		{"boundary belongs to the higher band", 90, models.SeverityCritical},
		{"high band", 75, models.SeverityHigh},
		{"medium band", 55, models.SeverityMedium},
		{"below the lowest step", 35, models.SeverityLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := s.Evaluate(cameraDetection("fire_smoke", tt.confidence), nil)
			assert.Equal(t, models.DecisionOpenNew, dec.Action)
			assert.Equal(t, tt.want, dec.Severity)
			assert.Equal(t, "fire-smoke-camera", dec.RuleID)
			assert.True(t, dec.Escalatable)
		})
	}
}

func TestEvaluate_BelowThresholdIgnored(t *testing.T) {
	s := NewService()

	dec := s.Evaluate(cameraDetection("fire_smoke", 20), nil)
	assert.Equal(t, models.DecisionIgnore, dec.Action)
	assert.Contains(t, dec.Reason, "below threshold")
}

func TestEvaluate_NoMatchingRuleDefaults(t *testing.T) {
	s := NewService()

	dec := s.Evaluate(cameraDetection("pothole", 99), nil)
	assert.Equal(t, models.DecisionOpenNew, dec.Action)
	assert.Equal(t, models.SeverityMedium, dec.Severity)
	assert.Empty(t, dec.RuleID)
	assert.False(t, dec.Escalatable, "default-severity alerts must not auto-escalate")
}

func TestEvaluate_SeverityHintOnlyRaises(t *testing.T) {
	s := NewService()

	det := cameraDetection("fire_smoke", 75) // maps to high
	det.SeverityHint = models.SeverityCritical
	dec := s.Evaluate(det, nil)
	assert.Equal(t, models.SeverityCritical, dec.Severity)

	det = cameraDetection("fire_smoke", 92) // maps to critical
	det.SeverityHint = models.SeverityLow
	dec = s.Evaluate(det, nil)
	assert.Equal(t, models.SeverityCritical, dec.Severity, "hint must never lower the mapped severity")
}

func TestEvaluate_FirstMatchWins(t *testing.T) {
	s := NewService()
	require.NoError(t, s.Create(models.Rule{
		ID:        "fire-smoke-shadow",
		Name:      "shadowed by the seed rule",
		AppliesTo: models.RuleMatcher{Category: "fire_smoke", SourceType: models.SourceTypeCamera},
		SeverityMapping: []models.SeverityStep{
			{MinConfidence: 10, Severity: models.SeverityLow},
		},
		Enabled: true,
	}))

	dec := s.Evaluate(cameraDetection("fire_smoke", 92), nil)
	assert.Equal(t, "fire-smoke-camera", dec.RuleID, "registration order decides, not specificity")
}

func TestEvaluate_DisabledRuleSkipped(t *testing.T) {
	s := NewService()
	r, err := s.Get("fire-smoke-camera")
	require.NoError(t, err)
	r.Enabled = false
	require.NoError(t, s.Update(r.ID, r))

	dec := s.Evaluate(cameraDetection("fire_smoke", 92), nil)
	assert.Empty(t, dec.RuleID)
	assert.Equal(t, models.SeverityMedium, dec.Severity)
}

func TestEvaluate_MisconfiguredRuleSkipped(t *testing.T) {
	// A bad rule can land in the registry through config reloads; evaluation
	// must step over it instead of failing the detection.
	s := &Service{ordered: []models.Rule{
		{
			ID:        "broken",
			Name:      "non-monotonic mapping",
			AppliesTo: models.RuleMatcher{Category: "fire_smoke"},
			SeverityMapping: []models.SeverityStep{
				{MinConfidence: 50, Severity: models.SeverityLow},
				{MinConfidence: 80, Severity: models.SeverityCritical},
			},
			Enabled: true,
		},
		{
			ID:        "fallback",
			Name:      "valid catch-all",
			AppliesTo: models.RuleMatcher{Category: "fire_smoke"},
			SeverityMapping: []models.SeverityStep{
				{MinConfidence: 60, Severity: models.SeverityHigh},
			},
			Enabled: true,
		},
	}}

	dec := s.Evaluate(cameraDetection("fire_smoke", 85), nil)
	assert.Equal(t, "fallback", dec.RuleID)
	assert.Equal(t, models.SeverityHigh, dec.Severity)
}

func TestEvaluate_OpenAlertFoldsDetection(t *testing.T) {
	s := NewService()

	current := &models.Alert{ID: "a-1", Status: models.AlertStatusNew}
	dec := s.Evaluate(cameraDetection("fire_smoke", 92), current)
	assert.Equal(t, models.DecisionUpdateExisting, dec.Action)

	current.Status = models.AlertStatusResolved
	dec = s.Evaluate(cameraDetection("fire_smoke", 92), current)
	assert.Equal(t, models.DecisionOpenNew, dec.Action, "terminal alerts never absorb new detections")
}

func TestRuleCRUD(t *testing.T) {
	s := NewService()
	seeded := len(s.List())

	r := models.Rule{
		ID:        "loitering-camera",
		Name:      "Loitering",
		AppliesTo: models.RuleMatcher{Category: "loitering", SourceType: models.SourceTypeCamera},
		SeverityMapping: []models.SeverityStep{
			{MinConfidence: 80, Severity: models.SeverityMedium},
		},
		TargetTeam: "security",
		Enabled:    true,
	}
	require.NoError(t, s.Create(r))
	assert.Len(t, s.List(), seeded+1)

	err := s.Create(r)
	require.Error(t, err, "duplicate rule id must be rejected")
	assert.ErrorIs(t, err, models.ErrRuleMisconfigured)

	r.TargetTeam = "operations"
	require.NoError(t, s.Update(r.ID, r))
	got, err := s.Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, "operations", got.TargetTeam)

	require.NoError(t, s.Delete(r.ID))
	_, err = s.Get(r.ID)
	assert.ErrorIs(t, err, models.ErrRuleNotFound)
	assert.ErrorIs(t, s.Delete(r.ID), models.ErrRuleNotFound)
	assert.ErrorIs(t, s.Update("missing", r), models.ErrRuleNotFound)
}

func TestUpdate_PreservesEvaluationOrder(t *testing.T) {
	s := NewService()
	before := s.List()
	require.NotEmpty(t, before)

	first := before[0]
	first.Name = "renamed"
	require.NoError(t, s.Update(first.ID, first))

	after := s.List()
	assert.Equal(t, first.ID, after[0].ID, "update must keep the rule's slot")
	assert.Equal(t, "renamed", after[0].Name)
}

func TestCreate_RejectsInvalidMapping(t *testing.T) {
	s := NewService()

	err := s.Create(models.Rule{
		ID:        "bad-mapping",
		Name:      "thresholds not decreasing",
		AppliesTo: models.RuleMatcher{Category: "x"},
		SeverityMapping: []models.SeverityStep{
			{MinConfidence: 50, Severity: models.SeverityLow},
			{MinConfidence: 80, Severity: models.SeverityCritical},
		},
		Enabled: true,
	})
	assert.ErrorIs(t, err, models.ErrRuleMisconfigured)
}
