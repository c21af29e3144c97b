package alertstore

import (
	"testing"
	"time"

	"watchtower-alerts-go/internal/config"
	"watchtower-alerts-go/internal/models"
)

func testConfig() *config.Config {
	return &config.Config{RetentionAge: 72 * time.Hour}
}

func det(sourceID, category, location string, confidence float64) models.DetectionEvent {
	return models.DetectionEvent{
		SourceID:   sourceID,
		SourceType: models.SourceTypeCamera,
		DetectedAt: time.Now(),
		Location:   location,
		Category:   category,
		Confidence: confidence,
	}
}

func decision(sev models.Severity, confidence float64) models.Decision {
	return models.Decision{
		Action:      models.DecisionOpenNew,
		Severity:    sev,
		Confidence:  confidence,
		RuleID:      "test-rule",
		Escalatable: true,
	}
}

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestApply_DedupInvariant(t *testing.T) {
	s := NewService(testConfig())

	first, err := s.Apply(det("CAM-1", "fire_smoke", "BIN-004", 92), decision(models.SeverityCritical, 92))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	second, err := s.Apply(det("CAM-1", "fire_smoke", "BIN-004", 60), decision(models.SeverityMedium, 60))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("expected detection folded into existing alert, got new id %s", second.ID)
	}
	if second.ContributingDetectionCount != 2 {
		t.Errorf("ContributingDetectionCount: got %d, want 2", second.ContributingDetectionCount)
	}
	if got := len(s.OpenAlerts()); got != 1 {
		t.Errorf("open alerts: got %d, want 1", got)
	}
}

func TestApply_SeverityAndConfidenceNeverDecrease(t *testing.T) {
	s := NewService(testConfig())

	a, _ := s.Apply(det("CAM-1", "fire_smoke", "BIN-004", 92), decision(models.SeverityCritical, 92))
	a, _ = s.Apply(det("CAM-1", "fire_smoke", "BIN-004", 60), decision(models.SeverityMedium, 60))

	if a.Severity != models.SeverityCritical {
		t.Errorf("Severity: got %s, want critical", a.Severity)
	}
	if a.Confidence != 92 {
		t.Errorf("Confidence: got %.1f, want 92", a.Confidence)
	}
}

func TestApply_FreshAlertAfterTerminal(t *testing.T) {
	s := NewService(testConfig())

	first, _ := s.Apply(det("CAM-1", "intrusion", "zone-a", 80), decision(models.SeverityHigh, 80))
	if _, err := s.Resolve(first.ID, "operator", "handled"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	second, _ := s.Apply(det("CAM-1", "intrusion", "zone-a", 70), decision(models.SeverityHigh, 70))
	if second.ID == first.ID {
		t.Fatal("expected fresh alert after the previous one was resolved")
	}
	if second.Status != models.AlertStatusNew {
		t.Errorf("Status: got %s, want new", second.Status)
	}
}

func TestApply_IgnoreDecision(t *testing.T) {
	s := NewService(testConfig())

	a, err := s.Apply(det("CAM-1", "fire_smoke", "zone-a", 10), models.Decision{Action: models.DecisionIgnore, Reason: "below threshold"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if a != nil {
		t.Fatal("expected no alert for ignored detection")
	}
}

func TestResolve_Idempotent(t *testing.T) {
	s := NewService(testConfig())
	a, _ := s.Apply(det("CAM-1", "fire_smoke", "zone-a", 92), decision(models.SeverityCritical, 92))

	r1, err := s.Resolve(a.ID, "operator", "done")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	r2, err := s.Resolve(a.ID, "operator", "done")
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	r3, _ := s.Resolve(a.ID, "operator", "done")

	if r1.Status != models.AlertStatusResolved || r2.Status != models.AlertStatusResolved || r3.Status != models.AlertStatusResolved {
		t.Fatal("expected resolved status on every call")
	}
	if len(r3.Notes) != len(r1.Notes) {
		t.Errorf("repeated resolve appended notes: %d vs %d", len(r3.Notes), len(r1.Notes))
	}
}

func TestDismiss_OnlyFromAcknowledged(t *testing.T) {
	s := NewService(testConfig())
	a, _ := s.Apply(det("CAM-1", "fire_smoke", "zone-a", 92), decision(models.SeverityCritical, 92))

	// Dismiss on a new alert degrades to a no-op.
	got, err := s.Dismiss(a.ID, "operator", "")
	if err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	if got.Status != models.AlertStatusNew {
		t.Errorf("Status after stale dismiss: got %s, want new", got.Status)
	}

	if _, err := s.Acknowledge(a.ID, "operator"); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	got, _ = s.Dismiss(a.ID, "operator", "noise")
	if got.Status != models.AlertStatusDismissed {
		t.Errorf("Status: got %s, want dismissed", got.Status)
	}
}

func TestMarkFalsePositive_FromNewOnly(t *testing.T) {
	s := NewService(testConfig())
	a, _ := s.Apply(det("CAM-1", "fire_smoke", "zone-a", 92), decision(models.SeverityCritical, 92))

	got, _ := s.MarkFalsePositive(a.ID, "operator", "reflection")
	if got.Status != models.AlertStatusFalsePositive {
		t.Fatalf("Status: got %s, want false_positive", got.Status)
	}

	b, _ := s.Apply(det("CAM-2", "intrusion", "zone-b", 80), decision(models.SeverityHigh, 80))
	s.Acknowledge(b.ID, "operator")
	got, _ = s.MarkFalsePositive(b.ID, "operator", "")
	if got.Status != models.AlertStatusAcknowledged {
		t.Errorf("acknowledged alert marked false positive: got %s", got.Status)
	}
}

func TestCommand_UnknownAlert(t *testing.T) {
	s := NewService(testConfig())
	if _, err := s.Resolve("nope", "operator", ""); err != models.ErrAlertNotFound {
		t.Fatalf("expected ErrAlertNotFound, got %v", err)
	}
}

func TestEscalate_Monotonic(t *testing.T) {
	s := NewService(testConfig())
	a, _ := s.Apply(det("CAM-1", "fire_smoke", "zone-a", 92), decision(models.SeverityCritical, 92))

	_, changed, err := s.Escalate(a.ID, 1, false)
	if err != nil || !changed {
		t.Fatalf("first escalation: changed=%v err=%v", changed, err)
	}
	_, changed, _ = s.Escalate(a.ID, 1, false)
	if changed {
		t.Error("repeat escalation to same level should be a no-op")
	}
	_, changed, _ = s.Escalate(a.ID, 0, false)
	if changed {
		t.Error("escalation level must never decrease")
	}

	updated, changed, _ := s.Escalate(a.ID, 2, true)
	if !changed || updated.EscalationLevel != 2 {
		t.Fatalf("escalation to cap: changed=%v level=%d", changed, updated.EscalationLevel)
	}
	if !updated.NeedsManualFollowUp {
		t.Error("expected manual follow-up flag at escalation cap")
	}
}

func TestCollisionNote_AppendedOnce(t *testing.T) {
	s := NewService(testConfig())
	a, _ := s.Apply(det("CAM-1", "fire_smoke", "zone-a", 92), decision(models.SeverityCritical, 92))
	s.Apply(det("CAM-2", "fire_smoke", "zone-a", 80), decision(models.SeverityHigh, 80))
	s.Apply(det("CAM-2", "fire_smoke", "zone-a", 85), decision(models.SeverityHigh, 85))

	got, _ := s.Get(a.ID)
	collisions := 0
	for _, n := range got.Notes {
		if n.Actor == "system" && len(n.Message) > 0 && n.Message[:5] == "dedup" {
			collisions++
		}
	}
	if collisions != 1 {
		t.Errorf("collision notes: got %d, want 1", collisions)
	}
}

func TestList_FiltersAndPagination(t *testing.T) {
	s := NewService(testConfig())
	s.Apply(det("CAM-1", "fire_smoke", "zone-a", 92), decision(models.SeverityCritical, 92))
	s.Apply(det("CAM-1", "intrusion", "zone-b", 75), decision(models.SeverityHigh, 75))
	s.Apply(det("CAM-1", "intrusion", "zone-c", 72), decision(models.SeverityHigh, 72))

	alerts, total := s.List(Filter{Severity: models.SeverityHigh})
	if total != 2 || len(alerts) != 2 {
		t.Fatalf("severity filter: got %d/%d, want 2/2", len(alerts), total)
	}

	alerts, total = s.List(Filter{Category: "intrusion", Limit: 1})
	if total != 2 || len(alerts) != 1 {
		t.Fatalf("pagination: got %d of %d, want 1 of 2", len(alerts), total)
	}

	alerts, total = s.List(Filter{Category: "intrusion", Limit: 1, Offset: 5})
	if total != 2 || len(alerts) != 0 {
		t.Fatalf("offset beyond range: got %d of %d, want 0 of 2", len(alerts), total)
	}
}

func TestEvictArchived(t *testing.T) {
	base := time.Now()
	s := NewService(testConfig())
	s.SetClock(fixedClock(base))

	a, _ := s.Apply(det("CAM-1", "fire_smoke", "zone-a", 92), decision(models.SeverityCritical, 92))
	s.Resolve(a.ID, "operator", "")

	// Within retention: nothing evicted.
	if evicted := s.EvictArchived(base.Add(time.Hour)); len(evicted) != 0 {
		t.Fatalf("early eviction: got %v, want none", evicted)
	}

	evicted := s.EvictArchived(base.Add(100 * time.Hour))
	if len(evicted) != 1 || evicted[0] != a.ID {
		t.Fatalf("eviction after retention: got %v, want [%s]", evicted, a.ID)
	}
	if _, err := s.Get(a.ID); err != models.ErrAlertNotFound {
		t.Errorf("expected evicted alert to be gone, got %v", err)
	}
}

func TestConcurrentFoldAndRead(t *testing.T) {
	s := NewService(testConfig())
	a, _ := s.Apply(det("CAM-1", "fire_smoke", "zone-a", 92), decision(models.SeverityCritical, 92))

	const folds = 200
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < folds; i++ {
			s.Apply(det("CAM-1", "fire_smoke", "zone-a", 50), decision(models.SeverityMedium, 50))
		}
	}()

	for i := 0; i < folds; i++ {
		s.List(Filter{})
		s.OpenAlerts()
		s.Get(a.ID)
	}
	<-done

	got, err := s.Get(a.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ContributingDetectionCount != folds+1 {
		t.Errorf("ContributingDetectionCount: got %d, want %d", got.ContributingDetectionCount, folds+1)
	}
}

func TestOpenBurst_AbsorbsIntoExisting(t *testing.T) {
	s := NewService(testConfig())

	first, created := s.OpenBurst(models.SourceTypeCamera, models.SeverityHigh, []string{"a", "b"})
	if !created {
		t.Fatal("expected new burst")
	}
	second, created := s.OpenBurst(models.SourceTypeCamera, models.SeverityCritical, []string{"c"})
	if created {
		t.Fatal("expected members absorbed into open burst")
	}
	if second.ID != first.ID {
		t.Errorf("burst id changed: %s vs %s", second.ID, first.ID)
	}
	if len(second.BurstMemberIDs) != 3 {
		t.Errorf("burst members: got %d, want 3", len(second.BurstMemberIDs))
	}
	if second.Severity != models.SeverityCritical {
		t.Errorf("burst severity: got %s, want critical", second.Severity)
	}
}
