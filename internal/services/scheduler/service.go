package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"watchtower-alerts-go/internal/config"
	"watchtower-alerts-go/internal/models"
	"watchtower-alerts-go/internal/services/alertstore"
	"watchtower-alerts-go/internal/services/rules"
)

const maxEventHistory = 5000

// Dispatcher hands an escalation decision to the notification pipeline.
// Implementations must not block the sweep. Forget releases per-alert
// dispatch state once the store has evicted an alert.
type Dispatcher interface {
	Dispatch(alert *models.Alert, level int)
	Forget(alertIDs []string)
}

// SourceGate reports whether a detection source has been disabled. Alerts
// from disabled sources are not re-evaluated.
type SourceGate interface {
	IsDisabled(sourceID string) bool
}

// Service runs the periodic sweep over open alerts: auto-escalation timers,
// stale auto-resolve, storm suppression and retention eviction. A single
// sweep runs at a time; per-alert evaluations within a sweep run in parallel
// while commits stay serialized per dedup key in the store.
type Service struct {
	cfg        *config.Config
	store      *alertstore.Service
	rules      *rules.Service
	dispatcher Dispatcher
	sources    SourceGate

	mu     sync.Mutex
	events []models.EscalationEvent
	// suppressed holds alert ids whose individual notifications were
	// coalesced into a burst meta-alert.
	suppressed map[string]bool
	// burstMembers prevents the same alert from seeding a second burst.
	burstMembers map[string]bool

	now func() time.Time // injectable for deterministic tests
}

// NewService creates the escalation scheduler
func NewService(cfg *config.Config, store *alertstore.Service, ruleSvc *rules.Service, dispatcher Dispatcher, sources SourceGate) *Service {
	s := &Service{
		cfg:          cfg,
		store:        store,
		rules:        ruleSvc,
		dispatcher:   dispatcher,
		sources:      sources,
		suppressed:   make(map[string]bool),
		burstMembers: make(map[string]bool),
		now:          time.Now,
	}

	log.Info().
		Dur("sweep_interval", cfg.SweepInterval).
		Int("max_escalation_level", cfg.MaxEscalationLevel).
		Int("storm_threshold", cfg.StormThreshold).
		Dur("storm_window", cfg.StormWindow).
		Msg("Escalation scheduler initialized")

	return s
}

// Run executes the sweep loop until ctx is cancelled. Sweeps never overlap:
// the next tick waits for the previous sweep to finish.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Escalation scheduler stopped")
			return
		case <-ticker.C:
			s.Sweep(s.now())
		}
	}
}

// Sweep re-evaluates a snapshot of all open alerts at the given time
func (s *Service) Sweep(now time.Time) {
	open := s.store.OpenAlerts()

	s.detectStorms(open, now)

	var wg sync.WaitGroup
	for _, alert := range open {
		wg.Add(1)
		go func(a *models.Alert) {
			defer wg.Done()
			s.evaluate(a, now)
		}(alert)
	}
	wg.Wait()

	if evicted := s.store.EvictArchived(now); len(evicted) > 0 {
		s.dispatcher.Forget(evicted)
		s.mu.Lock()
		for _, id := range evicted {
			delete(s.suppressed, id)
			delete(s.burstMembers, id)
		}
		s.mu.Unlock()
	}
}

// detectStorms coalesces bursts of new alerts from one source type into a
// single meta-alert and suppresses the members' individual notifications.
func (s *Service) detectStorms(open []*models.Alert, now time.Time) {
	if s.cfg.StormThreshold <= 0 || s.cfg.StormWindow <= 0 {
		return
	}
	cutoff := now.Add(-s.cfg.StormWindow)

	byType := make(map[models.SourceType][]*models.Alert)
	s.mu.Lock()
	for _, a := range open {
		if a.Status != models.AlertStatusNew || a.Category == "alert_storm" {
			continue
		}
		if s.burstMembers[a.ID] || !a.OpenedAt.After(cutoff) {
			continue
		}
		byType[a.SourceType] = append(byType[a.SourceType], a)
	}
	s.mu.Unlock()

	for sourceType, members := range byType {
		if len(members) <= s.cfg.StormThreshold {
			continue
		}

		severity := models.SeverityLow
		memberIDs := make([]string, 0, len(members))
		for _, m := range members {
			severity = models.MaxSeverity(severity, m.Severity)
			memberIDs = append(memberIDs, m.ID)
		}

		burst, created := s.store.OpenBurst(sourceType, severity, memberIDs)

		s.mu.Lock()
		for _, id := range memberIDs {
			s.suppressed[id] = true
			s.burstMembers[id] = true
		}
		s.mu.Unlock()

		if created {
			s.dispatcher.Dispatch(burst, burst.EscalationLevel)
		}
	}
}

// evaluate applies the escalation and auto-resolve timers to one open alert
func (s *Service) evaluate(alert *models.Alert, now time.Time) {
	if s.sources != nil && s.sources.IsDisabled(alert.SourceID) {
		return
	}

	rule, ok := s.rules.RuleFor(alert.RuleID)
	if !ok {
		// No matching rule: default-severity alerts are never auto-escalated
		// or auto-resolved.
		return
	}

	// Stale alerts that were never acknowledged resolve themselves so
	// transient spurious detections do not pile up as backlog.
	if alert.Status == models.AlertStatusNew &&
		rule.AutoResolveAfter > 0 &&
		now.Sub(alert.LastDetectionAt) > rule.AutoResolveAfter {
		if _, err := s.store.AutoResolve(alert.ID, "stale/no recurrence"); err == nil {
			log.Info().
				Str("alert_id", alert.ID).
				Str("dedup_key", alert.DedupKey).
				Msg("Stale alert auto-resolved")
		}
		return
	}

	// Acknowledgment stops the escalation clock.
	if alert.Status != models.AlertStatusNew {
		return
	}

	if rule.EscalateAfter <= 0 || alert.EscalationLevel >= s.cfg.MaxEscalationLevel {
		return
	}

	// Level k fires once the alert has been open for k+1 escalation periods.
	next := alert.EscalationLevel + 1
	threshold := alert.OpenedAt.Add(rule.EscalateAfter * time.Duration(next))
	if !now.After(threshold) {
		return
	}

	atCap := next >= s.cfg.MaxEscalationLevel
	updated, changed, err := s.store.Escalate(alert.ID, next, atCap)
	if err != nil || !changed {
		return
	}

	s.recordEvent(models.EscalationEvent{
		ID:        uuid.NewString(),
		AlertID:   alert.ID,
		FromLevel: alert.EscalationLevel,
		ToLevel:   next,
		Reason:    "escalate_after elapsed without acknowledgment",
		Timestamp: now,
	})

	log.Warn().
		Str("alert_id", alert.ID).
		Int("level", next).
		Bool("at_cap", atCap).
		Msg("Alert escalated")

	s.mu.Lock()
	skip := s.suppressed[alert.ID]
	s.mu.Unlock()
	if !skip {
		s.dispatcher.Dispatch(updated, next)
	}
}

func (s *Service) recordEvent(ev models.EscalationEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	if len(s.events) > maxEventHistory {
		s.events = s.events[len(s.events)-maxEventHistory:]
	}
}

// Events returns the escalation audit log, optionally filtered by alert id
func (s *Service) Events(alertID string) []models.EscalationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.EscalationEvent, 0, len(s.events))
	for _, ev := range s.events {
		if alertID != "" && ev.AlertID != alertID {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// SetClock overrides the time source. Test hook.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}
