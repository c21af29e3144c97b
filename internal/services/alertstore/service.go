package alertstore

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"watchtower-alerts-go/internal/config"
	"watchtower-alerts-go/internal/logging"
	"watchtower-alerts-go/internal/models"
)

const keyLockStripes = 64

// Service is the single source of truth for alerts. It owns every lifecycle
// transition and enforces the dedup invariant: at most one open alert per
// dedup key.
//
// Dedup decisions for a key (open new vs fold into existing) are serialized
// through a striped per-key lock; unrelated keys proceed in parallel. Alert
// field mutation always happens under the store lock, so readers clone a
// consistent alert holding only the read lock.
type Service struct {
	cfg    *config.Config
	logger zerolog.Logger

	mu        sync.RWMutex
	byID      map[string]*models.Alert
	openByKey map[string]*models.Alert

	keyLocks [keyLockStripes]sync.Mutex

	// collisionNoted tracks alerts that already carry a dedup-collision note
	// so the disambiguation hint is appended once, not per detection.
	collisionNoted map[string]bool

	now func() time.Time // injectable for deterministic tests
}

// NewService creates the alert store
func NewService(cfg *config.Config) *Service {
	s := &Service{
		cfg:            cfg,
		logger:         logging.NewServiceLogger(cfg, "alertstore"),
		byID:           make(map[string]*models.Alert),
		openByKey:      make(map[string]*models.Alert),
		collisionNoted: make(map[string]bool),
		now:            time.Now,
	}

	s.logger.Info().
		Dur("retention_age", cfg.RetentionAge).
		Msg("Alert store initialized")

	return s
}

func (s *Service) keyLock(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &s.keyLocks[h.Sum32()%keyLockStripes]
}

// Apply folds a normalized detection into the store according to the rule
// engine's decision. It returns the alert that absorbed the detection, or nil
// when the decision was to ignore it.
func (s *Service) Apply(det models.DetectionEvent, dec models.Decision) (*models.Alert, error) {
	if dec.Action == models.DecisionIgnore {
		l := logging.WithDedupKey(s.logger, det.DedupKey())
		l.Debug().
			Str("reason", dec.Reason).
			Msg("Detection ignored")
		return nil, nil
	}

	key := det.DedupKey()
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	existing, open := s.openByKey[key]
	s.mu.RUnlock()

	// A detection never creates a second open alert for a key that is
	// already open; it is always folded into the existing one. A terminal
	// existing alert means the dedup window has lapsed and a fresh alert
	// opens instead.
	if open {
		return s.fold(existing, det, dec), nil
	}
	return s.open(det, dec), nil
}

func (s *Service) open(det models.DetectionEvent, dec models.Decision) *models.Alert {
	now := s.now()
	alert := &models.Alert{
		ID:                         uuid.NewString(),
		DedupKey:                   det.DedupKey(),
		Category:                   det.Category,
		SourceType:                 det.SourceType,
		SourceID:                   det.SourceID,
		Location:                   det.Location,
		Severity:                   dec.Severity,
		Confidence:                 dec.Confidence,
		Status:                     models.AlertStatusNew,
		RuleID:                     dec.RuleID,
		AssignedTeam:               dec.TargetTeam,
		OpenedAt:                   now,
		LastDetectionAt:            det.DetectedAt,
		ContributingDetectionCount: 1,
	}
	alert.Notes = append(alert.Notes, models.Note{
		Actor:     "system",
		Message:   fmt.Sprintf("opened by detection from %s (confidence %.1f)", det.SourceID, det.Confidence),
		Timestamp: now,
	})

	s.mu.Lock()
	s.byID[alert.ID] = alert
	s.openByKey[alert.DedupKey] = alert
	cp := alert.Clone()
	s.mu.Unlock()

	l := logging.WithDedupKey(s.logger, cp.DedupKey)
	l.Info().
		Str("alert_id", cp.ID).
		Str("severity", string(cp.Severity)).
		Msg("Alert opened")

	return cp
}

// fold merges a new detection into an already-open alert. Severity and
// confidence never decrease; only resolution clears them.
func (s *Service) fold(alert *models.Alert, det models.DetectionEvent, dec models.Decision) *models.Alert {
	s.mu.Lock()
	alert.Severity = models.MaxSeverity(alert.Severity, dec.Severity)
	if dec.Confidence > alert.Confidence {
		alert.Confidence = dec.Confidence
	}
	alert.ContributingDetectionCount++
	if det.DetectedAt.After(alert.LastDetectionAt) {
		alert.LastDetectionAt = det.DetectedAt
	}

	collision := false
	if det.SourceID != alert.SourceID && !s.collisionNoted[alert.ID] {
		s.collisionNoted[alert.ID] = true
		collision = true
		alert.Notes = append(alert.Notes, models.Note{
			Actor: "system",
			Message: fmt.Sprintf("dedup key collision: detection from %s folded into alert originated by %s, verify these are the same condition",
				det.SourceID, alert.SourceID),
			Timestamp: s.now(),
		})
	}
	cp := alert.Clone()
	s.mu.Unlock()

	if collision {
		l := logging.WithDedupKey(s.logger, cp.DedupKey)
		l.Warn().
			Str("alert_id", cp.ID).
			Str("source_id", det.SourceID).
			Msg("Dedup key collision surfaced for human disambiguation")
	}

	s.logger.Debug().
		Str("alert_id", cp.ID).
		Int("contributing_detections", cp.ContributingDetectionCount).
		Float64("confidence", cp.Confidence).
		Msg("Detection folded into open alert")

	return cp
}

// Acknowledge moves a new alert to acknowledged. Repeated or stale calls are
// no-ops returning the current state, so racing operator clicks never fail.
func (s *Service) Acknowledge(id, actor string) (*models.Alert, error) {
	return s.transition(id, actor, "acknowledge", "", func(a *models.Alert, now time.Time) bool {
		if a.Status != models.AlertStatusNew {
			return false
		}
		a.Status = models.AlertStatusAcknowledged
		return true
	})
}

// Resolve closes an open alert. Idempotent.
func (s *Service) Resolve(id, actor, note string) (*models.Alert, error) {
	return s.transition(id, actor, "resolve", note, func(a *models.Alert, now time.Time) bool {
		if !a.Status.IsOpen() {
			return false
		}
		a.Status = models.AlertStatusResolved
		a.ClosedAt = &now
		return true
	})
}

// Dismiss closes an acknowledged alert without resolution. Idempotent.
func (s *Service) Dismiss(id, actor, note string) (*models.Alert, error) {
	return s.transition(id, actor, "dismiss", note, func(a *models.Alert, now time.Time) bool {
		if a.Status != models.AlertStatusAcknowledged {
			return false
		}
		a.Status = models.AlertStatusDismissed
		a.ClosedAt = &now
		return true
	})
}

// MarkFalsePositive closes a new alert as a detection error. Idempotent.
func (s *Service) MarkFalsePositive(id, actor, note string) (*models.Alert, error) {
	return s.transition(id, actor, "mark_false_positive", note, func(a *models.Alert, now time.Time) bool {
		if a.Status != models.AlertStatusNew {
			return false
		}
		a.Status = models.AlertStatusFalsePositive
		a.ClosedAt = &now
		return true
	})
}

// AutoResolve is the scheduler path for stale alerts that were never
// acknowledged.
func (s *Service) AutoResolve(id, reason string) (*models.Alert, error) {
	return s.transition(id, "scheduler", "auto_resolve", reason, func(a *models.Alert, now time.Time) bool {
		if a.Status != models.AlertStatusNew {
			return false
		}
		a.Status = models.AlertStatusResolved
		a.ClosedAt = &now
		return true
	})
}

func (s *Service) transition(id, actor, action, note string, apply func(*models.Alert, time.Time) bool) (*models.Alert, error) {
	s.mu.RLock()
	alert, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, models.ErrAlertNotFound
	}

	lock := s.keyLock(alert.DedupKey)
	lock.Lock()
	defer lock.Unlock()

	now := s.now()

	s.mu.Lock()
	changed := apply(alert, now)
	if changed {
		msg := action
		if note != "" {
			msg = fmt.Sprintf("%s: %s", action, note)
		}
		alert.Notes = append(alert.Notes, models.Note{Actor: actor, Message: msg, Timestamp: now})

		if alert.Status.IsTerminal() {
			if s.openByKey[alert.DedupKey] == alert {
				delete(s.openByKey, alert.DedupKey)
			}
		}
	}
	cp := alert.Clone()
	s.mu.Unlock()

	if changed {
		s.logger.Info().
			Str("alert_id", id).
			Str("action", action).
			Str("actor", actor).
			Str("status", string(cp.Status)).
			Msg("Alert transition applied")
	} else {
		s.logger.Debug().
			Str("alert_id", id).
			Str("action", action).
			Str("status", string(cp.Status)).
			Msg("Stale transition degraded to no-op")
	}

	return cp, nil
}

// Escalate bumps the escalation level. Levels are monotonic; a stale or
// duplicate request for a level already reached is a no-op.
func (s *Service) Escalate(id string, toLevel int, atCap bool) (*models.Alert, bool, error) {
	s.mu.RLock()
	alert, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false, models.ErrAlertNotFound
	}

	lock := s.keyLock(alert.DedupKey)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !alert.Status.IsOpen() || toLevel <= alert.EscalationLevel {
		return alert.Clone(), false, nil
	}

	from := alert.EscalationLevel
	alert.EscalationLevel = toLevel
	if atCap {
		alert.NeedsManualFollowUp = true
	}
	alert.Notes = append(alert.Notes, models.Note{
		Actor:     "scheduler",
		Message:   fmt.Sprintf("escalated from level %d to %d", from, toLevel),
		Timestamp: s.now(),
	})

	return alert.Clone(), true, nil
}

// MarkUndelivered flags an alert whose escalation notification exhausted all
// delivery attempts. The flag stands until a human follows up.
func (s *Service) MarkUndelivered(id string) {
	s.mu.RLock()
	alert, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return
	}

	lock := s.keyLock(alert.DedupKey)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	alert.UndeliveredEscalation = true
	alert.Notes = append(alert.Notes, models.Note{
		Actor:     "dispatcher",
		Message:   "escalation notification undelivered after retries, manual follow-up required",
		Timestamp: s.now(),
	})
	s.mu.Unlock()
}

// OpenBurst coalesces a storm of alerts into one meta-alert referencing the
// individual members. The boolean reports whether a new burst was opened, as
// opposed to members being absorbed into one already open.
func (s *Service) OpenBurst(sourceType models.SourceType, severity models.Severity, memberIDs []string) (*models.Alert, bool) {
	now := s.now()
	alert := &models.Alert{
		ID:                         uuid.NewString(),
		DedupKey:                   fmt.Sprintf("%s/alert_storm/burst", sourceType),
		Category:                   "alert_storm",
		SourceType:                 sourceType,
		SourceID:                   "scheduler",
		Severity:                   severity,
		Status:                     models.AlertStatusNew,
		OpenedAt:                   now,
		LastDetectionAt:            now,
		ContributingDetectionCount: len(memberIDs),
		BurstMemberIDs:             append([]string(nil), memberIDs...),
	}
	alert.Notes = append(alert.Notes, models.Note{
		Actor:     "scheduler",
		Message:   fmt.Sprintf("alert storm: %d alerts from source type %s coalesced", len(memberIDs), sourceType),
		Timestamp: now,
	})

	lock := s.keyLock(alert.DedupKey)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	// An already-open burst for this source type absorbs the new members.
	if existing, ok := s.openByKey[alert.DedupKey]; ok {
		existing.BurstMemberIDs = append(existing.BurstMemberIDs, memberIDs...)
		existing.ContributingDetectionCount = len(existing.BurstMemberIDs)
		existing.Severity = models.MaxSeverity(existing.Severity, severity)
		existing.LastDetectionAt = now
		cp := existing.Clone()
		s.mu.Unlock()
		return cp, false
	}
	s.byID[alert.ID] = alert
	s.openByKey[alert.DedupKey] = alert
	cp := alert.Clone()
	s.mu.Unlock()

	s.logger.Warn().
		Str("alert_id", cp.ID).
		Str("source_type", string(sourceType)).
		Int("members", len(memberIDs)).
		Msg("Alert storm coalesced into burst meta-alert")

	return cp, true
}

// Get returns a clone of the alert with the given id
func (s *Service) Get(id string) (*models.Alert, error) {
	s.mu.RLock()
	alert, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, models.ErrAlertNotFound
	}
	return alert.Clone(), nil
}

// OpenByKey returns the open alert for a dedup key, if any
func (s *Service) OpenByKey(key string) (*models.Alert, bool) {
	s.mu.RLock()
	alert, ok := s.openByKey[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return alert.Clone(), true
}

// OpenAlerts returns a snapshot of all open alerts for the scheduler sweep
func (s *Service) OpenAlerts() []*models.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Alert, 0, len(s.openByKey))
	for _, a := range s.openByKey {
		out = append(out, a.Clone())
	}
	return out
}

// Filter selects alerts in List queries. Zero values match everything.
type Filter struct {
	Status     models.AlertStatus
	Severity   models.Severity
	Category   string
	SourceType models.SourceType
	DedupKey   string
	Limit      int
	Offset     int
}

// List returns alerts matching the filter, newest first, plus the total
// matching count before pagination.
func (s *Service) List(f Filter) ([]*models.Alert, int) {
	s.mu.RLock()
	matched := make([]*models.Alert, 0, len(s.byID))
	for _, a := range s.byID {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		if f.Category != "" && a.Category != f.Category {
			continue
		}
		if f.SourceType != "" && a.SourceType != f.SourceType {
			continue
		}
		if f.DedupKey != "" && a.DedupKey != f.DedupKey {
			continue
		}
		matched = append(matched, a.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].OpenedAt.After(matched[j].OpenedAt)
	})

	total := len(matched)
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return []*models.Alert{}, total
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total
}

// EvictArchived removes terminal alerts older than the retention age and
// returns their ids so callers can drop per-alert bookkeeping of their own.
// Resolved alerts are otherwise retained for audit.
func (s *Service) EvictArchived(now time.Time) []string {
	if s.cfg.RetentionAge <= 0 {
		return nil
	}
	cutoff := now.Add(-s.cfg.RetentionAge)

	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for id, a := range s.byID {
		if a.Status.IsTerminal() && a.ClosedAt != nil && a.ClosedAt.Before(cutoff) {
			delete(s.byID, id)
			delete(s.collisionNoted, id)
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		s.logger.Info().Int("count", len(removed)).Msg("Archived alerts evicted by retention policy")
	}
	return removed
}

// Stats returns alert counts by status for the system endpoint
func (s *Service) Stats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := map[string]int{"total": len(s.byID), "open": len(s.openByKey)}
	for _, a := range s.byID {
		stats[string(a.Status)]++
	}
	return stats
}

// SetClock overrides the time source. Test hook.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}
