package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"watchtower-alerts-go/internal/config"
	"watchtower-alerts-go/internal/logging"
	"watchtower-alerts-go/internal/models"
)

// TeamResolver looks up the rule an alert was matched by, for team routing
type TeamResolver interface {
	RuleFor(id string) (models.Rule, bool)
}

// UndeliveredMarker flags an alert whose notification exhausted all retries
type UndeliveredMarker interface {
	MarkUndelivered(id string)
}

// Service turns escalation decisions into outbound notices on NATS and an
// optional webhook. Delivery is at-least-once with capped exponential
// backoff; the (alertID, level) idempotency key guarantees one notification
// per escalation step even across repeated sweeps.
type Service struct {
	cfg       *config.Config
	publisher models.MessagePublisher
	rules     TeamResolver
	store     UndeliveredMarker
	client    *http.Client
	logger    zerolog.Logger

	mu   sync.Mutex
	sent map[string]bool

	wg    sync.WaitGroup
	sleep func(time.Duration) // injectable for tests
}

// NewService creates the notification dispatcher. publisher may be nil when
// NATS is unavailable; webhook delivery still works.
func NewService(cfg *config.Config, publisher models.MessagePublisher, rules TeamResolver, store UndeliveredMarker) *Service {
	s := &Service{
		cfg:       cfg,
		publisher: publisher,
		rules:     rules,
		store:     store,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logging.NewServiceLogger(cfg, "dispatch"),
		sent:      make(map[string]bool),
		sleep:     time.Sleep,
	}

	s.logger.Info().
		Str("notify_subject", cfg.NotifySubject).
		Str("default_team", cfg.DefaultTeam).
		Int("max_attempts", cfg.DispatchMaxAttempts).
		Msg("Notification dispatcher initialized")

	return s
}

// Dispatch queues delivery of one escalation notification. It never blocks
// the caller; retries run on their own goroutine.
func (s *Service) Dispatch(alert *models.Alert, level int) {
	key := fmt.Sprintf("%s:%d", alert.ID, level)

	s.mu.Lock()
	if s.sent[key] {
		s.mu.Unlock()
		s.logger.Debug().Str("idempotency_key", key).Msg("Duplicate dispatch suppressed")
		return
	}
	s.sent[key] = true
	s.mu.Unlock()

	team := alert.AssignedTeam
	if rule, ok := s.rules.RuleFor(alert.RuleID); ok && rule.TargetTeam != "" {
		team = rule.TargetTeam
	}
	if team == "" {
		team = s.cfg.DefaultTeam
	}

	payload := models.NotificationPayload{
		AlertID:         alert.ID,
		DedupKey:        alert.DedupKey,
		Category:        alert.Category,
		Severity:        alert.Severity,
		EscalationLevel: level,
		AssignedTeam:    team,
		Summary: fmt.Sprintf("[%s] %s at %s (escalation level %d, %d detections)",
			alert.Severity, alert.Category, alert.Location, level, alert.ContributingDetectionCount),
		Timestamp: time.Now(),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliver(payload)
	}()
}

// deliver attempts all configured channels with exponential backoff. After
// the attempt cap the alert is flagged undelivered, never silently dropped.
func (s *Service) deliver(payload models.NotificationPayload) {
	l := logging.WithAlert(s.logger, payload.AlertID)

	backoff := s.cfg.DispatchBackoffBase
	for attempt := 1; attempt <= s.cfg.DispatchMaxAttempts; attempt++ {
		err := s.send(payload)
		if err == nil {
			l.Info().
				Int("escalation_level", payload.EscalationLevel).
				Str("team", payload.AssignedTeam).
				Int("attempt", attempt).
				Msg("Notification delivered")
			return
		}

		l.Warn().
			Err(err).
			Int("attempt", attempt).
			Msg("Notification delivery failed")

		if attempt < s.cfg.DispatchMaxAttempts {
			s.sleep(backoff)
			backoff *= 2
			if backoff > s.cfg.DispatchBackoffMax {
				backoff = s.cfg.DispatchBackoffMax
			}
		}
	}

	l.Error().
		Int("escalation_level", payload.EscalationLevel).
		Msg("Notification undelivered after all attempts, flagging alert for manual follow-up")
	s.store.MarkUndelivered(payload.AlertID)
}

func (s *Service) send(payload models.NotificationPayload) error {
	delivered := false

	if s.publisher != nil {
		if err := s.publisher.Publish(s.cfg.NotifySubject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		delivered = true
	}

	if s.cfg.WebhookURL != "" {
		if err := s.postWebhook(payload); err != nil {
			return err
		}
		delivered = true
	}

	if !delivered {
		// No channel configured: log the notice so it is at least visible.
		l := logging.WithAlert(s.logger, payload.AlertID)
		l.Info().
			Str("summary", payload.Summary).
			Msg("No notification channel configured, logging only")
	}
	return nil
}

func (s *Service) postWebhook(payload models.NotificationPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", fmt.Sprintf("%s:%d", payload.AlertID, payload.EscalationLevel))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Forget drops the idempotency keys of alerts evicted from the store, so the
// sent map does not grow for the lifetime of the process.
func (s *Service) Forget(alertIDs []string) {
	if len(alertIDs) == 0 {
		return
	}
	drop := make(map[string]bool, len(alertIDs))
	for _, id := range alertIDs {
		drop[id] = true
	}

	s.mu.Lock()
	for key := range s.sent {
		// Keys are "<alertID>:<level>"; alert ids never contain a colon.
		if i := strings.LastIndex(key, ":"); i > 0 && drop[key[:i]] {
			delete(s.sent, key)
		}
	}
	s.mu.Unlock()
}

// Drain waits for in-flight deliveries to finish during shutdown
func (s *Service) Drain() {
	s.wg.Wait()
}
