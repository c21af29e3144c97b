package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"watchtower-alerts-go/internal/config"
	"watchtower-alerts-go/internal/models"
	"watchtower-alerts-go/internal/services/alertstore"
	"watchtower-alerts-go/internal/services/rules"
)

const intakeWorkers = 2

// Service is the ingestion boundary: it validates and canonicalizes raw
// detections from heterogeneous producers, then feeds them through the rule
// engine into the alert store.
//
// The async intake queue is bounded; producers block when it fills rather
// than losing detections.
type Service struct {
	cfg   *config.Config
	rules *rules.Service
	store *alertstore.Service

	intake chan models.DetectionEvent

	mu       sync.RWMutex
	disabled map[string]bool
	accepted map[string]int64
	rejected int64
	dropped  int64
}

// NewService creates the ingestion normalizer
func NewService(cfg *config.Config, ruleSvc *rules.Service, store *alertstore.Service) *Service {
	s := &Service{
		cfg:      cfg,
		rules:    ruleSvc,
		store:    store,
		intake:   make(chan models.DetectionEvent, cfg.IngestBufferSize),
		disabled: make(map[string]bool),
		accepted: make(map[string]int64),
	}

	log.Info().
		Int("buffer_size", cfg.IngestBufferSize).
		Msg("Ingestion service initialized")

	return s
}

// Normalize validates and canonicalizes a raw detection. It is pure apart
// from logging rejected events.
func (s *Service) Normalize(raw models.RawDetection) (models.DetectionEvent, error) {
	var missing string
	switch {
	case raw.SourceID == "":
		missing = "source_id"
	case raw.Category == "":
		missing = "category"
	case raw.DetectedAt.IsZero():
		missing = "detected_at"
	}
	if missing != "" {
		log.Warn().
			Str("source_id", raw.SourceID).
			Str("category", raw.Category).
			Str("missing", missing).
			Msg("Detection rejected")
		return models.DetectionEvent{}, fmt.Errorf("%w: missing %s", models.ErrInvalidDetection, missing)
	}

	sourceType := models.SourceType(raw.SourceType)
	if !sourceType.IsValid() {
		// Unknown producers are accepted as custom for forward compatibility.
		sourceType = models.SourceTypeCustom
	}

	confidence := raw.Confidence
	if confidence < 0 {
		confidence = 0
	} else if confidence > 100 {
		confidence = 100
	}

	hint := models.Severity(raw.SeverityHint)
	if !hint.IsValid() {
		hint = ""
	}

	return models.DetectionEvent{
		SourceID:     raw.SourceID,
		SourceType:   sourceType,
		DetectedAt:   raw.DetectedAt,
		Location:     raw.Location,
		Category:     raw.Category,
		Confidence:   confidence,
		SeverityHint: hint,
		Payload:      raw.Payload,
	}, nil
}

// Process handles one raw detection synchronously and returns the alert that
// absorbed it (nil when ignored or the source is disabled). This is the HTTP
// ingestion path; it lets the endpoint answer with the resulting alert id.
func (s *Service) Process(raw models.RawDetection) (*models.Alert, error) {
	det, err := s.Normalize(raw)
	if err != nil {
		s.mu.Lock()
		s.rejected++
		s.mu.Unlock()
		return nil, err
	}

	if s.IsDisabled(det.SourceID) {
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		log.Debug().Str("source_id", det.SourceID).Msg("Detection from disabled source dropped")
		return nil, nil
	}

	s.mu.Lock()
	s.accepted[det.SourceID]++
	s.mu.Unlock()

	return s.apply(det)
}

// Submit queues a normalized detection for async processing. It blocks when
// the intake buffer is full (back-pressure) and honors ctx cancellation.
func (s *Service) Submit(ctx context.Context, raw models.RawDetection) error {
	det, err := s.Normalize(raw)
	if err != nil {
		s.mu.Lock()
		s.rejected++
		s.mu.Unlock()
		return err
	}

	if s.IsDisabled(det.SourceID) {
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		return nil
	}

	select {
	case s.intake <- det:
		s.mu.Lock()
		s.accepted[det.SourceID]++
		s.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes the intake queue until ctx is cancelled. Already-queued
// detections complete even for sources disabled after submission.
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < intakeWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case det := <-s.intake:
					if _, err := s.apply(det); err != nil {
						log.Error().Err(err).Str("dedup_key", det.DedupKey()).Msg("Failed to apply detection")
					}
				}
			}
		}()
	}
	wg.Wait()
	log.Info().Msg("Ingestion workers stopped")
}

func (s *Service) apply(det models.DetectionEvent) (*models.Alert, error) {
	current, _ := s.store.OpenByKey(det.DedupKey())
	decision := s.rules.Evaluate(det, current)
	return s.store.Apply(det, decision)
}

// HandleMessage is the NATS intake path: the container subscribes it to the
// configured ingest subject.
func (s *Service) HandleMessage(data []byte) {
	var raw models.RawDetection
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Warn().Err(err).Msg("Malformed detection on NATS intake")
		return
	}
	if err := s.Submit(context.Background(), raw); err != nil {
		log.Warn().Err(err).Msg("NATS detection rejected")
	}
}

// DisableSource stops accepting detections from the given source immediately.
// Detections already in the intake queue still complete.
func (s *Service) DisableSource(sourceID string) {
	s.mu.Lock()
	s.disabled[sourceID] = true
	s.mu.Unlock()
	log.Info().Str("source_id", sourceID).Msg("Source disabled")
}

// EnableSource resumes accepting detections from the given source
func (s *Service) EnableSource(sourceID string) {
	s.mu.Lock()
	delete(s.disabled, sourceID)
	s.mu.Unlock()
	log.Info().Str("source_id", sourceID).Msg("Source enabled")
}

// IsDisabled reports whether a source is currently disabled
func (s *Service) IsDisabled(sourceID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disabled[sourceID]
}

// Stats returns intake counters for the system endpoint
func (s *Service) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	perSource := make(map[string]int64, len(s.accepted))
	for id, n := range s.accepted {
		perSource[id] = n
	}
	return map[string]interface{}{
		"accepted_by_source": perSource,
		"rejected":           s.rejected,
		"dropped":            s.dropped,
		"queue_depth":        len(s.intake),
	}
}
