package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchtower-alerts-go/internal/config"
	"watchtower-alerts-go/internal/models"
	"watchtower-alerts-go/internal/services/alertstore"
	"watchtower-alerts-go/internal/services/rules"
)

func newIngest(t *testing.T) (*Service, *alertstore.Service) {
	t.Helper()
	cfg := &config.Config{
		IngestBufferSize: 8,
		RetentionAge:     72 * time.Hour,
	}
	store := alertstore.NewService(cfg)
	return NewService(cfg, rules.NewService(), store), store
}

func rawDetection(sourceID, category string, confidence float64) models.RawDetection {
	return models.RawDetection{
		SourceID:   sourceID,
		SourceType: "camera",
		DetectedAt: time.Now(),
		Location:   "BIN-004",
		Category:   category,
		Confidence: confidence,
	}
}

func TestNormalize_RejectsIncompleteDetections(t *testing.T) {
	s, _ := newIngest(t)

	tests := []struct {
		name   string
		mutate func(*models.RawDetection)
	}{
		{"missing source_id", func(r *models.RawDetection) { r.SourceID = "" }},
		{"missing category", func(r *models.RawDetection) { r.Category = "" }},
		{"missing detected_at", func(r *models.RawDetection) { r.DetectedAt = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := rawDetection("CAM-1", "fire_smoke", 92)
			tt.mutate(&raw)
			_, err := s.Normalize(raw)
			assert.ErrorIs(t, err, models.ErrInvalidDetection)
		})
	}
}

func TestNormalize_Canonicalizes(t *testing.T) {
	s, _ := newIngest(t)

	raw := rawDetection("DRONE-9", "fire_smoke", 150)
	raw.SourceType = "drone" // not a known producer type
	raw.SeverityHint = "catastrophic"

	det, err := s.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, models.SourceTypeCustom, det.SourceType, "unknown producers map to custom")
	assert.Equal(t, float64(100), det.Confidence, "confidence clamps to [0,100]")
	assert.Empty(t, string(det.SeverityHint), "unparseable hints are dropped")

	raw.Confidence = -5
	det, err = s.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, float64(0), det.Confidence)
}

func TestNormalize_PreservesValidFields(t *testing.T) {
	s, _ := newIngest(t)

	raw := rawDetection("CAM-1", "fire_smoke", 92)
	raw.SeverityHint = "high"
	det, err := s.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, models.SourceTypeCamera, det.SourceType)
	assert.Equal(t, models.SeverityHigh, det.SeverityHint)
	assert.Equal(t, "camera/fire_smoke/BIN-004", det.DedupKey())
}

func TestProcess_OpensAlertThroughRules(t *testing.T) {
	s, store := newIngest(t)

	alert, err := s.Process(rawDetection("CAM-1", "fire_smoke", 92))
	require.NoError(t, err)
	require.NotNil(t, alert)

	assert.Equal(t, models.SeverityCritical, alert.Severity)
	assert.Equal(t, models.AlertStatusNew, alert.Status)
	assert.Equal(t, "fire-smoke-camera", alert.RuleID)
	assert.Equal(t, "camera/fire_smoke/BIN-004", alert.DedupKey)

	open, ok := store.OpenByKey("camera/fire_smoke/BIN-004")
	require.True(t, ok)
	assert.Equal(t, alert.ID, open.ID)
}

func TestProcess_FoldsRecurringDetections(t *testing.T) {
	s, _ := newIngest(t)

	first, err := s.Process(rawDetection("CAM-1", "fire_smoke", 92))
	require.NoError(t, err)
	second, err := s.Process(rawDetection("CAM-1", "fire_smoke", 60))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.ContributingDetectionCount)
	assert.Equal(t, models.SeverityCritical, second.Severity, "fold must not lower severity")
	assert.Equal(t, float64(92), second.Confidence)
}

func TestProcess_IgnoredBelowThreshold(t *testing.T) {
	s, store := newIngest(t)

	alert, err := s.Process(rawDetection("CAM-1", "fire_smoke", 10))
	require.NoError(t, err)
	assert.Nil(t, alert)

	_, ok := store.OpenByKey("camera/fire_smoke/BIN-004")
	assert.False(t, ok)
}

func TestProcess_DisabledSourceDropped(t *testing.T) {
	s, store := newIngest(t)

	s.DisableSource("CAM-1")
	alert, err := s.Process(rawDetection("CAM-1", "fire_smoke", 92))
	require.NoError(t, err)
	assert.Nil(t, alert)
	_, ok := store.OpenByKey("camera/fire_smoke/BIN-004")
	assert.False(t, ok)

	s.EnableSource("CAM-1")
	alert, err = s.Process(rawDetection("CAM-1", "fire_smoke", 92))
	require.NoError(t, err)
	assert.NotNil(t, alert)
}

func TestSubmit_BackpressureHonorsContext(t *testing.T) {
	cfg := &config.Config{IngestBufferSize: 1, RetentionAge: 72 * time.Hour}
	s := NewService(cfg, rules.NewService(), alertstore.NewService(cfg))

	// No workers running: the first submit fills the buffer.
	require.NoError(t, s.Submit(context.Background(), rawDetection("CAM-1", "fire_smoke", 92)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Submit(ctx, rawDetection("CAM-1", "intrusion", 80))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_DrainsIntakeQueue(t *testing.T) {
	s, store := newIngest(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.NoError(t, s.Submit(ctx, rawDetection("CAM-1", "fire_smoke", 92)))
	require.NoError(t, s.Submit(ctx, rawDetection("CAM-2", "intrusion", 80)))

	deadline := time.After(2 * time.Second)
	for {
		if len(store.OpenAlerts()) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("intake queue not drained: %d open alerts", len(store.OpenAlerts()))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestHandleMessage_MalformedPayloadIgnored(t *testing.T) {
	s, store := newIngest(t)

	s.HandleMessage([]byte("{not json"))
	assert.Empty(t, store.OpenAlerts())
}

func TestStats_CountsOutcomes(t *testing.T) {
	s, _ := newIngest(t)

	s.Process(rawDetection("CAM-1", "fire_smoke", 92))
	s.Process(models.RawDetection{Category: "fire_smoke"}) // rejected
	s.DisableSource("CAM-9")
	s.Process(rawDetection("CAM-9", "fire_smoke", 92)) // dropped

	stats := s.Stats()
	assert.Equal(t, int64(1), stats["rejected"])
	assert.Equal(t, int64(1), stats["dropped"])
	bySource := stats["accepted_by_source"].(map[string]int64)
	assert.Equal(t, int64(1), bySource["CAM-1"])
}
