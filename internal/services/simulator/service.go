package simulator

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/rs/zerolog/log"

	"watchtower-alerts-go/internal/config"
	"watchtower-alerts-go/internal/models"
	"watchtower-alerts-go/internal/services/ingest"
)

// profile pairs a source type with the categories it can report
type profile struct {
	sourceType models.SourceType
	sourceTag  string
	categories []string
	locations  []string
}

var profiles = []profile{
	{
		sourceType: models.SourceTypeCamera,
		sourceTag:  "CAM",
		categories: []string{"fire_smoke", "intrusion", "loitering"},
		locations:  []string{"zone-a", "zone-b", "gate-1", "parking-lot"},
	},
	{
		sourceType: models.SourceTypeSensor,
		sourceTag:  "BIN",
		categories: []string{"fill_level", "air_quality"},
		locations:  []string{"BIN-001", "BIN-004", "BIN-007"},
	},
	{
		sourceType: models.SourceTypeGeofence,
		sourceTag:  "GEO",
		categories: []string{"breach"},
		locations:  []string{"perimeter-north", "perimeter-south"},
	},
}

// Service is a built-in producer that emits randomized detections through
// the normal ingestion path, standing in for real camera models and IoT
// feeds during development and load testing.
type Service struct {
	cfg    *config.Config
	ingest *ingest.Service
	faker  *gofakeit.Faker
}

// NewService creates the detection simulator
func NewService(cfg *config.Config, ingestSvc *ingest.Service) *Service {
	return &Service{
		cfg:    cfg,
		ingest: ingestSvc,
		faker:  gofakeit.New(0),
	}
}

// Run emits one randomized detection per interval until ctx is cancelled
func (s *Service) Run(ctx context.Context) {
	log.Info().
		Dur("interval", s.cfg.SimulatorInterval).
		Msg("Detection simulator started")

	ticker := time.NewTicker(s.cfg.SimulatorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Detection simulator stopped")
			return
		case <-ticker.C:
			raw := s.randomDetection()
			if err := s.ingest.Submit(ctx, raw); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("Simulated detection rejected")
			}
		}
	}
}

func (s *Service) randomDetection() models.RawDetection {
	p := profiles[s.faker.Number(0, len(profiles)-1)]

	return models.RawDetection{
		SourceID:   fmt.Sprintf("%s-%03d", p.sourceTag, s.faker.Number(1, 8)),
		SourceType: string(p.sourceType),
		DetectedAt: time.Now(),
		Location:   p.locations[s.faker.Number(0, len(p.locations)-1)],
		Category:   p.categories[s.faker.Number(0, len(p.categories)-1)],
		Confidence: s.faker.Float64Range(20, 100),
		Payload: map[string]interface{}{
			"model":    s.faker.AppName(),
			"frame_id": s.faker.Number(1000, 99999),
		},
	}
}
