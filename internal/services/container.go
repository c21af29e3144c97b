package services

import (
	"context"

	"github.com/rs/zerolog/log"

	"watchtower-alerts-go/internal/config"
	"watchtower-alerts-go/internal/models"
	"watchtower-alerts-go/internal/services/alertstore"
	"watchtower-alerts-go/internal/services/dispatch"
	"watchtower-alerts-go/internal/services/ingest"
	"watchtower-alerts-go/internal/services/messaging"
	"watchtower-alerts-go/internal/services/rules"
	"watchtower-alerts-go/internal/services/scheduler"
	"watchtower-alerts-go/internal/services/simulator"
)

// ServiceContainer holds all services
type ServiceContainer struct {
	Config     *config.Config
	Messaging  *messaging.Service
	AlertStore *alertstore.Service
	Rules      *rules.Service
	Ingest     *ingest.Service
	Dispatch   *dispatch.Service
	Scheduler  *scheduler.Service
	Simulator  *simulator.Service

	cancel context.CancelFunc
}

// NewServiceContainer wires the detection pipeline together
func NewServiceContainer(cfg *config.Config) (*ServiceContainer, error) {
	// NATS is optional at startup: without it the HTTP intake and webhook
	// dispatch still work.
	msgSvc, err := messaging.NewService(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("NATS unavailable, continuing with HTTP-only intake and webhook dispatch")
		msgSvc = nil
	}

	store := alertstore.NewService(cfg)
	ruleSvc := rules.NewService()
	ingestSvc := ingest.NewService(cfg, ruleSvc, store)

	var publisher models.MessagePublisher
	if msgSvc != nil {
		publisher = msgSvc
	}
	dispatchSvc := dispatch.NewService(cfg, publisher, ruleSvc, store)
	schedulerSvc := scheduler.NewService(cfg, store, ruleSvc, dispatchSvc, ingestSvc)

	sc := &ServiceContainer{
		Config:     cfg,
		Messaging:  msgSvc,
		AlertStore: store,
		Rules:      ruleSvc,
		Ingest:     ingestSvc,
		Dispatch:   dispatchSvc,
		Scheduler:  schedulerSvc,
	}

	if cfg.SimulatorEnabled {
		sc.Simulator = simulator.NewService(cfg, ingestSvc)
	}

	return sc, nil
}

// Start launches the background loops: intake workers, the escalation sweep
// and the optional simulated feed.
func (sc *ServiceContainer) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	sc.cancel = cancel

	go sc.Ingest.Run(ctx)
	go sc.Scheduler.Run(ctx)

	if sc.Simulator != nil {
		go sc.Simulator.Run(ctx)
	}

	if sc.Messaging != nil {
		if _, err := sc.Messaging.QueueSubscribe(sc.Config.IngestSubject, sc.Config.IngestQueueGroup, sc.Ingest.HandleMessage); err != nil {
			return err
		}
		log.Info().
			Str("subject", sc.Config.IngestSubject).
			Str("queue_group", sc.Config.IngestQueueGroup).
			Msg("NATS detection intake subscribed")
	}

	return nil
}

// Shutdown gracefully shuts down all services
func (sc *ServiceContainer) Shutdown(ctx context.Context) error {
	if sc.cancel != nil {
		sc.cancel()
	}

	if sc.Dispatch != nil {
		sc.Dispatch.Drain()
	}

	if sc.Messaging != nil {
		if err := sc.Messaging.Shutdown(ctx); err != nil {
			return err
		}
	}

	return nil
}
