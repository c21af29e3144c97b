package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"watchtower-alerts-go/internal/config"
)

func NewServiceLogger(cfg *config.Config, service string) zerolog.Logger {
	return log.With().Str("service_id", cfg.ServiceID).Str("service", service).Logger()
}

func WithAlert(base zerolog.Logger, alertID string) zerolog.Logger {
	return base.With().Str("alert_id", alertID).Logger()
}

func WithDedupKey(base zerolog.Logger, key string) zerolog.Logger {
	return base.With().Str("dedup_key", key).Logger()
}
