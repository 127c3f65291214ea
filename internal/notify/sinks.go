package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/mr1hm/nepal-hazard-watch/internal/config"
)

// BuildSinks connects every sink cfg configures. A sink that cannot
// connect is logged and left out; the rest still run.
func BuildSinks(ctx context.Context, cfg config.NotifyConfig, ttl time.Duration, logger *slog.Logger) []Sink {
	if logger == nil {
		logger = slog.Default()
	}

	var sinks []Sink

	if len(cfg.KafkaBrokers) > 0 {
		sinks = append(sinks, NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic))
		logger.Info("kafka sink enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	if cfg.MQTTBrokerURL != "" {
		s, err := NewMQTTSink(cfg.MQTTBrokerURL, cfg.MQTTClientID, cfg.MQTTTopicPrefix)
		if err != nil {
			logger.Warn("mqtt sink disabled", "error", err)
		} else {
			sinks = append(sinks, s)
			logger.Info("mqtt sink enabled", "broker", cfg.MQTTBrokerURL, "prefix", cfg.MQTTTopicPrefix)
		}
	}

	if cfg.RedisAddr != "" {
		s, err := NewRedisSink(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKey, ttl)
		if err != nil {
			logger.Warn("redis sink disabled", "error", err)
		} else {
			sinks = append(sinks, s)
			logger.Info("redis sink enabled", "addr", cfg.RedisAddr, "key", cfg.RedisKey)
		}
	}

	return sinks
}
