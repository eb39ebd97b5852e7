package main

import (
	"context"
	"fmt"

	"mercato/cmd/server/config"
	"mercato/internal/bus"
	"mercato/internal/observability"
	"mercato/internal/transfers"

	"github.com/rs/zerolog"
)

type busHandles struct {
	publisher transfers.Publisher
	consumer  bus.Consumer
	cleanup   func()
}

// buildBus wires the publisher/consumer pair selected by BUS_DRIVER.
func buildBus(ctx context.Context, cfg config.BusConfig, metrics *observability.Metrics, logger zerolog.Logger) (busHandles, error) {
	switch cfg.Driver {
	case config.BusRedis:
		redisCfg, err := config.LoadRedis()
		if err != nil {
			return busHandles{}, err
		}
		client, err := buildRedisClient(ctx, redisCfg)
		if err != nil {
			return busHandles{}, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info().Str("group", redisCfg.Group).Str("consumer", redisCfg.Consumer).Msg("redis streams bus enabled")
		return busHandles{
			publisher: bus.NewRedisPublisher(client, redisCfg.RequestTTL, redisCfg.StreamMaxLen),
			consumer:  bus.NewRedisConsumer(client, redisCfg.Group, redisCfg.Consumer, nil, metrics, logger),
			cleanup: func() {
				if err := client.Close(); err != nil {
					logger.Warn().Err(err).Msg("close redis")
				}
			},
		}, nil

	case config.BusKafka:
		kafkaCfg, err := config.LoadKafka()
		if err != nil {
			return busHandles{}, err
		}
		publisher := bus.NewKafkaPublisher(kafkaCfg.Brokers)
		consumer := bus.NewKafkaConsumer(kafkaCfg.Brokers, kafkaCfg.GroupID, nil, metrics, logger)
		logger.Info().Strs("brokers", kafkaCfg.Brokers).Str("group", kafkaCfg.GroupID).Msg("kafka bus enabled")
		return busHandles{
			publisher: publisher,
			consumer:  consumer,
			cleanup: func() {
				if err := publisher.Close(); err != nil {
					logger.Warn().Err(err).Msg("close kafka publisher")
				}
				if err := consumer.Close(); err != nil {
					logger.Warn().Err(err).Msg("close kafka consumer")
				}
			},
		}, nil

	default:
		local := bus.NewLocalBus(bus.NewSimulator(cfg.LocalBudget), metrics, logger)
		logger.Warn().Msg("using in-process bus with simulated collaborators")
		return busHandles{publisher: local, consumer: local, cleanup: func() {}}, nil
	}
}
