package main

import (
	"database/sql"
	"fmt"

	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/quizzer-app/quizzer/internal/game/bus"
	"github.com/quizzer-app/quizzer/internal/game/record"
	"github.com/quizzer-app/quizzer/internal/game/registry"
	"github.com/quizzer-app/quizzer/internal/game/relay"
)

type Services struct {
	Registry      *registry.Registry
	Router        *relay.Router
	RelayHandler  *relay.Handler
	Records       *record.Service
	RecordHandler *record.Handler

	natsConn    *natsgo.Conn
	busConsumer *bus.Consumer
}

func setupServices(cfg *Config, database *sql.DB) (*Services, error) {
	// Registry → router → mutation service, leaves first.
	reg := registry.New()
	router := relay.NewRouter(reg)
	relayHandler := relay.NewHandler(router, relay.DefaultConfig())

	repo := record.NewRepository(database)

	services := &Services{
		Registry:     reg,
		Router:       router,
		RelayHandler: relayHandler,
	}

	// Mutation broadcasts travel over NATS when configured, so several relay
	// processes can serve the same room. Without NATS they loop back to the
	// local router directly.
	var publisher bus.Publisher
	if cfg.NATS.Enabled {
		busCfg := bus.DefaultConfig()
		busCfg.URL = cfg.NATS.URL

		nc, err := bus.Connect(busCfg)
		if err != nil {
			return nil, fmt.Errorf("setup bus: %w", err)
		}
		services.natsConn = nc

		consumer := bus.NewConsumer(nc, router, busCfg)
		if err := consumer.Start(); err != nil {
			nc.Close()
			return nil, fmt.Errorf("start bus consumer: %w", err)
		}
		services.busConsumer = consumer
		publisher = bus.NewNATSPublisher(nc, busCfg)

		log.Info().Str("url", busCfg.URL).Msg("mutation broadcasts via NATS")
	} else {
		publisher = bus.NewLoopbackPublisher(router)
		log.Info().Msg("mutation broadcasts via in-process loopback")
	}

	services.Records = record.NewService(repo, publisher)
	services.RecordHandler = record.NewHandler(services.Records)
	return services, nil
}

func (s *Services) Close() {
	if s.busConsumer != nil {
		if err := s.busConsumer.Stop(); err != nil {
			log.Error().Err(err).Msg("stop bus consumer")
		}
	}
	if s.natsConn != nil {
		s.natsConn.Close()
	}
}
