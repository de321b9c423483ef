package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/zlog"

	"eventpulse/cmd/buildCFG"
	"eventpulse/internal/analytics"
	"eventpulse/internal/api/api"
	worker "eventpulse/internal/consumerWorker"
	"eventpulse/internal/event"
	"eventpulse/internal/gamify"
	"eventpulse/internal/hub"
	"eventpulse/internal/participation"
	"eventpulse/internal/rabbit"
	"eventpulse/internal/repo"
	"eventpulse/internal/service"
)

func main() {
	zlog.Init()
	log := zlog.Logger

	cfg := config.New()
	if err := cfg.Load("config.yaml", "", "'"); err != nil {
		log.Fatal().Msgf("failed to load configuration: %v", err)
	}
	serverCfg := buildCFG.BuildServerConfig(cfg, &log)
	engineCfg := buildCFG.BuildEngineConfig(cfg)

	masterDSN, slaveDSNs, poolOptions, err := buildCFG.BuildDBConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build DB config")
	}
	db, err := dbpg.New(masterDSN, slaveDSNs, poolOptions)
	if err != nil {
		log.Fatal().Msgf("failed to connect to DB: %v", err)
	}
	if err := db.Master.Ping(); err != nil {
		log.Fatal().Msgf("DB ping failed: %v", err)
	}
	log.Info().Msg("Database connected successfully")

	store, err := repo.NewPostgres(db, &log)
	if err != nil {
		log.Fatal().Msgf("failed to initialize state store: %v", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		log.Fatal().Err(err).Msg("cannot get working directory")
	}
	migrationPath := filepath.Join(cwd, "migrations/postgres")
	if err := store.MigrateUp(migrationPath); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Msg("Migrations applied successfully")

	rabbitCfg, err := buildCFG.BuildRabbitConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load RabbitMQ config")
	}
	rmq, err := rabbit.New(rabbitCfg.Url, rabbitCfg.Exchange, rabbitCfg.Queue)
	if err != nil {
		log.Fatal().Msgf("Failed to connect to RabbitMQ: %v", err)
	}
	defer rmq.Close()

	machine := participation.NewMachine(store, &log)
	engine := gamify.NewEngine(store, &log)
	aggregator := analytics.NewAggregator(store, &log)
	liveHub := hub.NewHub(store, machine, &log)
	publisher := rabbit.NewEngagementPublisher(rmq, &log)

	// Transition events flow gamification first, then live broadcast,
	// then the pipeline publisher.
	dispatcher := event.NewDispatcher(&log, engine, liveHub, publisher)
	liveHub.Bind(dispatcher)

	smtpCfg := buildCFG.BuildSMTPConfig(cfg, &log)
	retention := time.Duration(engineCfg.RetentionHours) * time.Hour

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	reader := worker.NewReader(rmq, store, aggregator, machine, smtpCfg, retention)
	reader.Start(workerCtx)

	sweepInterval := time.Duration(engineCfg.SweepIntervalHours) * time.Hour
	sweepTicker := time.NewTicker(sweepInterval)
	go func() {
		for {
			select {
			case <-sweepTicker.C:
				if err := publisher.PublishSweep(time.Now().Add(-retention), 0); err != nil {
					log.Error().Err(err).Msg("failed to schedule maintenance sweep")
				}
			case <-workerCtx.Done():
				return
			}
		}
	}()

	serviceInstance := service.NewService(store, machine, aggregator, liveHub, dispatcher, &log)
	app := api.NewRouters(&api.Routers{Service: serviceInstance})

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info().Msgf("Starting server on %s", serverCfg.Port)
		if err := app.Run(":" + serverCfg.Port); err != nil {
			serverErrChan <- fmt.Errorf("failed to start server: %w", err)
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-signalChan:
		log.Info().Msgf("Received signal %s. Initiating shutdown...", sig)
	case err := <-serverErrChan:
		log.Error().Msgf("Server error: %v", err)
	}

	sweepTicker.Stop()
	cancelWorkers()
	reader.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if closer, ok := interface{}(app).(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(shutdownCtx); err != nil {
			log.Error().Msgf("Error shutting down server: %v", err)
		}
	}

	log.Info().Msg("Shutdown complete")
}
