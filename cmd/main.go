package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/ponytojas/go-plant-monitor/config"
	"github.com/ponytojas/go-plant-monitor/internal/alert"
	"github.com/ponytojas/go-plant-monitor/internal/api"
	"github.com/ponytojas/go-plant-monitor/internal/breaker"
	"github.com/ponytojas/go-plant-monitor/internal/dashboard"
	"github.com/ponytojas/go-plant-monitor/internal/database"
	"github.com/ponytojas/go-plant-monitor/internal/firebase"
	"github.com/ponytojas/go-plant-monitor/internal/ingest"
	"github.com/ponytojas/go-plant-monitor/internal/metrics"
	"github.com/ponytojas/go-plant-monitor/internal/mqtt"
	"github.com/ponytojas/go-plant-monitor/internal/refresh"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	flags := pflag.NewFlagSet("plant-monitor", pflag.ExitOnError)
	config.RegisterFlags(flags)
	_ = flags.Parse(os.Args[1:])

	// Load configuration
	cfg, err := config.LoadConfig(".", flags)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
		log.Warn().Str("log_level", cfg.LogLevel).Msg("Invalid log level, defaulting to 'info'")
	}
	zerolog.SetGlobalLevel(level)
	log.Info().Str("device_id", cfg.Firebase.DeviceID).Msg("Starting plant monitor service...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log.Logger); err != nil {
		log.Fatal().Err(err).Msg("Service stopped with error")
	}
	log.Info().Msg("Shut down cleanly")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	m := metrics.NewMetrics()

	// Dashboard state
	stateCfg, err := cfg.DashboardState()
	if err != nil {
		return err
	}
	state, err := dashboard.New(stateCfg, logger)
	if err != nil {
		return err
	}
	defer state.Close()

	// Realtime database client behind a circuit breaker
	brk := breaker.New("firebase", breaker.Config{
		MaxFailures:  cfg.Firebase.BreakerMaxFailures,
		ResetTimeout: cfg.Firebase.BreakerResetTimeout,
	}, logger, func(s breaker.State) {
		m.SetCircuitBreakerState("firebase", float64(s))
	})
	fb, err := firebase.NewClient(firebase.Config{
		URL:       cfg.Firebase.URL,
		DeviceID:  cfg.Firebase.DeviceID,
		AuthToken: cfg.Firebase.AuthToken,
		Timeout:   cfg.Firebase.Timeout,
	}, brk, logger)
	if err != nil {
		return err
	}

	// Optional TimescaleDB archive
	var archive ingest.Archiver
	if cfg.Database.Enabled {
		db, err := database.NewTimescaleDB(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.InitializeTable(ctx); err != nil {
			return err
		}
		n, err := refresh.SeedFromArchive(ctx, db, state, time.Now())
		if err != nil {
			logger.Warn().Err(err).Msg("Could not seed history from archive")
		} else {
			logger.Info().Int("samples", n).Msg("Seeded history from archive")
		}
		archive = db
	}

	// Optional Kafka reminders
	var publisher alert.Publisher
	if cfg.Kafka.Enabled {
		publisher = alert.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("Publishing reminders to Kafka")
	}
	alerts := alert.NewService(alert.NewDetector(state.Thresholds()), publisher, m, logger)
	defer func() {
		if err := alerts.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close reminder publisher")
		}
	}()

	pipeline := ingest.NewPipeline(state, archive, alerts, m, logger)
	refresher := refresh.NewRefresher(fb, pipeline, cfg.Dashboard.PastLimit, m, logger)

	// Optional MQTT live telemetry
	if cfg.MQTT.Enabled {
		mqttClient, err := mqtt.NewClient(cfg, pipeline, logger)
		if err != nil {
			return err
		}
		if err := mqttClient.Connect(); err != nil {
			return err
		}
		defer mqttClient.Disconnect()
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewServer(state, refresher, m, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return refresher.Run(gctx)
	})
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("HTTP API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down...")
		// Close the state first so websocket handlers return before Shutdown waits.
		state.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
