package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"raffler/application"
	"raffler/bot"
	"raffler/config"
	"raffler/database"
	"raffler/domain/interfaces"
	"raffler/domain/services"
	"raffler/events"
	"raffler/infrastructure"
	"raffler/infrastructure/observability"
	"raffler/repository"

	log "github.com/sirupsen/logrus"
)

// oracleBackend is a randomness oracle the engine registers itself with
type oracleBackend interface {
	interfaces.RandomnessOracle
	SetConsumer(consumer interfaces.RandomnessConsumer)
}

// Run initializes and starts the application
func Run(ctx context.Context) error {
	cfg := config.Get()
	ConfigureLogging(cfg)

	log.Info("Starting raffler...")

	if err := observability.InitializeGlobalMetrics(ctx, cfg); err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	// Initialize database connection
	log.Info("Connecting to database...")
	db, err := database.NewConnection(ctx, database.ConstructDatabaseURL(cfg.DatabaseURL, cfg.DatabaseName))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	eventBus := events.NewBus()
	uowFactory := repository.NewUnitOfWorkFactory(db, eventBus)

	if metrics := observability.GetMetrics(); metrics != nil {
		metrics.SubscribeTo(eventBus)
	}

	// NATS carries domain events out, entry commands in and, in nats mode, oracle traffic
	var natsClient *infrastructure.NATSClient
	if cfg.NATSServers != "" {
		natsClient, err = connectNATS(ctx, cfg, eventBus)
		if err != nil {
			return err
		}
		defer func() {
			if err := natsClient.Close(); err != nil {
				log.WithError(err).Error("Error closing NATS connection")
			}
		}()
	}

	oracle, err := newOracle(cfg, natsClient)
	if err != nil {
		return err
	}
	if local, ok := oracle.(*infrastructure.LocalOracle); ok {
		defer local.Close()
	}

	engine, err := services.NewRaffleEngine(ctx, cfg.RaffleConfig(), uowFactory, oracle, interfaces.SystemClock{})
	if err != nil {
		return fmt.Errorf("failed to initialize raffle engine: %w", err)
	}
	oracle.SetConsumer(engine)

	if natsOracle, ok := oracle.(*infrastructure.NATSOracle); ok {
		if err := natsOracle.Start(natsClient); err != nil {
			return fmt.Errorf("failed to subscribe to oracle fulfilments: %w", err)
		}
	}

	if natsClient != nil {
		if err := infrastructure.NewEntryListener(engine, natsClient).Start(natsClient); err != nil {
			return fmt.Errorf("failed to subscribe to entry commands: %w", err)
		}
	} else {
		log.Warn("NATS_SERVERS is not set; the raffle accepts no external entries")
	}

	if requestID, pending := engine.PendingRequestID(); pending {
		log.WithFields(log.Fields{
			"round_id":   engine.RoundID(),
			"request_id": requestID,
			"redraw":     engine.Config().RedrawEnabled(),
		}).Warn("Restored a round that is waiting for randomness")
	}

	// Initialize Discord announcer
	if cfg.AnnouncementsEnabled() {
		discordBot, err := bot.New(bot.Config{
			Token:     cfg.DiscordToken,
			ChannelID: cfg.DiscordChannelID,
		}, eventBus)
		if err != nil {
			return fmt.Errorf("failed to initialize Discord bot: %w", err)
		}
		defer func() {
			if err := discordBot.Close(); err != nil {
				log.WithError(err).Error("Error closing Discord bot")
			}
		}()
	}

	worker := application.NewUpkeepWorker(engine, cfg.UpkeepSchedule)
	stopWorker, err := worker.Start(ctx)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"environment":  cfg.Environment,
		"round_id":     engine.RoundID(),
		"phase":        engine.Phase(),
		"entrance_fee": engine.EntranceFee(),
		"interval":     engine.RoundInterval(),
		"oracle":       cfg.OracleMode,
	}).Info("Raffle is running")

	<-ctx.Done()

	log.Info("Shutting down raffler...")
	stopWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := observability.ShutdownGlobalMetrics(shutdownCtx); err != nil {
		log.WithError(err).Error("Error shutting down metrics")
	}

	log.Info("Shutdown completed")
	return nil
}

// ConfigureLogging applies the configured level and formatter to logrus
func ConfigureLogging(cfg *config.Config) {
	log.SetOutput(os.Stdout)

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("log_level", cfg.LogLevel).Warn("Unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.IsProduction() {
		log.SetFormatter(&log.JSONFormatter{})
		return
	}
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
}

func connectNATS(ctx context.Context, cfg *config.Config, eventBus *events.Bus) (*infrastructure.NATSClient, error) {
	client := infrastructure.NewNATSClient(cfg.NATSServers)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	publisher := infrastructure.NewNATSEventPublisher(client, infrastructure.NewEventSubjectMapper())
	if err := publisher.EnsureDomainEventStream(client); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ensure domain event stream: %w", err)
	}
	publisher.Forward(eventBus)

	if err := infrastructure.EnsureEntryStream(client); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ensure entry command stream: %w", err)
	}

	if cfg.OracleMode == config.OracleModeNATS {
		if err := infrastructure.EnsureOracleStream(client); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to ensure oracle stream: %w", err)
		}
	}
	return client, nil
}

func newOracle(cfg *config.Config, natsClient *infrastructure.NATSClient) (oracleBackend, error) {
	switch cfg.OracleMode {
	case config.OracleModeNATS:
		if natsClient == nil {
			return nil, fmt.Errorf("nats oracle requires NATS_SERVERS")
		}
		log.Info("Using NATS randomness oracle")
		return infrastructure.NewNATSOracle(natsClient), nil
	default:
		log.WithField("delay", cfg.LocalOracleDelay).Warn("Using local randomness oracle; draws are not verifiable")
		return infrastructure.NewLocalOracle(infrastructure.WithAutoFulfil(cfg.LocalOracleDelay)), nil
	}
}
