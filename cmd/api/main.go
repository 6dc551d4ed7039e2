package main

import (
	"context"
	"github.com/IlyasAtabaev731/banking-ledger/internal/api"
	"github.com/IlyasAtabaev731/banking-ledger/internal/config"
	"github.com/IlyasAtabaev731/banking-ledger/internal/events/kafka"
	"github.com/IlyasAtabaev731/banking-ledger/internal/ledger"
	"github.com/IlyasAtabaev731/banking-ledger/internal/lib/secret"
	"github.com/IlyasAtabaev731/banking-ledger/internal/metrics"
	"github.com/IlyasAtabaev731/banking-ledger/internal/storage/file"
	"github.com/IlyasAtabaev731/banking-ledger/internal/storage/postgres"
	"github.com/joho/godotenv"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("Starting application",
		slog.String("env", cfg.Env),
		slog.String("host", cfg.ApiHost),
		slog.Int("port", cfg.ApiPort),
		slog.String("storage", cfg.Storage.Driver),
	)

	gateway, closeGateway, err := setupGateway(cfg, log)
	if err != nil {
		log.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer closeGateway()

	startingBalance, err := cfg.Ledger.StartingBalanceDecimal()
	if err != nil {
		log.Error("Invalid ledger config", "error", err)
		os.Exit(1)
	}

	opts := []ledger.Option{
		ledger.WithStartingBalance(startingBalance),
		ledger.WithSaveTimeout(cfg.Ledger.SaveTimeout),
	}

	if len(cfg.Kafka.Brokers) > 0 {
		publisher := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Error("Closing publisher error", "error", err)
			}
		}()
		opts = append(opts, ledger.WithPublisher(publisher))
		log.Info("Publishing transfer events", slog.String("topic", cfg.Kafka.Topic))
	}

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 30*time.Second)
	l, err := ledger.New(loadCtx, log, gateway, secret.NewBcrypt(cfg.Ledger.BcryptCost), opts...)
	cancelLoad()
	if err != nil {
		log.Error("Failed to load ledger", "error", err)
		closeGateway()
		os.Exit(1)
	}

	apiServer := api.New(cfg, log, l, metrics.New(), []byte(cfg.JWT.Secret))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		apiServer.MustStart()
	}()

	<-sigChan
	log.Info("Got signal to shutdown server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Stop(ctx); err != nil {
		log.Error("Stopping server error", "error", err)
	}

	if err := l.Sync(ctx); err != nil {
		log.Error("Final ledger save failed", "error", err)
	}
}

func setupGateway(cfg *config.Config, log *slog.Logger) (ledger.Gateway, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		storage, err := postgres.New(cfg.Postgres.URL(), log)
		if err != nil {
			return nil, nil, err
		}
		return storage, func() {
			if err := storage.Stop(); err != nil {
				log.Error("Closing storage error", "error", err)
			}
		}, nil
	default:
		return file.New(cfg.Storage.SnapshotPath, log), func() {}, nil
	}
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger
	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}
	return log
}
