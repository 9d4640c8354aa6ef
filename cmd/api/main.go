package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aniladanir/wa-inbox/internal/config"
	"github.com/aniladanir/wa-inbox/internal/domain"
	httpHandler "github.com/aniladanir/wa-inbox/internal/handler/http"
	"github.com/aniladanir/wa-inbox/internal/ingest"
	"github.com/aniladanir/wa-inbox/internal/notify"
	"github.com/aniladanir/wa-inbox/internal/persistant/postgresql"
	redisPubSub "github.com/aniladanir/wa-inbox/internal/pubsub/redis"
	"github.com/aniladanir/wa-inbox/internal/realtime"
	messageRepo "github.com/aniladanir/wa-inbox/internal/repository/message"
	"github.com/aniladanir/wa-inbox/internal/service"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"gorm.io/gorm"
)

var (
	configFile = flag.String("config", "config.json", "config file path")
)

func main() {
	// create root context
	appCtx, appCtxCancel := context.WithCancel(context.Background())
	defer appCtxCancel()

	// listen for terminate signal
	notifyCtx, stop := signal.NotifyContext(appCtx, syscall.SIGTERM, os.Interrupt)
	defer stop()

	// parse flags
	flag.Parse()

	// setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// .env is optional
	if err := godotenv.Load(); err == nil {
		logger.Info("loaded environment from .env")
	}

	// parse config
	cfg, err := config.Read(notifyCtx, *configFile, envconfig.OsLookuper())
	if err != nil {
		log.Fatalf("failed to read config: %v", err)
	}

	// initialize external dependencies
	db, msgRepo, err := initRepository(notifyCtx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to initialize message repository: %v", err)
	}

	hub := realtime.NewHub(cfg.AllowedOrigins, cfg.BroadcastBuffer, logger.With(slog.String("component", "hub")))

	ps, notifier, relay, err := initNotifier(notifyCtx, cfg, hub, logger)
	if err != nil {
		log.Fatalf("failed to initialize notifier: %v", err)
	}

	// init messenger service
	messenger := service.NewMessengerService(
		msgRepo,
		ingest.NewIngestor(msgRepo, logger.With(slog.String("component", "ingest"))),
		notifier,
		logger.With(slog.String("component", "messenger")),
		service.Progression{
			DeliveredAfter: cfg.DeliveredAfter,
			ReadAfter:      cfg.ReadAfter,
		},
	)

	// init http handler
	httpHandler := httpHandler.NewHttpHandler(
		fmt.Sprintf(":%d", cfg.HttpPort),
		messenger,
		hub,
		httpHandler.Options{
			VerifyToken:    cfg.VerifyToken,
			AppSecret:      cfg.AppSecret,
			AllowedOrigins: cfg.AllowedOrigins,
		},
		logger.With(slog.String("component", "http")),
	)

	wg := sync.WaitGroup{}
	// run broadcast hub
	wg.Go(func() {
		hub.Run(notifyCtx)
	})

	// relay events published by every instance to local websocket clients
	if relay != nil {
		wg.Go(func() {
			if err := relay.Run(notifyCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("event relay stopped", "error", err.Error())
				appCtxCancel()
			}
		})
	}

	// run http handler
	wg.Go(func() {
		logger.Info("http server listening", "port", cfg.HttpPort)
		if err := httpHandler.Run(); err != nil {
			logger.Error("http server encountered with an error and closed", "error", err.Error())
		}
		// cancel app context if http handler fails
		appCtxCancel()
	})

	// graceful shutdown
	wg.Go(func() {
		<-notifyCtx.Done()
		logger.Info("application shutting down...")

		shutDownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()

		httpHandler.Shutdown(shutDownCtx)
		messenger.Stop()
		if n, ok := notifier.(*notify.RedisNotifier); ok {
			n.Wait()
		}
		if ps != nil {
			ps.Close()
		}
		if db != nil {
			postgresql.Close(db)
		}
	})

	wg.Wait()
	os.Exit(0)
}

// initRepository connects to postgres, or falls back to an in-process store when no
// connection string is configured
func initRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gorm.DB, messageRepo.Repository, error) {
	if cfg.DbConnString == "" {
		logger.Warn("no database configured, messages are kept in memory")
		return nil, messageRepo.NewMemoryRepository(), nil
	}

	db, err := postgresql.Initialize(ctx, cfg.DbConnString, logger.With(slog.String("component", "postgres")), &domain.Message{})
	if err != nil {
		return nil, nil, err
	}
	return db, messageRepo.NewMessageRepository(db), nil
}

// initNotifier publishes through redis when configured so every instance relays the same
// events; otherwise the local hub is notified directly
func initNotifier(ctx context.Context, cfg *config.Config, hub *realtime.Hub, logger *slog.Logger) (*redisPubSub.RedisPubSub, notify.Notifier, *notify.Relay, error) {
	if cfg.RedisAddr == "" {
		return nil, hub, nil, nil
	}

	ps, err := redisPubSub.NewRedisPubSub(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, nil, err
	}

	notifier, err := notify.NewRedisNotifier(ps, cfg.RedisChannel, logger.With(slog.String("component", "notifier")), &cfg.PublishMaxRetry)
	if err != nil {
		ps.Close()
		return nil, nil, nil, err
	}

	relay := notify.NewRelay(ps, cfg.RedisChannel, hub, logger.With(slog.String("component", "relay")))
	return ps, notifier, relay, nil
}
