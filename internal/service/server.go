// Package service wires the synchronization service together: stores,
// realtime tree, change-feed consumers, device ingress, delayed task
// pipeline, and the HTTP surface.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"pildhora-sync/internal/config"
	"pildhora-sync/internal/consumer"
	"pildhora-sync/internal/httpapi"
	"pildhora-sync/internal/mqtt"
	"pildhora-sync/internal/notify"
	"pildhora-sync/internal/repository"
	"pildhora-sync/internal/rtdb"
	syncpkg "pildhora-sync/internal/sync"
	"pildhora-sync/internal/tasks"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// SyncService 设备状态同步服务
type SyncService struct {
	cfg    *config.Config
	logger *zap.Logger

	db         *sql.DB
	redis      *redis.Client
	mqttClient *mqtt.Client

	streamConsumer *consumer.StreamConsumer
	mqttConsumer   *consumer.MQTTConsumer
	dispatcher     *tasks.Dispatcher
	httpServer     *http.Server
}

// NewSyncService builds the full dependency graph. Nothing starts running
// until Start.
func NewSyncService(cfg *config.Config, logger *zap.Logger) (*SyncService, error) {
	db, err := sql.Open("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdle)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	mqttClient, err := mqtt.NewClient(&cfg.MQTT, logger)
	if err != nil {
		return nil, err
	}

	// repositories
	devices := repository.NewDevicesRepo(db, logger)
	links := repository.NewDeviceLinksRepo(db, logger)
	users := repository.NewUsersRepo(db, logger)
	medications := repository.NewMedicationsRepo(db, logger)
	intake := repository.NewIntakeRecordsRepo(db, logger)
	adherence := repository.NewAdherenceLogRepo(db, logger)
	criticalEvents := repository.NewCriticalEventsRepo(db, logger)
	notifications := repository.NewNotificationsRepo(db, logger)

	tree := rtdb.NewRedisTree(redisClient)
	pushClient := notify.NewClient(cfg.Push.GatewayURL, cfg.Push.Timeout, logger)

	// sync handlers
	resolver := syncpkg.NewOwnerResolver(devices, tree, logger)
	linkSync := syncpkg.NewLinkSynchronizer(
		devices, links, users, notifications, tree, pushClient, resolver, logger)
	mirror := syncpkg.NewConfigMirror(devices, tree, logger)
	dispenses := syncpkg.NewDispenseRecorder(resolver, medications, intake, logger)

	queue := tasks.NewQueue(redisClient, cfg.Tasks.QueueKey, cfg.Tasks.VerifyDelay, logger)
	scheduler := syncpkg.NewMissedDoseScheduler(resolver, queue, logger)
	verifier := syncpkg.NewMissedDoseVerifier(
		tree, adherence, links, users, notifications, pushClient, logger)
	notifier := notify.NewCriticalEventNotifier(criticalEvents, users, pushClient, logger)

	streamConsumer := consumer.NewStreamConsumer(
		redisClient, cfg, linkSync, mirror, dispenses, scheduler, notifier, logger)
	mqttConsumer := consumer.NewMQTTConsumer(mqttClient, redisClient, tree, cfg, logger)

	dispatcher := tasks.NewDispatcher(
		queue, cfg.Tasks.VerifyURL, cfg.Tasks.SharedSecret,
		cfg.Tasks.PollInterval, cfg.Tasks.MaxAttempts, logger)

	// HTTP surface
	router := httpapi.NewRouter(logger)
	router.RegisterTaskRoutes(httpapi.NewVerifyHandler(verifier, cfg.Tasks.SharedSecret, logger))
	router.RegisterDataRoutes(httpapi.NewAdherenceExportHandler(adherence, intake, logger))
	router.RegisterHealthRoutes(httpapi.NewHealthHandler(db, redisClient, logger))

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return &SyncService{
		cfg:            cfg,
		logger:         logger,
		db:             db,
		redis:          redisClient,
		mqttClient:     mqttClient,
		streamConsumer: streamConsumer,
		mqttConsumer:   mqttConsumer,
		dispatcher:     dispatcher,
		httpServer:     httpServer,
	}, nil
}

// Start launches the consumers, the dispatcher, and the HTTP server. Returns
// after startup; the components run until the context is cancelled.
func (s *SyncService) Start(ctx context.Context) error {
	if err := s.streamConsumer.Start(ctx); err != nil {
		return err
	}
	if err := s.mqttConsumer.Start(); err != nil {
		return err
	}

	go s.dispatcher.Run(ctx)

	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", s.cfg.HTTP.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	s.logger.Info("Sync service started")
	return nil
}

// Stop shuts everything down and closes the store connections.
func (s *SyncService) Stop() {
	s.logger.Info("Stopping sync service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP server shutdown failed", zap.Error(err))
	}

	s.mqttConsumer.Stop()
	s.mqttClient.Disconnect()
	s.streamConsumer.Wait()

	if err := s.redis.Close(); err != nil {
		s.logger.Warn("Failed to close redis client", zap.Error(err))
	}
	if err := s.db.Close(); err != nil {
		s.logger.Warn("Failed to close database", zap.Error(err))
	}

	s.logger.Info("Sync service stopped")
}
