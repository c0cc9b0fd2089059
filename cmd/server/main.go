package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/joho/godotenv"

	"github.com/joinquit3110/be-web/internal/api"
	"github.com/joinquit3110/be-web/internal/config"
	"github.com/joinquit3110/be-web/internal/database"
	"github.com/joinquit3110/be-web/internal/ingest"
	"github.com/joinquit3110/be-web/internal/services"
	"github.com/joinquit3110/be-web/internal/store"
	"github.com/joinquit3110/be-web/internal/websocket"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.Info("starting realtime server")

	// Presence mirror is optional: without Redis the in-memory registries
	// still work, other processes just cannot read presence.
	var hubMirror websocket.StatusMirror
	redisClient, err := database.NewRedisConnection(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, presence mirror disabled", "error", err)
	} else {
		defer redisClient.Close()
		hubMirror = services.NewPresenceMirror(redisClient)
	}

	var users *store.UserStore
	db, err := database.NewMySQLConnection(cfg.Database.DSN)
	if err != nil {
		slog.Warn("mysql unavailable, sync persistence disabled", "error", err)
	} else {
		users = store.NewUserStore(db)
		if err := users.Migrate(); err != nil {
			slog.Error("migration failed", "error", err)
			os.Exit(1)
		}
	}

	opts := websocket.Options{
		MaxBatchSize:            cfg.Realtime.MaxBatchSize,
		BatchTimeout:            cfg.Realtime.BatchTimeout,
		DedupHorizon:            cfg.Realtime.DedupHorizon,
		PointDedupWindow:        cfg.Realtime.PointDedupWindow,
		NotificationDedupWindow: cfg.Realtime.NotificationDedupWindow,
		UnicastThreshold:        cfg.Realtime.UnicastThreshold,
		EphemeralRoomTTL:        cfg.Realtime.EphemeralRoomTTL,
		OfflineGrace:            cfg.Realtime.OfflineGrace,
		ReaperInterval:          cfg.Realtime.ReaperInterval,
		SilenceTimeout:          cfg.Realtime.SilenceTimeout,
		OfflineRetention:        cfg.Realtime.OfflineRetention,
		ReaperBatchLimit:        cfg.Realtime.ReaperBatchLimit,
		AdminUsers:              cfg.Realtime.AdminUsers,
	}

	hub := websocket.NewHub(opts, hubMirror)
	go hub.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Kafka.Enabled {
		consumer := ingest.NewHousePointsConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, hub.Dispatcher())
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx); err != nil {
				slog.Error("house points consumer stopped", "error", err)
			}
		}()
	}

	router := api.NewRouter(hub, users, cfg.JWT.Secret)
	router.SetupRoutes()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("server shutting down")
	cancel()
	hub.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	slog.Info("server stopped")
}
