package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/histeeria/chatcore/internal/auth"
	"github.com/histeeria/chatcore/internal/chat"
	"github.com/histeeria/chatcore/internal/config"
	"github.com/histeeria/chatcore/internal/dispatch"
	"github.com/histeeria/chatcore/internal/gateway"
	"github.com/histeeria/chatcore/internal/inbox"
	"github.com/histeeria/chatcore/internal/obs"
	"github.com/histeeria/chatcore/internal/queue"
	"github.com/histeeria/chatcore/internal/registry"
	"github.com/histeeria/chatcore/internal/store/postgres"
)

const dispatcherShards = 8

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat dispatch server",
		Long:  "Starts the Session Gateway's WebSocket/HTTP listener, the Dispatcher consumer loop, and the retention sweep.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	return cmd
}

func runServe() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := obs.New(cfg.Logging.Level, cfg.Logging.Format, "chatcore")
	metrics := obs.NewMetrics("chat")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracer, err := obs.InitTracing(ctx, obs.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: "chatcore",
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer tracer.Shutdown(context.Background())

	messageStore, err := postgres.New(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("connect message store: %w", err)
	}
	defer messageStore.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	inboxCache := inbox.New(redisClient)

	chatQueue := queue.NewRedisQueue(redisClient, queue.Config{
		StreamName:    cfg.Queue.StreamName,
		ConsumerGroup: cfg.Queue.ConsumerGroup,
		ConsumerName:  cfg.Server.InstanceID,
	}, logger.With("component", "queue"))

	chatSvc := chat.New(messageStore, chatQueue, inboxCache, metrics, logger.With("component", "chat"), tracer.Tracer())

	reg := registry.New()

	var verifier *auth.Verifier
	if cfg.JWT.Secret != "" {
		verifier = auth.NewVerifier(cfg.JWT.Secret)
	}

	fanout := gateway.NewFanout(redisClient, logger.With("component", "fanout"))

	gw := gateway.New(reg, inboxCache, chatSvc, verifier, fanout, metrics, logger.With("component", "gateway"), cfg.Server.InstanceID)
	fanout.Attach(gw)
	defer fanout.Stop()

	dispatcher := dispatch.New(chatQueue, inboxCache, gw, dispatcherShards, metrics, logger.With("component", "dispatch"), tracer.Tracer())

	dispatchErrCh := make(chan error, 1)
	go func() {
		if err := dispatcher.Run(ctx); err != nil {
			dispatchErrCh <- err
		}
	}()

	go chatSvc.RunRetentionSweepLoop(ctx, 24*time.Hour, chat.DefaultRetentionHorizon)

	if cfg.Server.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.GetCORSOrigins(),
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	registerRoutes(router, chatSvc, gw, metrics)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	httpErrCh := make(chan error, 1)
	go func() {
		logger.Info("chatcore server listening on :%s (instance=%s)", cfg.Server.Port, cfg.Server.InstanceID)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received: %s", sig.String())
	case err := <-httpErrCh:
		logger.Error("http server error: %v", err)
	case err := <-dispatchErrCh:
		logger.Error("dispatcher exited: %v", err)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error: %v", err)
	}

	logger.Info("chatcore server stopped")
	return nil
}
