package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messaging-service/internal/auth"
	"messaging-service/internal/clock"
	"messaging-service/internal/config"
	"messaging-service/internal/db"
	grpcclient "messaging-service/internal/grpc"
	"messaging-service/internal/handlers"
	"messaging-service/internal/hub"
	"messaging-service/internal/logging"
	"messaging-service/internal/messaging"
	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/ratelimit"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

const serviceName = "messaging-service"

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, serviceName, cfg.Environment, cfg.Tracing.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	var (
		store  repositories.Store
		pinger handlers.Pinger
	)
	switch cfg.Store.Driver {
	case "postgres":
		database, err := db.Connect(ctx, cfg.Store.DSN, logger)
		if err != nil {
			logger.Error("failed to connect to db", "error", err)
			os.Exit(1)
		}
		defer database.Close()
		store = repositories.NewPostgresStore(database)
		pinger = database
	default:
		store = repositories.NewMemoryStore(clock.Real())
		logger.Warn("using in-memory store; data is lost on restart")
	}

	var validator auth.Validator
	switch cfg.Auth.Mode {
	case "grpc":
		authConn, err := grpcclient.Dial(cfg.Auth.GRPCAddr)
		if err != nil {
			logger.Error("failed to connect to auth grpc", "error", err)
			os.Exit(1)
		}
		defer authConn.Close()
		validator = grpcclient.NewAuthClient(authConn, 3*time.Second)
	default:
		validator = auth.NewJWT(cfg.Auth.JWTSecret)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	defer publisher.Close()
	logger.Info("event publisher ready", "mode", rabbitmq.PublisherMode(publisher), "noop_reason", rabbitmq.PublisherNoopReason(publisher))
	audit := telemetry.NewAuditEmitter(publisher, cfg.AMQP.AuditRouting, serviceName, cfg.Environment, logger)
	events := observability.NewEventPublisher(publisher, logger)

	local := hub.NewHub()
	var broadcaster hub.Broadcaster = local
	if cfg.AMQP.FanoutEnabled {
		fanout, err := rabbitmq.DialFanout(cfg.AMQP.URL, cfg.AMQP.FanoutExchange, local, logger)
		if err != nil {
			logger.Error("failed to start fanout", "error", err)
			os.Exit(1)
		}
		defer fanout.Close()
		broadcaster = fanout
	}

	limits := cfg.Limits
	limiter := ratelimit.New(clock.Real(), limits.Window, map[ratelimit.Kind]int{
		ratelimit.KindConnection: limits.ConnectionsPerWin,
		ratelimit.KindMessage:    limits.MessagesPerWin,
		ratelimit.KindTyping:     limits.TypingPerWin,
	})
	ipLimiter := ratelimit.NewIPLimiter(limits.HandshakesPerSecond, limits.HandshakeBurst)
	limiter.Start(ctx, limits.Window, ipLimiter)
	defer limiter.Stop()

	engine := messaging.NewEngine(store, broadcaster, limiter, clock.Real(), audit, logger, messaging.Config{
		MaxContentChars: limits.MaxContentChars,
		MaxEmojiChars:   limits.MaxEmojiChars,
		EditWindow:      limits.EditWindow,
		StoreTimeout:    cfg.Store.Timeout,
	})

	wsConfig := ws.DefaultConfig()
	wsConfig.MaxFrameBytes = cfg.WebSocket.MaxFrameBytes
	wsConfig.CommandTimeout = cfg.WebSocket.CommandTimeout
	wsConfig.SendBuffer = cfg.WebSocket.SendBuffer
	wsHandler := ws.NewHandler(ws.Deps{
		Engine:      engine,
		Broadcaster: broadcaster,
		Validator:   validator,
		Limiter:     limiter,
		IPLimiter:   ipLimiter,
		Origins:     ws.NewOriginPolicy(cfg.WebSocket.AllowedOrigins, cfg.WebSocket.AllowedHosts, cfg.IsProduction()),
		Events:      events,
		Clock:       clock.Real(),
		Logger:      logger,
	}, wsConfig)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(middleware.RequestID())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", handlers.Health(nil))
	router.GET("/readyz", handlers.Health(pinger))
	router.GET("/ws", wsHandler.Handle)

	api := router.Group("/", middleware.AuthMiddleware(validator))
	handlers.NewConversationHandler(engine, logger).Register(api)
	handlers.RegisterDebugRoutes(api, audit, local, cfg.Server.DebugRoutes)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http server listening", "addr", srv.Addr, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
