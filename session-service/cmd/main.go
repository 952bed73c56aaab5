package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/campaign-live/pkg/database"
	"github.com/weiawesome/campaign-live/pkg/jwt"
	"github.com/weiawesome/campaign-live/pkg/log"
	"github.com/weiawesome/campaign-live/pkg/middleware"
	"github.com/weiawesome/campaign-live/pkg/pubsub"
	"github.com/weiawesome/campaign-live/session-service/internal/campaign"
	"github.com/weiawesome/campaign-live/session-service/internal/config"
	"github.com/weiawesome/campaign-live/session-service/internal/directory"
	"github.com/weiawesome/campaign-live/session-service/internal/gate"
	"github.com/weiawesome/campaign-live/session-service/internal/handler"
	"github.com/weiawesome/campaign-live/session-service/internal/hub"
	"github.com/weiawesome/campaign-live/session-service/internal/metrics"
	"github.com/weiawesome/campaign-live/session-service/internal/presence"
	"github.com/weiawesome/campaign-live/session-service/internal/relay"
	"github.com/weiawesome/campaign-live/session-service/internal/repository"
	"github.com/weiawesome/campaign-live/session-service/internal/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := log.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	nodeID := cfg.Server.NodeID
	if nodeID == "" {
		host, _ := os.Hostname()
		nodeID = fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
	}
	cfg.Log.NodeID = nodeID
	log.Init(cfg.Log)
	logger := log.L()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	models := append(campaign.Models(), repository.Models()...)
	if err := database.AutoMigrate(db, models...); err != nil {
		logger.Fatal().Err(err).Msg("failed to auto-migrate")
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("database migration completed")

	ids := repository.NewIDGenerator()
	storeBreaker := repository.BreakerSettings{
		MaxRequests:      cfg.Store.Breaker.MaxRequests,
		Interval:         cfg.Store.Breaker.Interval,
		Timeout:          cfg.Store.Breaker.Timeout,
		FailureThreshold: cfg.Store.Breaker.FailureThreshold,
	}
	messages := repository.NewBreakerMessageStore(repository.NewGormMessageStore(db, ids), storeBreaker)
	rolls := repository.NewBreakerRollLog(repository.NewGormRollLog(db, ids), storeBreaker)
	users := repository.NewGormUserDirectory(db)

	// Redis (optional): campaign cache, room directory, relay bus
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			logger.Fatal().Err(err).Str("address", cfg.Redis.Address).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		logger.Info().Str("address", cfg.Redis.Address).Msg("connected to redis")
	}

	store := campaign.NewGormStore(db)
	oracle, snapshots := newOracle(cfg, store, redisClient)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Room directory and hub
	hubOpts := []hub.Option{hub.WithObserver(m)}
	var dir directory.Directory
	if redisClient != nil && cfg.Relay.Driver != "none" {
		dir = directory.NewRedisDirectory(redisClient, nodeID, cfg.Relay.DirectoryPrefix, cfg.Relay.KeyTTL, cfg.Relay.HeartbeatInterval)
		hubOpts = append(hubOpts, hub.WithRoomListener(directory.Listener(dir, cfg.Session.UpstreamTimeout)))
	}
	wsHub := hub.NewHub(hubOpts...)

	if dir != nil {
		if err := dir.StartHeartbeat(ctx, wsHub.ActiveRooms); err != nil {
			logger.Fatal().Err(err).Msg("failed to start directory heartbeat")
		}
		defer dir.Close()
	}

	// Cross-node relay
	var fanout hub.Fanout = wsHub
	bus, err := newBus(cfg, nodeID, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Relay.Driver).Msg("failed to initialise relay bus")
	}
	if bus != nil {
		opts := []relay.Option{relay.WithCounter(m)}
		if dir != nil {
			opts = append(opts, relay.WithLookup(dir))
		}
		rl := relay.New(wsHub, bus, nodeID, opts...)
		if err := rl.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to start relay")
		}
		defer bus.Close()
		defer rl.Stop()
		fanout = rl
		logger.Info().Str("driver", cfg.Relay.Driver).Msg("relay started")
	}

	// Identity gate and event router
	tokens, err := jwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, time.Hour, jwt.WithLeeway(cfg.Auth.Leeway))
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid auth configuration")
	}
	g := gate.New(tokens, users, cfg.Session.UpstreamTimeout)

	rt := router.New(router.Deps{
		Hub:      wsHub,
		Fanout:   fanout,
		Oracle:   oracle,
		Messages: messages,
		Rolls:    rolls,
		Observer: m,
	}, router.RulesFromConfig(cfg.Session))
	defer rt.Shutdown()

	// HTTP
	if !cfg.Log.Pretty {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), log.GinMiddleware(logger, "/health", "/metrics"))

	handler.NewHTTPHandler(oracle, messages, presence.NewTracker(wsHub), wsHub.SessionCount, nodeID).
		WithRoster(campaign.NewRoster(store, snapshots)).
		WithBreaker("campaign-oracle", oracle.State).
		WithBreaker("message-store", messages.State).
		WithBreaker("roll-log", rolls.State).
		RegisterRoutes(engine, middleware.NewAuthMiddleware(g).RequireAuth())
	engine.GET("/ws", handler.NewWSHandler(wsHub, g, rt, m, cfg.WebSocket).HandleWebSocket)
	engine.GET("/metrics", gin.WrapH(m.Handler()))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("session service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down session service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	// Hijacked websocket connections are not closed by Shutdown.
	for _, c := range wsHub.Clients() {
		c.Close()
	}

	logger.Info().Msg("session service stopped")
}

// newOracle layers the redis snapshot cache (when available) and a circuit
// breaker over the campaign tables. The returned invalidator is nil without
// a cache.
func newOracle(cfg *config.Config, store *campaign.GormStore, redisClient *redis.Client) (*campaign.BreakerOracle, campaign.Invalidator) {
	var (
		oracle    campaign.Oracle = store
		snapshots campaign.Invalidator
	)
	if redisClient != nil {
		cached := campaign.NewCachedOracle(store, campaign.NewRedisCache(redisClient, "campaign:snapshot"), cfg.Campaign.CacheTTL)
		oracle, snapshots = cached, cached
	}
	return campaign.NewBreakerOracle(oracle, campaign.BreakerSettings{
		MaxRequests:      cfg.Campaign.Breaker.MaxRequests,
		Interval:         cfg.Campaign.Breaker.Interval,
		Timeout:          cfg.Campaign.Breaker.Timeout,
		FailureThreshold: cfg.Campaign.Breaker.FailureThreshold,
	}), snapshots
}

// newBus returns nil when the relay is disabled.
func newBus(cfg *config.Config, nodeID string, redisClient *redis.Client) (pubsub.PubSub, error) {
	switch cfg.Relay.Driver {
	case "", "none":
		return nil, nil
	case "redis":
		if redisClient == nil {
			return nil, errors.New("relay driver redis requires redis.enabled")
		}
		return pubsub.NewRedisPubSubFromClient(redisClient), nil
	case "kafka":
		kcfg := cfg.Relay.Kafka
		// Every node needs its own consumer group to see every envelope.
		kcfg.GroupID = fmt.Sprintf("%s-%s", kcfg.GroupID, nodeID)
		return pubsub.NewPubSub(pubsub.Config{Driver: "kafka", Kafka: kcfg})
	default:
		return nil, fmt.Errorf("unsupported relay driver: %s", cfg.Relay.Driver)
	}
}
