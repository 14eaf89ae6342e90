package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"arenaoj/internal/common/cache"
	"arenaoj/internal/common/db"
	commonmw "arenaoj/internal/common/http/middleware"
	"arenaoj/internal/common/mq"
	"arenaoj/internal/common/storage"
	"arenaoj/internal/contest/repository"
	"arenaoj/internal/contest/scheduler"
	"arenaoj/internal/contest/service"
	"arenaoj/internal/judge"
	"arenaoj/internal/judge/execclient"
	"arenaoj/internal/judge/generator"
	"arenaoj/internal/problem"
	"arenaoj/internal/ranking"
	"arenaoj/internal/realtime"
	"arenaoj/pkg/utils/logger"
	"arenaoj/pkg/utils/response"
)

const defaultConfigPath = "configs/arena_server.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	database, err := db.Open(appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = database.Close()
	}()
	dbProvider := db.NewManager(database)

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(context.Background(), "init minio failed", zap.Error(err))
		return
	}

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()

	contestRepo := repository.NewContestRepository(database)
	registrationRepo := repository.NewRegistrationRepository(database)
	submissionRepo := repository.NewSubmissionRepository(database)

	rankingEngine, err := ranking.NewEngine(ranking.Config{
		Cache:        redisCache,
		KeyPrefix:    appCfg.Ranking.KeyPrefix,
		RetentionPad: appCfg.Ranking.RetentionPad,
		OpTimeout:    appCfg.Ranking.OpTimeout,
	})
	if err != nil {
		logger.Error(context.Background(), "init ranking engine failed", zap.Error(err))
		return
	}

	bus, err := realtime.NewBus(redisCache)
	if err != nil {
		logger.Error(context.Background(), "init event bus failed", zap.Error(err))
		return
	}
	hub, err := realtime.NewHub(bus)
	if err != nil {
		logger.Error(context.Background(), "init hub failed", zap.Error(err))
		return
	}
	tokenAuth, err := realtime.NewTokenAuthenticator(appCfg.Realtime.JWTSecret, appCfg.Realtime.TokenTTL)
	if err != nil {
		logger.Error(context.Background(), "init token authenticator failed", zap.Error(err))
		return
	}

	executor, err := execclient.NewClient(execclient.Config{
		BaseURL:        appCfg.Executor.BaseURL,
		MaxRetries:     appCfg.Executor.MaxRetries,
		RetryDelay:     appCfg.Executor.RetryDelay,
		MaxRetryDelay:  appCfg.Executor.MaxRetryDelay,
		NetworkMargin:  appCfg.Executor.NetworkMargin,
		MaxOutputBytes: appCfg.Executor.MaxOutputBytes,
	})
	if err != nil {
		logger.Error(context.Background(), "init execution client failed", zap.Error(err))
		return
	}

	bundleStore, err := problem.NewBundleStore(problem.BundleStoreConfig{
		Storage:   objStorage,
		Lock:      redisCache,
		Bucket:    appCfg.Bundles.Bucket,
		KeyPrefix: appCfg.Bundles.KeyPrefix,
		TTL:       appCfg.Bundles.TTL,
		LockWait:  appCfg.Bundles.LockWait,
	})
	if err != nil {
		logger.Error(context.Background(), "init bundle store failed", zap.Error(err))
		return
	}

	pipeline, err := judge.NewPipeline(judge.PipelineConfig{
		Store:        bundleStore,
		Executor:     executor,
		Generators:   generator.DefaultRegistry(),
		MaxCodeBytes: appCfg.Judge.MaxCodeBytes,
		TimeLimit:    appCfg.Judge.TimeLimit,
	})
	if err != nil {
		logger.Error(context.Background(), "init judge pipeline failed", zap.Error(err))
		return
	}

	contestSvc, err := service.NewContestService(service.ContestConfig{
		ContestRepo:      contestRepo,
		RegistrationRepo: registrationRepo,
		SubmissionRepo:   submissionRepo,
		Ranking:          rankingEngine,
		Bus:              bus,
		Timeouts: service.TimeoutConfig{
			DB: appCfg.Timeouts.DB,
		},
	})
	if err != nil {
		logger.Error(context.Background(), "init contest service failed", zap.Error(err))
		return
	}

	submitSvc, err := service.NewSubmitService(service.SubmitConfig{
		ContestRepo:      contestRepo,
		RegistrationRepo: registrationRepo,
		SubmissionRepo:   submissionRepo,
		Storage:          objStorage,
		MQ:               mqClient,
		Cache:            redisCache,
		Pipeline:         pipeline,
		Ranking:          rankingEngine,
		Bus:              bus,
		JudgeTopic:       appCfg.Kafka.JudgeTopic,
		SourceBucket:     appCfg.Submit.SourceBucket,
		SourceKeyPrefix:  appCfg.Submit.SourceKeyPrefix,
		Workers:          appCfg.Submit.Workers,
		RateLimit: service.RateLimitConfig{
			UserMax: appCfg.Submit.RateLimitMax,
			Window:  appCfg.Submit.RateLimitWindow,
		},
		Timeouts: service.SubmitTimeoutConfig{
			DB:      appCfg.Timeouts.DB,
			Cache:   appCfg.Timeouts.Cache,
			MQ:      appCfg.Timeouts.MQ,
			Storage: appCfg.Timeouts.Storage,
		},
	})
	if err != nil {
		logger.Error(context.Background(), "init submit service failed", zap.Error(err))
		return
	}

	lifecycle, err := scheduler.New(scheduler.Config{
		Contests:      contestRepo,
		Lifecycle:     contestSvc,
		Horizon:       appCfg.Scheduler.Horizon,
		SweepInterval: appCfg.Scheduler.SweepInterval,
	})
	if err != nil {
		logger.Error(context.Background(), "init scheduler failed", zap.Error(err))
		return
	}
	if err := lifecycle.Start(context.Background()); err != nil {
		logger.Error(context.Background(), "start scheduler failed", zap.Error(err))
		return
	}
	defer lifecycle.Stop()

	err = mqClient.SubscribeWithOptions(context.Background(), appCfg.Kafka.JudgeTopic, submitSvc.HandleJudgeTask, &mq.SubscribeOptions{
		ConsumerGroup:   appCfg.Kafka.ConsumerGroup,
		PrefetchCount:   appCfg.Kafka.PrefetchCount,
		Concurrency:     appCfg.Kafka.Concurrency,
		MaxRetries:      appCfg.Kafka.MaxRetries,
		RetryDelay:      appCfg.Kafka.RetryDelay,
		DeadLetterTopic: appCfg.Kafka.DeadLetter,
		MessageTTL:      appCfg.Kafka.MessageTTL,
	})
	if err != nil {
		logger.Error(context.Background(), "subscribe kafka failed", zap.Error(err))
		return
	}
	if err := mqClient.Start(); err != nil {
		logger.Error(context.Background(), "start kafka consumer failed", zap.Error(err))
		return
	}

	httpServer := buildHTTPServer(appCfg.Server, hub, tokenAuth, dbProvider, redisCache)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "arena server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	_ = mqClient.Stop()
}

func buildHTTPServer(cfg ServerConfig, hub *realtime.Hub, tokenAuth *realtime.TokenAuthenticator, dbProvider db.Provider, redisCache cache.Cache) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	router.GET("/healthz", healthHandler(dbProvider, redisCache))
	router.GET("/ws", wsHandler(hub, tokenAuth))

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func healthHandler(dbProvider db.Provider, redisCache cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := gin.H{"database": "up", "redis": "up"}
		healthy := true
		if database, err := db.CurrentDatabase(dbProvider); err != nil {
			status["database"] = "down"
			healthy = false
		} else if err := database.Ping(ctx); err != nil {
			status["database"] = "down"
			healthy = false
		}
		if err := redisCache.Ping(ctx); err != nil {
			status["redis"] = "down"
			healthy = false
		}
		if !healthy {
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		response.Success(c, status)
	}
}

// wsHandler authenticates the connection, upgrades it, and hands it to the
// hub. The handler blocks for the lifetime of the connection; the write
// timeout does not apply to hijacked connections.
func wsHandler(hub *realtime.Hub, tokenAuth *realtime.TokenAuthenticator) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		token = strings.TrimSpace(token)

		// no ticket connects as an anonymous viewer; the client may upgrade
		// later with an in-band auth message. A ticket that fails to verify
		// is rejected outright.
		var userID int64
		if token != "" {
			var err error
			userID, err = tokenAuth.Verify(token)
			if err != nil {
				response.Unauthorized(c, "invalid or expired token")
				return
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
			return
		}
		client := realtime.NewClient(hub, conn, userID, tokenAuth)
		client.Run(c.Request.Context())
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
