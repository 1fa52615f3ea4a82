package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/database"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/ratelimit"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/router"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/pkg/judge0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("service", cfg.AppName).Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, rate limiting falls back to local counters")
		} else {
			defer redisClient.Close()
		}
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Warn().Err(err).Msg("nats unavailable, attempt events will not be broadcast over nats")
		} else {
			defer natsConn.Drain()
		}
	}

	judgeClient, err := judge0.NewClient(judge0.Config{
		BaseURL:           cfg.Judge0.URL,
		AuthToken:         cfg.Judge0.AuthToken,
		Timeout:           cfg.Judge0.Timeout,
		PollInterval:      cfg.Judge0.PollInterval,
		PollAttempts:      cfg.Judge0.PollAttempts,
		BatchPollAttempts: cfg.Judge0.BatchPollAttempts,
		Limits: judge0.Limits{
			CPUTimeLimit:  cfg.Judge0.CPUTimeLimit,
			CPUExtraTime:  cfg.Judge0.CPUExtraTime,
			WallTimeLimit: cfg.Judge0.WallTimeLimit,
			MemoryLimitKB: cfg.Judge0.MemoryLimit,
			StackLimitKB:  cfg.Judge0.StackLimit,
			MaxProcesses:  cfg.Judge0.MaxProcesses,
		},
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("failed to create judge0 client: %v", err)
	}
	judgeHealth := judge0.NewHealthCache(judgeClient, cfg.Judge0.HealthTTL)

	validate := validator.New(validator.WithRequiredStructEnabled())

	studentRepo := repository.NewStudentRepository(db)
	evaluationRepo := repository.NewEvaluationRepository(db)
	exerciseRepo := repository.NewExerciseRepository(db)
	attemptRepo := repository.NewAttemptRepository(db)
	answerRepo := repository.NewAnswerRepository(db)
	historyRepo := repository.NewHistoryRepository(db)

	var events service.AttemptEventPublisher = service.NoopAttemptEventPublisher()
	if redisClient != nil || natsConn != nil {
		events = service.NewAttemptEventPublisher(redisClient, natsConn, cfg.EventsSubject, logger)
	}

	historyService := service.NewHistoryService(historyRepo, attemptRepo, answerRepo, evaluationRepo, studentRepo, logger)
	gradingService := service.NewGradingService(evaluationRepo, exerciseRepo, attemptRepo, answerRepo, judgeClient, judgeHealth, validate, logger, service.GradingConfig{
		DefaultLanguageID: cfg.DefaultLanguageID,
		Timeout:           cfg.GradingTimeout,
	})
	batchService := service.NewBatchService(evaluationRepo, attemptRepo, answerRepo, judgeClient, judgeHealth, historyService, events, validate, logger, service.BatchConfig{
		DefaultLanguageID: cfg.DefaultLanguageID,
		PollAttempts:      cfg.Judge0.BatchPollAttempts,
	})
	attemptService := service.NewAttemptService(attemptRepo, answerRepo, evaluationRepo, historyService, events, validate, logger)

	limiterConfig := ratelimit.Config{
		Limit:  cfg.RateLimitMax,
		Window: cfg.RateLimitWindow,
		Logger: logger,
	}
	if redisClient != nil {
		limiterConfig.Redis = redisClient
	}
	limiter := ratelimit.New(limiterConfig)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		ReadTimeout:  cfg.GradingTimeout + 30*time.Second,
		WriteTimeout: cfg.GradingTimeout + 30*time.Second,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		GradingHandler: handler.NewGradingHandler(gradingService, batchService, logger),
		AttemptHandler: handler.NewAttemptHandler(attemptService, validate, logger),
		HistoryHandler: handler.NewHistoryHandler(historyService, logger),
		JudgeHealth:    judgeHealth,
		RateLimiter:    limiter,
		JWTMiddleware:  middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	logger.Info().Str("address", cfg.HTTPAddress()).Str("judge0", cfg.Judge0.URL).Msg("grading service started")
	waitForShutdown(app, logger)
}

func waitForShutdown(app *fiber.App, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
