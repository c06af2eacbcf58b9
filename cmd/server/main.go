package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/groupquiz-backend/internal/config"
	"github.com/stemsi/groupquiz-backend/internal/database"
	"github.com/stemsi/groupquiz-backend/internal/handler"
	"github.com/stemsi/groupquiz-backend/internal/logger"
	"github.com/stemsi/groupquiz-backend/internal/questionengine"
	"github.com/stemsi/groupquiz-backend/internal/repository"
	"github.com/stemsi/groupquiz-backend/internal/router"
	"github.com/stemsi/groupquiz-backend/internal/service"
	"github.com/stemsi/groupquiz-backend/internal/validator"
	"github.com/stemsi/groupquiz-backend/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, "groupquiz")
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting group quiz backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	attemptRepo := repository.NewAttemptRepository(pool, log)
	quizRepo := repository.NewQuizRepository(pool)
	groupRepo := repository.NewGroupRepository(pool)
	gradeRepo := repository.NewGradeRepository(pool)
	eventRepo := repository.NewEventRepository(pool)
	gradebookRepo := repository.NewGradebookRepository(pool)
	renderCache := repository.NewRenderCache(rdb, cfg.RenderCacheTTL)

	// ─── Initialize Services ──────────────────────────────────────────
	engine := questionengine.New(pool, log)
	tokens := service.NewTokenService(cfg.JWTSecret, cfg.JWTExpiry)
	resolver := service.NewGroupResolver(groupRepo)
	grader := service.NewGradeEngine(
		attemptRepo,
		quizRepo,
		engine,
		groupRepo,
		gradeRepo,
		service.NewGradebookQueue(rdb),
		log,
	)
	attempts := service.NewAttemptService(
		attemptRepo,
		quizRepo,
		engine,
		resolver,
		grader,
		service.NewEventPublisher(rdb, log),
		renderCache,
		service.AttemptConfig{
			PollInterval:       cfg.PollInterval,
			PollJitter:         cfg.PollJitter,
			ReviewImmediateFor: cfg.ReviewImmediateFor,
		},
		log,
	)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Attempt: handler.NewAttemptHandler(attempts, log),
		Manage:  handler.NewManageHandler(attempts, grader, log),
		WS:      handler.NewWSHandler(attempts, log, cfg.AllowedOrigins),
		Monitor: handler.NewMonitorHandler(rdb, attempts, log),
		System:  handler.NewSystemHandler(pool, rdb, log),
	}

	r := router.SetupRouter(ctx, tokens, handlers, cfg)
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Run server and workers until a signal arrives ────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		worker.NewEventWorker(eventRepo, rdb, log).Start(gctx)
		return nil
	})
	g.Go(func() error {
		worker.NewGradebookWorker(gradebookRepo, rdb, log).Start(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
	}
	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
