package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/groupquiz-backend/internal/config"
	"github.com/stemsi/groupquiz-backend/internal/database"
	"github.com/stemsi/groupquiz-backend/internal/logger"
	"github.com/stemsi/groupquiz-backend/internal/model"
	"github.com/stemsi/groupquiz-backend/internal/repository"
	"github.com/stemsi/groupquiz-backend/internal/service"
)

// issue-token signs a development token the way the host platform would.
// With -quiz it also reports which group the user would work in.
func main() {
	var (
		userID int64
		role   string
		quizID int64
		expiry time.Duration
	)
	flag.Int64Var(&userID, "user", 0, "User ID to embed in the token")
	flag.StringVar(&role, "role", string(model.RoleStudent), "Role: student or instructor")
	flag.Int64Var(&quizID, "quiz", 0, "Optional quiz ID to resolve the user's group for")
	flag.DurationVar(&expiry, "expiry", 0, "Token lifetime (defaults to JWT_EXPIRY_HOURS)")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, "groupquiz-issue-token")

	if userID <= 0 {
		log.Fatal().Msg("-user must be a positive user ID")
	}
	r := model.Role(role)
	if r != model.RoleStudent && r != model.RoleInstructor {
		log.Fatal().Str("role", role).Msg("-role must be student or instructor")
	}
	if expiry <= 0 {
		expiry = cfg.JWTExpiry
	}

	token, err := service.NewTokenService(cfg.JWTSecret, expiry).Issue(userID, r)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue token")
	}

	if quizID > 0 {
		reportGroup(cfg, log, userID, quizID)
	}

	fmt.Println(token)
}

func reportGroup(cfg *config.Config, log zerolog.Logger, userID, quizID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	quiz, err := repository.NewQuizRepository(pool).GetQuiz(ctx, quizID)
	if err != nil {
		log.Fatal().Err(err).Int64("quiz_id", quizID).Msg("Failed to load quiz")
	}

	groupID, err := service.NewGroupResolver(repository.NewGroupRepository(pool)).Resolve(ctx, quiz, userID)
	switch {
	case errors.Is(err, model.ErrAmbiguousOrMissingGroup):
		log.Warn().Int64("user_id", userID).Int64("quiz_id", quizID).Msg("User has no resolvable group for this quiz")
	case err != nil:
		log.Fatal().Err(err).Msg("Failed to resolve group")
	default:
		log.Info().Int64("user_id", userID).Int64("quiz_id", quizID).Int64("group_id", groupID).Msg("Resolved group")
	}
}
