package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/linlinbupt123-crypto/ledger_service/config"
	"github.com/linlinbupt123-crypto/ledger_service/db"
)

// Creates the MongoDB indexes used by the ledger. Safe to rerun.
func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	path := os.Getenv("LEDGER_CONFIG")
	if path == "" {
		path = "config/config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m, err := db.NewMongoRepo(ctx, cfg.Store.MongoURI, cfg.Store.MongoDB)
	if err != nil {
		logger.Fatal().Err(err).Msg("MongoDB connect error")
	}
	defer func() {
		if err := m.Close(ctx); err != nil {
			logger.Error().Err(err).Msg("MongoDB disconnect error")
		}
	}()

	if err := m.EnsureIndexes(ctx); err != nil {
		logger.Fatal().Err(err).Msg("init indexes failed")
	}
	logger.Info().Str("db", cfg.Store.MongoDB).Msg("all indexes initialized")
}
