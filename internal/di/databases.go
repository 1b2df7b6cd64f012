package di

import (
	"fmt"
	"path/filepath"

	"github.com/aristath/quantlab/internal/config"
	"github.com/aristath/quantlab/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens the run-history database and applies its schema
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	runsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "runs.db"),
		Profile: database.ProfileStandard,
		Name:    "runs",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize runs database: %w", err)
	}

	if err := runsDB.Migrate(); err != nil {
		runsDB.Close()
		return nil, fmt.Errorf("failed to migrate runs database: %w", err)
	}

	log.Info().Str("path", runsDB.Path()).Msg("Runs database initialized")
	return &Container{RunsDB: runsDB}, nil
}
