package di

import (
	"fmt"
	"path/filepath"

	"github.com/aristath/verdict/internal/config"
	"github.com/aristath/verdict/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens both databases and applies their schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// 1. analysis.db - consensus records; everything here can be recomputed
	analysisDB, err := openDatabase(cfg.DataDir, "analysis", database.ProfileCache)
	if err != nil {
		return nil, err
	}
	container.AnalysisDB = analysisDB

	// 2. classification.db - tier states plus the append-only transition log
	classificationDB, err := openDatabase(cfg.DataDir, "classification", database.ProfileLedger)
	if err != nil {
		analysisDB.Close()
		return nil, err
	}
	container.ClassificationDB = classificationDB

	log.Info().
		Str("data_dir", cfg.DataDir).
		Msg("Databases initialized")

	return container, nil
}

func openDatabase(dataDir, name string, profile database.DatabaseProfile) (*database.DB, error) {
	db, err := database.New(database.Config{
		Path:    filepath.Join(dataDir, name+".db"),
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s database: %w", name, err)
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate %s database: %w", name, err)
	}

	return db, nil
}
