package di

import (
	"github.com/aristath/verdict/internal/modules/analysis"
	"github.com/aristath/verdict/internal/modules/classification"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates the repositories over the open databases
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	container.AnalysisRepo = analysis.NewRepository(container.AnalysisDB.Conn(), log)
	container.ClassificationRepo = classification.NewRepository(container.ClassificationDB.Conn(), log)

	log.Info().Msg("Repositories initialized")
	return nil
}
