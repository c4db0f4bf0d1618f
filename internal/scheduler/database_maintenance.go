package scheduler

import (
	"errors"
	"fmt"

	"github.com/aristath/verdict/internal/database"
	"github.com/aristath/verdict/internal/scheduler/base"
	"github.com/rs/zerolog"
)

// walWarnFrames is the WAL size in frames above which a warning is logged
const walWarnFrames = 1000

// DatabaseMaintenanceJob verifies integrity and checkpoints the WAL of each database
type DatabaseMaintenanceJob struct {
	base.JobBase
	databases []*database.DB
	log       zerolog.Logger
}

// NewDatabaseMaintenanceJob creates a new DatabaseMaintenanceJob. Nil databases are skipped.
func NewDatabaseMaintenanceJob(log zerolog.Logger, databases ...*database.DB) *DatabaseMaintenanceJob {
	return &DatabaseMaintenanceJob{
		databases: databases,
		log:       log.With().Str("job", "database_maintenance").Logger(),
	}
}

// Name returns the job name
func (j *DatabaseMaintenanceJob) Name() string {
	return "database_maintenance"
}

// Run checks every database and returns the joined integrity failures.
// A corrupted database does not stop the others from being checked.
func (j *DatabaseMaintenanceJob) Run() error {
	var errs []error
	checked := 0

	for _, db := range j.databases {
		if db == nil {
			continue
		}

		if err := checkIntegrity(db); err != nil {
			j.log.Error().
				Err(err).
				Str("database", db.Name()).
				Msg("Database integrity check failed")
			errs = append(errs, fmt.Errorf("database %s is corrupted: %w", db.Name(), err))
			continue
		}

		// PRAGMA wal_checkpoint returns: busy, log, checkpointed
		var busy, frames, checkpointed int
		err := db.Conn().QueryRow("PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &frames, &checkpointed)
		if err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to checkpoint WAL")
		} else if frames > walWarnFrames {
			j.log.Warn().
				Str("database", db.Name()).
				Int("wal_frames", frames).
				Int("checkpointed", checkpointed).
				Msg("WAL file is large")
		}

		checked++
	}

	j.log.Info().Int("checked", checked).Int("failed", len(errs)).Msg("Database maintenance completed")
	return errors.Join(errs...)
}

// checkIntegrity runs SQLite's PRAGMA quick_check
func checkIntegrity(db *database.DB) error {
	var result string
	if err := db.Conn().QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check returned: %s", result)
	}
	return nil
}
