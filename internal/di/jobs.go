package di

import (
	"fmt"

	"github.com/aristath/verdict/internal/config"
	"github.com/aristath/verdict/internal/modules/analysis"
	"github.com/aristath/verdict/internal/scheduler"
	"github.com/rs/zerolog"
)

// RegisterJobs creates the background jobs and schedules them on a new scheduler.
// The scheduler is not started.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) error {
	sched := scheduler.New(log)
	jobs := &JobInstances{}

	jobs.Cleanup = analysis.NewCleanupJob(container.AnalysisRepo, cfg.Freshness.RetentionDays, log)
	if err := sched.AddJob(cfg.Schedule.Cleanup, jobs.Cleanup); err != nil {
		return fmt.Errorf("failed to register cleanup job: %w", err)
	}

	jobs.Maintenance = scheduler.NewDatabaseMaintenanceJob(log, container.Databases()...)
	if err := sched.AddJob(cfg.Schedule.Maintenance, jobs.Maintenance); err != nil {
		return fmt.Errorf("failed to register maintenance job: %w", err)
	}

	if container.UniverseSource != nil {
		jobs.UniverseScreen = scheduler.NewUniverseScreenJob(container.UniverseSource, container.Classifier, log)
		if err := sched.AddJob(cfg.Schedule.UniverseScreen, jobs.UniverseScreen); err != nil {
			return fmt.Errorf("failed to register universe screen job: %w", err)
		}
	}

	jobs.DailyReview = scheduler.NewDailyReviewJob(container.SignalSource, container.Classifier, log)
	if err := sched.AddJob(cfg.Schedule.DailyReview, jobs.DailyReview); err != nil {
		return fmt.Errorf("failed to register daily review job: %w", err)
	}

	container.Scheduler = sched
	container.Jobs = jobs

	log.Info().Int("jobs", len(sched.Jobs())).Msg("Jobs registered")
	return nil
}
