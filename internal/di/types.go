// Package di provides dependency injection type definitions.
//
// The Container holds every long-lived dependency and is the single source of
// truth handed to the HTTP server and cmd/server.
package di

import (
	"github.com/aristath/verdict/internal/database"
	"github.com/aristath/verdict/internal/metrics"
	"github.com/aristath/verdict/internal/modules/analysis"
	"github.com/aristath/verdict/internal/modules/analyzers"
	"github.com/aristath/verdict/internal/modules/cache"
	"github.com/aristath/verdict/internal/modules/classification"
	"github.com/aristath/verdict/internal/modules/coordinator"
	"github.com/aristath/verdict/internal/modules/quota"
	"github.com/aristath/verdict/internal/modules/scoring"
	"github.com/aristath/verdict/internal/scheduler"
	"github.com/aristath/verdict/internal/work"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// Container holds all application dependencies
type Container struct {
	// Databases
	AnalysisDB       *database.DB // analysis.db - consensus records (recomputable)
	ClassificationDB *database.DB // classification.db - tier states and the transition audit trail

	// Shared backends
	Redis      *redis.Client // nil when no Redis address is configured
	CacheStore cache.Store
	QuotaStore quota.Store

	// Repositories
	AnalysisRepo       *analysis.Repository
	ClassificationRepo *classification.Repository

	// Services
	Registry      *prometheus.Registry
	Metrics       *metrics.Recorder
	AnalysisCache *cache.AnalysisCache
	QuotaService  *quota.Service
	Orchestrator  *analyzers.Orchestrator
	Scorer        *scoring.Scorer
	Coordinator   *coordinator.Coordinator
	RefreshQueue  *work.RefreshQueue
	Classifier    *classification.Classifier

	// Classification inputs
	UniverseSource classification.UniverseSource // nil when no remote service is configured
	SignalSource   classification.SignalSource

	// Jobs
	Scheduler *scheduler.Scheduler
	Jobs      *JobInstances
}

// JobInstances holds the registered job instances for manual triggering and status
type JobInstances struct {
	Cleanup        *analysis.CleanupJob
	Maintenance    *scheduler.DatabaseMaintenanceJob
	UniverseScreen *scheduler.UniverseScreenJob // nil without a universe source
	DailyReview    *scheduler.DailyReviewJob
}

// Databases returns the open databases in a stable order
func (c *Container) Databases() []*database.DB {
	var dbs []*database.DB
	for _, db := range []*database.DB{c.AnalysisDB, c.ClassificationDB} {
		if db != nil {
			dbs = append(dbs, db)
		}
	}
	return dbs
}
