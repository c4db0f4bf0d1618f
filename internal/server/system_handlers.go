package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/aristath/verdict/internal/database"
	"github.com/aristath/verdict/internal/di"
	"github.com/aristath/verdict/internal/modules/classification"
	"github.com/aristath/verdict/internal/scheduler"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemHandlers handles system-wide monitoring and operations endpoints
type SystemHandlers struct {
	container   *di.Container
	startupTime time.Time
	log         zerolog.Logger
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(container *di.Container, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		container:   container,
		startupTime: time.Now(),
		log:         log.With().Str("handler", "system").Logger(),
	}
}

// SystemStatusResponse is the operational snapshot
type SystemStatusResponse struct {
	Status                string                      `json:"status"`
	StartedAt             time.Time                   `json:"started_at"`
	UptimeSeconds         int64                       `json:"uptime_seconds"`
	Goroutines            int                         `json:"goroutines"`
	CPUPercent            float64                     `json:"cpu_percent"`
	MemoryPercent         float64                     `json:"memory_percent"`
	Databases             []*database.Stats           `json:"databases"`
	Jobs                  []scheduler.JobInfo         `json:"jobs"`
	RefreshPending        int                         `json:"refresh_pending"`
	ClassificationEnabled bool                        `json:"classification_enabled"`
	Tiers                 map[classification.Tier]int `json:"tiers,omitempty"`
	Redis                 bool                        `json:"redis"`
}

// GetSystemStatusSnapshot returns a snapshot of the current system status.
// Partial failures are logged and reported through the returned error.
func (h *SystemHandlers) GetSystemStatusSnapshot(ctx context.Context) (SystemStatusResponse, error) {
	var errs []error

	cpuPercent, memPercent := h.getSystemStats()
	response := SystemStatusResponse{
		Status:        "healthy",
		StartedAt:     h.startupTime,
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Redis:         h.container.Redis != nil,
	}

	for _, db := range h.container.Databases() {
		stats, err := db.GetStats()
		if err != nil {
			h.log.Error().Err(err).Str("database", db.Name()).Msg("Failed to get database stats")
			errs = append(errs, err)
			response.Status = "degraded"
			continue
		}
		response.Databases = append(response.Databases, stats)
	}

	if h.container.Scheduler != nil {
		response.Jobs = h.container.Scheduler.Jobs()
	}
	if h.container.RefreshQueue != nil {
		response.RefreshPending = h.container.RefreshQueue.Pending()
	}
	if h.container.Classifier != nil {
		response.ClassificationEnabled = h.container.Classifier.Enabled()
		tiers, err := h.container.Classifier.Counts(ctx)
		if err != nil {
			h.log.Error().Err(err).Msg("Failed to count tiers")
			errs = append(errs, err)
			response.Status = "degraded"
		} else {
			response.Tiers = tiers
		}
	}

	return response, errors.Join(errs...)
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	response, err := h.GetSystemStatusSnapshot(r.Context())
	if err != nil {
		h.log.Warn().Err(err).Msg("System status collected with warnings")
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleJobs handles GET /api/system/jobs
func (h *SystemHandlers) HandleJobs(w http.ResponseWriter, r *http.Request) {
	jobs := []scheduler.JobInfo{}
	if h.container.Scheduler != nil {
		jobs = h.container.Scheduler.Jobs()
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// HandleRunJob handles POST /api/system/jobs/{name}/run. The job runs in the
// background; its outcome shows up in the job status.
func (h *SystemHandlers) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if h.container.Scheduler == nil || !h.hasJob(name) {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown job: " + name})
		return
	}
	if h.container.Scheduler.Running(name) {
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": "job already running: " + name})
		return
	}

	go func() {
		if err := h.container.Scheduler.RunByName(name); err != nil {
			h.log.Error().Err(err).Str("job", name).Msg("Manually triggered job failed")
		}
	}()

	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"job":    name,
		"status": "started",
	})
}

func (h *SystemHandlers) hasJob(name string) bool {
	for _, job := range h.container.Scheduler.Jobs() {
		if job.Name == name {
			return true
		}
	}
	return false
}

// HandleHealth handles GET /health
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for _, db := range h.container.Databases() {
		if err := db.QuickCheck(ctx); err != nil {
			h.log.Error().Err(err).Str("database", db.Name()).Msg("Health check failed")
			h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// MetricsHandler exposes the Prometheus registry
func (h *SystemHandlers) MetricsHandler() http.Handler {
	if h.container.Registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(h.container.Registry, promhttp.HandlerOpts{})
}

// getSystemStats returns CPU and RAM usage percentages. CPU is sampled over 100ms.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

// writeJSON writes a JSON response
func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
