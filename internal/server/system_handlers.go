package server

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/quantlab/internal/database"
	"github.com/aristath/quantlab/internal/di"
	"github.com/aristath/quantlab/internal/modules/runs"
	"github.com/aristath/quantlab/internal/scheduler"
	"github.com/aristath/quantlab/internal/utils"
)

// Overall system states
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// SystemStatusResponse is the body of GET /api/system/status
type SystemStatusResponse struct {
	Status        string              `json:"status"`
	Version       string              `json:"version"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Goroutines    int                 `json:"goroutines"`
	Workers       int                 `json:"workers"`
	CPUPercent    float64             `json:"cpu_percent"`
	MemoryPercent float64             `json:"memory_percent"`
	MemoryUsedMB  float64             `json:"memory_used_mb"`
	Runs          map[runs.Status]int `json:"runs"`
	Database      *database.Stats     `json:"database,omitempty"`
	Subscribers   int                 `json:"subscribers"`
	Strategies    []string            `json:"strategies"`
	BackupEnabled bool                `json:"backup_enabled"`
	Errors        []string            `json:"errors,omitempty"`
}

// SystemHandlers serves system status and manual job triggers
type SystemHandlers struct {
	container *di.Container
	jobs      map[string]scheduler.Job
	version   string
	started   time.Time
	log       zerolog.Logger
}

// NewSystemHandlers creates system handlers. jobs are the manually
// triggerable jobs keyed by name.
func NewSystemHandlers(container *di.Container, jobs map[string]scheduler.Job, version string, log zerolog.Logger) *SystemHandlers {
	if version == "" {
		version = "dev"
	}
	return &SystemHandlers{
		container: container,
		jobs:      jobs,
		version:   version,
		started:   time.Now(),
		log:       log.With().Str("handler", "system").Logger(),
	}
}

// GetSystemStatusSnapshot collects the current system status. The database
// being unreachable makes the system unhealthy; a failing stats query only
// degrades it.
func (h *SystemHandlers) GetSystemStatusSnapshot(ctx context.Context) SystemStatusResponse {
	c := h.container
	resp := SystemStatusResponse{
		Status:        StatusHealthy,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
		Workers:       c.WorkerPool.Size(),
		Subscribers:   c.EventBus.SubscriberCount(),
		Strategies:    c.Registry.Names(),
		BackupEnabled: c.BackupService != nil,
	}
	resp.CPUPercent, resp.MemoryPercent, resp.MemoryUsedMB = h.resourceUsage()

	counts, err := c.RunService.Counts(ctx)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to count runs")
		resp.Status = StatusUnhealthy
		resp.Errors = append(resp.Errors, "runs: "+err.Error())
	}
	resp.Runs = counts

	stats, err := c.RunsDB.GetStats(ctx)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get database stats")
		if resp.Status == StatusHealthy {
			resp.Status = StatusDegraded
		}
		resp.Errors = append(resp.Errors, "database: "+err.Error())
	}
	resp.Database = stats

	return resp
}

func (h *SystemHandlers) resourceUsage() (cpuPercent, memPercent, memUsedMB float64) {
	percents, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	} else if len(percents) > 0 {
		cpuPercent = percents[0]
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuPercent, 0, 0
	}
	return cpuPercent, memStat.UsedPercent, float64(memStat.Used) / 1024 / 1024
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, h.log, http.StatusOK, h.GetSystemStatusSnapshot(r.Context()))
}

// HandleJobs handles GET /api/system/jobs
func (h *SystemHandlers) HandleJobs(w http.ResponseWriter, r *http.Request) {
	var jobs []scheduler.JobStatus
	if h.container.Scheduler != nil {
		jobs = h.container.Scheduler.Jobs()
	}
	utils.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// HandleRunJob handles POST /api/system/jobs/{name}/run
func (h *SystemHandlers) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	job, ok := h.jobs[name]
	if !ok {
		utils.WriteError(w, h.log, http.StatusNotFound, "unknown job "+name)
		return
	}

	start := time.Now()
	var err error
	if h.container.Scheduler != nil {
		err = h.container.Scheduler.RunNow(job)
	} else {
		err = job.Run()
	}
	if err != nil {
		utils.WriteError(w, h.log, http.StatusInternalServerError, err.Error())
		return
	}

	utils.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"job":         name,
		"status":      "completed",
		"duration_ms": time.Since(start).Milliseconds(),
	})
}
