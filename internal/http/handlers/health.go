package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/jmylchreest/relayarr/internal/relay"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"gorm.io/gorm"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	baseDir   string
	db        *gorm.DB
	registry  *relay.Registry
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB sets the database connection for health checks.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// WithRegistry sets the relay registry for the active session count.
func (h *HealthHandler) WithRegistry(registry *relay.Registry) *HealthHandler {
	h.registry = registry
	return h
}

// WithBaseDir sets the segment base directory for disk usage reporting.
func (h *HealthHandler) WithBaseDir(baseDir string) *HealthHandler {
	h.baseDir = baseDir
	return h
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status         string            `json:"status"`
	Timestamp      string            `json:"timestamp"`
	Version        string            `json:"version"`
	Uptime         string            `json:"uptime"`
	UptimeSeconds  float64           `json:"uptime_seconds"`
	Goroutines     int               `json:"goroutines"`
	ActiveSessions int               `json:"active_sessions"`
	CPUInfo        CPUInfo           `json:"cpu"`
	Memory         MemoryInfo        `json:"memory"`
	Disk           DiskInfo          `json:"disk"`
	Components     HealthComponents  `json:"components"`
	Checks         map[string]string `json:"checks,omitempty"`
}

// CPUInfo holds host CPU load information.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo holds host and process memory information.
type MemoryInfo struct {
	TotalMemoryMB     float64           `json:"total_mb"`
	UsedMemoryMB      float64           `json:"used_mb"`
	FreeMemoryMB      float64           `json:"free_mb"`
	AvailableMemoryMB float64           `json:"available_mb"`
	SwapTotalMB       float64           `json:"swap_total_mb"`
	SwapUsedMB        float64           `json:"swap_used_mb"`
	ProcessMemory     ProcessMemoryInfo `json:"process"`
}

// ProcessMemoryInfo holds memory usage of this process and its uploader
// children.
type ProcessMemoryInfo struct {
	MainProcessMB      float64 `json:"main_mb"`
	ChildProcessesMB   float64 `json:"children_mb"`
	ChildProcessCount  int     `json:"child_count"`
	TotalProcessTreeMB float64 `json:"tree_mb"`
	PercentageOfSystem float64 `json:"percentage_of_system"`
}

// DiskInfo holds usage of the filesystem backing the segment store.
type DiskInfo struct {
	Path        string  `json:"path"`
	TotalGB     float64 `json:"total_gb"`
	UsedGB      float64 `json:"used_gb"`
	FreeGB      float64 `json:"free_gb"`
	UsedPercent float64 `json:"used_percent"`
}

// HealthComponents groups per-component health details.
type HealthComponents struct {
	Database DatabaseHealth `json:"database"`
}

// DatabaseHealth reports journal database connectivity and pool state.
type DatabaseHealth struct {
	Status                 string  `json:"status"`
	ConnectionPoolSize     int     `json:"connection_pool_size"`
	ActiveConnections      int     `json:"active_connections"`
	IdleConnections        int     `json:"idle_connections"`
	PoolUtilizationPercent float64 `json:"pool_utilization_percent"`
	ResponseTimeMS         float64 `json:"response_time_ms"`
	ResponseTimeStatus     string  `json:"response_time_status"`
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/api/v1/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// RegisterAlias registers the bare /health alias on the router. It shares
// the documented handler; only the path differs.
func (h *HealthHandler) RegisterAlias(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		output, err := h.GetHealth(req.Context(), &HealthInput{})
		if err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, output.Body)
	})
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	dbHealth := h.getDatabaseHealth(ctx)

	status := "healthy"
	if dbHealth.Status == "error" {
		status = "degraded"
	}

	activeSessions := 0
	if h.registry != nil {
		activeSessions = len(h.registry.ActiveSessionIDs())
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:         status,
			Timestamp:      now.UTC().Format(time.RFC3339),
			Version:        h.version,
			Uptime:         uptime.Round(time.Second).String(),
			UptimeSeconds:  uptime.Seconds(),
			Goroutines:     runtime.NumGoroutine(),
			ActiveSessions: activeSessions,
			CPUInfo:        h.getCPUInfo(),
			Memory:         h.getMemoryInfo(),
			Disk:           h.getDiskInfo(),
			Components: HealthComponents{
				Database: dbHealth,
			},
			Checks: map[string]string{
				"database": dbHealth.Status,
			},
		},
	}, nil
}

// getCPUInfo returns CPU load information.
func (h *HealthHandler) getCPUInfo() CPUInfo {
	cores := runtime.NumCPU()

	info := CPUInfo{
		Cores: cores,
	}

	loadAvg, err := load.Avg()
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15

		if cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(cores)) * 100
		}
	}

	return info
}

// getMemoryInfo returns memory usage information.
func (h *HealthHandler) getMemoryInfo() MemoryInfo {
	info := MemoryInfo{}

	vmStat, err := mem.VirtualMemory()
	if err == nil && vmStat != nil {
		info.TotalMemoryMB = float64(vmStat.Total) / 1024 / 1024
		info.UsedMemoryMB = float64(vmStat.Used) / 1024 / 1024
		info.FreeMemoryMB = float64(vmStat.Free) / 1024 / 1024
		info.AvailableMemoryMB = float64(vmStat.Available) / 1024 / 1024
	}

	swapStat, err := mem.SwapMemory()
	if err == nil && swapStat != nil {
		info.SwapTotalMB = float64(swapStat.Total) / 1024 / 1024
		info.SwapUsedMB = float64(swapStat.Used) / 1024 / 1024
	}

	info.ProcessMemory = h.getProcessMemoryInfo(info.TotalMemoryMB)

	return info
}

// getProcessMemoryInfo returns the memory footprint of this process and its
// uploader children.
func (h *HealthHandler) getProcessMemoryInfo(totalSystemMB float64) ProcessMemoryInfo {
	info := ProcessMemoryInfo{}

	pid := int32(os.Getpid())
	proc, err := process.NewProcess(pid)
	if err != nil {
		return info
	}

	memInfo, err := proc.MemoryInfo()
	if err == nil && memInfo != nil {
		info.MainProcessMB = float64(memInfo.RSS) / 1024 / 1024
		info.TotalProcessTreeMB = info.MainProcessMB

		if totalSystemMB > 0 {
			info.PercentageOfSystem = (info.MainProcessMB / totalSystemMB) * 100
		}
	}

	// Uploader children are one ffmpeg per live session.
	children, err := proc.Children()
	if err == nil {
		info.ChildProcessCount = len(children)
		for _, child := range children {
			childMem, err := child.MemoryInfo()
			if err == nil && childMem != nil {
				childMB := float64(childMem.RSS) / 1024 / 1024
				info.ChildProcessesMB += childMB
				info.TotalProcessTreeMB += childMB
			}
		}
	}

	return info
}

// getDiskInfo returns usage of the filesystem the segment store writes to.
func (h *HealthHandler) getDiskInfo() DiskInfo {
	info := DiskInfo{Path: h.baseDir}
	if h.baseDir == "" {
		return info
	}

	usage, err := disk.Usage(h.baseDir)
	if err != nil || usage == nil {
		return info
	}

	info.TotalGB = float64(usage.Total) / 1024 / 1024 / 1024
	info.UsedGB = float64(usage.Used) / 1024 / 1024 / 1024
	info.FreeGB = float64(usage.Free) / 1024 / 1024 / 1024
	info.UsedPercent = usage.UsedPercent

	return info
}

// getDatabaseHealth returns database health information.
func (h *HealthHandler) getDatabaseHealth(ctx context.Context) DatabaseHealth {
	health := DatabaseHealth{
		Status:             "ok",
		ResponseTimeStatus: "healthy",
	}

	if h.db == nil {
		health.Status = "unknown"
		return health
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		health.Status = "error"
		return health
	}

	stats := sqlDB.Stats()
	health.ConnectionPoolSize = stats.MaxOpenConnections
	health.ActiveConnections = stats.InUse
	health.IdleConnections = stats.Idle

	if stats.MaxOpenConnections > 0 {
		health.PoolUtilizationPercent = float64(stats.InUse) / float64(stats.MaxOpenConnections) * 100
	}

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	health.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000

	if err != nil {
		health.Status = "error"
		health.ResponseTimeStatus = "error"
	} else if health.ResponseTimeMS > 100 {
		health.ResponseTimeStatus = "slow"
	}

	return health
}
