package api

import (
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/pneumai/pneumai-go/internal/cpuspec"
	"github.com/pneumai/pneumai-go/internal/events"
	"github.com/pneumai/pneumai-go/internal/logger"
)

// Health states
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status       string         `json:"status"`
	Version      string         `json:"version"`
	Commit       string         `json:"commit"`
	BuildDate    string         `json:"buildDate"`
	ModelVersion string         `json:"modelVersion"`
	ModelReady   bool           `json:"modelReady"`
	Database     DatabaseHealth `json:"database"`
	Events       events.Stats   `json:"events"`
	System       ResourceInfo   `json:"system"`
	Uptime       int64          `json:"uptimeSeconds"`
	Timestamp    time.Time      `json:"timestamp"`
}

// DatabaseHealth reports the datastore connection.
type DatabaseHealth struct {
	Dialect   string `json:"dialect"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// ResourceInfo represents system resource usage data
type ResourceInfo struct {
	OS            string   `json:"os"`
	Architecture  string   `json:"architecture"`
	NumCPU        int      `json:"numCpu"`
	CPUModel      string   `json:"cpuModel,omitempty"`
	CPUFeatures   []string `json:"cpuFeatures,omitempty"`
	GoVersion     string   `json:"goVersion"`
	Goroutines    int      `json:"goroutines"`
	CPUUsage      float64  `json:"cpuUsagePercent"`
	MemoryTotal   uint64   `json:"memoryTotal"`
	MemoryUsed    uint64   `json:"memoryUsed"`
	MemoryUsage   float64  `json:"memoryUsagePercent"`
	ProcessMemory float64  `json:"processMemoryMb"`
	DiskTotal     uint64   `json:"diskTotal"`
	DiskFree      uint64   `json:"diskFree"`
	DiskUsage     float64  `json:"diskUsagePercent"`
}

// ReadinessResponse is the body of GET /readiness.
type ReadinessResponse struct {
	Ready    bool `json:"ready"`
	Database bool `json:"database"`
	Model    bool `json:"model"`
}

// HealthCheck handles GET /health. It always answers 200 so dashboards can
// tell a degraded service from an unreachable one.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	dbHealth := DatabaseHealth{Dialect: string(c.db.Dialect()), Connected: true}
	if err := c.db.Ping(); err != nil {
		dbHealth.Connected = false
		dbHealth.Error = err.Error()
		c.logger.Warn("health check database ping failed", logger.Error(err))
	}

	resp := HealthResponse{
		Status:       StatusHealthy,
		Version:      c.build.GetVersion(),
		Commit:       c.build.GetCommit(),
		BuildDate:    c.build.GetBuildDate(),
		ModelVersion: c.ingest.ModelVersion(),
		ModelReady:   c.ingest.Ready(),
		Database:     dbHealth,
		Events:       c.events.Stats(),
		System:       c.resourceInfo(),
		Uptime:       int64(time.Since(c.startTime).Seconds()),
		Timestamp:    time.Now().UTC(),
	}
	if !resp.ModelReady || !dbHealth.Connected {
		resp.Status = StatusDegraded
	}
	return ctx.JSON(http.StatusOK, resp)
}

// Readiness handles GET /readiness.
func (c *Controller) Readiness(ctx echo.Context) error {
	resp := ReadinessResponse{
		Database: c.db.Ping() == nil,
		Model:    c.ingest.Ready(),
	}
	resp.Ready = resp.Database && resp.Model
	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	return ctx.JSON(status, resp)
}

// resourceInfo collects host statistics. Probes that fail leave their fields zero.
func (c *Controller) resourceInfo() ResourceInfo {
	info := ResourceInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		GoVersion:    runtime.Version(),
		Goroutines:   runtime.NumGoroutine(),
	}
	spec := cpuspec.GetCPUSpec()
	info.CPUModel = spec.BrandName
	info.CPUFeatures = spec.Features

	// Zero interval compares against the previous call instead of sleeping
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		info.CPUUsage = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryTotal = vm.Total
		info.MemoryUsed = vm.Used
		info.MemoryUsage = vm.UsedPercent
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if pm, err := proc.MemoryInfo(); err == nil && pm != nil {
			info.ProcessMemory = float64(pm.RSS) / 1024 / 1024
		}
	}
	if usage, err := disk.Usage(diskProbePath()); err == nil {
		info.DiskTotal = usage.Total
		info.DiskFree = usage.Free
		info.DiskUsage = usage.UsedPercent
	}
	return info
}

func diskProbePath() string {
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return filepath.VolumeName(os.TempDir()) + string(filepath.Separator)
}
