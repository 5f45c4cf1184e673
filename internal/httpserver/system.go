package httpserver

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemInfo describes the host and this process.
type SystemInfo struct {
	Hostname      string     `json:"hostname"`
	OS            string     `json:"os"`
	Architecture  string     `json:"architecture"`
	Platform      string     `json:"platform"`
	KernelVersion string     `json:"kernel_version"`
	NumCPU        int        `json:"num_cpu"`
	GoVersion     string     `json:"go_version"`
	AppUptime     int64      `json:"app_uptime_seconds"`
	MemoryTotal   uint64     `json:"memory_total"`
	MemoryUsed    float64    `json:"memory_used_percent"`
	ProcessRSS    uint64     `json:"process_rss"`
	Goroutines    int        `json:"goroutines"`
	ImageDir      *DiskUsage `json:"image_dir,omitempty"`
}

// DiskUsage is the usage of the file system holding the image directory.
type DiskUsage struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
}

// systemInfo handles GET /api/v1/system
func (s *Server) systemInfo(c echo.Context) error {
	hostInfo, err := host.Info()
	if err != nil {
		return HandleError(c, err, "Failed to get host information", http.StatusInternalServerError)
	}
	memInfo, err := mem.VirtualMemory()
	if err != nil {
		return HandleError(c, err, "Failed to get memory information", http.StatusInternalServerError)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	info := SystemInfo{
		Hostname:      hostname,
		OS:            runtime.GOOS,
		Architecture:  runtime.GOARCH,
		Platform:      hostInfo.Platform,
		KernelVersion: hostInfo.KernelVersion,
		NumCPU:        runtime.NumCPU(),
		GoVersion:     runtime.Version(),
		AppUptime:     int64(time.Since(s.startTime).Seconds()),
		MemoryTotal:   memInfo.Total,
		MemoryUsed:    memInfo.UsedPercent,
		Goroutines:    runtime.NumGoroutine(),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil { //nolint:gosec // G115: pid fits in int32
		if procMem, err := proc.MemoryInfo(); err == nil {
			info.ProcessRSS = procMem.RSS
		}
	}

	if s.deps.ImageDir != "" {
		if usage, err := disk.Usage(s.deps.ImageDir); err == nil {
			info.ImageDir = &DiskUsage{
				Path:        s.deps.ImageDir,
				Total:       usage.Total,
				Free:        usage.Free,
				UsedPercent: usage.UsedPercent,
			}
		}
	}

	return c.JSON(http.StatusOK, info)
}
