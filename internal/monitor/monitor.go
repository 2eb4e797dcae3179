// Package monitor collects host and process statistics for the status
// endpoint.
package monitor

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// DefaultCacheTTL bounds how often the host is sampled.
const DefaultCacheTTL = 5 * time.Second

// Stats contains system statistics.
type Stats struct {
	Hostname        string       `json:"hostname"`
	OS              string       `json:"os"`
	Platform        string       `json:"platform"`
	PlatformVersion string       `json:"platform_version,omitempty"`
	Kernel          string       `json:"kernel"`
	Uptime          uint64       `json:"uptime"`
	CPU             CPUStats     `json:"cpu"`
	Memory          MemStats     `json:"memory"`
	Process         ProcessStats `json:"process"`
	Timestamp       time.Time    `json:"timestamp"`
}

// CPUStats contains CPU statistics.
type CPUStats struct {
	Cores        int     `json:"cores"`
	ModelName    string  `json:"model_name"`
	UsagePercent float64 `json:"usage_percent"`
}

// MemStats contains memory statistics.
type MemStats struct {
	Total       uint64  `json:"total"`
	Available   uint64  `json:"available"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"used_percent"`
}

// ProcessStats describes the host process itself.
type ProcessStats struct {
	PID        int32   `json:"pid"`
	RSS        uint64  `json:"rss"`
	CPUPercent float64 `json:"cpu_percent"`
	Threads    int32   `json:"threads"`
	Goroutines int     `json:"goroutines"`
}

// Monitor samples host statistics and caches them for a short TTL.
type Monitor struct {
	clock   clockwork.Clock
	ttl     time.Duration
	collect func(context.Context) (*Stats, error)

	cached    *Stats
	cacheTime time.Time
	mu        sync.RWMutex
}

// New creates a new Monitor.
func New(clock clockwork.Clock) *Monitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Monitor{
		clock:   clock,
		ttl:     DefaultCacheTTL,
		collect: collectStats,
	}
}

// GetStats returns current system statistics, sampling at most once per TTL.
func (m *Monitor) GetStats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	if m.cached != nil && m.clock.Since(m.cacheTime) < m.ttl {
		stats := *m.cached
		m.mu.RUnlock()
		return &stats, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if m.cached != nil && m.clock.Since(m.cacheTime) < m.ttl {
		stats := *m.cached
		return &stats, nil
	}

	stats, err := m.collect(ctx)
	if err != nil {
		return nil, err
	}
	stats.Timestamp = m.clock.Now()

	m.cached = stats
	m.cacheTime = stats.Timestamp

	out := *stats
	return &out, nil
}

func collectStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	hostInfo, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading host info: %w", err)
	}
	stats.Hostname = hostInfo.Hostname
	stats.OS = hostInfo.OS
	stats.Platform = hostInfo.Platform
	stats.PlatformVersion = hostInfo.PlatformVersion
	stats.Kernel = hostInfo.KernelVersion
	stats.Uptime = hostInfo.Uptime

	stats.CPU.Cores = runtime.NumCPU()
	if cpuInfo, err := cpu.InfoWithContext(ctx); err == nil && len(cpuInfo) > 0 {
		stats.CPU.ModelName = cpuInfo[0].ModelName
	}
	// Non-blocking: usage since the previous call.
	if cpuPercent, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(cpuPercent) > 0 {
		stats.CPU.UsagePercent = cpuPercent[0]
	}

	if memInfo, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.Memory = MemStats{
			Total:       memInfo.Total,
			Available:   memInfo.Available,
			Used:        memInfo.Used,
			UsedPercent: memInfo.UsedPercent,
		}
	}

	stats.Process = collectProcess(ctx)
	return stats, nil
}

func collectProcess(ctx context.Context) ProcessStats {
	ps := ProcessStats{
		PID:        int32(os.Getpid()),
		Goroutines: runtime.NumGoroutine(),
	}

	p, err := process.NewProcessWithContext(ctx, ps.PID)
	if err != nil {
		return ps
	}
	if memInfo, err := p.MemoryInfoWithContext(ctx); err == nil {
		ps.RSS = memInfo.RSS
	}
	if pct, err := p.CPUPercentWithContext(ctx); err == nil {
		ps.CPUPercent = pct
	}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		ps.Threads = n
	}
	return ps
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
