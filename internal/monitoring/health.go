package monitoring

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"sync"
	"time"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a health check response
type HealthCheck struct {
	Status          HealthStatus     `json:"status"`
	Version         string           `json:"version"`
	Uptime          int64            `json:"uptime"`
	UptimeHuman     string           `json:"uptime_human"`
	PendingTracks   int              `json:"pending_tracks"`
	ActiveDownloads int              `json:"active_downloads"`
	MemoryUsageMB   uint64           `json:"memory_usage_mb"`
	DatabaseStatus  string           `json:"database_status"`
	Checks          map[string]Check `json:"checks"`
	Timestamp       time.Time        `json:"timestamp"`
}

// Check represents an individual health check
type Check struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Probe is an additional named check run on every health check
type Probe func(ctx context.Context) Check

// HealthChecker performs health checks
type HealthChecker struct {
	version   string
	startTime time.Time
	db        *sql.DB

	mu     sync.RWMutex
	probes map[string]Probe
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string, db *sql.DB) *HealthChecker {
	return &HealthChecker{
		version:   version,
		startTime: time.Now(),
		db:        db,
		probes:    make(map[string]Probe),
	}
}

// AddProbe registers a named check. A probe with the same name is replaced.
func (h *HealthChecker) AddProbe(name string, probe Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = probe
}

// Check performs all health checks and returns the result
func (h *HealthChecker) Check(ctx context.Context, pendingTracks, activeDownloads int) *HealthCheck {
	checks := make(map[string]Check)
	overall := HealthStatusHealthy

	record := func(name string, c Check) {
		checks[name] = c
		overall = worse(overall, c.Status)
	}

	dbCheck := h.checkDatabase(ctx)
	record("database", dbCheck)
	record("memory", h.checkMemory())
	record("queue", h.checkQueue(pendingTracks))

	h.mu.RLock()
	for name, probe := range h.probes {
		record(name, probe(ctx))
	}
	h.mu.RUnlock()

	uptime := time.Since(h.startTime)

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	dbStatus := "connected"
	if dbCheck.Status != HealthStatusHealthy {
		dbStatus = "disconnected"
	}

	return &HealthCheck{
		Status:          overall,
		Version:         h.version,
		Uptime:          int64(uptime.Seconds()),
		UptimeHuman:     formatDuration(uptime),
		PendingTracks:   pendingTracks,
		ActiveDownloads: activeDownloads,
		MemoryUsageMB:   m.Alloc / 1024 / 1024,
		DatabaseStatus:  dbStatus,
		Checks:          checks,
		Timestamp:       time.Now(),
	}
}

// DependencyCheck reports whether an external binary was found
func DependencyCheck(name string, found bool, path string) Check {
	if !found {
		return Check{Status: HealthStatusUnhealthy, Message: name + " not found"}
	}
	return Check{Status: HealthStatusHealthy, Message: name + " at " + path}
}

// ErrorCheck maps an error to an unhealthy check
func ErrorCheck(err error, ok string) Check {
	if err != nil {
		return Check{Status: HealthStatusUnhealthy, Message: err.Error()}
	}
	return Check{Status: HealthStatusHealthy, Message: ok}
}

func (h *HealthChecker) checkDatabase(ctx context.Context) Check {
	if h.db == nil {
		return Check{
			Status:  HealthStatusUnhealthy,
			Message: "Database connection not initialized",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		return Check{
			Status:  HealthStatusUnhealthy,
			Message: "Database ping failed: " + err.Error(),
		}
	}

	return Check{
		Status:  HealthStatusHealthy,
		Message: "Database connection is healthy",
	}
}

func (h *HealthChecker) checkMemory() Check {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	memoryMB := m.Alloc / 1024 / 1024

	const (
		warningThresholdMB  = 500
		criticalThresholdMB = 1000
	)

	switch {
	case memoryMB > criticalThresholdMB:
		return Check{Status: HealthStatusUnhealthy, Message: "Memory usage is critically high"}
	case memoryMB > warningThresholdMB:
		return Check{Status: HealthStatusDegraded, Message: "Memory usage is elevated"}
	}
	return Check{Status: HealthStatusHealthy, Message: "Memory usage is normal"}
}

func (h *HealthChecker) checkQueue(pending int) Check {
	const warningThreshold = 10000

	if pending > warningThreshold {
		return Check{
			Status:  HealthStatusDegraded,
			Message: fmt.Sprintf("%d tracks pending", pending),
		}
	}
	return Check{
		Status:  HealthStatusHealthy,
		Message: "Pending queue size is normal",
	}
}

func worse(a, b HealthStatus) HealthStatus {
	rank := map[HealthStatus]int{HealthStatusHealthy: 0, HealthStatusDegraded: 1, HealthStatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// formatDuration formats a duration into a human-readable string
func formatDuration(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
