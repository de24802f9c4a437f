package monitoring

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestHealthCheckHealthy(t *testing.T) {
	healthChecker := NewHealthChecker("1.0.0", openMemoryDB(t))

	healthCheck := healthChecker.Check(context.Background(), 100, 1)

	if healthCheck.Status != HealthStatusHealthy {
		t.Errorf("Expected status healthy, got %s", healthCheck.Status)
	}
	if healthCheck.Version != "1.0.0" {
		t.Errorf("Expected version 1.0.0, got %s", healthCheck.Version)
	}
	if healthCheck.PendingTracks != 100 {
		t.Errorf("Expected 100 pending, got %d", healthCheck.PendingTracks)
	}
	if healthCheck.ActiveDownloads != 1 {
		t.Errorf("Expected active downloads 1, got %d", healthCheck.ActiveDownloads)
	}
	if healthCheck.DatabaseStatus != "connected" {
		t.Errorf("Expected database status connected, got %s", healthCheck.DatabaseStatus)
	}
	if _, ok := healthCheck.Checks["memory"]; !ok {
		t.Error("Memory check not found")
	}
}

func TestHealthCheckDegradedQueue(t *testing.T) {
	healthChecker := NewHealthChecker("1.0.0", openMemoryDB(t))

	healthCheck := healthChecker.Check(context.Background(), 15000, 0)

	if healthCheck.Status != HealthStatusDegraded {
		t.Errorf("Expected status degraded, got %s", healthCheck.Status)
	}
	if healthCheck.Checks["queue"].Status != HealthStatusDegraded {
		t.Errorf("Expected queue check degraded, got %s", healthCheck.Checks["queue"].Status)
	}
}

func TestHealthCheckNilDatabase(t *testing.T) {
	healthCheck := NewHealthChecker("1.0.0", nil).Check(context.Background(), 0, 0)

	if healthCheck.Status != HealthStatusUnhealthy {
		t.Errorf("Expected status unhealthy, got %s", healthCheck.Status)
	}
	if healthCheck.DatabaseStatus != "disconnected" {
		t.Errorf("Expected database status disconnected, got %s", healthCheck.DatabaseStatus)
	}
}

func TestHealthCheckProbes(t *testing.T) {
	tests := []struct {
		name   string
		probes map[string]Check
		want   HealthStatus
	}{
		{
			name: "all healthy",
			probes: map[string]Check{
				"yt-dlp": DependencyCheck("yt-dlp", true, "/usr/bin/yt-dlp"),
				"ffmpeg": DependencyCheck("ffmpeg", true, "/usr/bin/ffmpeg"),
			},
			want: HealthStatusHealthy,
		},
		{
			name: "missing dependency",
			probes: map[string]Check{
				"yt-dlp": DependencyCheck("yt-dlp", true, "/usr/bin/yt-dlp"),
				"ffmpeg": DependencyCheck("ffmpeg", false, ""),
			},
			want: HealthStatusUnhealthy,
		},
		{
			name: "unwritable downloads dir",
			probes: map[string]Check{
				"downloads_dir": ErrorCheck(errors.New("permission denied"), "writable"),
			},
			want: HealthStatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker("test", openMemoryDB(t))
			for name, c := range tt.probes {
				c := c
				h.AddProbe(name, func(context.Context) Check { return c })
			}

			got := h.Check(context.Background(), 0, 0)
			if got.Status != tt.want {
				t.Errorf("status = %s, want %s (checks %+v)", got.Status, tt.want, got.Checks)
			}
			for name := range tt.probes {
				if _, ok := got.Checks[name]; !ok {
					t.Errorf("check %s missing", name)
				}
			}
		})
	}
}

func TestHealthCheckTimestamp(t *testing.T) {
	healthChecker := NewHealthChecker("1.0.0", openMemoryDB(t))

	before := time.Now()
	healthCheck := healthChecker.Check(context.Background(), 0, 0)
	after := time.Now()

	if healthCheck.Timestamp.Before(before) || healthCheck.Timestamp.After(after) {
		t.Error("Health check timestamp is not within expected range")
	}
	if healthCheck.UptimeHuman == "" {
		t.Error("Expected non-empty uptime human string")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{30 * time.Second, "30s"},
		{90 * time.Second, "1m 30s"},
		{3661 * time.Second, "1h 1m 1s"},
		{86400 * time.Second, "1d 0h 0m 0s"},
		{90061 * time.Second, "1d 1h 1m 1s"},
	}

	for _, tt := range tests {
		result := formatDuration(tt.duration)
		if result != tt.expected {
			t.Errorf("formatDuration(%v) = %s, expected %s", tt.duration, result, tt.expected)
		}
	}
}
