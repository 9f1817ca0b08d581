package monitoring

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Metrics holds the process-wide HTTP counters. Read it through GetMetrics.
type Metrics struct {
	mu sync.RWMutex

	RequestCount    int64
	RequestDuration time.Duration
	ActiveRequests  int64
	ErrorCount      int64
	StatusCodes     map[string]int64
	Endpoints       map[string]int64
	StartTime       time.Time
	LastRequest     time.Time

	totalDuration time.Duration
}

type MetricsSnapshot struct {
	RequestCount    int64            `json:"request_count"`
	AverageDuration time.Duration    `json:"average_duration_ns"`
	ActiveRequests  int64            `json:"active_requests"`
	ErrorCount      int64            `json:"error_count"`
	StatusCodes     map[string]int64 `json:"status_codes"`
	Endpoints       map[string]int64 `json:"endpoints"`
	Uptime          string           `json:"uptime"`
	LastRequest     time.Time        `json:"last_request"`
}

type MemoryUsage struct {
	Alloc      uint64 `json:"alloc_mb"`
	TotalAlloc uint64 `json:"total_alloc_mb"`
	Sys        uint64 `json:"sys_mb"`
	NumGC      uint32 `json:"num_gc"`
}

type SystemMetrics struct {
	Uptime         time.Duration `json:"uptime_ns"`
	GoroutineCount int           `json:"goroutines"`
	CPUCount       int           `json:"cpus"`
	GoVersion      string        `json:"go_version"`
	MemoryUsage    MemoryUsage   `json:"memory"`
}

var (
	processStart = time.Now()

	globalMetrics = &Metrics{
		StatusCodes: make(map[string]int64),
		Endpoints:   make(map[string]int64),
		StartTime:   time.Now(),
	}
)

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		globalMetrics.mu.Lock()
		globalMetrics.ActiveRequests++
		globalMetrics.mu.Unlock()

		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		endpoint := c.Request.Method + " " + path

		globalMetrics.mu.Lock()
		defer globalMetrics.mu.Unlock()

		globalMetrics.ActiveRequests--
		globalMetrics.RequestCount++
		globalMetrics.RequestDuration = elapsed
		globalMetrics.totalDuration += elapsed
		globalMetrics.LastRequest = time.Now()
		globalMetrics.StatusCodes[http.StatusText(status)]++
		globalMetrics.Endpoints[endpoint]++
		if status >= http.StatusInternalServerError {
			globalMetrics.ErrorCount++
		}
	}
}

func GetMetrics() MetricsSnapshot {
	globalMetrics.mu.RLock()
	defer globalMetrics.mu.RUnlock()

	snapshot := MetricsSnapshot{
		RequestCount:   globalMetrics.RequestCount,
		ActiveRequests: globalMetrics.ActiveRequests,
		ErrorCount:     globalMetrics.ErrorCount,
		StatusCodes:    make(map[string]int64, len(globalMetrics.StatusCodes)),
		Endpoints:      make(map[string]int64, len(globalMetrics.Endpoints)),
		Uptime:         time.Since(globalMetrics.StartTime).Round(time.Second).String(),
		LastRequest:    globalMetrics.LastRequest,
	}
	if globalMetrics.RequestCount > 0 {
		snapshot.AverageDuration = globalMetrics.totalDuration / time.Duration(globalMetrics.RequestCount)
	}
	for k, v := range globalMetrics.StatusCodes {
		snapshot.StatusCodes[k] = v
	}
	for k, v := range globalMetrics.Endpoints {
		snapshot.Endpoints[k] = v
	}
	return snapshot
}

func GetSystemMetrics() SystemMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SystemMetrics{
		Uptime:         time.Since(processStart),
		GoroutineCount: runtime.NumGoroutine(),
		CPUCount:       runtime.NumCPU(),
		GoVersion:      runtime.Version(),
		MemoryUsage: MemoryUsage{
			Alloc:      bToMb(m.Alloc),
			TotalAlloc: bToMb(m.TotalAlloc),
			Sys:        bToMb(m.Sys),
			NumGC:      m.NumGC,
		},
	}
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}

// Reminder lifecycle events.
const (
	ReminderScheduled  = "scheduled"
	ReminderCancelled  = "cancelled"
	ReminderDispatched = "dispatched"
	ReminderDelivered  = "delivered"
	ReminderDropped    = "dropped"
	ReminderFailed     = "failed"
)

var (
	reminderMu     sync.Mutex
	reminderCounts = make(map[string]int64)
)

func RecordReminder(event string) {
	reminderMu.Lock()
	reminderCounts[event]++
	reminderMu.Unlock()
}

func GetReminderMetrics() map[string]int64 {
	reminderMu.Lock()
	defer reminderMu.Unlock()

	out := make(map[string]int64, len(reminderCounts))
	for k, v := range reminderCounts {
		out[k] = v
	}
	return out
}

func resetReminderMetrics() {
	reminderMu.Lock()
	reminderCounts = make(map[string]int64)
	reminderMu.Unlock()
}

type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type HealthStatus struct {
	Name      string        `json:"name"`
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	CheckedAt time.Time     `json:"checked_at"`
}

type healthChecker struct {
	mu     sync.RWMutex
	checks map[string]HealthCheck
}

var globalHealthChecker = &healthChecker{
	checks: make(map[string]HealthCheck),
}

func RegisterHealthCheck(name string, check func(ctx context.Context) error) {
	globalHealthChecker.mu.Lock()
	defer globalHealthChecker.mu.Unlock()
	globalHealthChecker.checks[name] = HealthCheck{Name: name, Check: check}
}

// RunHealthChecks runs every registered check with a 5 second budget each.
func RunHealthChecks() map[string]HealthStatus {
	globalHealthChecker.mu.RLock()
	checks := make([]HealthCheck, 0, len(globalHealthChecker.checks))
	for _, check := range globalHealthChecker.checks {
		checks = append(checks, check)
	}
	globalHealthChecker.mu.RUnlock()

	results := make(map[string]HealthStatus, len(checks))
	for _, check := range checks {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		start := time.Now()
		err := check.Check(ctx)
		cancel()

		status := HealthStatus{
			Name:      check.Name,
			Status:    "healthy",
			Duration:  time.Since(start),
			CheckedAt: time.Now(),
		}
		if err != nil {
			status.Status = "unhealthy"
			status.Message = err.Error()
		}
		results[check.Name] = status
	}
	return results
}

func allHealthy(results map[string]HealthStatus) bool {
	for _, r := range results {
		if r.Status != "healthy" {
			return false
		}
	}
	return true
}

func MetricsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"application": GetMetrics(),
			"system":      GetSystemMetrics(),
			"reminders":   GetReminderMetrics(),
			"timestamp":   time.Now().UTC(),
		})
	}
}

func HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		results := RunHealthChecks()

		code, status := http.StatusOK, "healthy"
		if !allHealthy(results) {
			code, status = http.StatusServiceUnavailable, "unhealthy"
		}

		c.JSON(code, gin.H{
			"status":    status,
			"checks":    results,
			"timestamp": time.Now().UTC(),
		})
	}
}

func ReadinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		results := RunHealthChecks()

		if !allHealthy(results) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"checks": results,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

func LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "alive",
			"uptime": time.Since(processStart).Round(time.Second).String(),
		})
	}
}
