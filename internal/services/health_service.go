package services

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/CodexShaper-Devs/license-sub000/internal/clock"
	"github.com/CodexShaper-Devs/license-sub000/internal/keys"
)

// DefaultCheckTimeout bounds each dependency probe.
const DefaultCheckTimeout = 2 * time.Second

const (
	StatusAlive    = "alive"
	StatusReady    = "ready"
	StatusNotReady = "not_ready"
)

// Check probes one dependency. Probe returns nil when it is usable.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// HealthService provides health check functionality
type HealthService struct {
	version   string
	checks    []Check
	timeout   time.Duration
	clock     clock.Clock
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Version   string                   `json:"version"`
	Runtime   map[string]interface{}   `json:"runtime,omitempty"`
	Services  map[string]ServiceHealth `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// NewHealthService creates a health service that reports ready only when
// every check passes.
func NewHealthService(version string, clk clock.Clock, logger *slog.Logger, checks ...Check) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		version:   version,
		checks:    checks,
		timeout:   DefaultCheckTimeout,
		clock:     clk,
		startTime: clk.Now(),
		logger:    logger.With(slog.String("service", "health")),
	}
}

// LivenessCheck reports that the process is serving requests. It never
// touches dependencies.
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	now := hs.clock.Now()
	return HealthStatus{
		Status:    StatusAlive,
		Timestamp: now,
		Version:   hs.version,
		Runtime: map[string]interface{}{
			"uptime_seconds": now.Sub(hs.startTime).Seconds(),
			"go_version":     runtime.Version(),
			"goroutines":     runtime.NumGoroutine(),
		},
	}
}

// ReadinessCheck probes every dependency concurrently.
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    StatusReady,
		Timestamp: hs.clock.Now(),
		Version:   hs.version,
		Services:  make(map[string]ServiceHealth, len(hs.checks)),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range hs.checks {
		c := c
		g.Go(func() error {
			res := hs.run(gctx, c)
			mu.Lock()
			status.Services[c.Name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for name, res := range status.Services {
		if res.Status != StatusReady {
			status.Status = StatusNotReady
			hs.logger.WarnContext(ctx, "dependency not ready",
				slog.String("dependency", name),
				slog.String("message", res.Message),
			)
		}
	}
	return status
}

func (hs *HealthService) run(ctx context.Context, c Check) ServiceHealth {
	ctx, cancel := context.WithTimeout(ctx, hs.timeout)
	defer cancel()

	start := time.Now()
	err := c.Probe(ctx)
	res := ServiceHealth{Status: StatusReady, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = StatusNotReady
		res.Message = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			res.Message = "timed out"
		}
	}
	return res
}

// DatabaseCheck pings the connection pool behind db.
func DatabaseCheck(db *gorm.DB) Check {
	return Check{
		Name: "database",
		Probe: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
}

// RedisCheck pings the cache server.
func RedisCheck(client redis.UniversalClient) Check {
	return Check{
		Name: "redis",
		Probe: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}

// KeyStorageCheck confirms that key storage answers lookups. A missing
// probe path is fine; an unreachable backend is not.
func KeyStorageCheck(storage keys.BlobStorage) Check {
	return Check{
		Name: "key_storage",
		Probe: func(ctx context.Context) error {
			_, err := storage.Exists(ctx, "health/probe")
			return err
		},
	}
}
