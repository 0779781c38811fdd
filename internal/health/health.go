// Package health runs startup and runtime checks against the services ChatPPT depends on.
package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Checker defines the interface for health checking components
type Checker interface {
	HealthCheck(ctx context.Context) error
	IsCritical() bool // Critical services block startup if unhealthy
	Name() string
}

// Manager runs a set of checkers
type Manager struct {
	checkers []Checker
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewManager creates a new health manager
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		checkers: make([]Checker, 0),
		logger:   logger,
	}
}

// AddChecker adds a health checker to the manager
func (h *Manager) AddChecker(checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, checker)
}

// StartupHealthCheck performs critical health checks that must pass for startup
func (h *Manager) StartupHealthCheck(ctx context.Context) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var criticalFailures []error

	for _, checker := range h.checkers {
		err := checker.HealthCheck(ctx)
		switch {
		case err == nil:
			h.logger.Info("Service health check passed",
				zap.String("service", checker.Name()),
				zap.Bool("critical", checker.IsCritical()))
		case checker.IsCritical():
			criticalFailures = append(criticalFailures, fmt.Errorf("%s: %w", checker.Name(), err))
			h.logger.Error("Critical service health check failed",
				zap.String("service", checker.Name()),
				zap.Error(err))
		default:
			h.logger.Warn("Non-critical service health check failed",
				zap.String("service", checker.Name()),
				zap.Error(err))
		}
	}

	if len(criticalFailures) > 0 {
		return fmt.Errorf("critical services failed health check: %v", criticalFailures)
	}

	h.logger.Info("All critical services healthy", zap.Int("total_checks", len(h.checkers)))
	return nil
}

// RuntimeHealthCheck performs health checks during runtime
func (h *Manager) RuntimeHealthCheck(ctx context.Context) map[string]error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	results := make(map[string]error, len(h.checkers))
	for _, checker := range h.checkers {
		results[checker.Name()] = checker.HealthCheck(ctx)
	}
	return results
}

// DatabaseChecker checks PostgreSQL connectivity
type DatabaseChecker struct {
	db *bun.DB
}

// NewDatabaseChecker creates a database health checker
func NewDatabaseChecker(db *bun.DB) *DatabaseChecker {
	return &DatabaseChecker{db: db}
}

func (d *DatabaseChecker) HealthCheck(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DatabaseChecker) IsCritical() bool { return true }

func (d *DatabaseChecker) Name() string { return "database" }

// RedisChecker checks Redis connectivity
type RedisChecker struct {
	rdb redis.UniversalClient
}

// NewRedisChecker creates a Redis health checker
func NewRedisChecker(rdb redis.UniversalClient) *RedisChecker {
	return &RedisChecker{rdb: rdb}
}

func (r *RedisChecker) HealthCheck(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisChecker) IsCritical() bool { return true }

func (r *RedisChecker) Name() string { return "redis" }

// DirectoryChecker checks that a directory exists and accepts new files
type DirectoryChecker struct {
	name     string
	dir      string
	critical bool
}

// NewDirectoryChecker creates a checker for a writable directory
func NewDirectoryChecker(name, dir string, critical bool) *DirectoryChecker {
	return &DirectoryChecker{name: name, dir: dir, critical: critical}
}

func (d *DirectoryChecker) HealthCheck(ctx context.Context) error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(d.dir, ".health-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(filepath.Clean(name))
}

func (d *DirectoryChecker) IsCritical() bool { return d.critical }

func (d *DirectoryChecker) Name() string { return d.name }

// Pinger is anything that can report its own reachability
type Pinger interface {
	Health(ctx context.Context) error
}

// BackendChecker checks the generation backend. The backend may start after this
// process, so it does not block startup.
type BackendChecker struct {
	backend Pinger
}

// NewBackendChecker creates a generation backend health checker
func NewBackendChecker(backend Pinger) *BackendChecker {
	return &BackendChecker{backend: backend}
}

func (b *BackendChecker) HealthCheck(ctx context.Context) error {
	if b.backend == nil {
		return fmt.Errorf("backend client is nil")
	}
	return b.backend.Health(ctx)
}

func (b *BackendChecker) IsCritical() bool { return false }

func (b *BackendChecker) Name() string { return "generation_backend" }
