package services

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"task-reminders/backend/internal/config"
	"task-reminders/backend/internal/database"
	"task-reminders/backend/internal/repositories"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) (*gorm.DB, *database.DatabasePool) {
	t.Helper()

	cfg := config.Default().Database
	cfg.Driver = config.DriverSQLite
	cfg.Path = filepath.Join(t.TempDir(), "tasks.db")
	cfg.LogLevel = "silent"

	pool, err := database.NewDatabasePool(database.PoolConfigFrom(cfg))
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	migrations := repositories.DefaultMigrationConfig()
	migrations.Driver = config.DriverSQLite
	migrations.MaxRetries = 1
	require.NoError(t, repositories.RunMigrations(pool.DB, migrations))

	return pool.DB, pool
}

// stepClock advances by step on every call.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newStepClock(start time.Time, step time.Duration) *stepClock {
	return &stepClock{now: start, step: step}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}
