package repositories

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"time"

	"task-reminders/backend/internal/config"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

//go:embed migrations
var embeddedMigrations embed.FS

type MigrationConfig struct {
	Driver string
	// MigrationsPath is a migrate source URL such as file://migrations.
	// Empty means the SQL embedded in the binary for Driver.
	MigrationsPath string
	DBName         string
	MaxRetries     int
	RetryDelay     time.Duration
}

func DefaultMigrationConfig() *MigrationConfig {
	return &MigrationConfig{
		Driver:     config.DriverPostgres,
		DBName:     "task_reminders",
		MaxRetries: 3,
		RetryDelay: 2 * time.Second,
	}
}

func RunMigrations(db *gorm.DB, config *MigrationConfig) error {
	if config == nil {
		config = DefaultMigrationConfig()
	}

	log.Printf("🔄 Starting %s database migrations from: %s", config.Driver, config.source())

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	if err := waitForDatabase(sqlDB, config.MaxRetries, config.RetryDelay); err != nil {
		return fmt.Errorf("database not ready: %w", err)
	}

	m, err := newMigrate(sqlDB, config)
	if err != nil {
		return err
	}

	currentVersion, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		log.Printf("⚠️  Could not get current migration version: %v", err)
	} else if err == migrate.ErrNilVersion {
		log.Println("📋 No migrations applied yet")
	} else {
		log.Printf("📋 Current migration version: %d (dirty: %v)", currentVersion, dirty)
	}

	err = m.Up()
	if err != nil {
		if err == migrate.ErrNoChange {
			log.Println("✅ Database schema is up to date - no migrations needed")
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	finalVersion, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to get final migration version: %w", err)
	}

	log.Printf("✅ Database migrations completed successfully")
	log.Printf("📊 Final migration version: %d (dirty: %v)", finalVersion, dirty)

	if err := logMigrationDetails(sqlDB); err != nil {
		log.Printf("⚠️  Could not retrieve migration details: %v", err)
	}

	return nil
}

func RollbackMigration(db *gorm.DB, config *MigrationConfig) error {
	if config == nil {
		config = DefaultMigrationConfig()
	}

	log.Println("⬇️  Rolling back last migration...")

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	m, err := newMigrate(sqlDB, config)
	if err != nil {
		return err
	}

	if err := m.Steps(-1); err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}

	log.Println("✅ Migration rolled back successfully")
	return nil
}

func GetMigrationVersion(db *gorm.DB, config *MigrationConfig) (uint, bool, error) {
	if config == nil {
		config = DefaultMigrationConfig()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return 0, false, fmt.Errorf("failed to get database instance: %w", err)
	}

	m, err := newMigrate(sqlDB, config)
	if err != nil {
		return 0, false, err
	}

	return m.Version()
}

func (c *MigrationConfig) source() string {
	if c.MigrationsPath != "" {
		return c.MigrationsPath
	}
	return "embedded:" + c.Driver
}

// newMigrate never closes the returned instance: closing the database driver
// would close the shared *sql.DB owned by gorm.
func newMigrate(sqlDB *sql.DB, config *MigrationConfig) (*migrate.Migrate, error) {
	driver, err := databaseDriver(sqlDB, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	var m *migrate.Migrate
	if config.MigrationsPath != "" {
		m, err = migrate.NewWithDatabaseInstance(config.MigrationsPath, config.DBName, driver)
	} else {
		src, srcErr := iofs.New(embeddedMigrations, "migrations/"+config.Driver)
		if srcErr != nil {
			return nil, fmt.Errorf("failed to open embedded migrations: %w", srcErr)
		}
		m, err = migrate.NewWithInstance("iofs", src, config.DBName, driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}

	return m, nil
}

func databaseDriver(sqlDB *sql.DB, cfg *MigrationConfig) (database.Driver, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return postgres.WithInstance(sqlDB, &postgres.Config{
			DatabaseName:          cfg.DBName,
			MigrationsTable:       "schema_migrations",
			MultiStatementEnabled: true,
			MultiStatementMaxSize: 10 * 1 << 20, // 10 MB
		})
	case config.DriverMySQL:
		return mysql.WithInstance(sqlDB, &mysql.Config{
			DatabaseName:    cfg.DBName,
			MigrationsTable: "schema_migrations",
		})
	case config.DriverSQLite:
		return sqlite3.WithInstance(sqlDB, &sqlite3.Config{
			DatabaseName:    cfg.DBName,
			MigrationsTable: "schema_migrations",
		})
	default:
		return nil, errors.New("unsupported migration driver " + cfg.Driver)
	}
}

func waitForDatabase(db *sql.DB, maxRetries int, retryDelay time.Duration) error {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	for i := 0; i < maxRetries; i++ {
		if err := db.Ping(); err == nil {
			return nil
		}
		if i < maxRetries-1 {
			log.Printf("⏳ Database not ready, retrying in %v... (attempt %d/%d)", retryDelay, i+1, maxRetries)
			time.Sleep(retryDelay)
		}
	}
	return fmt.Errorf("database not ready after %d attempts", maxRetries)
}

func logMigrationDetails(db *sql.DB) error {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return err
	}
	log.Printf("📈 Total migration records in schema_migrations: %d", count)

	var tasks int
	if err := db.QueryRow("SELECT COUNT(*) FROM tasks").Scan(&tasks); err != nil {
		return err
	}
	log.Printf("📊 Tasks stored: %d", tasks)

	return nil
}
