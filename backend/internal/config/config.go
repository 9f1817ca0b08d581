package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"task-reminders/backend/internal/utils"

	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Auth          AuthConfig          `yaml:"auth"`
	CORS          CORSConfig          `yaml:"cors"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Environment  string        `yaml:"environment"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	SSLMode         string        `yaml:"ssl_mode"`
	Path            string        `yaml:"path"`
	MigrationsPath  string        `yaml:"migrations_path"`
	LogLevel        string        `yaml:"log_level"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type RateLimitConfig struct {
	RequestsPerMin int `yaml:"requests_per_min"`
	BurstSize      int `yaml:"burst_size"`
}

// NotificationsConfig drives the reminder scheduler, dispatcher and delivery worker.
type NotificationsConfig struct {
	PermissionGranted bool          `yaml:"permission_granted"`
	KeyPrefix         string        `yaml:"key_prefix"`
	Queue             string        `yaml:"queue"`
	RetryQueue        string        `yaml:"retry_queue"`
	DeadQueue         string        `yaml:"dead_queue"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	BatchSize         int           `yaml:"batch_size"`
	Workers           int           `yaml:"workers"`
	MaxTries          int           `yaml:"max_tries"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type CORSConfig struct {
	AllowOrigins []string `yaml:"allow_origins"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			Environment:  "development",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          DriverPostgres,
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "postgres",
			Name:            "task_reminders",
			SSLMode:         "disable",
			Path:            "task_reminders.db",
			LogLevel:        "warn",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Enabled:      true,
			Host:         "localhost",
			Port:         6379,
			PoolSize:     10,
			MinIdleConns: 2,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMin: 120,
			BurstSize:      20,
		},
		Notifications: NotificationsConfig{
			PermissionGranted: true,
			KeyPrefix:         "reminders",
			Queue:             "reminder_queue",
			RetryQueue:        "reminder_retry_queue",
			DeadQueue:         "reminder_dead_queue",
			PollInterval:      time.Second,
			BatchSize:         50,
			Workers:           2,
			MaxTries:          3,
		},
		CORS: CORSConfig{
			AllowOrigins: []string{"http://localhost:3000"},
		},
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// named by CONFIG_FILE and then environment variables, in that order.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := utils.GetEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = utils.GetEnv("SERVER_HOST", c.Server.Host)
	c.Server.Port = utils.GetEnvAsInt("SERVER_PORT", c.Server.Port)
	c.Server.Environment = utils.GetEnv("ENVIRONMENT", c.Server.Environment)
	c.Server.ReadTimeout = utils.GetEnvAsDuration("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = utils.GetEnvAsDuration("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = utils.GetEnvAsDuration("SERVER_IDLE_TIMEOUT", c.Server.IdleTimeout)

	c.Database.Driver = utils.GetEnv("DB_DRIVER", c.Database.Driver)
	c.Database.Host = utils.GetEnv("DB_HOST", c.Database.Host)
	c.Database.Port = utils.GetEnvAsInt("DB_PORT", c.Database.Port)
	c.Database.User = utils.GetEnv("DB_USER", c.Database.User)
	c.Database.Password = utils.GetEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Name = utils.GetEnv("DB_NAME", c.Database.Name)
	c.Database.SSLMode = utils.GetEnv("DB_SSLMODE", c.Database.SSLMode)
	c.Database.Path = utils.GetEnv("DB_PATH", c.Database.Path)
	c.Database.MigrationsPath = utils.GetEnv("DB_MIGRATIONS_PATH", c.Database.MigrationsPath)
	c.Database.LogLevel = utils.GetEnv("DB_LOG_LEVEL", c.Database.LogLevel)
	c.Database.MaxOpenConns = utils.GetEnvAsInt("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = utils.GetEnvAsInt("DB_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnMaxLifetime = utils.GetEnvAsDuration("DB_CONN_MAX_LIFETIME", c.Database.ConnMaxLifetime)
	c.Database.ConnMaxIdleTime = utils.GetEnvAsDuration("DB_CONN_MAX_IDLE_TIME", c.Database.ConnMaxIdleTime)

	c.Redis.Enabled = utils.GetEnvAsBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Host = utils.GetEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = utils.GetEnvAsInt("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = utils.GetEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = utils.GetEnvAsInt("REDIS_DB", c.Redis.DB)
	c.Redis.PoolSize = utils.GetEnvAsInt("REDIS_POOL_SIZE", c.Redis.PoolSize)
	c.Redis.MinIdleConns = utils.GetEnvAsInt("REDIS_MIN_IDLE_CONNS", c.Redis.MinIdleConns)
	c.Redis.MaxRetries = utils.GetEnvAsInt("REDIS_MAX_RETRIES", c.Redis.MaxRetries)
	c.Redis.DialTimeout = utils.GetEnvAsDuration("REDIS_DIAL_TIMEOUT", c.Redis.DialTimeout)
	c.Redis.ReadTimeout = utils.GetEnvAsDuration("REDIS_READ_TIMEOUT", c.Redis.ReadTimeout)
	c.Redis.WriteTimeout = utils.GetEnvAsDuration("REDIS_WRITE_TIMEOUT", c.Redis.WriteTimeout)

	c.RateLimit.RequestsPerMin = utils.GetEnvAsInt("RATE_LIMIT_PER_MIN", c.RateLimit.RequestsPerMin)
	c.RateLimit.BurstSize = utils.GetEnvAsInt("RATE_LIMIT_BURST", c.RateLimit.BurstSize)

	c.Notifications.PermissionGranted = utils.GetEnvAsBool("NOTIFY_PERMISSION_GRANTED", c.Notifications.PermissionGranted)
	c.Notifications.KeyPrefix = utils.GetEnv("NOTIFY_KEY_PREFIX", c.Notifications.KeyPrefix)
	c.Notifications.Queue = utils.GetEnv("NOTIFY_QUEUE", c.Notifications.Queue)
	c.Notifications.RetryQueue = utils.GetEnv("NOTIFY_RETRY_QUEUE", c.Notifications.RetryQueue)
	c.Notifications.DeadQueue = utils.GetEnv("NOTIFY_DEAD_QUEUE", c.Notifications.DeadQueue)
	c.Notifications.PollInterval = utils.GetEnvAsDuration("NOTIFY_POLL_INTERVAL", c.Notifications.PollInterval)
	c.Notifications.BatchSize = utils.GetEnvAsInt("NOTIFY_BATCH_SIZE", c.Notifications.BatchSize)
	c.Notifications.Workers = utils.GetEnvAsInt("NOTIFY_WORKERS", c.Notifications.Workers)
	c.Notifications.MaxTries = utils.GetEnvAsInt("NOTIFY_MAX_TRIES", c.Notifications.MaxTries)

	c.Auth.JWTSecret = utils.GetEnv("JWT_SECRET", c.Auth.JWTSecret)

	c.CORS.AllowOrigins = utils.GetEnvAsSlice("CORS_ALLOW_ORIGINS", c.CORS.AllowOrigins)
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverPostgres, DriverMySQL, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port %d", c.Server.Port))
	}
	if c.RateLimit.RequestsPerMin <= 0 {
		errs = append(errs, errors.New("rate limit requests per minute must be positive"))
	}
	if c.Notifications.PollInterval <= 0 {
		errs = append(errs, errors.New("notification poll interval must be positive"))
	}
	if c.Notifications.BatchSize <= 0 {
		errs = append(errs, errors.New("notification batch size must be positive"))
	}
	if c.Notifications.MaxTries <= 0 {
		errs = append(errs, errors.New("notification max tries must be positive"))
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
