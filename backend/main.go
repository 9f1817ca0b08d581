package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"task-reminders/backend/internal/cache"
	"task-reminders/backend/internal/config"
	"task-reminders/backend/internal/database"
	"task-reminders/backend/internal/handlers"
	"task-reminders/backend/internal/middleware"
	"task-reminders/backend/internal/monitoring"
	"task-reminders/backend/internal/notifier"
	"task-reminders/backend/internal/realtime"
	"task-reminders/backend/internal/repositories"
	"task-reminders/backend/internal/services"
	"task-reminders/backend/internal/worker"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Application holds all application dependencies and state
type Application struct {
	Config *config.Config
	Pool   *database.DatabasePool
	Cache  *cache.MultiLevelCache
	Redis  *redis.Client
	Router *gin.Engine
	Server *http.Server

	Hub        *realtime.Hub
	Notifier   notifier.Service
	Memory     *notifier.MemoryScheduler
	Dispatcher *notifier.Dispatcher
	Worker     *worker.Worker

	Reminders *services.ReminderService
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to initialize application: %v", err)
	}

	app.setupRoutes()
	app.startServer()
}

func initializeApplication(cfg *config.Config) (*Application, error) {
	app := &Application{Config: cfg}

	log.Println("🚀 Initializing Task Reminders Backend...")
	log.Printf("📋 Environment: %s, database driver: %s", cfg.Server.Environment, cfg.Database.Driver)

	pool, err := database.NewDatabasePool(database.PoolConfigFrom(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	app.Pool = pool
	log.Println("✅ Database connected and configured")

	migrationConfig := repositories.DefaultMigrationConfig()
	migrationConfig.Driver = cfg.Database.Driver
	migrationConfig.MigrationsPath = cfg.Database.MigrationsPath
	migrationConfig.DBName = cfg.Database.Name

	if err := repositories.RunMigrations(pool.DB, migrationConfig); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	app.connectRedis()

	var redisCache *cache.RedisCache
	if app.Redis != nil {
		redisCache = cache.NewRedisCacheFromClient(app.Redis, "cache:")
		log.Println("✅ Multi-level cache initialized (Memory L1 + Redis L2)")
	} else {
		log.Println("✅ Memory cache initialized")
	}
	app.Cache = cache.NewMultiLevelCache(redisCache)

	app.Hub = realtime.NewHub(cfg.CORS.AllowOrigins)
	deliverer := notifier.MultiDeliverer{notifier.LogDeliverer{}, app.Hub}

	if app.Redis != nil {
		app.startRedisNotifications(deliverer)
	} else {
		app.Memory = notifier.NewMemoryScheduler(deliverer, cfg.Notifications.PermissionGranted)
		app.Notifier = app.Memory
		log.Println("⚠️  Reminders use in-process timers; pending alerts will not survive a restart")
	}

	taskService := services.NewCachedTaskService(services.NewTaskService(), app.Cache)
	app.Reminders = services.NewReminderService(pool.DB, taskService, app.Notifier)

	// Permission is requested once; a failure never blocks startup.
	app.Reminders.RequestPermission(context.Background())

	app.registerHealthChecks()

	log.Println("✅ All services initialized")
	return app, nil
}

func (app *Application) connectRedis() {
	cfg := app.Config
	if !cfg.Redis.Enabled {
		log.Println("ℹ️  Redis disabled by configuration")
		return
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.GetRedisAddr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("⚠️  Redis unavailable: %v (continuing with memory cache and timers only)", err)
		client.Close()
		return
	}

	app.Redis = client
	log.Println("✅ Redis connected")
}

func (app *Application) startRedisNotifications(deliverer notifier.Deliverer) {
	n := app.Config.Notifications

	scheduler := notifier.NewRedisScheduler(app.Redis, n.KeyPrefix, n.PermissionGranted)
	app.Notifier = scheduler

	app.Worker = worker.NewWorker(worker.WorkerConfig{
		RedisClient:  app.Redis,
		Concurrency:  n.Workers,
		PollInterval: n.PollInterval,
		Queues:       []string{n.Queue, n.RetryQueue},
		RetryQueue:   n.RetryQueue,
		DeadQueue:    n.DeadQueue,
	})
	app.Worker.RegisterHandler(worker.JobTypeTaskReminder, notifier.DeliveryHandler(deliverer))
	app.Worker.RegisterHandler(worker.JobTypeCleanup, worker.TrimQueueHandler(app.Redis, 1000))
	app.Worker.Start(0)

	queue := worker.NewJobQueue(app.Redis)
	if err := queue.Enqueue(n.Queue, worker.JobTypeCleanup, map[string]interface{}{"queue": n.DeadQueue}); err != nil {
		log.Printf("⚠️  Failed to enqueue dead queue cleanup: %v", err)
	}

	app.Dispatcher = notifier.NewDispatcher(scheduler, queue, notifier.DispatcherConfig{
		Queue:     n.Queue,
		BatchSize: n.BatchSize,
		Interval:  n.PollInterval,
		MaxTries:  n.MaxTries,
	})
	app.Dispatcher.Start()

	log.Println("✅ Redis reminder scheduler, dispatcher and worker started")
}

func (app *Application) registerHealthChecks() {
	monitoring.RegisterHealthCheck("database", func(ctx context.Context) error {
		return app.Pool.Health()
	})
	if app.Redis != nil {
		monitoring.RegisterHealthCheck("redis", func(ctx context.Context) error {
			return app.Redis.Ping(ctx).Err()
		})
	}
}

func (app *Application) setupRoutes() {
	r := gin.New()

	r.Use(gin.Logger())
	r.Use(middleware.RecoveryWithLog())
	r.Use(monitoring.MetricsMiddleware())
	r.Use(middleware.SecureHeaders())

	rateLimit := rate.Limit(float64(app.Config.RateLimit.RequestsPerMin) / 60.0)
	r.Use(middleware.RateLimiter(rateLimit, app.Config.RateLimit.BurstSize))

	r.Use(cors.New(cors.Config{
		AllowOrigins:     app.Config.CORS.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", monitoring.HealthHandler())
	r.GET("/ready", monitoring.ReadinessHandler())
	r.GET("/live", monitoring.LivenessHandler())
	r.GET("/metrics", monitoring.MetricsHandler())

	v1 := r.Group("/api/v1")
	v1.Use(middleware.BearerAuth(app.Config.Auth.JWTSecret))

	if app.Redis != nil {
		limiter := middleware.NewDistributedRateLimiter(app.Redis)
		v1.Use(limiter.CreateMiddleware("api", &middleware.RateLimit{
			Rate:    app.Config.RateLimit.RequestsPerMin,
			Window:  time.Minute,
			KeyFunc: middleware.SubjectKeyFunc,
		}))
	}

	handlers.NewTaskHandler(app.Reminders).RegisterRoutes(v1)
	v1.GET("/alerts/stream", app.Hub.Handler())
	v1.GET("/cache/stats", app.cacheStatsHandler())

	app.Router = r
}

func (app *Application) startServer() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	if err := app.run(quit); err != nil {
		log.Fatalf("❌ Server failed to start: %v", err)
	}
}

// run serves until quit fires and returns only after cleanup has finished,
// so in-flight reminder jobs and the database pool are shut down before
// the process exits.
func (app *Application) run(quit <-chan os.Signal) error {
	addr := app.Config.GetServerAddr()

	app.Server = &http.Server{
		Addr:         addr,
		Handler:      app.Router,
		ReadTimeout:  app.Config.Server.ReadTimeout,
		WriteTimeout: app.Config.Server.WriteTimeout,
		IdleTimeout:  app.Config.Server.IdleTimeout,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-quit

		log.Println("🛑 Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := app.Server.Shutdown(ctx); err != nil {
			log.Printf("❌ Server forced to shutdown: %v", err)
		}

		app.cleanup()
		log.Println("✅ Server stopped gracefully")
	}()

	log.Printf("🚀 Server starting on %s", addr)
	log.Printf("📊 Metrics available at http://%s/metrics", addr)
	log.Printf("💚 Health check at http://%s/health", addr)

	if err := app.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	<-done
	return nil
}

func (app *Application) cleanup() {
	log.Println("🧹 Cleaning up resources...")

	if app.Dispatcher != nil {
		app.Dispatcher.Stop()
	}
	if app.Worker != nil {
		app.Worker.Stop()
	}
	if app.Memory != nil {
		app.Memory.Close()
	}
	if app.Hub != nil {
		app.Hub.Close()
	}

	if app.Cache != nil {
		if err := app.Cache.Close(); err != nil {
			log.Printf("⚠️  Error closing cache: %v", err)
		}
	}

	if app.Redis != nil {
		if err := app.Redis.Close(); err != nil {
			log.Printf("⚠️  Error closing Redis: %v", err)
		}
	}

	if app.Pool != nil {
		if err := app.Pool.Close(); err != nil {
			log.Printf("⚠️  Error closing database: %v", err)
		}
	}

	log.Println("✅ Cleanup complete")
}

func (app *Application) cacheStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"cache":    app.Cache.Stats(),
			"database": app.Pool.Stats(),
		})
	}
}
