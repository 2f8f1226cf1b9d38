package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/epibuilder/portal/internal/config"
	"github.com/epibuilder/portal/internal/handler"
	"github.com/epibuilder/portal/internal/metrics"
	"github.com/epibuilder/portal/internal/middleware"
	"github.com/epibuilder/portal/internal/model"
	"github.com/epibuilder/portal/internal/service"
	"github.com/epibuilder/portal/internal/storage"
	"github.com/epibuilder/portal/internal/worker"
	ws "github.com/epibuilder/portal/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	// Open Postgres and apply migrations
	store, err := storage.Open(cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize metrics
	m := metrics.New()

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret, cfg.JWT.Expiration)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize services
	authService := service.NewAuthService(store.Users(), authMiddleware)
	taskService := service.NewTaskService(store.Tasks(), store.Databases(), redisClient, asynqClient, cfg.Pipeline.WorkDir)
	databaseService := service.NewDatabaseService(store.Databases(), cfg.Pipeline.DatabasesDir)
	userService := service.NewUserService(store.Users())

	// Initialize handlers
	authHandler := handler.NewAuthHandler(authService, validate)
	taskHandler := handler.NewTaskHandler(taskService, validate, m)
	databaseHandler := handler.NewDatabaseHandler(databaseService, validate)
	userHandler := handler.NewUserHandler(userService, validate)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    100 * 1024 * 1024, // 100MB, proteome uploads are large
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Prometheus metrics
	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	// Login is the only unauthenticated API route
	app.Post("/auth/login", authHandler.Login)

	// Authenticated routes
	api := app.Group("/", authMiddleware.Authenticate())

	// Task routes
	tasks := api.Group("/epitopes/tasks")
	tasks.Post("/new", rateLimiter.SubmitLimit(cfg.RateLimit.SubmitPerHour), taskHandler.New)
	tasks.Get("/user/:userId", taskHandler.ListByUser)
	tasks.Get("/user/:userId/status", taskHandler.ListActiveByUser)
	tasks.Get("/:id/log", taskHandler.Log)
	tasks.Get("/:id/progress", taskHandler.Progress)
	tasks.Get("/:id/download", taskHandler.Download)
	tasks.Delete("/:id", taskHandler.Delete)

	// Database catalog routes
	dbs := api.Group("/dbs")
	dbs.Get("/", databaseHandler.List)
	dbs.Post("/", authMiddleware.RequireRole(model.RoleAdmin),
		rateLimiter.DatabaseLimit(cfg.RateLimit.DatabasePerHour), databaseHandler.Create)
	dbs.Delete("/:id", authMiddleware.RequireRole(model.RoleAdmin), databaseHandler.Delete)

	// User administration routes
	users := api.Group("/users", authMiddleware.RequireRole(model.RoleAdmin))
	users.Get("/", userHandler.List)
	users.Post("/", userHandler.Create)
	users.Put("/:id", userHandler.Update)
	users.Delete("/:id", userHandler.Delete)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/tasks/:uuid", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("uuid"))
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, store, redisClient, hub, m)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(cfg *config.Config, store *storage.Store, redisClient *redis.Client, hub *ws.Hub, m *metrics.Metrics) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Pipeline.Concurrency,
			Queues: map[string]int{
				"pipeline": 10,
			},
		},
	)

	pipelineWorker := worker.NewPipelineWorker(store.Tasks(), redisClient, hub, m)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypePipeline, pipelineWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
