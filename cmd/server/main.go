package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/saeid-a/StudioScheduleBack/internal/config"
	"github.com/saeid-a/StudioScheduleBack/internal/database"
	"github.com/saeid-a/StudioScheduleBack/internal/events"
	"github.com/saeid-a/StudioScheduleBack/internal/gamification"
	"github.com/saeid-a/StudioScheduleBack/internal/models"
	"github.com/saeid-a/StudioScheduleBack/internal/repository"
	"github.com/saeid-a/StudioScheduleBack/internal/routes"
	"github.com/saeid-a/StudioScheduleBack/internal/services"
	syncws "github.com/saeid-a/StudioScheduleBack/internal/websocket"
	"github.com/saeid-a/StudioScheduleBack/pkg/apperrors"
	"github.com/saeid-a/StudioScheduleBack/pkg/logger"
)

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.New(logger.Config{}).Fatal("Failed to load config", "error", err)
	}

	log := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "studio-schedule",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Session store
	var (
		store repository.SessionStore
		users repository.UserDirectory
	)
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Warn("using in-memory session store; data is lost on restart")
		store = repository.NewMemorySessionStore()
		if len(cfg.MemoryUsers) > 0 {
			users = memoryDirectory(cfg.MemoryUsers)
			log.Info("seeded in-memory user directory", "users", len(cfg.MemoryUsers))
		} else {
			log.Warn("MEMORY_USERS is empty; participant ids are not checked")
		}
	default:
		pool, err := database.Connect(ctx, cfg.DBUrl, log)
		if err != nil {
			log.Fatal("Failed to connect to database", "error", err)
		}
		defer pool.Close()
		store = repository.NewPostgresSessionStore(pool)
		users = repository.NewUserRepository(pool)
	}

	// 3. Sync hub and event fan-out
	hub := syncws.NewHub(log)
	go hub.Run()
	defer hub.Close()

	var publisher services.EventPublisher = hub
	if cfg.KafkaEnabled() {
		relay, err := events.NewRelay(cfg.KafkaBrokers, cfg.KafkaSessionTopic, cfg.KafkaGroupPrefix, hub, log)
		if err != nil {
			log.Fatal("Failed to configure session event relay", "error", err)
		}
		defer relay.Close()
		go func() {
			if err := relay.Run(ctx); err != nil {
				log.Error("session event relay stopped", "error", err)
			}
		}()
		publisher = relay
	}

	var accrual gamification.Recorder
	if cfg.GamificationURL != "" {
		accrual = gamification.NewHTTPRecorder(cfg.GamificationURL, cfg.GamificationAPIKey)
	}

	sessionService := services.NewSessionService(store, users, publisher, accrual, log).
		WithLocation(cfg.Location()).
		WithCancellationNotice(cfg.CancellationNotice)

	// 4. Setup Fiber
	app := fiber.New(fiber.Config{
		AppName:      "StudioScheduleBack",
		ErrorHandler: errorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(helmet.New())
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} ${locals:requestid} ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitMax,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/health"
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "Too many requests"})
		},
	}))

	// Routes
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"store":  cfg.StoreDriver,
		})
	})
	if err := routes.RegisterRoutes(app, cfg, sessionService, hub, log); err != nil {
		log.Fatal("Failed to register routes", "error", err)
	}

	// 5. Start Server
	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error("shutdown failed", "error", err)
		}
	}()

	log.Info("Server starting", "port", cfg.Port, "env", cfg.AppEnv, "store", cfg.StoreDriver)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal("Server failed to start", "error", err)
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Internal server error",
		"code":  apperrors.CodeInternal,
	})
}

func memoryDirectory(seeds []config.UserSeed) *repository.MemoryUserDirectory {
	directory := repository.NewMemoryUserDirectory()
	for _, seed := range seeds {
		directory.Add(models.User{ID: seed.ID, Role: seed.Role, Email: seed.Email})
	}
	return directory
}
