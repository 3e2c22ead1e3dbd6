package main

import (
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"graphmail/composer"
	"graphmail/config"
	"graphmail/handlers/api"
	"graphmail/middleware"
	"graphmail/storage"
	"graphmail/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/session"
)

// errorHandler renders every error as JSON with the AppError status
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	var fiberErr *fiber.Error
	if appErr, ok := utils.AsAppError(err); ok {
		code = appErr.Code
		message = appErr.Message
		if code >= 500 {
			utils.Log.Error("Application error: %v", appErr)
		} else {
			utils.Log.Debug("Request failed: %v", appErr)
		}
	} else if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	} else {
		utils.Log.Error("Unhandled error: %v", err)
	}

	return c.Status(code).JSON(fiber.Map{"error": message})
}

func main() {
	configPath := flag.String("config", "config.toml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		utils.Log.Error("Failed to load config: %v", err)
		os.Exit(1)
	}
	if level, err := utils.ParseLogLevel(cfg.Log.Level); err == nil {
		utils.Log.SetLevel(level)
	}
	utils.Log.Info("Starting graphmail with the %s transport", cfg.Transport.Kind)

	if err := utils.InitI18n(); err != nil {
		utils.Log.Error("Failed to initialize i18n: %v", err)
	}

	db, err := storage.InitDB(cfg.Data.Folder)
	if err != nil {
		utils.Log.Error("Failed to open database: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	key := []byte(cfg.Encryption.Key)
	if len(key) == 0 {
		utils.Log.Warn("encryption.key is not set; stored credentials will not survive a restart")
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			utils.Log.Error("Failed to generate encryption key: %v", err)
			os.Exit(1)
		}
	}
	if cfg.JWT.Secret == "" {
		utils.Log.Warn("jwt.secret is not set; bearer tokens will not survive a restart")
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			utils.Log.Error("Failed to generate jwt secret: %v", err)
			os.Exit(1)
		}
		cfg.JWT.Secret = string(secret)
	}

	secrets, err := storage.NewSecretStore(db, key)
	if err != nil {
		utils.Log.Error("Failed to open secret store: %v", err)
		os.Exit(1)
	}

	sessions := storage.NewSessionStorage(db)
	store := session.New(session.Config{
		Storage:        sessions,
		Expiration:     cfg.Session.Expiration.Duration,
		CookieSecure:   cfg.Session.CookieSecure,
		CookieHTTPOnly: true,
		CookieSameSite: "Lax",
	})

	cache := utils.NewMemoryCache(time.Minute)
	defer cache.Close()

	registry := composer.NewRegistry(cfg.Composer.SelectionBuffer)
	backends := api.NewBackends(cfg, secrets)
	hub := api.NewNotificationHandler()
	tokens := api.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.TTL.Duration)

	composeHandler := api.NewComposeHandler(registry, backends, hub, cfg.Composer)
	calendarHandler := api.NewCalendarHandler(backends, hub, cache, cfg.Calendar)
	authHandler := api.NewAuthHandler(cfg, store, tokens, backends, registry, calendarHandler.Views())

	app := fiber.New(fiber.Config{
		AppName:      "graphmail",
		ErrorHandler: errorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(compress.New(compress.Config{
		// compression buffers the SSE stream
		Next: func(c *fiber.Ctx) bool {
			return strings.HasSuffix(c.Path(), "/notifications/sse")
		},
	}))
	app.Use(helmet.New(helmet.Config{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "SAMEORIGIN",
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'self'",
	}))
	app.Use(middleware.LocaleMiddleware())
	limiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window.Duration)
	defer limiter.Close()
	app.Use(limiter.Handler)

	// Public routes
	app.Get("/login", authHandler.Login)
	app.Post("/login", authHandler.Login)
	app.Get("/auth/callback", authHandler.Callback)
	app.Post("/logout", authHandler.Logout)
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	csrf := middleware.DefaultCSRFConfig()
	csrf.CookieSecure = cfg.Session.CookieSecure
	apiRoutes := app.Group("/api", api.SessionMiddleware(store, tokens), middleware.CSRFProtection(csrf))
	api.RegisterRoutes(apiRoutes, api.Handlers{
		Compose:       composeHandler,
		Calendar:      calendarHandler,
		Notifications: hub,
		I18n:          &api.I18nHandler{},
	})

	app.Use(func(c *fiber.Ctx) error {
		lang, _ := c.Locals("lang").(string)
		return utils.NotFoundError(utils.T(utils.GetLocalizer(lang), "error_404"), nil)
	})

	go sweepSessions(sessions)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		utils.Log.Info("Shutting down...")
		registry.CloseAll("")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			utils.Log.Error("Shutdown failed: %v", err)
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	utils.Log.Info("Starting server on port %d...", cfg.Server.Port)
	if cfg.SSL.Enabled {
		err = app.ListenTLS(addr, cfg.SSL.CertFile, cfg.SSL.KeyFile)
	} else {
		err = app.Listen(addr)
	}
	if err != nil {
		utils.Log.Error("Error starting server: %v", err)
	}
}

func sweepSessions(s *storage.SessionStorage) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		if n, err := s.Sweep(); err != nil {
			utils.Log.Warn("Session sweep failed: %v", err)
		} else if n > 0 {
			utils.Log.Debug("Removed %d expired sessions", n)
		}
	}
}
