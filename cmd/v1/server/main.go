package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/lectern/classroom-server/internal/v1/config"
	"github.com/lectern/classroom-server/internal/v1/events"
	"github.com/lectern/classroom-server/internal/v1/gateway"
	"github.com/lectern/classroom-server/internal/v1/health"
	"github.com/lectern/classroom-server/internal/v1/logging"
	"github.com/lectern/classroom-server/internal/v1/middleware"
	"github.com/lectern/classroom-server/internal/v1/ratelimit"
	"github.com/lectern/classroom-server/internal/v1/registry"
	"github.com/lectern/classroom-server/internal/v1/rtc"
	"github.com/lectern/classroom-server/internal/v1/store"
	"github.com/lectern/classroom-server/internal/v1/tracing"
)

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	// --- Tracing (Optional) ---
	ctx := context.Background()
	if cfg.OtelEnabled {
		tp, err := tracing.InitTracer(ctx, "classroom-server", cfg.OtelCollectorAddr)
		if err != nil {
			slog.Error("Failed to initialize tracer, continuing without tracing", "error", err)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					slog.Error("Failed to shut down tracer provider", "error", err)
				}
			}()
			slog.Info("Tracing initialized", "collector", cfg.OtelCollectorAddr)
		}
	}

	// --- Datastore ---
	// Development mode seeds the default room so a fresh checkout is usable
	// without any API calls.
	st, err := store.Open(cfg.DataPath, store.Options{SeedDefaultRoom: cfg.DevelopmentMode})
	if err != nil {
		slog.Error("Failed to open datastore", "error", err, "path", cfg.DataPath)
		os.Exit(1)
	}

	// --- Redis (Optional, rate limit store) ---
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.Error("Failed to connect to Redis, falling back to in-memory rate limiting", "error", err)
			_ = redisClient.Close()
			redisClient = nil
		} else {
			slog.Info("Redis connected", "addr", cfg.RedisAddr)
		}
	} else {
		slog.Info("Running in single-instance mode (Redis disabled)")
	}

	rateLimiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		slog.Error("Failed to create rate limiter", "error", err)
		os.Exit(1)
	}

	// --- Core wiring ---
	hub := rtc.NewHub(st, rateLimiter, cfg.Origins())
	reg := registry.NewRegistry(st, hub)
	engine := events.NewEngine(st, hub, reg)
	gw := gateway.New(engine, reg, hub)

	// The lecture lookup is reconstructible from the store: re-register every
	// lecture that was admissible when the process last stopped.
	for _, lecture := range st.Lectures(nil) {
		if lecture.Status.Admissible() {
			hub.RegisterLecture(lecture.ID, lecture.RoomID, lecture.Status)
			hub.SetupForRoom(lecture.RoomID)
		}
	}

	// --- Set up Server ---
	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Origins()
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders,
		middleware.HeaderXCorrelationID, gateway.HeaderUserID, gateway.HeaderUserRole, gateway.HeaderUserName)
	router.Use(cors.New(corsConfig))

	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if cfg.OtelEnabled {
		router.Use(otelgin.Middleware("classroom-server"))
	}

	// Routing
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/rooms/:roomId", hub.ServeWs)
	}
	gw.RegisterRoutes(router)

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	healthHandler := health.NewHandler(st)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("Classroom server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	// The context is used to inform the server it has 30 seconds to finish
	// the requests it is currently handling
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Close all active rooms and WebSocket connections gracefully
	if err := hub.Shutdown(shutdownCtx); err != nil {
		slog.Error("Error during Hub shutdown:", "error", err)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			slog.Error("Failed to close Redis connection:", "error", err)
		} else {
			slog.Info("Redis connection closed")
		}
	}

	slog.Info("Server exiting")
}
