package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"catalog-api/internal/auth"
	"catalog-api/internal/catalog"
	"catalog-api/internal/db"
	"catalog-api/internal/maintenance"
	"catalog-api/internal/media"
	"catalog-api/internal/observability"
	"catalog-api/internal/rate"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	appEnv := envOrDefault("APP_ENV", "development")
	logger := observability.NewLogger("catalog-api", appEnv)

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	accessSecret, err := mustEnv("JWT_ACCESS_SECRET")
	if err != nil {
		return nil, err
	}
	refreshSecret, err := mustEnv("JWT_REFRESH_SECRET")
	if err != nil {
		return nil, err
	}
	adminSecret, err := mustEnv("ADMIN_SECRET")
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), appEnv); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	authRepo := auth.NewRepository(database)
	tokenIssuer := auth.NewTokenIssuer(accessSecret, refreshSecret).WithTTL(
		envHoursOrDefault("ACCESS_TOKEN_TTL_HOURS", 24),
		envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 168),
	)
	authService := auth.NewService(authRepo, tokenIssuer, adminSecret).WithLockoutPolicy(
		envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
		envMinutesOrDefault("LOGIN_LOCK_MINUTES", 15),
	)
	authHandler := auth.NewHandler(authService)
	guard := auth.NewGuard(tokenIssuer, authService)

	cleanupHandler := maintenance.NewCleanupHandler(
		authRepo,
		logger,
		os.Getenv("CRON_SECRET"),
		envDaysOrDefault("AUTH_REFRESH_TOKEN_RETENTION_DAYS", 14),
		envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", 500),
	)

	cloudinaryURL, err := mustEnv("CLOUDINARY_URL")
	if err != nil {
		_ = database.Close()
		return nil, err
	}
	cloudinaryClient, err := media.NewCloudinary(cloudinaryURL)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("init cloudinary: %w", err)
	}
	mediaUploadHandler := media.NewUploadHandler(cloudinaryClient)

	catalogRepo := catalog.NewRepository(database)
	catalogHandler := catalog.NewHandler(catalogRepo, cloudinaryClient, cloudinaryClient, os.Getenv("WHATSAPP_PHONE"))

	limiterCtx, stopLimiter := context.WithCancel(context.Background())
	loginLimiter, redisClient := buildLoginLimiter(limiterCtx, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", authHandler.Register)
	mux.HandleFunc("POST /auth/register-admin", authHandler.RegisterAdmin)
	mux.Handle("POST /auth/login", rate.Middleware(loginLimiter, http.HandlerFunc(authHandler.Login)))
	mux.HandleFunc("POST /auth/refresh", authHandler.Refresh)
	mux.Handle("POST /auth/logout", guard.Authenticate(http.HandlerFunc(authHandler.Logout)))
	mux.Handle("GET /auth/me", guard.Authenticate(http.HandlerFunc(authHandler.Me)))

	mux.HandleFunc("GET /categories", catalogHandler.ListCategories)
	mux.Handle("POST /categories", adminOnly(guard, catalogHandler.CreateCategory))
	mux.Handle("PUT /categories/{id}", adminOnly(guard, catalogHandler.UpdateCategory))
	mux.Handle("DELETE /categories/{id}", adminOnly(guard, catalogHandler.DeleteCategory))

	mux.HandleFunc("GET /products", catalogHandler.ListProducts)
	mux.HandleFunc("GET /products/{id}/inquiry", catalogHandler.ProductInquiry)
	mux.Handle("POST /products", adminOnly(guard, catalogHandler.CreateProduct))
	mux.Handle("PUT /products/{id}", adminOnly(guard, catalogHandler.UpdateProduct))
	mux.Handle("DELETE /products/{id}", adminOnly(guard, catalogHandler.DeleteProduct))

	mux.Handle("POST /media/upload", adminOnly(guard, mediaUploadHandler.Upload))

	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	return &Runtime{
		Handler: handler,
		Close: func() error {
			stopLimiter()
			if redisClient != nil {
				_ = redisClient.Close()
			}
			observability.FlushSentry()
			return database.Close()
		},
	}, nil
}

func adminOnly(guard *auth.Guard, handler http.HandlerFunc) http.Handler {
	return guard.Authenticate(guard.RequireAdmin(handler))
}

// buildLoginLimiter prefers Redis so limits hold across instances;
// without REDIS_ADDR it falls back to the process-local map and starts
// its sweep loop.
func buildLoginLimiter(ctx context.Context, logger *observability.Logger) (rate.Limiter, *redis.Client) {
	limit := envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10)
	window := envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60)

	redisAddr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if redisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envIntOrDefault("REDIS_DB", 0),
		})
		logger.Info("rate_limiter_redis", map[string]any{"addr": redisAddr})
		return rate.NewRedis(client, limit, window, os.Getenv("REDIS_RATE_LIMIT_PREFIX")), client
	}

	limiter := rate.NewMemory(limit, window)
	go limiter.Run(ctx, window)
	return limiter, nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
