package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"circles-backend/internal/config"
	"circles-backend/internal/database"
	"circles-backend/internal/handlers"
	"circles-backend/internal/metrics"
	"circles-backend/internal/middleware"
	"circles-backend/internal/repository"
	"circles-backend/internal/services"
	"circles-backend/internal/validation"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Run() {
	// Load configuration
	path := os.Getenv("CIRCLES_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level)

	ctx := context.Background()

	if cfg.Database.MigrateOnStart {
		if err := database.RunMigrations(cfg.Database.URL()); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}

	// Connect to database
	db, err := database.Connect(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Connect to Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to ping redis")
	}
	log.Info().Msg("Redis connection established")

	storage, err := services.NewS3Storage(ctx, cfg.AWS)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create avatar storage")
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	// Push providers
	notifier := newNotifier(cfg.Push, collector)

	// Initialize repositories
	profileRepo := repository.NewProfileRepository(db)
	circleRepo := repository.NewCircleRepository(db)
	invitationRepo := repository.NewInvitationRepository(db)
	resetRepo := repository.NewPasswordResetRepository(db)

	// Initialize services
	validate := validation.New()
	profileCache := services.NewRedisProfileCache(rdb, cfg.Redis.ProfileTTL)

	// the hub reports presence to the profile service, which fans it out
	// through the hub
	var profileService *services.ProfileService
	wsHub := services.NewWSHub(func(profileID string, online bool) {
		profileService.HandlePresence(profileID, online)
	}, collector)

	authService := services.NewAuthService(
		profileRepo,
		resetRepo,
		services.NewRedisTokenRevoker(rdb),
		profileCache,
		services.NewMailer(cfg.Mail),
		validate,
		services.AuthConfig{
			JWTSecret:        cfg.JWT.Secret,
			TokenTTL:         cfg.JWT.TTL,
			ResetTTL:         cfg.PasswordReset.TTL,
			ResetMaxAttempts: cfg.PasswordReset.MaxAttempts,
		},
	)
	profileService = services.NewProfileService(
		profileRepo,
		circleRepo,
		profileCache,
		storage,
		wsHub,
		collector,
		validate,
		services.AvatarConfig{
			PresignTTL: cfg.AWS.PresignTTL,
			MaxBytes:   cfg.AWS.AvatarMaxBytes,
		},
	)
	circleService := services.NewCircleService(
		circleRepo,
		invitationRepo,
		profileRepo,
		notifier,
		wsHub,
		collector,
		validate,
		services.InvitationConfig{
			TTL:        cfg.Invitations.TTL,
			CodeLength: cfg.Invitations.CodeLength,
		},
	)

	// Background cleanup of expired codes
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	go services.NewHousekeeping(invitationRepo, resetRepo, cfg.Housekeeping.Interval).Run(workerCtx)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	profileHandler := handlers.NewProfileHandler(profileService)
	circleHandler := handlers.NewCircleHandler(circleService)
	wsHandler := handlers.NewWebSocketHandler(wsHub, authService, profileService)

	// Validate already rejected malformed entries
	trustedProxies, _ := cfg.Server.TrustedProxyPrefixes()

	authLimiter := middleware.NewRateLimiter(middleware.AuthRateLimit)
	defer authLimiter.Stop()

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(middleware.TrustedRealIP(trustedProxies))
	r.Use(middleware.AccessLog(collector))
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Group(func(r chi.Router) {
			r.Use(authLimiter.Middleware)
			r.Post("/auth/signup", authHandler.SignUp)
			r.Post("/auth/login", authHandler.Login)
			r.Get("/auth/username-available", authHandler.UsernameAvailable)
			r.Get("/auth/email-available", authHandler.EmailAvailable)
			r.Post("/auth/password/forgot", authHandler.ForgotPassword)
			r.Post("/auth/password/reset", authHandler.ResetPassword)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(authService))
			r.Post("/auth/logout", authHandler.Logout)

			r.Get("/profiles", profileHandler.List)
			r.Get("/profiles/me", profileHandler.GetMe)
			r.Patch("/profiles/me", profileHandler.UpdateMe)
			r.Put("/profiles/me/push-token", profileHandler.SetPushToken)
			r.Put("/profiles/me/location", profileHandler.UpdateLocation)
			r.Post("/profiles/me/avatar/upload-url", profileHandler.AvatarUploadURL)
			r.Put("/profiles/me/avatar", profileHandler.ConfirmAvatar)

			r.Post("/circles", circleHandler.CreateCircle)
			r.Get("/circles", circleHandler.GetCircles)
			r.Post("/circles/join", circleHandler.JoinCircle)
			r.Post("/circles/{circle_id}/invitations", circleHandler.CreateInvitation)
			r.Delete("/circles/{circle_id}/membership", circleHandler.LeaveCircle)
			r.Put("/circles/{circle_id}/sharing", circleHandler.SetShareLocation)

			r.Get("/related/profiles", circleHandler.RelatedProfiles)
			r.Get("/related/circle-mappings", circleHandler.RelatedCircleMappings)
			r.Get("/related/profile-mappings", circleHandler.RelatedProfileMappings)
		})
	})

	// WebSocket route
	r.Get("/ws", wsHandler.HandleWebSocket)

	// Ops
	r.Get("/healthz", healthHandler(db, rdb))
	r.Handle("/metrics", metrics.Handler(registry))

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	stopWorkers()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// hijacked WebSocket connections are not closed by Shutdown
	wsHub.Close()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	circleService.WaitForPushes()

	log.Info().Msg("Server exited")
}

// newNotifier routes Expo tokens to the Expo relay and raw device tokens to
// APNs when it is configured
func newNotifier(cfg config.PushConfig, recorder services.Recorder) services.Notifier {
	expo := services.NewExpoClient(cfg.ExpoURL, cfg.ExpoAccessToken, recorder)

	var apns services.Notifier
	if cfg.APNsEnabled() {
		client, err := services.NewAPNsClient(cfg, recorder)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create APNs client")
		}
		apns = client
		log.Info().Str("topic", cfg.APNsTopic).Bool("production", cfg.APNsProduction).Msg("APNs push enabled")
	}

	return services.NewDispatcher(expo, apns)
}

// healthHandler reports whether Postgres and Redis are reachable
func healthHandler(db *pgxpool.Pool, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{"database": "ok", "redis": "ok"}
		status := http.StatusOK
		if err := db.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(checks)
	}
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
