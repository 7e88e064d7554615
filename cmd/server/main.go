package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/partnerops/portal-sync/internal/cache"
	"github.com/partnerops/portal-sync/internal/config"
	"github.com/partnerops/portal-sync/internal/database"
	"github.com/partnerops/portal-sync/internal/handler"
	"github.com/partnerops/portal-sync/internal/jobs"
	"github.com/partnerops/portal-sync/internal/lms"
	"github.com/partnerops/portal-sync/internal/middleware"
	"github.com/partnerops/portal-sync/internal/repository"
	"github.com/partnerops/portal-sync/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Local development convenience; production sets real env vars.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setLogLevel(cfg.LogLevel)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	var analysisCache *cache.Cache
	if cfg.RedisURL != "" {
		analysisCache, err = cache.New(cfg.RedisURL, cfg.AnalysisCacheTTL())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer analysisCache.Close()
		log.Info().Msg("redis connected")
	} else {
		log.Warn().Msg("REDIS_URL not set, analysis caching disabled")
	}

	lmsClient := lms.NewHTTPClient(cfg.LMSBaseURL, cfg.LMSAPIKey, cfg.LMSTimeout())

	partnerRepo := repository.NewPartnerRepository(db.DB)
	contactRepo := repository.NewContactRepository(db.DB)
	userRepo := repository.NewLmsUserRepository(db.DB)
	groupRepo := repository.NewLmsGroupRepository(db.DB)
	memberRepo := repository.NewGroupMemberRepository(db.DB)
	courseRepo := repository.NewCourseRepository(db.DB)
	enrollmentRepo := repository.NewEnrollmentRepository(db.DB)
	syncLogRepo := repository.NewSyncLogRepository(db.DB)
	syncStateRepo := repository.NewSyncStateRepository(db.DB)
	scheduleRepo := repository.NewSyncScheduleRepository(db.DB)
	watermarkRepo := repository.NewSyncWatermarkRepository(db.DB)
	settingsRepo := repository.NewPortalSettingsRepository(db.DB)
	overrideRepo := repository.NewDomainOverrideRepository(db.DB)
	analysisRepo := repository.NewGroupAnalysisRepository(db.DB)

	lockService := service.NewLockService(syncStateRepo, syncLogRepo)
	syncService := service.NewSyncService(
		lmsClient, userRepo, groupRepo, memberRepo, courseRepo, enrollmentRepo,
		syncLogRepo, watermarkRepo, lockService,
		service.SyncOptions{
			PageSize:         cfg.LMSPageSize,
			BatchSize:        cfg.SyncBatchSize,
			BatchDelay:       cfg.SyncBatchDelay(),
			PendingMaxCycles: cfg.SyncPendingMaxCycles,
		},
	)
	reconcileService := service.NewReconcileService(
		lmsClient, partnerRepo, contactRepo, userRepo, groupRepo, memberRepo,
		overrideRepo, analysisRepo, analysisCache,
		service.MatchOptions{
			Threshold:     cfg.MatchThreshold,
			MaxCandidates: cfg.MatchMaxCandidates,
			GroupPrefix:   cfg.GroupNamePrefix,
		},
	)
	syncService.SetContactLinker(reconcileService)
	membershipService := service.NewMembershipService(
		lmsClient, groupRepo, memberRepo, userRepo, analysisCache,
		service.MembershipOptions{
			PaceDelay:          cfg.SyncBatchDelay(),
			AllPartnersGroupID: cfg.AllPartnersGroupID,
		},
	)
	complianceService := service.NewComplianceService(
		partnerRepo, enrollmentRepo, settingsRepo,
		service.ComplianceOptions{
			CertValidityMonths:    cfg.CertValidityMonths,
			GTMCertValidityMonths: cfg.GTMCertValidityMonths,
		},
	)
	importService := service.NewImportService(partnerRepo, contactRepo)

	syncHandler := handler.NewSyncHandler(syncService, lockService, syncLogRepo, scheduleRepo)
	groupHandler := handler.NewGroupHandler(groupRepo, memberRepo, reconcileService, membershipService)
	partnerHandler := handler.NewPartnerHandler(partnerRepo, contactRepo, complianceService, importService)
	userHandler := handler.NewUserHandler(userRepo)
	settingsHandler := handler.NewSettingsHandler(settingsRepo, complianceService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1", func(r chi.Router) {
		// Sync runs and bulk member adds block for the duration of the LMS
		// round trips, so no request timeout is applied here.
		r.Mount("/sync", syncHandler.Routes())
		r.Mount("/groups", groupHandler.Routes())
		r.Mount("/partners", partnerHandler.Routes())
		r.Mount("/users", userHandler.Routes())
		r.Mount("/settings", settingsHandler.Routes())
	})

	schedulerJob := jobs.NewSchedulerJob(scheduleRepo, syncService)
	schedulerJob.Start()
	defer schedulerJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
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
