package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dontwaste/surplus_api/internal/cache"
	"github.com/dontwaste/surplus_api/internal/config"
	"github.com/dontwaste/surplus_api/internal/database"
	"github.com/dontwaste/surplus_api/internal/handler"
	"github.com/dontwaste/surplus_api/internal/middleware"
	"github.com/dontwaste/surplus_api/internal/models"
	"github.com/dontwaste/surplus_api/internal/repository"
	"github.com/dontwaste/surplus_api/internal/service"
	"github.com/dontwaste/surplus_api/internal/worker"
)

// main is the application entrypoint for the surplus marketplace API.
func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Setup logger
	setupLogger(cfg.Env)
	log.Info().Str("env", cfg.Env).Msg("starting surplus api")

	// 3. Connect database
	db, err := database.Connect(&cfg.DB)
	if err != nil {
		log.Error().Err(err).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "database connection failed: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	// 3a. Run migrations
	if err := runMigrations(db.DB); err != nil {
		log.Error().Err(err).Msg("migration failed")
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}
	log.Info().Msg("migrations completed successfully")

	// 3b. Connect to Redis
	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Error().Err(err).Msg("redis connection failed")
		fmt.Fprintf(os.Stderr, "redis connection failed: %v\n", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected successfully")

	// 3c. Feature flags and notification throttle
	featureFlags := cache.NewFeatureFlags(redisClient, cfg.Surplus.FeatureEnabled)
	notifyThrottle := cache.NewNotifyThrottle(redisClient, models.NotifyCooldown)
	summaryCache := cache.NewSummaryCache(redisClient, time.Minute)

	// 4. Initialize repositories
	listingRepo := repository.NewListingRepository(db)
	reservationRepo := repository.NewReservationRepository(db)
	offerRepo := repository.NewOfferRepository(db)
	watchRepo := repository.NewWatchRepository(db)
	metricRepo := repository.NewMetricRepository(db)

	// 5. Initialize services
	mailer := service.NewWebhookMailer(cfg.Mailer)
	metricSvc := service.NewMetricService(metricRepo).WithSummaryCache(summaryCache)
	watchSvc := service.NewWatchService(watchRepo, notifyThrottle, mailer)
	searchSvc := service.NewSearchService(listingRepo)
	reservationSvc := service.NewReservationService(
		listingRepo, listingRepo, reservationRepo, metricSvc, mailer, cfg.Surplus.HoldMinutes)
	offerSvc := service.NewOfferService(
		offerRepo, listingRepo, listingRepo, reservationSvc, metricSvc, mailer, cfg.Surplus.OfferExpiryHours)
	listingSvc := service.NewListingService(listingRepo, listingRepo, metricSvc, watchSvc, mailer)

	// 6. Initialize handlers
	handlers := &Handlers{
		Health:      handler.NewHealthHandler(db, redisClient),
		Listing:     handler.NewListingHandler(listingSvc, searchSvc, offerSvc),
		Reservation: handler.NewReservationHandler(reservationSvc),
		Offer:       handler.NewOfferHandler(offerSvc),
		Watch:       handler.NewWatchHandler(watchSvc),
		Metric:      handler.NewMetricHandler(metricSvc),
	}

	// 7. Initialize middleware
	authMw := middleware.NewAuthMiddleware()
	surplusGate := middleware.FeatureGate(featureFlags, cache.FeatureSurplus)

	// 8. Setup router
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.LoggingMiddleware())
	setupRoutes(router, handlers, authMw, surplusGate)

	// 9. Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 10. Start workers
	go worker.NewReservationExpiryWorker(reservationSvc, cfg.Worker.ReservationSweepInterval).Start(ctx)
	go worker.NewListingExpiryWorker(listingSvc, cfg.Worker.ListingSweepInterval).Start(ctx)
	go worker.NewOfferExpiryWorker(offerSvc, cfg.Worker.OfferSweepInterval).Start(ctx)

	// 11. Start HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// 12. Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// 13. Cancel context to stop workers
	cancel()

	// 14. Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited")
}

// Handlers groups all HTTP handlers used by the server.
type Handlers struct {
	Health      *handler.HealthHandler
	Listing     *handler.ListingHandler
	Reservation *handler.ReservationHandler
	Offer       *handler.OfferHandler
	Watch       *handler.WatchHandler
	Metric      *handler.MetricHandler
}

// setupRoutes registers all routes.
func setupRoutes(router *gin.Engine, handlers *Handlers, authMw *middleware.AuthMiddleware, surplusGate gin.HandlerFunc) {
	router.GET("/v1/health", handlers.Health.GetHealth)

	v1 := router.Group("/v1")
	v1.Use(surplusGate)

	// Browse endpoints: anonymous allowed, identity resolved when present so
	// invite-only listings surface for their allow-listed buyers.
	browse := v1.Group("")
	browse.Use(authMw.HandleOptional())
	{
		browse.GET("/listings", handlers.Listing.SearchListings)
		browse.GET("/listings/:id", handlers.Listing.GetListing)
		browse.GET("/listings/:id/quote", handlers.Listing.QuoteListing)
	}

	// Authenticated endpoints
	authed := v1.Group("")
	authed.Use(authMw.Handle())
	{
		// Seller listing management
		authed.POST("/listings", handlers.Listing.CreateListing)
		authed.PUT("/listings/:id", handlers.Listing.UpdateListing)
		authed.DELETE("/listings/:id", handlers.Listing.DeleteListing)
		authed.POST("/listings/:id/publish", handlers.Listing.PublishListing)
		authed.POST("/listings/:id/cancel", handlers.Listing.CancelListing)
		authed.GET("/listings/:id/offers", handlers.Listing.ListingOffers)
		authed.GET("/my/listings", handlers.Listing.MyListings)

		// Reservations
		authed.POST("/listings/:id/reserve", handlers.Reservation.ReserveListing)
		authed.GET("/reservations", handlers.Reservation.ListReservations)
		authed.GET("/reservations/:id", handlers.Reservation.GetReservation)
		authed.POST("/reservations/:id/cancel", handlers.Reservation.ReleaseReservation)
		authed.POST("/reservations/:id/convert", handlers.Reservation.ConvertReservation)

		// Offers
		authed.POST("/offers", handlers.Offer.CreateOffer)
		authed.GET("/offers", handlers.Offer.ListOffers)
		authed.POST("/offers/:id/accept", handlers.Offer.AcceptOffer)
		authed.POST("/offers/:id/reject", handlers.Offer.RejectOffer)
		authed.POST("/offers/:id/cancel", handlers.Offer.CancelOffer)

		// Watches
		authed.POST("/watches", handlers.Watch.CreateWatch)
		authed.GET("/watches", handlers.Watch.ListWatches)
		authed.PUT("/watches/:id", handlers.Watch.UpdateWatch)
		authed.DELETE("/watches/:id", handlers.Watch.DeleteWatch)

		// Impact metrics
		authed.GET("/metrics/summary", handlers.Metric.GetSummary)
	}
}

// runMigrations runs database migrations using golang-migrate.
func runMigrations(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func setupLogger(env string) {
	if env == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}
