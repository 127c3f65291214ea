package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/nepal-hazard-watch/internal/alerts"
	"github.com/mr1hm/nepal-hazard-watch/internal/api"
	"github.com/mr1hm/nepal-hazard-watch/internal/config"
	"github.com/mr1hm/nepal-hazard-watch/internal/engine"
	"github.com/mr1hm/nepal-hazard-watch/internal/geocode"
	"github.com/mr1hm/nepal-hazard-watch/internal/ingestion"
	"github.com/mr1hm/nepal-hazard-watch/internal/location"
	"github.com/mr1hm/nepal-hazard-watch/internal/logging"
	"github.com/mr1hm/nepal-hazard-watch/internal/models"
	"github.com/mr1hm/nepal-hazard-watch/internal/notify"
	"github.com/mr1hm/nepal-hazard-watch/internal/observability"
	"github.com/mr1hm/nepal-hazard-watch/internal/repository"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	if dir := filepath.Dir(cfg.DB.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logging.Fatalf("Failed to create database directory: %v", err)
		}
	}
	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()
	metrics := observability.NewMetrics()

	store := alerts.NewStore(alerts.Options{
		Capacity: cfg.Alerts.Capacity,
		TTL:      cfg.Alerts.TTL,
		Clock:    clock,
		Metrics:  metrics,
		Logger:   slog.Default(),
	})

	// External fan-out of every alert change
	var dispatcher *notify.Dispatcher
	if cfg.Notify.Enabled() {
		sinks := notify.BuildSinks(ctx, cfg.Notify, cfg.Alerts.TTL, slog.Default())
		dispatcher = notify.NewDispatcher(sinks, store.Snapshot, notify.Options{
			Workers:    cfg.Notify.Workers,
			BufferSize: cfg.Notify.BufferSize,
			Metrics:    metrics,
			Logger:     slog.Default(),
		})
		// Not tied to ctx so Stop can drain the queue after shutdown starts.
		dispatcher.Start(context.Background())
		store.Subscribe(dispatcher.Notify)
	}

	geocoder := geocode.NewCachedGeocoder(geocode.NewClient(geocode.Options{
		BaseURL:      cfg.Geocode.NominatimURL,
		UserAgent:    cfg.Geocode.UserAgent,
		CountryCodes: cfg.Location.CountryCodes,
		Timeout:      cfg.Sources.FetchTimeout,
		RPS:          cfg.Geocode.RPS,
		Metrics:      metrics,
		Logger:       slog.Default(),
	}), cfg.Geocode.CacheSize, metrics)

	resolver := location.NewResolver(location.Options{
		Geocoder: geocoder,
		Clock:    clock,
		Debounce: cfg.Location.SearchDebounce,
		Limit:    cfg.Location.SearchLimit,
		Initial: models.Location{
			Name: cfg.Location.DefaultName,
			Lat:  cfg.Location.DefaultLat,
			Lon:  cfg.Location.DefaultLon,
		},
		Logger: slog.Default(),
	})

	mgr, err := ingestion.NewManager(cfg, store, clock, metrics)
	if err != nil {
		logging.Fatalf("Failed to build pollers: %v", err)
	}

	eng := engine.New(engine.Options{
		Store:       store,
		Pollers:     mgr,
		Resolver:    resolver,
		Clock:       clock,
		NearbyLimit: cfg.Alerts.NearbyLimit,
		DemoAlerts:  cfg.Alerts.DemoEnabled,
		DemoDelay:   cfg.Alerts.DemoDelay,
		Logger:      slog.Default(),
	})
	eng.Start(ctx)

	// Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "PUT", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))
	router.Use(api.RateLimitMiddleware(cfg.Server.RateLimitRPS))

	handler := api.NewHandler(eng, db)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
		// Cancelling ctx ends open alert streams so Shutdown can finish.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	eng.Stop()
	if dispatcher != nil {
		dispatcher.Stop()
	}

	slog.Info("shutdown complete")
}
