package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/docingest/backend/internal/api"
	"github.com/docingest/backend/internal/config"
	"github.com/docingest/backend/internal/events"
	"github.com/docingest/backend/internal/importer"
	"github.com/docingest/backend/internal/persistence"
	"github.com/docingest/backend/internal/remote"
	"github.com/docingest/backend/internal/storage"
	"github.com/docingest/backend/internal/upload"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		// Default to a config file next to the executable
		exePath, err := os.Executable()
		if err != nil {
			fmt.Printf("Failed to get executable path: %v\n", err)
			os.Exit(1)
		}
		configPath = filepath.Join(filepath.Dir(exePath), "docingest.yaml")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(cfg.Advanced.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.WithField("level", cfg.Advanced.LogLevel).Warn("unknown log level, using info")
	}
	logrus.SetLevel(log.GetLevel())

	// Ensure all data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		log.WithError(err).Fatal("failed to create directories")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize staging
	chunkStore, err := storage.NewLocalStore(cfg.GetUploadDir())
	if err != nil {
		log.WithError(err).Fatal("failed to initialize staging")
	}

	db, err := persistence.Open(ctx, persistence.Config{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.URL,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		MemoryLimit:  cfg.Advanced.DuckDBMemoryLimit,
		Threads:      cfg.Advanced.DuckDBThreads,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}
	defer db.Close()

	remoteStore, err := newRemoteStore(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to configure remote backend")
	}

	hub := events.NewHub(cfg.Ingest.EventBufferSize)
	go hub.Run(ctx)

	coordinator := upload.NewCoordinator(chunkStore, upload.Options{
		Remote:    remoteStore,
		Documents: db,
		Events:    hub,
		Timeout:   cfg.CompletionTimeout(),
		Logger:    log,
	})

	engine := importer.NewEngine(db, importer.Config{
		Password:   cfg.Import.Password,
		BcryptCost: cfg.Import.BcryptCost,
		Timeout:    cfg.ImportTimeout(),
	}, hub, log)

	// Start background state cleanup
	go func() {
		interval := time.Duration(cfg.Ingest.CleanupIntervalMinutes) * time.Minute
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		retention := time.Duration(cfg.Ingest.StateRetentionMinutes) * time.Minute
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := coordinator.CleanupOldStates(retention); n > 0 {
					log.WithField("removed", n).Debug("cleaned up completion states")
				}
			}
		}
	}()

	e := echo.New()
	e.HideBanner = true
	api.SetupMiddleware(e)

	// Configure middleware
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return path == "/api/health" || strings.HasPrefix(path, "/api/ws/")
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 1 && origins[0] == "" {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Chunks:    chunkStore,
		Completer: coordinator,
		Documents: db,
		Importer:  engine,
		ImportDefault: importer.Options{
			TotalRows:       cfg.Import.TotalRows,
			BatchSize:       cfg.Import.BatchSize,
			Concurrency:     cfg.Import.Concurrency,
			ContinueOnError: cfg.Import.ContinueOnError,
		},
		Events:        hub,
		DB:            db,
		RemoteBackend: cfg.Remote.Backend,
		Version:       Version,
		Logger:        log,
	}))

	s := &http.Server{
		Addr:        cfg.GetServerAddr(),
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		// Completions and imports answer synchronously
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Document Ingestion Server                       ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Remote:     %-45s║\n", cfg.Remote.Backend)
	fmt.Printf("║  Database:   %-45s║\n", db.Driver())
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.GetDataDir())
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server stopped")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}

// newRemoteStore builds the configured remote backend. The local backend
// returns nil, which makes the coordinator promote artifacts on disk.
func newRemoteStore(ctx context.Context, cfg *config.AppConfig, log logrus.FieldLogger) (upload.RemoteStore, error) {
	switch cfg.Remote.Backend {
	case "", "local":
		return nil, nil
	case "cloudinary":
		rc := remote.Config{
			BaseURL:   cfg.Remote.BaseURL,
			CloudName: cfg.Remote.CloudName,
			APIKey:    cfg.Remote.APIKey,
			APISecret: cfg.Remote.APISecret,
			Folder:    cfg.Remote.Folder,
			Timeout:   cfg.RemoteTimeout(),
		}
		if err := rc.Validate(); err != nil {
			return nil, err
		}
		return remote.NewClient(rc, log), nil
	case "minio":
		store, err := remote.NewObjectStore(remote.ObjectStoreConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			Folder:    cfg.Remote.Folder,
			UseSSL:    cfg.MinIO.UseSSL,
			PublicURL: cfg.MinIO.PublicURL,
		}, log)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown remote backend %q", cfg.Remote.Backend)
	}
}
