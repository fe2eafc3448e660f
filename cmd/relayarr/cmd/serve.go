package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/relayarr/internal/config"
	"github.com/jmylchreest/relayarr/internal/database"
	internalhttp "github.com/jmylchreest/relayarr/internal/http"
	"github.com/jmylchreest/relayarr/internal/http/handlers"
	"github.com/jmylchreest/relayarr/internal/janitor"
	"github.com/jmylchreest/relayarr/internal/journal"
	"github.com/jmylchreest/relayarr/internal/relay"
	"github.com/jmylchreest/relayarr/internal/startup"
	"github.com/jmylchreest/relayarr/internal/storage"
	"github.com/jmylchreest/relayarr/internal/util"
	"github.com/jmylchreest/relayarr/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relayarr server",
	Long: `Start the relayarr HTTP server.

The server provides:
- Authenticated segment ingest at POST /upload_segment
- Loopback-only playlist and segment read-back for uploader children
- Session status and history API with OpenAPI documentation at /docs
- Health check endpoint`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server flags
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("base-dir", "./segments", "Base directory for session storage")
	serveCmd.Flags().String("database", "relayarr.db", "Journal database DSN")
	serveCmd.Flags().String("ffmpeg", "ffmpeg", "Path to the ffmpeg binary")

	// Bind flags to viper
	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("storage.base_dir", serveCmd.Flags().Lookup("base-dir"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
	mustBindPFlag("uploader.ffmpeg_path", serveCmd.Flags().Lookup("ffmpeg"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	// Password fields are redacted by the log handler.
	logger.Debug("configuration loaded", slog.Any("config", cfg))

	ffmpegPath, err := util.ResolveBinary(cfg.Uploader.FFmpegPath)
	if err != nil {
		return fmt.Errorf("resolving uploader binary: %w", err)
	}
	logger.Info("resolved uploader binary", slog.String("path", ffmpegPath))

	// Initialize journal database
	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Close journal rows left open by a previous run before recording anew.
	recorder := journal.NewRecorder(db.DB, logger)
	if closed, err := recorder.CloseInterrupted(context.Background()); err != nil {
		logger.Warn("failed to close interrupted sessions",
			slog.String("error", err.Error()),
		)
	} else if closed > 0 {
		logger.Info("closed interrupted sessions from previous run",
			slog.Int64("count", closed),
		)
	}
	recorder.Start()
	defer recorder.Stop()

	// Initialize segment store
	store, err := storage.NewStore(cfg.Storage.BaseDir)
	if err != nil {
		return fmt.Errorf("initializing segment store: %w", err)
	}

	// Drop dead segment writes left behind by an unclean shutdown.
	if _, err := startup.CleanupOrphanedSegments(logger, store.BaseDir()); err != nil {
		logger.Warn("failed to clean orphaned temp files",
			slog.String("error", err.Error()),
		)
	}

	// Initialize relay registry
	registry, err := relay.NewRegistry(relay.RegistryOptions{
		Config: relay.Config{
			SegmentsBeforeRelay: cfg.Relay.SegmentsBeforeRelay,
			GapSkipTimeout:      cfg.Relay.GapSkipTimeout,
			StallTimeout:        cfg.Relay.StallTimeout,
			WatcherInterval:     cfg.Relay.WatcherInterval,
			UploadWindow:        cfg.Relay.UploadWindow,
			MaxEvents:           cfg.Relay.MaxEvents,
			UploaderLogFile:     cfg.Uploader.LogFile,
			OnTargetChange:      relay.TargetChangePolicy(cfg.Uploader.OnTargetChange),
		},
		Store:           store,
		Journal:         recorder,
		NewUploader:     relay.NewFFmpegFactory(ffmpegPath, cfg.Uploader.TerminateTimeout, logger),
		LoopbackBaseURL: cfg.Server.LoopbackBaseURL(),
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("initializing relay registry: %w", err)
	}

	// Initialize HTTP server
	serverConfig := internalhttp.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = cfg.Server.ReadTimeout
	serverConfig.WriteTimeout = cfg.Server.WriteTimeout
	serverConfig.ShutdownTimeout = cfg.Server.ShutdownTimeout
	server := internalhttp.NewServer(serverConfig, logger, version.Version)

	// Register handlers
	ingestHandler := handlers.NewIngestHandler(registry, cfg.Auth, cfg.Storage.MaxSegmentSize.Bytes(), logger)
	ingestHandler.RegisterRoutes(server.Router())

	segmentsHandler := handlers.NewSegmentsHandler(store, logger)
	segmentsHandler.RegisterRoutes(server.Router())

	healthHandler := handlers.NewHealthHandler(version.Version).
		WithDB(db.DB).
		WithRegistry(registry).
		WithBaseDir(store.BaseDir())
	healthHandler.Register(server.API())
	healthHandler.RegisterAlias(server.Router())

	statusHandler := handlers.NewStatusHandler(registry, recorder)
	statusHandler.Register(server.API())

	// Retention janitor is opt-in.
	if cfg.Retention.Enabled {
		jan, err := janitor.New(store, registry, cfg.Retention, logger)
		if err != nil {
			return fmt.Errorf("initializing janitor: %w", err)
		}
		if err := jan.Start(context.Background()); err != nil {
			return fmt.Errorf("starting janitor: %w", err)
		}
		defer jan.Stop()
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	// Start server
	logger.Info("starting relayarr server",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.String("base_dir", store.BaseDir()),
		slog.String("version", version.Version),
	)

	err = server.ListenAndServe(ctx)

	// Ingest has drained; finalize live sessions so their uploader children
	// stop and journal rows close with reason "shutdown". The deferred
	// recorder.Stop then flushes those writes before the database closes.
	registry.Shutdown()

	return err
}
