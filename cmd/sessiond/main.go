package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"behavior-session-backend/config"
	"behavior-session-backend/internal/api"
	"behavior-session-backend/internal/dataset"
	"behavior-session-backend/internal/db"
	"behavior-session-backend/internal/logging"
	"behavior-session-backend/internal/session"
	"behavior-session-backend/internal/store"
	"behavior-session-backend/internal/video"
)

const usage = `usage: sessiond <command> [flags]

commands:
  process   derive or load sessions and update the catalog
  serve     serve the session catalog over HTTP
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command, args := os.Args[1], os.Args[2:]

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging, "sessiond_"+command)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Info("configuration loaded", zap.String("path", configPath))

	switch command {
	case "process":
		runProcess(cfg, args, logger)
	case "serve":
		runServe(cfg, args, logger)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func runProcess(cfg *config.Config, args []string, logger *zap.Logger) {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	sessionDir := fs.String("session", "", "process a single session directory instead of the dataset")
	modeFlag := fs.String("mode", "", "write or read for every session; default picks read when a preprocessed directory exists")
	root := fs.String("root", cfg.Dataset.Root, "dataset root directory")
	fresh := fs.Bool("fresh", false, "ignore previously persisted outputs")
	minDuration := fs.Duration("min-duration", 0, "report only sessions longer than this")
	noCatalog := fs.Bool("no-catalog", false, "do not write the session catalog")
	fs.Parse(args)

	cfg.Dataset.Root = *root
	if *fresh {
		cfg.Dataset.UsePrecomputed = false
	}

	builder, err := session.NewBuilder(cfg, video.FFProbe{Command: cfg.Files.FFProbeCommand}, logger)
	if err != nil {
		logger.Fatal("invalid pipeline configuration", zap.Error(err))
	}

	var appStore store.Store
	if !*noCatalog {
		gormDB, err := db.Init(&cfg.Database, logger)
		if err != nil {
			logger.Fatal("failed to initialize database", zap.Error(err))
		}
		appStore = store.NewGormStore(gormDB)
	}
	svc := dataset.NewService(cfg, appStore, builder, logger)
	if *modeFlag != "" {
		mode, err := session.ParseMode(*modeFlag)
		if err != nil {
			logger.Fatal("invalid mode", zap.Error(err))
		}
		svc.ForceMode(mode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *sessionDir != "" {
		rec, err := svc.ProcessSession(ctx, *sessionDir, svc.ModeFor(*sessionDir))
		if err != nil {
			logger.Fatal("failed to process session", zap.String("dir", *sessionDir), zap.Error(err))
		}
		report(logger, []*session.Record{rec})
		return
	}

	records, err := svc.ProcessAll(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("failed to process dataset", zap.Error(err))
	}
	report(logger, dataset.SubsetSessions(records, *minDuration))
}

func report(logger *zap.Logger, records []*session.Record) {
	for _, rec := range records {
		logger.Info("session ready",
			zap.String("session", rec.ID()),
			zap.String("name", rec.Name()),
			zap.Stringer("state", rec.State),
			zap.Duration("duration", rec.Duration()),
			zap.Int("reward_events", rec.RewardEventCount()),
			zap.Float64("reward_ml", rec.RewardVolumeML()),
			zap.Int("lick_bouts", rec.LickBoutCount()),
		)
	}
}

func runServe(cfg *config.Config, args []string, logger *zap.Logger) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", cfg.Server.Port, "HTTP port")
	fs.Parse(args)

	gormDB, err := db.Init(&cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	appStore := store.NewGormStore(gormDB)

	router := api.NewRouter(appStore, cfg.Server, logger)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		logger.Info("HTTP server starting", zap.Int("port", *port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server ListenAndServe", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	logger.Info("shutdown signal received, stopping server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("HTTP server Shutdown", zap.Error(err))
	}

	logger.Info("server gracefully stopped")
}
