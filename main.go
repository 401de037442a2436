package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/afero"
	"gopkg.in/natefinch/lumberjack.v2"

	"magnetar/api"
	"magnetar/config"
	"magnetar/handlers"
	"magnetar/services/fileshare"
	"magnetar/services/history"
	"magnetar/services/magnetinfo"
	"magnetar/services/probe"
	"magnetar/services/ratelimit"
	"magnetar/services/scraper"
)

func main() {
	portOverride := flag.Int("port", 0, "override server port from config")
	flag.Parse()

	fmt.Println("magnetar starting...")

	// Determine config path (env or default)
	configPath := os.Getenv("MAGNETAR_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("cache", "settings.json")
	}

	// Init config manager and load settings (creates defaults if missing)
	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	// Set up file logging with rotation
	if settings.Log.File != "" {
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			multiWriter := io.MultiWriter(os.Stdout, fileWriter)
			log.SetOutput(multiWriter)
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("Logging to file: %s", settings.Log.File)
		}
	}

	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	if err := os.MkdirAll(settings.Download.StagingDir, 0o755); err != nil {
		log.Fatalf("failed to create staging directory: %v", err)
	}

	// Shared collaborators for all scrapers
	limiter := ratelimit.NewRegistry(ratelimit.Rule{Window: 5 * time.Minute, Burst: 30})
	magnetInfoClient := magnetinfo.NewClient(settings.MagnetInfo.URL)
	fileShareClient := fileshare.NewClient(settings.FileShare.URL, afero.NewOsFs())
	historyService := history.NewService(filepath.Join(filepath.Dir(configPath), "history.json"))

	deps := scraper.Deps{
		Limiter:      limiter,
		MagnetInfo:   magnetInfoClient,
		FileShare:    fileShareClient,
		FlareURL:     settings.FlareSolverr.URL,
		FlareTimeout: time.Duration(settings.FlareSolverr.MaxTimeoutSeconds) * time.Second,
		StagingDir:   settings.Download.StagingDir,
		Fs:           afero.NewOsFs(),
	}

	registry := scraper.NewRegistry(cfgManager, deps, historyService)
	if err := registry.Load(); err != nil {
		log.Fatalf("failed to load scrapers: %v", err)
	}

	// Background reachability probing
	probeService := probe.NewService(registry,
		time.Duration(settings.Probe.IntervalMinutes)*time.Minute,
		settings.Probe.RunOnStart)
	probeService.Start(context.Background())

	// Register API routes
	r := mux.NewRouter()
	indexerHandler := handlers.NewIndexerHandler(registry)
	scrapersHandler := handlers.NewScrapersHandler(registry)
	historyHandler := handlers.NewHistoryHandler(historyService)
	api.Register(r, indexerHandler, scrapersHandler, historyHandler)

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	fmt.Printf("Server starting on %s\n", addr)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // searches drive real browsers
		IdleTimeout:  120 * time.Second,
	}

	// Setup graceful shutdown
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdownChan
	log.Println("Shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	probeService.Stop()
	registry.Stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Shutdown complete")
}
