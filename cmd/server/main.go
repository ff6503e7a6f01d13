package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"c2pastreamd/internal/api"
	"c2pastreamd/internal/c2pa"
	"c2pastreamd/internal/config"
	"c2pastreamd/internal/logger"
	"c2pastreamd/internal/session"
	"c2pastreamd/internal/store"
)

func main() {
	// 1. Parse command-line arguments
	listenAddr := pflag.StringP("listen", "l", "", "HTTP listen address (overrides the config file)")
	logLevel := pflag.StringP("log-level", "L", "", "Log level (error, warn, info, debug)")
	configFile := pflag.StringP("config", "c", "", "Path to the YAML config file")
	pflag.Parse()

	// 2. Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.NewLogger("error").Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	if pflag.CommandLine.Changed("listen") {
		cfg.ListenAddr = *listenAddr
	}
	if pflag.CommandLine.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}

	// 3. Initialize logger
	log := logger.NewLogger(cfg.LogLevel)
	log.Infof("Starting C2PA stream verification service %s...", cfg.Name)
	log.Infof("Log level set to: %s", cfg.LogLevel)

	// 4. Initialize services and managers
	reader := c2pa.NewHTTPReader(&http.Client{}, log.WithComponent("verifier"), cfg.Verifier.URL)
	reader.MaxRetries = cfg.Verifier.MaxRetries
	reader.RetryDelay = cfg.Verifier.RetryDelay
	reader.RequestTimeout = cfg.Verifier.Timeout
	log.Infof("Verifier: %s", cfg.Verifier.URL)

	var results *store.ResultStore
	if cfg.ResultCache.Enabled {
		results, err = store.Open(store.Options{
			Path:     cfg.ResultCache.Path,
			InMemory: cfg.ResultCache.InMemory,
			TTL:      cfg.ResultCache.TTL,
		})
		if err != nil {
			log.Errorf("Failed to open result cache: %v", err)
			os.Exit(1)
		}
		log.Infof("Result cache enabled (ttl %s)", cfg.ResultCache.TTL)
	}

	sessionMgr := session.NewManager(log, session.Options{
		Reader:           reader,
		Results:          results,
		Probe:            cfg.Verifier.Probe,
		Epsilon:          cfg.Player.Epsilon,
		FrameInterval:    cfg.Player.FrameInterval,
		SeekThreshold:    cfg.Player.SeekThreshold,
		IdleTimeout:      cfg.Sessions.IdleTimeout,
		EvictionInterval: cfg.Sessions.EvictionInterval,
	})
	sessionMgr.Start()

	// 5. Set up API router with dependencies
	router := api.New(sessionMgr, log, api.Options{
		RateLimit:       cfg.RateLimit.Requests,
		RateLimitWindow: cfg.RateLimit.Window,
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
	})

	// 6. Set up and run the HTTP server with graceful shutdown
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("Server starting on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Could not listen on %s: %v", cfg.ListenAddr, err)
			os.Exit(1)
		}
	}()

	// Listen for shutdown signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Infof("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("Server shutdown failed: %v", err)
	}

	// Stop background services once no handler can reach them
	sessionMgr.Stop()
	if results != nil {
		if err := results.Close(); err != nil {
			log.Errorf("Failed to close result cache: %v", err)
		}
	}

	log.Infof("Server exited gracefully")
}
