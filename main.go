package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cleanup_worker/adapter/out/provider"
	"cleanup_worker/config"
	"cleanup_worker/core/domain"
	"cleanup_worker/core/service/cleanup"
	"cleanup_worker/internal/bootstrap"
	"cleanup_worker/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
)

const (
	shutdownTimeout = 30 * time.Second // Maximum time to wait for graceful shutdown
)

func main() {
	// Load .env file if exists (for local development)
	envErr := godotenv.Load()

	mode := flag.String("mode", "run", "Run mode: run, serve, all, authorize")
	dryRun := flag.Bool("dry-run", false, "Plan without deleting (run mode)")
	code := flag.String("code", "", "Authorization code (authorize mode)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}
	logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "cleanup-worker"})
	if envErr != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	switch *mode {
	case "run":
		os.Exit(runOnce(cfg, *dryRun))
	case "serve":
		serve(cfg, false)
	case "all":
		serve(cfg, true)
	case "authorize":
		authorize(cfg, *code)
	default:
		logger.Fatal("Unknown mode: %s", *mode)
	}
}

// runOnce performs a single run and prints its report. SIGINT cancels the run;
// in-flight deletions settle and the report is still written.
func runOnce(cfg *config.Config, dryRun bool) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, closeDeps, err := bootstrap.NewDependencies(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize: %v", err)
		return 2
	}
	defer closeDeps()

	opts := cleanup.RunOptions{}
	if dryRun {
		opts.DryRun = &dryRun
	}
	report, err := deps.Runner.Run(ctx, opts)
	if report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report); encErr != nil {
			logger.Error("Failed to write report: %v", encErr)
		}
	}
	if err != nil {
		logger.Error("Run failed: %v", err)
		return 1
	}
	if report.Status == domain.RunCancelled {
		return 130
	}
	return 0
}

// serve runs the API and, with background set, the scheduler and run-request consumer.
func serve(cfg *config.Config, background bool) {
	base, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	deps, closeDeps, err := bootstrap.NewDependencies(base, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize: %v", err)
	}
	defer closeDeps()

	app := bootstrap.NewAPI(base, cfg, deps)

	var worker *bootstrap.Worker
	if background {
		worker = bootstrap.NewWorker(cfg, deps)
		go worker.Start()
	}

	// Graceful shutdown with timeout
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down (timeout: %v)...", shutdownTimeout)
		if worker != nil {
			worker.Stop()
		}
		// Cancels runs started over HTTP; the coordinator settles in-flight actions.
		cancelBase()

		done := make(chan error, 1)
		go func() { done <- app.ShutdownWithTimeout(shutdownTimeout) }()
		select {
		case err := <-done:
			if err != nil {
				logger.Error("Error shutting down: %v", err)
			} else {
				logger.Info("API server shut down gracefully")
			}
		case <-time.After(shutdownTimeout + time.Second):
			logger.Warn("API shutdown timed out, forcing exit")
		}
	}()

	addr := ":" + cfg.Port
	logger.Info("Starting API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		logger.Error("Server stopped: %v", err)
	}
}

// authorize performs the one-time Google consent flow and caches the token.
func authorize(cfg *config.Config, code string) {
	oauthCfg, err := bootstrap.GoogleOAuth(cfg)
	if err != nil {
		logger.Fatal("Invalid token settings: %v", err)
	}
	if code == "" {
		url, err := provider.AuthCodeURL(oauthCfg)
		if err != nil {
			logger.Fatal("Failed to build consent URL: %v", err)
		}
		fmt.Printf("Open this URL, grant access and paste the code:\n\n%s\n\ncode: ", url)
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			logger.Fatal("Failed to read code: %v", err)
		}
		code = line
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := provider.ExchangeAndSave(ctx, oauthCfg, strings.TrimSpace(code)); err != nil {
		logger.Fatal("Authorization failed: %v", err)
	}
	logger.Info("Token saved to %s", cfg.GoogleTokenFile)
}
