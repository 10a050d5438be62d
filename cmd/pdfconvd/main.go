package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/a3tai/pdfconvd/internal/config"
	"github.com/a3tai/pdfconvd/internal/convert"
	"github.com/a3tai/pdfconvd/internal/logging"
	"github.com/a3tai/pdfconvd/internal/mcp"
	"github.com/a3tai/pdfconvd/internal/pdf"
	"github.com/a3tai/pdfconvd/internal/supervisor"
	"github.com/a3tai/pdfconvd/internal/worker"
)

var (
	version   = "dev"     // This will be set by build flags
	buildTime = "unknown" // This will be set by build flags
	gitCommit = "unknown" // This will be set by build flags
)

const workerKillGrace = 5 * time.Second

func main() {
	// Check for version flag before parsing other flags
	if hasVersionFlag(os.Args[1:]) {
		printVersion(os.Stdout)
		return
	}

	cfg, err := config.LoadFromFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if version != "dev" {
		cfg.Version = version
	}

	logger := newLogger(cfg, os.Stderr)

	if cfg.IsDebug() {
		logger.Debug().Msgf("Starting with configuration: %s", cfg.String())
	}

	// SIGTERM is how the supervisor stops its workers
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("Exiting")
		stop()
		os.Exit(1)
	}
}

// run dispatches on mode and role
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	switch {
	case cfg.IsStdioMode():
		return runStdio(ctx, cfg, logger)
	case cfg.IsWorker():
		return runWorker(ctx, cfg, logger)
	default:
		return runSupervisor(ctx, cfg, logger)
	}
}

// runSupervisor spawns the worker pool and keeps it at size until ctx ends
func runSupervisor(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	spawner, err := supervisor.NewProcessSpawner(os.Args[1:], workerEnv())
	if err != nil {
		return err
	}

	sup, err := supervisor.New(supervisor.Options{
		// Workers drain for ShutdownTimeout themselves before they are killed
		ShutdownTimeout: cfg.ShutdownTimeout + workerKillGrace,
	}, spawner, newRestartPolicy(cfg), logger)
	if err != nil {
		return fmt.Errorf("failed to create supervisor: %w", err)
	}

	logger.Info().
		Str("addr", cfg.Address()).
		Int("workers", cfg.Workers).
		Str("restart_policy", cfg.RestartPolicy).
		Msg("Starting pdfconvd")

	if err := sup.Start(ctx, cfg.Workers); err != nil {
		return err
	}

	return sup.Run(ctx)
}

// runWorker serves POST /convert on the shared port
func runWorker(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	converter, err := newConverter(cfg, logger)
	if err != nil {
		return err
	}

	srv, err := worker.New(worker.Options{
		Address:         cfg.Address(),
		MaxBodySize:     cfg.MaxBodySize,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, converter, logger)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	logger.Info().Msgf("Worker %d started", os.Getpid())

	return srv.Run(ctx)
}

// runStdio serves the conversion tool over MCP stdio. Nothing but protocol
// traffic may be written to stdout.
func runStdio(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	converter, err := newConverter(cfg, logger)
	if err != nil {
		return err
	}

	server, err := mcp.NewServer(cfg, converter, logger)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	return server.Run(ctx)
}

func newConverter(cfg *config.Config, logger zerolog.Logger) (*convert.Service, error) {
	adapter, err := pdf.NewAdapterForEngine(cfg.MetadataEngine)
	if err != nil {
		return nil, err
	}
	return convert.NewService(adapter, logger)
}

func newRestartPolicy(cfg *config.Config) supervisor.RestartPolicy {
	if cfg.RestartPolicy == config.PolicyMax {
		return supervisor.NewMaxRestarts(cfg.MaxRestarts, cfg.RestartWindow)
	}
	return supervisor.AlwaysRestart{}
}

// workerEnv is the environment added to every spawned worker
func workerEnv() []string {
	return []string{config.RoleEnv + "=" + config.RoleWorker}
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	role := cfg.Role
	if cfg.IsStdioMode() {
		role = config.ModeStdio
	}

	return logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: cfg.ServerName,
		Role:    role,
		Output:  out,
	})
}

func hasVersionFlag(args []string) bool {
	for _, arg := range args {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			return true
		}
	}
	return false
}

// printVersion prints version information
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "pdfconvd\n")
	fmt.Fprintf(w, "Version: %s\n", version)
	fmt.Fprintf(w, "Build Time: %s\n", buildTime)
	fmt.Fprintf(w, "Git Commit: %s\n", gitCommit)
	fmt.Fprintf(w, "Built with: %s\n", runtime.Version())
}
