// Conductor control plane — serves the conversation API, or runs a single
// conversation from the command line in task mode.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/DistilledAI/conductor/pkg/api"
	"github.com/DistilledAI/conductor/pkg/config"
	"github.com/DistilledAI/conductor/pkg/database"
	"github.com/DistilledAI/conductor/pkg/events"
	"github.com/DistilledAI/conductor/pkg/session"
	"github.com/DistilledAI/conductor/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	task := flag.String("task", "",
		"Run a single conversation with this task instead of serving")
	headless := flag.Bool("headless", false,
		"Task mode without prompts: input requests and breached limits end the run")
	saveTrajectory := flag.String("save-trajectory", "",
		"Write the conversation trajectory to this file when the task run ends")
	replayTrajectory := flag.String("replay-trajectory", "",
		"Replay a recorded trajectory instead of calling the LLM")
	flag.Parse()

	taskMode := *task != "" || *replayTrajectory != ""
	if taskMode {
		// Keep stdout for the conversation itself, like an interactive shell.
		slog.SetLogLoggerLevel(slog.LevelWarn)
	}

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	if taskMode {
		os.Exit(runTask(ctx, cfg, taskOptions{
			Task:             *task,
			Headless:         *headless,
			SaveTrajectory:   *saveTrajectory,
			ReplayTrajectory: *replayTrajectory,
		}))
	}
	serve(ctx, cfg)
}

// serve runs the control plane: PostgreSQL-backed journal, LISTEN/NOTIFY
// fan-out, session manager, and the HTTP/WebSocket API.
func serve(ctx context.Context, cfg *config.Config) {
	slog.Info("Starting conductor",
		"version", version.Full(),
		"addr", cfg.Server.Addr(),
		"model", cfg.LLM.Model,
		"config_dir", cfg.ConfigDir())

	// 2. Initialize database (runs embedded migrations)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	slog.Info("Connected to PostgreSQL database")

	// 3. Initialize streaming infrastructure: the journal persists events and
	// doubles as the catchup source; the NotifyListener holds a dedicated
	// LISTEN connection and feeds the WebSocket connection manager.
	journal := events.NewJournal(dbClient.Pool())
	connManager := events.NewConnectionManager(journal, 10*time.Second)

	notifyListener := events.NewNotifyListener(dbConfig.DSN(), connManager)
	if err := notifyListener.Start(ctx); err != nil {
		slog.Error("Failed to start NotifyListener", "error", err)
		os.Exit(1)
	}
	defer notifyListener.Stop(ctx)
	slog.Info("Streaming infrastructure initialized")

	// 4. Create session manager
	manager := session.NewManager(cfg, dbClient.Pool(), journal)

	// 5. Create HTTP server
	httpServer := api.NewServer(cfg, manager, dbClient.Pool(), journal, connManager)

	// 6. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		addr := cfg.Server.Addr()
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Conductor started successfully",
		"max_concurrent", cfg.Session.MaxConcurrent,
		"confirmation_mode", cfg.Session.ConfirmationMode)

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown: settle active conversations first so their final
	// state reaches the journal, then drain the HTTP server.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Session.GracefulShutdownTimeout)
	defer cancel()
	manager.Shutdown(shutdownCtx)

	// Stop HTTP server with its own timeout budget
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
