package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/taskforge-ai/taskforge/internal/api"
	"github.com/taskforge-ai/taskforge/internal/config"
	"github.com/taskforge-ai/taskforge/internal/core"
	"github.com/taskforge-ai/taskforge/internal/events"
	"github.com/taskforge-ai/taskforge/internal/orchestrator"
	"github.com/taskforge-ai/taskforge/internal/provider"
	"github.com/taskforge-ai/taskforge/internal/runner"
	"github.com/taskforge-ai/taskforge/internal/store"
	"github.com/taskforge-ai/taskforge/internal/web/sse"
	"github.com/taskforge-ai/taskforge/internal/workspace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the taskforge server",
	Long: `Start the taskforge server.

The server exposes the REST API and the live event stream, supervises
agent sessions, and persists tasks in the data directory.

Examples:
  # Start with defaults (127.0.0.1:8080)
  taskforge serve

  # Start on a custom host and port
  taskforge serve --host 0.0.0.0 --port 3000`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "",
		"host address to bind to")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0,
		"port to listen on")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	logger := newLogger(cfg)

	tasks, err := store.Open(cfg.Data.DatabasePath())
	if err != nil {
		return fmt.Errorf("opening task store: %w", err)
	}
	defer func() { _ = tasks.Close() }()

	workspaces, err := workspace.NewProvisioner(cfg.Workspace.Dir, logger)
	if err != nil {
		return fmt.Errorf("creating workspace provisioner: %w", err)
	}

	bus := events.NewBus(100)
	defer bus.Close()
	broadcaster := events.NewBroadcaster(bus, logger)

	// A restart loses live sessions; kill agent processes an earlier
	// server left behind before accepting new work.
	if killed, err := orchestrator.ReconcileOrphans(context.Background(), broadcaster, logger); err != nil {
		logger.Warn("orphan reconciliation failed", "error", err)
	} else if killed > 0 {
		logger.Info("killed orphaned agent processes", "count", killed)
	}

	var chatClient runner.ChatClient
	if apiKey := os.Getenv(cfg.Provider.APIKeyEnv); apiKey != "" {
		client, err := provider.NewClient(provider.Config{
			Model:      cfg.Provider.Model,
			APIKey:     apiKey,
			BaseURL:    cfg.Provider.BaseURL,
			MaxRetries: cfg.Provider.MaxRetries,
		}, logger)
		if err != nil {
			return fmt.Errorf("creating provider client: %w", err)
		}
		chatClient = client
	} else {
		logger.Warn("no provider API key set, API agents unavailable",
			"env", cfg.Provider.APIKeyEnv)
	}

	factory := runner.NewFactory(chatClient, runner.SubprocessConfig{
		Command:      cfg.Agent.Command,
		ExtraArgs:    cfg.Agent.ExtraArgs,
		CycleTimeout: cfg.Agent.CycleTimeout,
	}, cfg.Agent.MaxIterations, core.AgentKind(cfg.Agent.Kind))

	orch := orchestrator.New(tasks, workspaces, factory, broadcaster, nil, logger,
		orchestrator.Config{
			SessionTimeout: cfg.Session.Timeout,
			WarningLead:    cfg.Session.WarningLead,
			ExtendBy:       cfg.Session.ExtendBy,
		})

	stream := sse.NewHandler(bus)
	server := api.NewServer(tasks, orch, workspaces, stream, logger,
		api.WithCORSOrigins(cfg.Server.CORSOrigins))

	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Hot-reload the log level when the config file changes.
	if path := configFilePath(); path != "" {
		watcher, err := config.Watch(path, logger, func(next *config.Config) {
			logger.SetLevel(next.Log.Level)
		})
		if err != nil {
			logger.Warn("config watcher unavailable", "error", err)
		} else {
			defer func() { _ = watcher.Close() }()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		_ = stream.Shutdown(shutdownCtx)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
		if err := orch.Shutdown(shutdownCtx); err != nil {
			logger.Warn("orchestrator shutdown", "error", err)
		}
		return nil
	})

	return g.Wait()
}

// configFilePath returns the config file to watch: the explicit flag,
// or the project config if one exists.
func configFilePath() string {
	if cfgFile != "" {
		return cfgFile
	}
	for _, candidate := range []string{".taskforge.yaml", ".taskforge.yml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
