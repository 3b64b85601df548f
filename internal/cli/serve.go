package cli

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/firmsync/firmsync/internal/api"
	"github.com/firmsync/firmsync/internal/cleanup"
	"github.com/firmsync/firmsync/internal/config"
	"github.com/firmsync/firmsync/internal/scheduler"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s", "server", "run"},
	Short:   "Start the FirmSync server",
	Long: `Start the FirmSync server in main mode.

This command starts the HTTP server that exposes sync operations, token
lifecycle management, record access, and Prometheus metrics.

Example:
  firmsync serve --config config.yaml --db ./data/firmsync.db

The server listens on the address configured in the config file.`,
	RunE: runServe,
}

var serveFlags struct {
	Host    string
	Port    int
	Timeout time.Duration
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.Host, "host", "", "Server host (overrides config)")
	serveCmd.Flags().IntVar(&serveFlags.Port, "port", 0, "Server port (overrides config)")
	serveCmd.Flags().DurationVar(&serveFlags.Timeout, "timeout", 30*time.Second, "Shutdown timeout")

	RootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if globalFlags.Verbose {
		log.Println("Starting FirmSync server...")
		log.Printf("Config path: %s", globalFlags.Config)
		log.Printf("Database path: %s", globalFlags.DBPath)
	}

	st, err := buildStack(globalFlags.Config, globalFlags.DBPath)
	if err != nil {
		return err
	}

	// Apply CLI flags over config
	if serveFlags.Host != "" {
		st.cfg.Server.Host = serveFlags.Host
	}
	if serveFlags.Port != 0 {
		st.cfg.Server.HTTPPort = serveFlags.Port
	}

	// Reload provider and sync settings on config file changes.
	loader := config.NewLoader(globalFlags.Config)
	if _, err := loader.Load(); err == nil {
		loader.SetOnChange(func(cfg *config.Config) {
			st.logger.Info("configuration reloaded", "version", cfg.Version)
		})
		if err := loader.StartWatcher(); err != nil {
			st.logger.Warn("config watcher unavailable", "error", err.Error())
		}
		defer loader.StopWatcher()
	}

	server := api.NewServer(st.cfg.Server, st.cfg.API, st.store, st.engine, st.tokens, st.metrics, st.logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background scheduler: unattended full syncs on an interval.
	if st.cfg.Sync.Interval > 0 {
		sched := scheduler.New(st.engine, scheduler.DefaultConfig(st.cfg.Sync.Interval), st.logger)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("scheduler failed: %w", err)
		}
		defer sched.Stop()
	}

	// Retention pruning of old run history and stale tokens.
	if st.cfg.Retention.Enabled {
		pruner := cleanup.NewManager(st.cfg.Retention, st.store, st.logger)
		if err := pruner.Start(ctx); err != nil {
			return fmt.Errorf("cleanup manager failed: %w", err)
		}
		defer pruner.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run()
	}()

	signals := api.SetupSignalHandler()
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-signals:
		st.logger.Info("received signal, shutting down", "signal", sig.String())
	}

	shutdownTimeout := serveFlags.Timeout
	if st.cfg.Server.ShutdownTimeout > 0 {
		shutdownTimeout = st.cfg.Server.ShutdownTimeout
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}
