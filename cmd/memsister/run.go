package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/memsister/memsister/internal/daemon"
	"github.com/memsister/memsister/internal/logging"
	"github.com/memsister/memsister/internal/monitor"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync daemon (default)",
	Long: `Run the sync daemon until interrupted.

With --watch the daemon also listens for filesystem events and scans as
soon as a .base file is created or written, instead of waiting for the next
interval. The interval scan still runs either way.

With --monitor-addr the daemon serves a WebSocket monitor:
  ws://<addr>/ws       connection, file_processed and scan_complete events
  http://<addr>/health JSON status, 503 while the cache is unreachable`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, sink, err := logging.Open(logging.FileOptions{Path: cfg.LogFile, Backups: cfg.LogBackups})
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer sink.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := daemon.Options{Logger: logger}

	if cfg.Watch {
		watcher, err := daemon.NewWatcher(logger)
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		if err := watcher.Start(cfg.WatchDirectory); err != nil {
			// Polling still covers the directory.
			logger.Warn("File watching disabled: %v", err)
		} else {
			defer watcher.Stop()
			opts.Wake = watcher.Wake()
		}
	}

	if cfg.MonitorAddr != "" {
		server := monitor.NewServer(monitor.Config{Addr: cfg.MonitorAddr, Logger: logger})
		opts.Observer = monitor.NewHandler(server, logger)
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start monitor: %w", err)
		}
		defer func() {
			if err := server.Stop(); err != nil {
				logger.Error("Monitor shutdown: %v", err)
			}
		}()
	}

	d, err := daemon.New(cfg, opts)
	if err != nil {
		return err
	}
	if err := d.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	logger.Info("memsister stopped")
	return nil
}

