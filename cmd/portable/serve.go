package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/portable/internal/airgap"
	"github.com/BadgerOps/portable/internal/server"
)

var serveListen string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: export recovery, scheduled air-gap syncs and metrics",
		Long: `Run the long-lived daemon. On start it fails exports left unfinished by a
previous process, then runs the air-gap sync scheduler and serves /healthz and
/metrics until interrupted.

By default, the server listens on the address configured in the config file
(default: 0.0.0.0:9090). Use --listen to override.`,
		Example: `  portable serve
  portable serve --listen 127.0.0.1:9100`,
		RunE: serveRun,
	}

	cmd.Flags().StringVar(&serveListen, "listen", "", "address to listen on (host:port)")
	return cmd
}

func serveRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalExports == nil || globalAirGap == nil {
		return fmt.Errorf("components not initialized")
	}
	listen := serveListen
	if listen == "" {
		listen = globalCfg.Server.Listen
	}

	ctx := context.Background()
	recovered, err := globalExports.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recovering exports: %w", err)
	}
	if recovered > 0 {
		log.Warn("marked interrupted exports failed", "count", recovered)
	}

	sched, err := airgap.NewScheduler(globalAirGap, globalCfg.AirGap.SchedulerCron, logger)
	if err != nil {
		return err
	}
	sched.Start()

	srv := server.NewServer(map[string]server.HealthCheck{
		"store": func(ctx context.Context) error {
			_, err := globalStore.ListExports(ctx, "health-probe")
			return err
		},
	}, logger)

	log.Info("server starting", "listen", listen, "data_dir", globalCfg.Server.DataDir)

	errChan := make(chan error, 1)
	go func() {
		fmt.Printf("Starting server on %s...\n", listen)
		if err := srv.Start(listen); err != nil {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case err := <-errChan:
		runErr = fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		log.Info("received shutdown signal", "signal", sig)
		fmt.Println("\nShutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		log.Error("scheduler stop", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("server shutdown error: %w", err)
	}
	if runErr == nil {
		fmt.Println("Server stopped gracefully")
	}
	return runErr
}
