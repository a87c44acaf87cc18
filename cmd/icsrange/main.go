// Command icsrange boots a simulator instance from a YAML catalogue and
// runs its tick loop until interrupted.
//
// Grounded on the flag-parsed config-path + signal-driven shutdown shape
// of grimm.is/flywall/cmd/flywall-sim: a single binary that loads a
// declarative document, wires the kernel, starts the admin HTTP surface,
// and blocks on os.Interrupt/SIGTERM before a context-deadlined shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grimm-is/icsrange/internal/adminapi"
	"github.com/grimm-is/icsrange/internal/config"
	"github.com/grimm-is/icsrange/internal/logging"
	"github.com/grimm-is/icsrange/internal/orchestrator"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML scenario catalogue")
	adminAddr := flag.String("admin-addr", ":8080", "address for the read-only admin API")
	logLevel := flag.String("log-level", "info", "debug, info, warn, or error")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: icsrange -config <catalogue.yaml> [-admin-addr :8080]")
		os.Exit(2)
	}

	logger := logging.New(os.Stderr, "icsrange", parseLevel(*logLevel))

	cat, err := config.Load(*configPath)
	if err != nil {
		logger.Errorf("loading catalogue: %v", err)
		os.Exit(1)
	}

	orch, err := orchestrator.Build(cat, logger)
	if err != nil {
		logger.Errorf("building simulator: %v", err)
		os.Exit(1)
	}

	ctx := context.Background()

	if err := orch.Boot(ctx); err != nil {
		logger.Errorf("boot failed: %v", err)
		os.Exit(1)
	}

	admin := adminapi.New(*adminAddr, orch.Clock, orch.Fabric, orch.Gate, orch.Telemetry, orch, logger)
	if err := admin.Start(); err != nil {
		logger.Errorf("admin API failed to bind: %v", err)
		os.Exit(1)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- orch.Run(ctx) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Infof("shutdown signal received")
	case err := <-runErr:
		if err != nil {
			logger.Errorf("simulator run loop exited: %v", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := admin.Stop(shutdownCtx); err != nil {
		logger.Warnf("admin API shutdown: %v", err)
	}
	if err := orch.Stop(shutdownCtx); err != nil {
		logger.Warnf("simulator shutdown: %v", err)
	}
}

func parseLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.Debug
	case "warn":
		return logging.Warn
	case "error":
		return logging.Error
	default:
		return logging.Info
	}
}
