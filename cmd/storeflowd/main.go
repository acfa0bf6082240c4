// Copyright 2025 Storeflow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// storeflowd is the workflow trigger and execution daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Krosebrook/storeflow/internal/api"
	"github.com/Krosebrook/storeflow/internal/config"
	"github.com/Krosebrook/storeflow/internal/engine"
	"github.com/Krosebrook/storeflow/internal/log"
	"github.com/Krosebrook/storeflow/internal/registry"
	"github.com/Krosebrook/storeflow/internal/service"
	"github.com/Krosebrook/storeflow/internal/store"
	"github.com/Krosebrook/storeflow/internal/store/memory"
	"github.com/Krosebrook/storeflow/internal/store/sqlite"
	"github.com/Krosebrook/storeflow/internal/trigger"
	"github.com/Krosebrook/storeflow/pkg/automation"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	listenAddr string
)

func main() {
	cmd := &cobra.Command{
		Use:   "storeflowd",
		Short: "Storeflow workflow trigger and execution daemon",
		Long: `storeflowd runs e-commerce workflow templates against a remote
automation backend. Workflows fire manually, on cron schedules, from
inbound webhooks, or from application events; every execution is
persisted with its retries and terminal state.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	cmd.Flags().StringVar(&listenAddr, "addr", "", "Listen address (overrides config)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.Addr = listenAddr
	}

	logger := log.Setup(&log.Config{
		Level:  cfg.Log.Level,
		Format: log.Format(cfg.Log.Format),
	})
	logger.Info("storeflowd starting", "version", version)

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	client, err := automation.New(cfg.AutomationClientConfig())
	if err != nil {
		return fmt.Errorf("automation client: %w", err)
	}

	retry, breaker := cfg.EngineSettings()
	eng := engine.New(st, client, engine.Config{Retry: retry, Breaker: breaker}, logger)

	svc := service.New(registry.NewWithBuiltins(), eng, logger)
	triggers := trigger.NewManager(svc, trigger.NewCronScheduler(), logger)
	svc.SetScheduleCounter(triggers)

	sweeper := engine.NewSweeper(st, engine.RetentionConfig{
		MaxAge:   cfg.Engine.Retention.MaxAge,
		Interval: cfg.Engine.Retention.Interval,
	}, logger)
	if sweeper != nil {
		sweeper.Start()
		defer sweeper.Stop()
	}

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.NewRouter(svc, triggers, logger),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		if serr := server.ListenAndServe(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			errCh <- serr
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case serr := <-errCh:
		return fmt.Errorf("server error: %w", serr)
	}

	// Stop accepting triggers before draining HTTP so nothing new fires
	// during shutdown.
	triggers.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if serr := server.Shutdown(ctx); serr != nil {
		return fmt.Errorf("shutdown error: %w", serr)
	}

	logger.Info("shutdown complete")
	return nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return memory.New(), nil
	default:
		return sqlite.New(sqlite.Config{Path: cfg.Store.Path, WAL: true})
	}
}
