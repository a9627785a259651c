package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/cubeward/cubeward/internal/config"
	"github.com/cubeward/cubeward/internal/history"
	"github.com/cubeward/cubeward/internal/lifecycle"
	"github.com/cubeward/cubeward/internal/metrics"
	"github.com/cubeward/cubeward/internal/proc"
	"github.com/cubeward/cubeward/internal/profile"
	"github.com/cubeward/cubeward/internal/schedule"
	"github.com/cubeward/cubeward/internal/server"
)

func newServeCmd() *cobra.Command {
	var configPath string
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control panel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, listen)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to TOML config file")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}

func runServe(configPath, listen string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Server.Listen = listen
	}

	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	if err := os.MkdirAll(cfg.Data.Dir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store, err := profile.Open(cfg.Data.ProfileDB)
	if err != nil {
		return fmt.Errorf("open profile store: %w", err)
	}
	defer func() { _ = store.Close() }()

	var sink history.Sink
	if cfg.Data.HistoryDSN != "" {
		sink, err = history.NewSinkFromDSN(cfg.Data.HistoryDSN)
		if err != nil {
			return fmt.Errorf("open history sink: %w", err)
		}
		if closer, ok := sink.(interface{ Close() error }); ok {
			defer func() { _ = closer.Close() }()
		}
	}

	ctl := lifecycle.New(lifecycle.Options{
		Logger:          logger,
		Store:           store,
		Sink:            sink,
		LogDir:          cfg.ProcLog.Dir,
		ConsoleLines:    cfg.Control.ConsoleLines,
		GracefulTimeout: cfg.Control.GracefulTimeout,
		AuxTimeout:      cfg.Control.AuxTimeout,
	})

	if cfg.Control.AutoActivate {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if p, err := store.Active(ctx); err == nil {
			if err := ctl.ActivateProfile(ctx, p.Name, false); err != nil {
				logger.Warn("re-activating last profile failed",
					"profile", p.Name, "error", err)
			}
		}
		cancel()
	}

	if cfg.Control.WakeSchedule != "" {
		sched := schedule.NewScheduler(logger)
		err := sched.Add(&schedule.Job{
			Name:     "wake-server",
			Schedule: cfg.Control.WakeSchedule,
			Run: func() error {
				err := ctl.StartServer()
				var se *proc.SpawnError
				if errors.As(err, &se) && se.Kind == proc.SpawnAlreadyRunning {
					return nil
				}
				return err
			},
		})
		if err != nil {
			return fmt.Errorf("wake schedule: %w", err)
		}
		if err := sched.Start(); err != nil {
			return fmt.Errorf("wake schedule: %w", err)
		}
		defer sched.Stop()
	}

	router := server.NewRouter(ctl, store, logger, cfg.Server.BasePath)
	srv := server.NewServer(cfg.Server.Listen, router)
	logger.Info("panel listening", "addr", cfg.Server.Listen)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := ctl.Shutdown(); err != nil {
		logger.Error("teardown incomplete", "error", err)
		return err
	}
	return nil
}
