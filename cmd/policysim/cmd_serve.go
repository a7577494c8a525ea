package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/talgya/policysim/internal/api"
	"github.com/talgya/policysim/internal/config"
	"github.com/talgya/policysim/internal/engine"
	"github.com/talgya/policysim/internal/observability"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the streaming controller behind the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if port, _ := cmd.Flags().GetInt("port"); port != 0 {
				cfg.API.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, presetOverride(cmd))
		},
	}
	cmd.Flags().Int("port", 0, "HTTP port (overrides config)")
	cmd.Flags().String("preset", "", "Preset to activate at start (overrides config)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, presetName string) error {
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		SampleRatio:    cfg.Tracing.SampleRatio,
		Seed:           cfg.Engine.Seed,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing)

	metrics, err := observability.NewCollector(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	catalog, db, err := openCatalog(cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	name := defaultPreset(cfg, db, catalog, presetName)
	sc, ok := catalog.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown preset %q (known: %v)", name, catalog.Names())
	}

	ctrl := engine.NewController(sc,
		engine.WithSeed(cfg.Engine.Seed),
		engine.WithWorkers(cfg.Engine.Workers),
		engine.WithBufferCap(cfg.Engine.BufferCap),
		engine.WithBins(cfg.Engine.Bins),
		engine.WithIntervals(cfg.Engine.ResolveInterval, cfg.Engine.BatchInterval),
		engine.WithMetrics(metrics),
		engine.WithResetHook(func(c *engine.Controller) {
			slog.Debug("buffer reset", "epoch", c.Epoch(), "samples", c.Samples())
		}),
	)
	eng := engine.NewEngine(ctrl, cfg.Engine.Tick, cfg.Engine.QueueSize)

	if cfg.API.AdminKey == "" {
		slog.Warn("POLICYSIM_ADMIN_KEY not set, admin POST endpoints will be disabled")
	}
	srv := &api.Server{
		Eng:            eng,
		Catalog:        catalog,
		DB:             db,
		Metrics:        metrics,
		Port:           cfg.API.Port,
		AdminKey:       cfg.API.AdminKey,
		CORSOrigins:    cfg.API.CORSOrigins,
		ControlLimiter: api.NewRateLimiter(cfg.API.ControlRate, cfg.API.ControlWindow),
	}

	slog.Info("policysim starting",
		"preset", sc.Name,
		"domains", sc.Size(),
		"presets", catalog.Len(),
		"buffer_cap", humanize.Comma(int64(cfg.Engine.BufferCap)),
		"workers", cfg.Engine.Workers,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := eng.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	err = g.Wait()

	slog.Info("policysim stopped",
		"ticks", humanize.Comma(int64(eng.Ticks())),
		"summary", ctrl.Summary(),
	)
	return err
}
