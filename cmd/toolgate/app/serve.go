// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/gateway/access"
	"github.com/toolgate/toolgate/pkg/gateway/adapter"
	"github.com/toolgate/toolgate/pkg/gateway/cache"
	"github.com/toolgate/toolgate/pkg/gateway/catalog"
	"github.com/toolgate/toolgate/pkg/gateway/config"
	"github.com/toolgate/toolgate/pkg/gateway/credential"
	"github.com/toolgate/toolgate/pkg/gateway/eventlog"
	"github.com/toolgate/toolgate/pkg/gateway/executor"
	"github.com/toolgate/toolgate/pkg/gateway/projector"
	"github.com/toolgate/toolgate/pkg/gateway/server"
	"github.com/toolgate/toolgate/pkg/gateway/service"
	"github.com/toolgate/toolgate/pkg/gateway/store"
	"github.com/toolgate/toolgate/pkg/gateway/telemetry"
	"github.com/toolgate/toolgate/pkg/logger"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Long: `Start the gateway: the HTTP surfaces for callers and admins, the
read-model projector, and periodic source discovery.`,
		RunE: runServe,
	}
	cmd.Flags().String("address", "", "Listen address (overrides config)")
	if err := viper.BindPFlag("address", cmd.Flags().Lookup("address")); err != nil {
		logger.Errorf("Error binding address flag: %v", err)
	}
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return err
	}
	if addr := viper.GetString("address"); addr != "" {
		cfg.Address = addr
	}

	log, err := openEventLog(ctx, cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	manifestCache, notifier, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer manifestCache.Close()

	projections := store.NewMemory()
	cat := catalog.NewResolver(projections, manifestCache, 0)
	acc := access.NewResolver(projections, cat, manifestCache, notifier, nil, 0)
	commands := service.NewCommands(log)

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	exchanger := credential.NewExchanger(credential.Config{
		TTLCeiling:   cfg.Credential.TTLCeiling,
		SafetyBuffer: cfg.Credential.SafetyBuffer,
	})

	exec := executor.New(projections, exchanger, executor.Config{
		DegradedThreshold:  cfg.Breaker.DegradedThreshold,
		UnhealthyThreshold: cfg.Breaker.UnhealthyThreshold,
		CoolDown:           cfg.Breaker.CoolDown,
	}, func(ctx context.Context, sourceID string, health gateway.SourceHealth, failures int) {
		metrics.SetSourceHealth(sourceID, health)
		if err := commands.RecordHealthChange(ctx, sourceID, health, failures, "executor"); err != nil {
			logger.Warnw("recording health change", "source_id", sourceID, "error", err)
		}
	})

	syncer := adapter.NewSyncer(commands, projections)
	syncer.Register(adapter.KindManifest, adapter.NewManifestAdapter(nil))

	proj := projector.New(log, projections, cat, acc, notifier,
		projector.WithInterval(cfg.Projector.Interval),
		projector.WithMetrics(metrics))

	deps := server.Deps{
		Commands: commands,
		Store:    projections,
		Log:      log,
		Access:   acc,
		Catalog:  cat,
		Executor: exec,
		Syncer:   syncer,
		Metrics:  metrics,
	}
	if cfg.Metrics.Enabled {
		deps.Gatherer = registry
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := proj.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("projector stopped: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		runPeriodicSync(ctx, syncer, projections, cfg.Sync.Interval)
		return nil
	})
	group.Go(func() error {
		return server.Serve(ctx, cfg.Address, deps)
	})

	return group.Wait()
}

func openEventLog(ctx context.Context, cfg *config.Config) (eventlog.Log, error) {
	if cfg.EventLog.Driver == "sqlite" {
		return eventlog.NewSQLiteLog(ctx, cfg.EventLog.Path)
	}
	logger.Warn("using in-memory event log; state will not survive restarts")
	return eventlog.NewMemoryLog(), nil
}

func openCache(ctx context.Context, cfg *config.Config) (cache.Cache, cache.Notifier, error) {
	if cfg.Cache.Driver == "redis" {
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:      cfg.Cache.Redis.Addr,
			Username:  cfg.Cache.Redis.Username,
			Password:  cfg.Cache.Redis.Password,
			DB:        cfg.Cache.Redis.DB,
			KeyPrefix: cfg.Cache.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return rc, rc, nil
	}
	return cache.NewMemoryCache(), cache.NewMemoryNotifier(), nil
}

// runPeriodicSync re-discovers every enabled source at the configured
// interval. Individual source failures are recorded and logged, never fatal.
func runPeriodicSync(ctx context.Context, syncer *adapter.Syncer, projections store.Projections, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		sources, err := projections.ListSources(ctx)
		if err != nil {
			logger.Errorw("listing sources for sync", "error", err)
			continue
		}
		for _, src := range sources {
			if !src.Enabled {
				continue
			}
			if err := syncer.Sync(ctx, src.ID, "scheduler"); err != nil {
				logger.Warnw("source sync failed", "source_id", src.ID, "error", err)
			}
		}
	}
}
