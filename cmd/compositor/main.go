// Command compositor runs the WMS discovery and layer-compositing service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/metatierrascol/wms-compositor/internal/auth"
	"github.com/metatierrascol/wms-compositor/internal/capcache"
	"github.com/metatierrascol/wms-compositor/internal/compositor"
	"github.com/metatierrascol/wms-compositor/internal/config"
	"github.com/metatierrascol/wms-compositor/internal/events"
	"github.com/metatierrascol/wms-compositor/internal/httpclient"
	"github.com/metatierrascol/wms-compositor/internal/invalidation/kafkaconsumer"
	"github.com/metatierrascol/wms-compositor/internal/layerstore"
	"github.com/metatierrascol/wms-compositor/internal/logger"
	"github.com/metatierrascol/wms-compositor/internal/metrics"
	"github.com/metatierrascol/wms-compositor/internal/observability"
	"github.com/metatierrascol/wms-compositor/internal/reconcile"
	"github.com/metatierrascol/wms-compositor/internal/registry"
	"github.com/metatierrascol/wms-compositor/internal/server"
	"github.com/metatierrascol/wms-compositor/internal/snapshot"
	"github.com/metatierrascol/wms-compositor/internal/wms"
)

// version is stamped at build time with -ldflags.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "compositor",
		Short:   "WMS capability discovery, layer reconciliation and map compositing",
		Version: version,
	}
	root.AddCommand(serveCmd(), validateCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{Level: cfg.LogLevel, Component: "compositor"}, os.Stderr)
	log := logger.NewSlog(&zl)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider := metrics.Init(metrics.Config{Build: metrics.BuildInfo{Version: version}})
	observability.Init(provider.Registerer())

	var snap snapshot.Store
	if cfg.RedisAddr == "" {
		snap = snapshot.NewMemory()
	} else if rs, err := snapshot.NewRedis(ctx, cfg.RedisAddr, "compositor"); err != nil {
		log.Warn("redis unavailable, active layers will not survive restarts",
			"addr", cfg.RedisAddr, "err", err)
		snap = snapshot.NewMemory()
	} else {
		defer func() { _ = rs.Close() }()
		snap = rs
	}

	httpc := httpclient.NewOutbound()
	store := layerstore.New(cfg.LayerStoreURL, httpc, log)
	fetcher := wms.NewFetcher(log, httpc, cfg.CapabilitiesTimeout, cfg.CapabilitiesRetries, cfg.MockFallback)

	bus := events.NewBus()
	feed := auth.NewFeed()
	reg := registry.New(snap, bus, store, log)
	if err := reg.Load(ctx); err != nil {
		log.Error("restore active layers, starting empty", "err", err)
	}
	go reg.WatchSessions(ctx, feed)

	rec := reconcile.New(store, fetcher, reg, log)
	caps := capcache.New(cfg.CapCacheSize, cfg.CapCacheTTL)

	proxy, err := config.LoadProxyMap(cfg.ProxyMapFile)
	if err != nil {
		log.Warn("proxy map load failed, using defaults", "file", cfg.ProxyMapFile, "err", err)
	}
	comp := compositor.New(compositor.NewHeadlessSurface(log), proxy, compositor.Options{
		BaseZIndex: cfg.BaseZIndex,
		FitPadding: cfg.FitPaddingPx,
		FitMaxZoom: cfg.FitMaxZoom,
	}, log)
	go comp.Watch(ctx, bus, reg)
	// Redraw whatever the snapshot restored.
	comp.Sync(reg.List())

	if cfg.Invalidation.Enabled && cfg.Invalidation.Driver == "kafka" {
		consumer := kafkaconsumer.New(kafkaconsumer.Config{
			Brokers: strings.Split(cfg.Invalidation.Brokers, ","),
			Topic:   cfg.Invalidation.Topic,
			GroupID: cfg.Invalidation.GroupID,
		}, log, caps, reg, rec)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				log.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}

	return server.Run(ctx, cfg, server.Deps{
		Logger:     log,
		Registry:   reg,
		Store:      store,
		Reconciler: rec,
		Fetcher:    fetcher,
		Caps:       caps,
		Compositor: comp,
		Metrics:    provider,
	})
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <url>",
		Short: "Fetch a WMS service's capabilities and print the validation result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			zl := logger.Build(logger.Config{Level: "warn", Console: true}, os.Stderr)
			log := logger.NewSlog(&zl)

			fetcher := wms.NewFetcher(log, httpclient.NewOutbound(),
				cfg.CapabilitiesTimeout, cfg.CapabilitiesRetries, false)
			v := fetcher.Fetch(cmd.Context(), args[0])

			out, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if !v.Valid {
				return fmt.Errorf("%s failed validation", args[0])
			}
			return nil
		},
	}
}
