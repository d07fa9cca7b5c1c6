// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coldfront/coldfront/pkg/debug"
	"github.com/coldfront/coldfront/pkg/logger"
	"github.com/coldfront/coldfront/pkg/node"
	"github.com/coldfront/coldfront/pkg/types"
	"github.com/coldfront/coldfront/pkg/utils"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Start a cache node",
	Long: `Start a coldfront cache node. The node serves the object API on
bind_addr, keeps cached copies in the configured cache store, and talks
to the cloud providers configured in the [aws] and [gcp] sections.`,
	Run: runNode,
}

func init() {
	rootCmd.AddCommand(nodeCmd)

	f := nodeCmd.Flags()

	// Network binding
	f.String("bind_addr", "0.0.0.0:8080", "Address to bind the object API (host:port)")
	f.String("debug_addr", "0.0.0.0:8081", "Debug/metrics HTTP address (empty disables)")

	// Cache tier
	f.String("cache_type", "fs", "Cache tier store type (memory or fs)")
	f.String("cache_dir", filepath.Join(os.TempDir(), "coldfront-cache"), "Root directory for the fs cache store")
	f.String("cache_capacity", "", "Cache tier budget in humanized bytes (e.g. '100GB'). Required with a memory cache when LRU is enabled; empty with an fs cache measures the filesystem.")

	// Node state
	f.String("meta_dir", filepath.Join(os.TempDir(), "coldfront-meta"), "Directory for the bucket registry and index state")
	f.Bool("persist_index", false, "Keep the object location index on disk across restarts")
	f.String("default_checksum", "xxhash", "Checksum algorithm buckets inherit (xxhash, md5, sha256, crc32c, crc64nvme, none)")

	// Dispatcher
	f.Int("dispatch_workers", 16, "Per-operation fan-out concurrency for batch actions")
	f.Int("dispatch_retention", 512, "How many finished operations stay queryable")

	// Eviction
	f.Bool("lru_enabled", true, "Evict cold cached objects when the cache fills")
	f.Int64("lru_high_wm", 80, "Start evicting above this percent of capacity")
	f.Int64("lru_low_wm", 60, "Stop evicting below this percent of capacity")
	f.Duration("lru_interval", time.Minute, "Interval between capacity checks")
	f.Duration("dont_evict_time", 2*time.Hour, "Protect objects accessed within this window")

	// Cloud fetches and stats
	f.Float64("fetch_rate", 0, "Cap on cold fetches from cloud tiers in objects/second (0 = unlimited)")
	f.Int("fetch_burst", 0, "Burst allowance for the fetch limiter")
	f.Duration("stats_interval", 10*time.Second, "Cadence of the periodic stats log line")

	viper.BindPFlags(f)
}

func runNode(cmd *cobra.Command, args []string) {
	utils.LoadConfiguration("coldfront", false)
	cfg, bindAddr := loadNodeConfig(cmd)

	debug.SetNotReady()

	n, err := node.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create node")
	}

	mux := http.NewServeMux()
	n.RegisterHandlers(mux)
	n.Start()

	debugCtx, stopDebug := context.WithCancel(cmd.Context())
	defer stopDebug()
	go debug.Serve(debugCtx, cfg.DebugAddr)

	httpServer := startHTTPServer(mux, bindAddr)

	debug.SetReady()
	logger.Info().
		Str("bind_addr", bindAddr).
		Str("cache", string(cfg.Cache.Type)).
		Bool("aws", cfg.AWS != nil).
		Bool("gcp", cfg.GCP != nil).
		Bool("lru", cfg.LRU.Enabled).
		Msg("coldfront node up")

	waitForShutdown()

	debug.SetNotReady()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown")
	}
	stopDebug()
	n.Stop()
}

func loadNodeConfig(cmd *cobra.Command) (*types.Config, string) {
	f := NewFlagLoader(cmd)

	cfg := types.DefaultConfig()
	cfg.Cache = types.StoreConfig{
		Type: types.StoreType(f.String("cache_type")),
		Path: utils.ResolvePath(f.String("cache_dir")),
	}
	cfg.MetaDir = utils.ResolvePath(f.String("meta_dir"))
	cfg.PersistIndex = f.Bool("persist_index")
	cfg.DefaultChecksum = f.String("default_checksum")
	cfg.Dispatch.Workers = f.Int("dispatch_workers")
	cfg.Dispatch.Retention = f.Int("dispatch_retention")
	cfg.LRU.Enabled = f.Bool("lru_enabled")
	cfg.LRU.Capacity = f.String("cache_capacity")
	cfg.LRU.HighWM = f.Int64("lru_high_wm")
	cfg.LRU.LowWM = f.Int64("lru_low_wm")
	cfg.LRU.Interval = f.Duration("lru_interval")
	cfg.LRU.DontEvictTime = f.Duration("dont_evict_time")
	cfg.FetchRate = f.Float64("fetch_rate")
	cfg.FetchBurst = f.Int("fetch_burst")
	cfg.StatsInterval = f.Duration("stats_interval")
	cfg.DebugAddr = f.String("debug_addr")

	cfg.AWS = cloudOpts("aws", types.StoreTypeS3)
	cfg.GCP = cloudOpts("gcp", types.StoreTypeGCS)

	return cfg, f.String("bind_addr")
}

// cloudOpts reads a provider section ([aws] or [gcp]) from the merged
// configuration. An absent section disables the provider on this node.
func cloudOpts(section string, typ types.StoreType) *types.StoreConfig {
	if !viper.IsSet(section) {
		return nil
	}
	prefix := section + "."
	return &types.StoreConfig{
		Type:      typ,
		Endpoint:  viper.GetString(prefix + "endpoint"),
		Region:    viper.GetString(prefix + "region"),
		AccessKey: viper.GetString(prefix + "access_key"),
		SecretKey: viper.GetString(prefix + "secret_key"),
		Anonymous: viper.GetBool(prefix + "anonymous"),
	}
}

func startHTTPServer(handler http.Handler, addr string) *http.Server {
	listener, err := utils.NewListener(addr, 0)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", addr).Msg("failed to create HTTP listener")
	}

	httpServer := &http.Server{Handler: handler}
	go func() {
		logger.Info().Str("http_addr", addr).Msg("Starting HTTP server")
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start HTTP server")
		}
	}()
	return httpServer
}

func waitForShutdown() {
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGALRM, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	<-stopChan
}
