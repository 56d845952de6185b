/*
 * Minio Cloud Storage, (C) 2016 Minio, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command coordinator runs the RAID Coordinator process: it speaks the
// external files/status HTTP surface, fans writes and reads out to the
// fixed node fleet, and owns the Metadata Catalog and Health Monitor.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/minio/raidfive/internal/catalog"
	"github.com/minio/raidfive/internal/config"
	"github.com/minio/raidfive/internal/coordinator"
	"github.com/minio/raidfive/internal/health"
	"github.com/minio/raidfive/internal/parity"
	"github.com/minio/raidfive/internal/transport"
	"github.com/minio/raidfive/internal/xlog"
)

var (
	configPath string
	listenAddr string
	debug      bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Run the raidfive RAID Coordinator",
	RunE:  runCoordinator,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file naming the node fleet")
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "override the config's coordinatorListenAddr")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func runCoordinator(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	live := cfg.Get()
	if debug {
		live.Debug = true
	}
	if err := xlog.Init("coordinator", live.Debug); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer xlog.Sync()

	if len(live.Nodes) != coordinator.N {
		return fmt.Errorf("config must list exactly %d nodes, got %d", coordinator.N, len(live.Nodes))
	}

	policy := transport.Policy{
		RequestTimeout:        live.RequestTimeout,
		MaxRetryAttempts:      live.MaxRetryAttempts,
		RetryDelay:            live.RetryDelay,
		MaxConnectionsPerHost: 32,
		CompressionEnabled:    live.CompressionEnabled,
		CompressionThreshold:  int(live.CompressionThreshold),
	}

	clients := make(map[int]*transport.NodeClient, len(live.Nodes))
	probers := make(map[int]health.Prober, len(live.Nodes))
	for _, n := range live.Nodes {
		client, err := transport.NewNodeClient(n.ID, n.BaseURL, policy)
		if err != nil {
			return fmt.Errorf("build client for node %d: %w", n.ID, err)
		}
		clients[n.ID] = client
		probers[n.ID] = coordinator.NewNodeProber(n.ID, client)
	}

	monitor := health.New(probers, live.NodeFailureThreshold)
	monitor.CheckAll(context.Background())
	monitor.Start(live.HealthCheckInterval)
	defer monitor.Stop()

	cat, err := catalog.Open(filepath.Join(live.DataDir, "catalog.db"))
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer cat.Close()

	engine, err := parity.New(coordinator.D)
	if err != nil {
		return fmt.Errorf("build parity engine: %w", err)
	}

	coord, err := coordinator.New(clients, engine, cat, monitor, live.BlockSize, live.MaxFileSize)
	if err != nil {
		return fmt.Errorf("build coordinator: %w", err)
	}

	eventCtx, stopEvents := context.WithCancel(context.Background())
	defer stopEvents()
	go coord.RunEventLoop(eventCtx)

	addr := live.CoordinatorListenAddr
	if listenAddr != "" {
		addr = listenAddr
	}

	srv := &http.Server{
		Addr:         addr,
		Handler:      coordinator.NewRouter(coord),
		ReadTimeout:  live.RequestTimeout,
		WriteTimeout: live.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		xlog.Info("coordinator listening", zap.String("addr", addr), zap.Int("nodes", len(clients)))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-sigCh:
		xlog.Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
