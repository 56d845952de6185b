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

// Command node runs one of the fixed N storage nodes: the Block Store
// contract served over HTTP, nothing else. The node never talks to its
// peers or to the catalog - it only ever answers the coordinator.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/minio/raidfive/internal/blockstore"
	"github.com/minio/raidfive/internal/config"
	"github.com/minio/raidfive/internal/metrics"
	"github.com/minio/raidfive/internal/transport"
	"github.com/minio/raidfive/internal/xlog"
)

var (
	nodeID     int
	configPath string
	listenAddr string
	dataDir    string
	capacity   int64
	debug      bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "node",
	Short: "Serve one storage node of a raidfive cluster",
	RunE:  runNode,
}

func init() {
	rootCmd.Flags().IntVar(&nodeID, "id", 0, "node id (1..N) - required, no ambient default")
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "override the config's nodeListenAddr")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "", "override the config's dataDir")
	rootCmd.Flags().Int64Var(&capacity, "capacity", 0, "advisory storage capacity in bytes, 0 = unbounded")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	_ = rootCmd.MarkFlagRequired("id")
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	live := cfg.Get()
	if debug {
		live.Debug = true
	}
	if err := xlog.Init(fmt.Sprintf("node-%d", nodeID), live.Debug); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer xlog.Sync()

	addr := live.NodeListenAddr
	if listenAddr != "" {
		addr = listenAddr
	}
	dir := live.DataDir
	if dataDir != "" {
		dir = dataDir
	}
	capBytes := live.MaxNodeStorage
	if capacity != 0 {
		capBytes = capacity
	}

	store, err := blockstore.New(dir, capBytes)
	if err != nil {
		return fmt.Errorf("open block store: %w", err)
	}

	self := &selfHealth{nodeID: nodeID, started: time.Now()}
	router := transport.NewNodeRouter(store, self)
	router.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  live.RequestTimeout,
		WriteTimeout: live.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		xlog.Info("node listening", zap.Int("nodeId", nodeID), zap.String("addr", addr), zap.String("dataDir", dir))
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
		xlog.Info("shutting down", zap.Int("nodeId", nodeID))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// selfHealth implements transport.HealthSource for this node's own process.
// A node has no notion of being partially degraded from its own point of
// view - that judgment belongs to the coordinator's Health Monitor, which
// observes latency and error counts from the outside.
type selfHealth struct {
	nodeID     int
	started    time.Time
	errorCount int32
}

func (s *selfHealth) NodeID() int                    { return s.nodeID }
func (s *selfHealth) Status() transport.NodeStatus    { return transport.StatusHealthy }
func (s *selfHealth) Uptime() time.Duration           { return time.Since(s.started) }
func (s *selfHealth) ErrorCount() int                 { return int(atomic.LoadInt32(&s.errorCount)) }
