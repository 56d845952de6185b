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

// Package coordinator is the RAID Coordinator: stripe planning and
// placement, the write/read/delete paths, and recovery-from-failed-node
// decisions. It is the one component that knows about all of the Parity
// Engine, the Block Store contract (via transport), the Metadata Catalog,
// and the Health Monitor.
package coordinator

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/minio/raidfive/internal/apierrors"
	"github.com/minio/raidfive/internal/catalog"
	"github.com/minio/raidfive/internal/health"
	"github.com/minio/raidfive/internal/metrics"
	"github.com/minio/raidfive/internal/parity"
	"github.com/minio/raidfive/internal/transport"
	"github.com/minio/raidfive/internal/xlog"
)

// pdfContentType is the one content type files.upload accepts.
const pdfContentType = "application/pdf"

// UploadResult is the outcome of a successful files.upload.
type UploadResult struct {
	OK            bool   `json:"ok"`
	FileID        string `json:"fileId"`
	BlocksCreated int    `json:"blocksCreated"`
	NodesUsed     int    `json:"nodesUsed"`
}

// Coordinator ties together the Parity Engine, one transport.NodeClient per
// node, the Catalog, and the Health Monitor.
type Coordinator struct {
	clients map[int]*transport.NodeClient
	engine  *parity.Engine
	cat     *catalog.Catalog
	mon     *health.Monitor

	blockSize   int64
	maxFileSize int64
}

// New builds a Coordinator. clients must have exactly N entries, keyed by
// node id 1..N.
func New(clients map[int]*transport.NodeClient, engine *parity.Engine, cat *catalog.Catalog, mon *health.Monitor, blockSize, maxFileSize int64) (*Coordinator, error) {
	if len(clients) != N {
		return nil, fmt.Errorf("%w: coordinator requires exactly %d node clients, got %d", apierrors.ErrInvalidConfig, N, len(clients))
	}
	for id := 1; id <= N; id++ {
		if _, ok := clients[id]; !ok {
			return nil, fmt.Errorf("%w: missing client for node %d", apierrors.ErrInvalidConfig, id)
		}
	}
	if blockSize <= 0 || maxFileSize <= 0 {
		return nil, fmt.Errorf("%w: blockSize and maxFileSize must be positive", apierrors.ErrInvalidConfig)
	}
	return &Coordinator{
		clients:     clients,
		engine:      engine,
		cat:         cat,
		mon:         mon,
		blockSize:   blockSize,
		maxFileSize: maxFileSize,
	}, nil
}

// RunEventLoop drains the Health Monitor's typed event stream until ctx is
// canceled, logging transitions and updating metrics. The monitor itself
// never calls back into coordinator code; this is the one serial consumer
// the design note calls for.
func (c *Coordinator) RunEventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.mon.Events():
			if !ok {
				return
			}
			switch {
			case ev.Failure != nil:
				xlog.Warn("node failure", zap.Int("nodeId", ev.Failure.NodeID))
				metrics.NodeStatusTransitionsTotal.WithLabelValues(strconv.Itoa(ev.Failure.NodeID), "offline").Inc()
			case ev.Recovery != nil:
				xlog.Info("node recovery", zap.Int("nodeId", ev.Recovery.NodeID), zap.Duration("downtime", ev.Recovery.Downtime))
				metrics.NodeStatusTransitionsTotal.WithLabelValues(strconv.Itoa(ev.Recovery.NodeID), "online").Inc()
			}
		}
	}
}

func (c *Coordinator) allNodesHealthy() bool {
	for id := 1; id <= N; id++ {
		if !c.mon.IsHealthy(id) {
			return false
		}
	}
	return true
}

type storedBlock struct {
	nodeID  int
	blockID string
}

func (c *Coordinator) rollback(ctx context.Context, stored []storedBlock) {
	for _, sb := range stored {
		if err := c.clients[sb.nodeID].DeleteBlock(ctx, sb.blockID); err != nil {
			xlog.Warn("rollback delete failed", zap.String("blockId", sb.blockID), zap.Error(err))
		}
	}
}

// Upload implements files.upload: the write path. Rejects non-PDF content
// types and files exceeding maxFileSize; refuses to start unless all N
// nodes are currently healthy (the stricter write-admission policy).
func (c *Coordinator) Upload(ctx context.Context, fileName string, data []byte, contentType string) (UploadResult, error) {
	if fileName == "" || len(data) == 0 {
		return UploadResult{}, apierrors.ErrValidation
	}
	if !strings.EqualFold(contentType, pdfContentType) {
		return UploadResult{}, apierrors.ErrValidation
	}
	if int64(len(data)) > c.maxFileSize {
		return UploadResult{}, apierrors.ErrValidation
	}
	if !c.allNodesHealthy() {
		metrics.CoordinatorOpsTotal.WithLabelValues("upload", "service_degraded").Inc()
		return UploadResult{}, apierrors.ErrServiceDegraded
	}

	timer := metrics.NewTimer()
	defer timer.ObserveVec(metrics.CoordinatorOpDuration, "upload")

	fileID := uuid.NewString()
	blocks := chunkBytes(data, c.blockSize)
	stripes := groupStripes(blocks)

	if err := c.cat.BeginUpload(catalog.FileRecord{
		FileID:      fileID,
		FileName:    fileName,
		Size:        int64(len(data)),
		ContentType: contentType,
		UploadedAt:  time.Now(),
	}); err != nil {
		metrics.CoordinatorOpsTotal.WithLabelValues("upload", "failed").Inc()
		return UploadResult{}, err
	}

	var descriptors []catalog.BlockDescriptor
	var stored []storedBlock

	for s, stripeBlocks := range stripes {
		parityBlock, err := c.engine.ComputeParity(stripeBlocks)
		if err != nil {
			c.rollback(ctx, stored)
			_ = c.cat.Remove(fileName)
			metrics.CoordinatorOpsTotal.WithLabelValues("upload", "failed").Inc()
			return UploadResult{}, fmt.Errorf("%w: %v", apierrors.ErrStorageFailure, err)
		}

		dNodes := dataNodeSequence(s)
		type job struct {
			nodeID   int
			blockID  string
			data     []byte
			isParity bool
			position int
		}
		jobs := make([]job, 0, len(stripeBlocks)+1)
		for k, b := range stripeBlocks {
			jobs = append(jobs, job{nodeID: dNodes[k], blockID: dataBlockID(fileID, s, k), data: b, position: k})
		}
		jobs = append(jobs, job{nodeID: parityNodeFor(s), blockID: parityBlockID(fileID, s), data: parityBlock, isParity: true, position: -1})

		results := make([]error, len(jobs))
		var wg sync.WaitGroup
		for i := range jobs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				j := jobs[i]
				_, err := c.clients[j.nodeID].StoreBlock(ctx, transport.StoreRequest{
					BlockID:     j.blockID,
					BlockData:   j.data,
					IsParity:    j.isParity,
					StripeIndex: s,
					Position:    j.position,
					Checksum:    parity.Checksum(j.data),
					RequestID:   uuid.NewString(),
				})
				results[i] = err
			}(i)
		}
		wg.Wait()

		failed := false
		for i, err := range results {
			j := jobs[i]
			if err != nil {
				xlog.Warn("stripe member store failed", zap.String("blockId", j.blockID), zap.Error(err))
				failed = true
				continue
			}
			stored = append(stored, storedBlock{nodeID: j.nodeID, blockID: j.blockID})
			descriptors = append(descriptors, catalog.BlockDescriptor{
				NodeID:      j.nodeID,
				BlockID:     j.blockID,
				StripeIndex: s,
				Position:    j.position,
				IsParity:    j.isParity,
				Checksum:    parity.Checksum(j.data),
			})
		}
		if failed {
			c.rollback(ctx, stored)
			_ = c.cat.Remove(fileName)
			metrics.CoordinatorOpsTotal.WithLabelValues("upload", "failed").Inc()
			return UploadResult{}, apierrors.ErrStorageFailure
		}
	}

	if err := c.cat.CommitUpload(fileName, descriptors); err != nil {
		c.rollback(ctx, stored)
		metrics.CoordinatorOpsTotal.WithLabelValues("upload", "failed").Inc()
		return UploadResult{}, err
	}

	xlog.Info("file uploaded", zap.String("fileName", fileName), zap.String("size", humanize.Bytes(uint64(len(data)))))
	metrics.CoordinatorOpsTotal.WithLabelValues("upload", "ok").Inc()
	return UploadResult{OK: true, FileID: fileID, BlocksCreated: len(descriptors), NodesUsed: countDistinctNodes(descriptors)}, nil
}

func countDistinctNodes(descriptors []catalog.BlockDescriptor) int {
	seen := make(map[int]bool)
	for _, d := range descriptors {
		seen[d.NodeID] = true
	}
	return len(seen)
}

type stripeGroup struct {
	data   []catalog.BlockDescriptor
	parity catalog.BlockDescriptor
}

func groupByStripe(blocks []catalog.BlockDescriptor) map[int]*stripeGroup {
	groups := make(map[int]*stripeGroup)
	for _, b := range blocks {
		g, ok := groups[b.StripeIndex]
		if !ok {
			g = &stripeGroup{}
			groups[b.StripeIndex] = g
		}
		if b.IsParity {
			g.parity = b
		} else {
			g.data = append(g.data, b)
		}
	}
	for _, g := range groups {
		for i := 1; i < len(g.data); i++ {
			for j := i; j > 0 && g.data[j].Position < g.data[j-1].Position; j-- {
				g.data[j], g.data[j-1] = g.data[j-1], g.data[j]
			}
		}
	}
	return groups
}

// Download implements files.download: the read path. Reconstructs at most
// one missing or corrupt data block per stripe via parity; two or more
// missing members in the same stripe fail the whole read with
// UnrecoverableLoss.
func (c *Coordinator) Download(ctx context.Context, fileName string) ([]byte, string, error) {
	rec, err := c.cat.Get(fileName)
	if err != nil {
		return nil, "", err
	}

	timer := metrics.NewTimer()
	defer timer.ObserveVec(metrics.CoordinatorOpDuration, "download")

	groups := groupByStripe(rec.Blocks)

	var out bytes.Buffer
	for s := 0; s < rec.StripeCount(); s++ {
		g, ok := groups[s]
		if !ok {
			metrics.CoordinatorOpsTotal.WithLabelValues("download", "failed").Inc()
			return nil, "", fmt.Errorf("%w: stripe %d missing from catalog", apierrors.ErrUnrecoverableLoss, s)
		}

		buffers := make([][]byte, len(g.data))
		var missing []int
		var mu sync.Mutex
		var wg sync.WaitGroup
		for i, d := range g.data {
			wg.Add(1)
			go func(i int, d catalog.BlockDescriptor) {
				defer wg.Done()
				resp, err := c.clients[d.NodeID].RetrieveBlock(ctx, d.BlockID)
				if err != nil || !parity.VerifyChecksum(resp.BlockData, d.Checksum) {
					mu.Lock()
					missing = append(missing, i)
					mu.Unlock()
					return
				}
				buffers[i] = resp.BlockData
			}(i, d)
		}
		wg.Wait()

		switch len(missing) {
		case 0:
			// all present
		case 1:
			presp, err := c.clients[g.parity.NodeID].RetrieveBlock(ctx, g.parity.BlockID)
			if err != nil {
				metrics.CoordinatorOpsTotal.WithLabelValues("download", "failed").Inc()
				return nil, "", fmt.Errorf("%w: parity block unavailable for stripe %d", apierrors.ErrUnrecoverableLoss, s)
			}
			miss := missing[0]
			// Position-indexed, full stripe width: RecoverBlock (and the
			// reedsolomon shard matrix underneath it) identifies each
			// surviving block by its true position, not by its order among
			// the blocks that happen to still be present. A short last
			// stripe's virtual positions beyond g.data were zero-padded
			// shards when parity was computed, so they must be supplied
			// here as zero-filled shards too, not as additional erasures.
			surviving := make([][]byte, D)
			for i := 0; i < D; i++ {
				switch {
				case i == miss:
					// leave nil: this is the one position being recovered
				case i < len(buffers):
					surviving[i] = buffers[i]
				default:
					surviving[i] = []byte{}
				}
			}
			recovered, err := c.engine.RecoverBlock(surviving, presp.BlockData, miss)
			if err == nil && s == rec.StripeCount()-1 && miss == len(g.data)-1 {
				// The file's final data block may be shorter than the parity
				// width; its length is what the declared size leaves after
				// every other data block.
				rest := int64(out.Len())
				for i, b := range buffers {
					if i != miss {
						rest += int64(len(b))
					}
				}
				if want := rec.Size - rest; want >= 0 && want < int64(len(recovered)) {
					recovered = recovered[:want]
				}
			}
			if err != nil || !parity.VerifyChecksum(recovered, g.data[miss].Checksum) {
				metrics.CoordinatorOpsTotal.WithLabelValues("download", "failed").Inc()
				return nil, "", fmt.Errorf("%w: stripe %d reconstruction failed", apierrors.ErrUnrecoverableLoss, s)
			}
			buffers[miss] = recovered
			metrics.StripeRecoveriesTotal.Inc()
		default:
			metrics.CoordinatorOpsTotal.WithLabelValues("download", "failed").Inc()
			return nil, "", fmt.Errorf("%w: stripe %d lost %d members", apierrors.ErrUnrecoverableLoss, s, len(missing))
		}

		for _, b := range buffers {
			out.Write(b)
		}
	}

	result := out.Bytes()
	if int64(len(result)) > rec.Size {
		result = result[:rec.Size]
	}
	metrics.CoordinatorOpsTotal.WithLabelValues("download", "ok").Inc()
	return result, rec.ContentType, nil
}

// Delete implements files.delete: best-effort parallel block removal
// followed by an unconditional Catalog entry removal. Blocks that could not
// be deleted (offline node) become orphans for that node's cleanupOrphans.
func (c *Coordinator) Delete(ctx context.Context, fileName string) (int, error) {
	rec, err := c.cat.Get(fileName)
	if err != nil {
		return 0, err
	}

	var deleted int32
	var wg sync.WaitGroup
	for _, b := range rec.Blocks {
		wg.Add(1)
		go func(b catalog.BlockDescriptor) {
			defer wg.Done()
			if err := c.clients[b.NodeID].DeleteBlock(ctx, b.BlockID); err == nil {
				atomic.AddInt32(&deleted, 1)
			}
		}(b)
	}
	wg.Wait()

	if err := c.cat.Remove(fileName); err != nil {
		metrics.CoordinatorOpsTotal.WithLabelValues("delete", "failed").Inc()
		return int(deleted), err
	}
	metrics.CoordinatorOpsTotal.WithLabelValues("delete", "ok").Inc()
	return int(deleted), nil
}

// Info implements files.info.
func (c *Coordinator) Info(fileName string) (catalog.FileRecord, error) {
	return c.cat.Get(fileName)
}

// List implements files.list.
func (c *Coordinator) List() ([]catalog.FileRecord, error) {
	return c.cat.List()
}

// Search implements files.search.
func (c *Coordinator) Search(query string) ([]catalog.FileRecord, error) {
	return c.cat.Search(query)
}

// StatusRaid implements status.raid: the derived cluster availability.
func (c *Coordinator) StatusRaid() health.Stats {
	return c.mon.AvailabilityStats(D)
}

// StatusNodes implements status.nodes: the cached per-node liveness.
func (c *Coordinator) StatusNodes() map[int]health.NodeStatus {
	return c.mon.Snapshot()
}

// StatusHealth implements status.health: an alias of StatusRaid for the
// whole-system liveness view.
func (c *Coordinator) StatusHealth() health.Stats {
	return c.mon.AvailabilityStats(D)
}
