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

package coordinator

import (
	"context"
	"strconv"
	"time"

	"github.com/minio/raidfive/internal/metrics"
	"github.com/minio/raidfive/internal/transport"
)

// NodeProber adapts a transport.NodeClient into a health.Prober by calling
// the node's blocks.health endpoint and timing the round trip.
type NodeProber struct {
	nodeID int
	client *transport.NodeClient
}

// NewNodeProber builds a Prober bound to one node's client.
func NewNodeProber(nodeID int, client *transport.NodeClient) *NodeProber {
	return &NodeProber{nodeID: nodeID, client: client}
}

// Probe implements health.Prober.
func (p *NodeProber) Probe(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	_, err := p.client.Health(ctx)
	latency := time.Since(start)
	metrics.NodeProbeDuration.WithLabelValues(strconv.Itoa(p.nodeID)).Observe(latency.Seconds())
	return latency, err
}
