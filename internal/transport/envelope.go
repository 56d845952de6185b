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

// Package transport is the inter-node transport contract: the envelope
// shapes the coordinator and each node agree on, plus the coordinator-side
// client that enforces pooling, retry, timeout, and compression policy.
package transport

import "time"

// Header names carrying block metadata alongside a binary payload body.
// Block payload transfer uses a binary body with these headers rather than
// a JSON envelope, per the transport's external interface; every other
// operation (list, info, health, delete) is plain JSON.
const (
	HeaderBlockID     = "X-Block-Id"
	HeaderIsParity    = "X-Is-Parity"
	HeaderStripeIndex = "X-Stripe-Index"
	HeaderPosition    = "X-Position"
	HeaderChecksum    = "X-Checksum"
	HeaderRequestID   = "X-Request-Id"
	HeaderStoredAt    = "X-Stored-At"
)

// Opcode identifies the kind of operation a node request carries.
type Opcode string

const (
	OpStore    Opcode = "store"
	OpRetrieve Opcode = "retrieve"
	OpDelete   Opcode = "delete"
	OpVerify   Opcode = "verify"
	OpGetInfo  Opcode = "get_info"
)

// StoreRequest is the body of blocks.store.
type StoreRequest struct {
	BlockID     string `json:"blockId"`
	BlockData   []byte `json:"blockData"`
	IsParity    bool   `json:"isParity"`
	StripeIndex int    `json:"stripeIndex"`
	Position    int    `json:"position"`
	Checksum    string `json:"checksum"`
	RequestID   string `json:"requestId"`
}

// StoreResponse is the body of a successful blocks.store reply.
type StoreResponse struct {
	OK       bool      `json:"ok"`
	StoredAt time.Time `json:"storedAt"`
	Checksum string    `json:"checksum"`
}

// RetrieveResponse is the body of a successful blocks.retrieve reply.
type RetrieveResponse struct {
	BlockID   string `json:"blockId"`
	BlockData []byte `json:"blockData"`
	Checksum  string `json:"checksum"`
}

// DeleteResponse is the body of a blocks.delete reply.
type DeleteResponse struct {
	OK bool `json:"ok"`
}

// InfoResponse is the body of blocks.info.
type InfoResponse struct {
	TotalStorage     int64 `json:"totalStorage"`
	UsedStorage      int64 `json:"usedStorage"`
	AvailableStorage int64 `json:"availableStorage"`
	TotalBlocks      int   `json:"totalBlocks"`
	DataBlocks       int   `json:"dataBlocks"`
	ParityBlocks     int   `json:"parityBlocks"`
}

// NodeStatus is the liveness value a node's blocks.health reports.
type NodeStatus string

const (
	StatusHealthy  NodeStatus = "Healthy"
	StatusOnline   NodeStatus = "Online"
	StatusDegraded NodeStatus = "Degraded"
	StatusOffline  NodeStatus = "Offline"
)

// HealthResponse is the body of blocks.health.
type HealthResponse struct {
	NodeID     int           `json:"nodeId"`
	Status     NodeStatus    `json:"status"`
	Uptime     time.Duration `json:"uptime"`
	ErrorCount int           `json:"errorCount"`
}

// ErrorBody is the JSON shape of every non-2xx response. Never carries a
// node-internal path or stack trace.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
