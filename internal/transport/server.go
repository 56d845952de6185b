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

package transport

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/minio/raidfive/internal/apierrors"
	"github.com/minio/raidfive/internal/parity"
	"github.com/minio/raidfive/internal/xlog"
)

// NodeBackend is the capability set a node server dispatches onto - the
// Block Store contract plus a handful of counters for blocks.info and
// blocks.health. The coordinator depends only on the HTTP surface in front
// of this, never on a concrete type.
type NodeBackend interface {
	StoreBlock(blockID string, data []byte) error
	RetrieveBlock(blockID string) ([]byte, error)
	DeleteBlock(blockID string) error
	BlockExists(blockID string) bool
	ListBlocks() ([]string, error)
	UsedSpace() int64
	AvailableSpace() int64
}

// HealthSource answers blocks.health for this node's own process.
type HealthSource interface {
	NodeID() int
	Status() NodeStatus
	Uptime() time.Duration
	ErrorCount() int
}

// NewNodeRouter builds the gorilla/mux router a node process serves.
func NewNodeRouter(backend NodeBackend, health HealthSource) *mux.Router {
	r := mux.NewRouter()
	h := &nodeHandlers{backend: backend, health: health}

	r.HandleFunc("/blocks", h.store).Methods(http.MethodPost)
	r.HandleFunc("/blocks", h.list).Methods(http.MethodGet)
	r.HandleFunc("/blocks/info", h.info).Methods(http.MethodGet)
	r.HandleFunc("/blocks/{blockId}", h.retrieve).Methods(http.MethodGet)
	r.HandleFunc("/blocks/{blockId}", h.exists).Methods(http.MethodHead)
	r.HandleFunc("/blocks/{blockId}", h.delete).Methods(http.MethodDelete)
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	return r
}

type nodeHandlers struct {
	backend NodeBackend
	health  HealthSource
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apierrors.StatusFor(err))
	_ = json.NewEncoder(w).Encode(ErrorBody{Code: apierrors.Code(err), Message: apierrors.Message(err)})
}

func (h *nodeHandlers) store(w http.ResponseWriter, r *http.Request) {
	blockID := r.Header.Get(HeaderBlockID)
	if blockID == "" {
		writeError(w, apierrors.ErrValidation)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apierrors.ErrTransport)
		return
	}
	if r.Header.Get("Content-Encoding") == "gzip" {
		gr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			writeError(w, apierrors.ErrValidation)
			return
		}
		defer gr.Close()
		if body, err = io.ReadAll(gr); err != nil {
			writeError(w, apierrors.ErrValidation)
			return
		}
	}

	if err := h.backend.StoreBlock(blockID, body); err != nil {
		xlog.Warn("store block failed", zap.String("blockId", blockID), zap.Error(err))
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(StoreResponse{
		OK:       true,
		StoredAt: time.Now(),
		Checksum: r.Header.Get(HeaderChecksum),
	})
}

func (h *nodeHandlers) retrieve(w http.ResponseWriter, r *http.Request) {
	blockID := mux.Vars(r)["blockId"]

	data, err := h.backend.RetrieveBlock(blockID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set(HeaderChecksum, parity.Checksum(data))
	if wantsGzip(r) && len(data) > 0 {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", "application/octet-stream")
		gw := gzip.NewWriter(w)
		_, _ = gw.Write(data)
		_ = gw.Close()
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (h *nodeHandlers) delete(w http.ResponseWriter, r *http.Request) {
	blockID := mux.Vars(r)["blockId"]
	if err := h.backend.DeleteBlock(blockID); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(DeleteResponse{OK: true})
}

func (h *nodeHandlers) exists(w http.ResponseWriter, r *http.Request) {
	blockID := mux.Vars(r)["blockId"]
	if h.backend.BlockExists(blockID) {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *nodeHandlers) list(w http.ResponseWriter, r *http.Request) {
	ids, err := h.backend.ListBlocks()
	if err != nil {
		writeError(w, apierrors.ErrStorageFailure)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ids)
}

func (h *nodeHandlers) info(w http.ResponseWriter, r *http.Request) {
	used := h.backend.UsedSpace()
	avail := h.backend.AvailableSpace()
	ids, err := h.backend.ListBlocks()
	if err != nil {
		writeError(w, apierrors.ErrStorageFailure)
		return
	}

	var parityBlocks int
	for _, id := range ids {
		if strings.HasSuffix(id, ":p") {
			parityBlocks++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(InfoResponse{
		TotalStorage:     used + avail,
		UsedStorage:      used,
		AvailableStorage: avail,
		TotalBlocks:      len(ids),
		DataBlocks:       len(ids) - parityBlocks,
		ParityBlocks:     parityBlocks,
	})
}

func (h *nodeHandlers) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthResponse{
		NodeID:     h.health.NodeID(),
		Status:     h.health.Status(),
		Uptime:     h.health.Uptime(),
		ErrorCount: h.health.ErrorCount(),
	})
}

func wantsGzip(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		if strings.TrimSpace(part) == "gzip" {
			return true
		}
	}
	return false
}
