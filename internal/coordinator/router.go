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
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/minio/raidfive/internal/apierrors"
	"github.com/minio/raidfive/internal/catalog"
	"github.com/minio/raidfive/internal/metrics"
	"github.com/minio/raidfive/internal/transport"
)

// NewRouter builds the gorilla/mux router the coordinator process serves,
// wrapped in a permissive CORS handler the way a public-facing upload API
// needs to be browser-reachable.
func NewRouter(c *Coordinator) http.Handler {
	r := mux.NewRouter()
	h := &apiHandlers{coord: c}

	r.HandleFunc("/files", h.upload).Methods(http.MethodPost)
	r.HandleFunc("/files", h.list).Methods(http.MethodGet)
	r.HandleFunc("/files/search", h.search).Methods(http.MethodGet)
	r.HandleFunc("/files/{fileName}", h.download).Methods(http.MethodGet)
	r.HandleFunc("/files/{fileName}", h.delete).Methods(http.MethodDelete)
	r.HandleFunc("/files/{fileName}/info", h.info).Methods(http.MethodGet)
	r.HandleFunc("/status/raid", h.statusRaid).Methods(http.MethodGet)
	r.HandleFunc("/status/nodes", h.statusNodes).Methods(http.MethodGet)
	r.HandleFunc("/status/health", h.statusHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler())

	return cors.AllowAll().Handler(r)
}

type apiHandlers struct {
	coord *Coordinator
}

func writeJSONError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apierrors.StatusFor(err))
	_ = json.NewEncoder(w).Encode(transport.ErrorBody{Code: apierrors.Code(err), Message: apierrors.Message(err)})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

const maxUploadBody = 256 << 20 // hard cap well above maxFileSize, guards against an unbounded read

func (h *apiHandlers) upload(w http.ResponseWriter, r *http.Request) {
	fileName := r.URL.Query().Get("fileName")
	if fileName == "" {
		fileName = r.Header.Get("X-File-Name")
	}
	if fileName == "" {
		writeJSONError(w, apierrors.ErrValidation)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/pdf"
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBody+1))
	if err != nil {
		writeJSONError(w, apierrors.ErrTransport)
		return
	}
	if len(body) > maxUploadBody {
		writeJSONError(w, apierrors.ErrValidation)
		return
	}

	res, err := h.coord.Upload(r.Context(), fileName, body, contentType)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeJSON(w, res)
}

func (h *apiHandlers) download(w http.ResponseWriter, r *http.Request) {
	fileName := mux.Vars(r)["fileName"]
	data, contentType, err := h.coord.Download(r.Context(), fileName)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(data)
}

func (h *apiHandlers) delete(w http.ResponseWriter, r *http.Request) {
	fileName := mux.Vars(r)["fileName"]
	deleted, err := h.coord.Delete(r.Context(), fileName)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeJSON(w, struct {
		Deleted int `json:"blocksDeleted"`
	}{Deleted: deleted})
}

func (h *apiHandlers) info(w http.ResponseWriter, r *http.Request) {
	fileName := mux.Vars(r)["fileName"]
	rec, err := h.coord.Info(fileName)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeJSON(w, rec)
}

// listResponse is the documented files.list envelope.
type listResponse struct {
	Files      []catalog.FileRecord `json:"files"`
	TotalCount int                  `json:"totalCount"`
	TotalSize  int64                `json:"totalSize"`
}

// minQueryLength is files.search's minimum query length; shorter queries
// are rejected rather than run as an unbounded full-catalog scan.
const minQueryLength = 2

func (h *apiHandlers) list(w http.ResponseWriter, r *http.Request) {
	files, err := h.coord.List()
	if err != nil {
		writeJSONError(w, apierrors.ErrStorageFailure)
		return
	}
	writeJSON(w, newListResponse(files))
}

func (h *apiHandlers) search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if len(query) < minQueryLength {
		writeJSONError(w, apierrors.ErrValidation)
		return
	}
	files, err := h.coord.Search(query)
	if err != nil {
		writeJSONError(w, apierrors.ErrStorageFailure)
		return
	}
	writeJSON(w, newListResponse(files))
}

func newListResponse(files []catalog.FileRecord) listResponse {
	var totalSize int64
	for _, f := range files {
		totalSize += f.Size
	}
	return listResponse{Files: files, TotalCount: len(files), TotalSize: totalSize}
}

func (h *apiHandlers) statusRaid(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.coord.StatusRaid())
}

func (h *apiHandlers) statusNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.coord.StatusNodes())
}

func (h *apiHandlers) statusHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.coord.StatusHealth())
}
