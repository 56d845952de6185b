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

// Package blockstore is the per-node durable block store: a key->bytes
// mapping with a checksummed sidecar record per block, modeled on a
// payload-plus-metadata split (file.N part plus file.json metadata).
package blockstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/minio/raidfive/internal/apierrors"
	"github.com/minio/raidfive/internal/parity"
)

const (
	dataSuffix = ".data"
	metaSuffix = ".meta.json"
)

// sidecar is the durable record stored next to each block's payload.
type sidecar struct {
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is a single node's durable block store. Operations on distinct
// blockIds may proceed in parallel; operations on the same blockId are
// serialized through keyedMu.
type Store struct {
	baseDir  string
	capacity int64

	keyedMu sync.Map // blockId -> *sync.Mutex

	mu   sync.Mutex // guards usedBytes accounting
	used int64
}

// New opens (and if necessary creates) a block store rooted at baseDir,
// advertising capacity total bytes of advisory space. A capacity of 0
// leaves stores unbounded; AvailableSpace then reports 0.
func New(baseDir string, capacity int64) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, err
	}
	s := &Store{baseDir: baseDir, capacity: capacity}
	used, err := s.scanUsed()
	if err != nil {
		return nil, err
	}
	s.used = used
	return s, nil
}

func (s *Store) scanUsed() (int64, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), dataSuffix) {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

func (s *Store) lockFor(blockID string) func() {
	v, _ := s.keyedMu.LoadOrStore(blockID, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

func validID(blockID string) bool {
	if blockID == "" || strings.ContainsAny(blockID, "/\\") || blockID == "." || blockID == ".." {
		return false
	}
	return true
}

func (s *Store) dataPath(blockID string) string { return filepath.Join(s.baseDir, blockID+dataSuffix) }
func (s *Store) metaPath(blockID string) string { return filepath.Join(s.baseDir, blockID+metaSuffix) }

// StoreBlock persists data under blockID along with a sidecar checksum
// record. Overwriting an existing block is an allowed, idempotent operation
// (last writer wins).
func (s *Store) StoreBlock(blockID string, data []byte) error {
	if !validID(blockID) {
		return apierrors.ErrValidation
	}

	unlock := s.lockFor(blockID)
	defer unlock()

	s.mu.Lock()
	available := s.capacity - s.used
	s.mu.Unlock()
	if s.capacity > 0 && int64(len(data)) > available {
		return apierrors.ErrInsufficientSpace
	}

	prevSize := int64(0)
	if info, err := os.Stat(s.dataPath(blockID)); err == nil {
		prevSize = info.Size()
	}

	if err := os.WriteFile(s.dataPath(blockID), data, 0o644); err != nil {
		return apierrors.ErrStorageFailure
	}

	sc := sidecar{
		Size:      int64(len(data)),
		Checksum:  parity.Checksum(data),
		CreatedAt: time.Now(),
	}
	buf, err := json.Marshal(sc)
	if err != nil {
		return apierrors.ErrStorageFailure
	}
	if err := os.WriteFile(s.metaPath(blockID), buf, 0o644); err != nil {
		return apierrors.ErrStorageFailure
	}

	s.mu.Lock()
	s.used += int64(len(data)) - prevSize
	s.mu.Unlock()

	return nil
}

// RetrieveBlock returns the stored bytes for blockID. Recomputes the
// checksum and compares it to the sidecar record; a mismatch yields
// ErrIntegrity and no payload, never silent corruption.
func (s *Store) RetrieveBlock(blockID string) ([]byte, error) {
	if !validID(blockID) {
		return nil, apierrors.ErrValidation
	}

	unlock := s.lockFor(blockID)
	defer unlock()

	sc, err := s.readSidecar(blockID)
	if err != nil {
		return nil, apierrors.ErrNotFound
	}

	data, err := os.ReadFile(s.dataPath(blockID))
	if err != nil {
		return nil, apierrors.ErrNotFound
	}

	if !parity.VerifyChecksum(data, sc.Checksum) {
		return nil, apierrors.ErrIntegrity
	}
	return data, nil
}

func (s *Store) readSidecar(blockID string) (sidecar, error) {
	buf, err := os.ReadFile(s.metaPath(blockID))
	if err != nil {
		return sidecar{}, err
	}
	var sc sidecar
	if err := json.Unmarshal(buf, &sc); err != nil {
		return sidecar{}, err
	}
	return sc, nil
}

// DeleteBlock removes both artifacts for blockID.
func (s *Store) DeleteBlock(blockID string) error {
	if !validID(blockID) {
		return apierrors.ErrValidation
	}

	unlock := s.lockFor(blockID)
	defer unlock()

	info, statErr := os.Stat(s.dataPath(blockID))
	if statErr != nil {
		return apierrors.ErrNotFound
	}

	if err := os.Remove(s.dataPath(blockID)); err != nil && !os.IsNotExist(err) {
		return apierrors.ErrStorageFailure
	}
	_ = os.Remove(s.metaPath(blockID))

	s.mu.Lock()
	s.used -= info.Size()
	s.mu.Unlock()

	return nil
}

// BlockExists reports whether blockID has a stored payload.
func (s *Store) BlockExists(blockID string) bool {
	if !validID(blockID) {
		return false
	}
	_, err := os.Stat(s.dataPath(blockID))
	return err == nil
}

// ListBlocks returns every blockId with a stored payload, sorted for stable
// output.
func (s *Store) ListBlocks() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), dataSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(ent.Name(), dataSuffix))
	}
	sort.Strings(ids)
	return ids, nil
}

// UsedSpace returns the number of bytes currently occupied by block
// payloads. Eventually consistent with concurrent stores in flight.
func (s *Store) UsedSpace() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

// AvailableSpace returns the advisory remaining capacity.
func (s *Store) AvailableSpace() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	avail := s.capacity - s.used
	if avail < 0 {
		return 0
	}
	return avail
}

// VerifyIntegrity recomputes the checksum for a stored block and compares
// it to expectedChecksum, without going through the normal retrieval error
// path.
func (s *Store) VerifyIntegrity(blockID, expectedChecksum string) (bool, error) {
	unlock := s.lockFor(blockID)
	defer unlock()

	data, err := os.ReadFile(s.dataPath(blockID))
	if err != nil {
		return false, apierrors.ErrNotFound
	}
	return parity.VerifyChecksum(data, expectedChecksum), nil
}

// CleanupOrphans removes sidecar records whose payload is gone, and payload
// files whose sidecar is gone. Returns the count removed.
func (s *Store) CleanupOrphans() (int, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, ent := range entries {
		name := ent.Name()
		switch {
		case strings.HasSuffix(name, metaSuffix):
			id := strings.TrimSuffix(name, metaSuffix)
			if _, err := os.Stat(s.dataPath(id)); os.IsNotExist(err) {
				if err := os.Remove(filepath.Join(s.baseDir, name)); err == nil {
					removed++
				}
			}
		case strings.HasSuffix(name, dataSuffix):
			id := strings.TrimSuffix(name, dataSuffix)
			if _, err := os.Stat(s.metaPath(id)); os.IsNotExist(err) {
				info, _ := ent.Info()
				if err := os.Remove(filepath.Join(s.baseDir, name)); err == nil {
					removed++
					if info != nil {
						s.mu.Lock()
						s.used -= info.Size()
						s.mu.Unlock()
					}
				}
			}
		}
	}
	return removed, nil
}
