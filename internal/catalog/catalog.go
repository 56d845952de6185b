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

// Package catalog is the Metadata Catalog: the coordinator's durable index
// from file name to its ordered blocks and their node placement. Backed by
// a single go.etcd.io/bbolt file with one bucket, keyed by lower-cased file
// name, values JSON-encoded FileRecord.
package catalog

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/pkg/errors"

	"github.com/minio/raidfive/internal/apierrors"
	"github.com/minio/raidfive/internal/xlog"
)

var bucketFiles = []byte("files")

// BlockDescriptor is the Catalog's record of one block: which node holds it,
// where it sits in its stripe, and the checksum it was stored with. The
// Coordinator never holds block bytes itself, only this descriptor.
type BlockDescriptor struct {
	NodeID      int    `json:"nodeId"`
	BlockID     string `json:"blockId"`
	StripeIndex int    `json:"stripeIndex"`
	Position    int    `json:"position"` // 0..D-1 for data, -1 sentinel for parity
	IsParity    bool   `json:"isParity"`
	Checksum    string `json:"checksum"`
}

// FileRecord is the Catalog's durable entry for one file.
type FileRecord struct {
	FileID      string            `json:"fileId"`
	FileName    string            `json:"fileName"`
	Size        int64             `json:"size"`
	ContentType string            `json:"contentType"`
	UploadedAt  time.Time         `json:"uploadedAt"`
	Blocks      []BlockDescriptor `json:"blocks"`
	Complete    bool              `json:"complete"`
}

// dataBlocks returns the file's data block descriptors in position order.
func (f FileRecord) dataBlocks() []BlockDescriptor {
	out := make([]BlockDescriptor, 0, len(f.Blocks))
	for _, b := range f.Blocks {
		if !b.IsParity {
			out = append(out, b)
		}
	}
	return out
}

// StripeCount returns the number of stripes the file spans.
func (f FileRecord) StripeCount() int {
	max := -1
	for _, b := range f.Blocks {
		if b.StripeIndex > max {
			max = b.StripeIndex
		}
	}
	return max + 1
}

// Catalog is the coordinator's single-writer-per-file-name metadata index.
// Concurrent operations on the same file name are serialized with a striped
// lock; different file names proceed in parallel, matching the Catalog's
// single-writer discipline.
type Catalog struct {
	db *bolt.DB

	keyed sync.Map // lower-cased file name -> *sync.Mutex
}

// Open opens (creating if necessary) the bbolt-backed catalog at path and
// reconciles it: any record left with Complete == false after a crash
// mid-write is dropped; the blocks it referenced are left for each owning
// node's cleanupOrphans to reap, since the Catalog never deletes blocks
// directly.
func Open(path string) (*Catalog, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open catalog")
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketFiles)
		return err
	}); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create catalog bucket")
	}

	c := &Catalog{db: db}
	dropped, err := c.reconcile()
	if err != nil {
		db.Close()
		return nil, err
	}
	if dropped > 0 {
		xlog.Warn("catalog reconciliation dropped incomplete entries", zap.Int("count", dropped))
	}
	return c, nil
}

// reconcile drops every record whose Complete flag is false.
func (c *Catalog) reconcile() (int, error) {
	var stale [][]byte
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		return b.ForEach(func(k, v []byte) error {
			var rec FileRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil // tolerate a corrupt entry rather than fail startup
			}
			if !rec.Complete {
				key := append([]byte(nil), k...)
				stale = append(stale, key)
			}
			return nil
		})
	})
	if err != nil {
		return 0, errors.Wrap(err, "scan catalog")
	}
	if len(stale) == 0 {
		return 0, nil
	}

	err = c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "drop incomplete catalog entries")
	}
	return len(stale), nil
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) lockFor(fileName string) func() {
	key := strings.ToLower(fileName)
	v, _ := c.keyed.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// BeginUpload reserves a catalog entry for fileName with Complete == false.
// Returns ErrAlreadyExists if a complete entry already exists under that
// name (case-insensitive).
func (c *Catalog) BeginUpload(rec FileRecord) error {
	unlock := c.lockFor(rec.FileName)
	defer unlock()

	key := []byte(strings.ToLower(rec.FileName))
	rec.Complete = false

	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		if existing := b.Get(key); existing != nil {
			var prev FileRecord
			if err := json.Unmarshal(existing, &prev); err == nil && prev.Complete {
				return apierrors.ErrAlreadyExists
			}
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// CommitUpload marks fileName's entry complete, making it observable to
// Get/List/Search. Called only after every stripe of the file has committed
// to its nodes.
func (c *Catalog) CommitUpload(fileName string, blocks []BlockDescriptor) error {
	unlock := c.lockFor(fileName)
	defer unlock()

	key := []byte(strings.ToLower(fileName))
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		data := b.Get(key)
		if data == nil {
			return apierrors.ErrNotFound
		}
		var rec FileRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		rec.Blocks = blocks
		rec.Complete = true
		out, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(key, out)
	})
}

// Get returns the File record for fileName, or ErrNotFound. An incomplete
// (in-flight) entry is treated as not found - only committed files are
// observable, per the Catalog's publish-on-commit rule.
func (c *Catalog) Get(fileName string) (FileRecord, error) {
	key := []byte(strings.ToLower(fileName))
	var rec FileRecord
	found := false
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		data := b.Get(key)
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return FileRecord{}, errors.Wrap(err, "read catalog entry")
	}
	if !found || !rec.Complete {
		return FileRecord{}, apierrors.ErrNotFound
	}
	return rec, nil
}

// Remove deletes fileName's entry. Idempotent: removing an absent entry is
// not an error, mirroring the coordinator's delete path which removes the
// Catalog entry even when some node-side block deletes already failed.
func (c *Catalog) Remove(fileName string) error {
	unlock := c.lockFor(fileName)
	defer unlock()

	key := []byte(strings.ToLower(fileName))
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFiles).Delete(key)
	})
}

// List returns every complete File record, ordered by upload time.
func (c *Catalog) List() ([]FileRecord, error) {
	var out []FileRecord
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		return b.ForEach(func(k, v []byte) error {
			var rec FileRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			if rec.Complete {
				out = append(out, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "list catalog")
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].UploadedAt.Before(out[j-1].UploadedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

// Search returns every complete File record whose name contains query,
// case-insensitively.
func (c *Catalog) Search(query string) ([]FileRecord, error) {
	all, err := c.List()
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var out []FileRecord
	for _, rec := range all {
		if strings.Contains(strings.ToLower(rec.FileName), q) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Exists reports whether a complete entry exists for fileName.
func (c *Catalog) Exists(fileName string) bool {
	_, err := c.Get(fileName)
	return err == nil
}
