package blockstore

import (
	"os"
	"testing"

	"github.com/minio/raidfive/internal/apierrors"
	"github.com/minio/raidfive/internal/parity"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir, 1<<20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestStoreRetrieveRoundTrip(t *testing.T) {
	s := newTestStore(t)
	data := []byte("hello stripe")

	if err := s.StoreBlock("blk-1", data); err != nil {
		t.Fatalf("StoreBlock: %v", err)
	}
	got, err := s.RetrieveBlock("blk-1")
	if err != nil {
		t.Fatalf("RetrieveBlock: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("got %q want %q", got, data)
	}
	if !s.BlockExists("blk-1") {
		t.Fatal("expected block to exist")
	}
}

func TestRetrieveNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.RetrieveBlock("missing"); err != apierrors.ErrNotFound {
		t.Fatalf("got %v want ErrNotFound", err)
	}
}

func TestRetrieveIntegrityFailure(t *testing.T) {
	s := newTestStore(t)
	data := []byte("payload")
	if err := s.StoreBlock("blk-2", data); err != nil {
		t.Fatalf("StoreBlock: %v", err)
	}

	// Corrupt the payload on disk directly, bypassing the store API.
	if err := os.WriteFile(s.dataPath("blk-2"), []byte("tampered"), 0o644); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	if _, err := s.RetrieveBlock("blk-2"); err != apierrors.ErrIntegrity {
		t.Fatalf("got %v want ErrIntegrity", err)
	}
}

func TestStoreInsufficientSpace(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.StoreBlock("big", make([]byte, 16)); err != apierrors.ErrInsufficientSpace {
		t.Fatalf("got %v want ErrInsufficientSpace", err)
	}
}

func TestDeleteBlock(t *testing.T) {
	s := newTestStore(t)
	if err := s.StoreBlock("blk-3", []byte("x")); err != nil {
		t.Fatalf("StoreBlock: %v", err)
	}
	if err := s.DeleteBlock("blk-3"); err != nil {
		t.Fatalf("DeleteBlock: %v", err)
	}
	if s.BlockExists("blk-3") {
		t.Fatal("expected block gone")
	}
	if err := s.DeleteBlock("blk-3"); err != apierrors.ErrNotFound {
		t.Fatalf("got %v want ErrNotFound", err)
	}
}

func TestListBlocksSorted(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"c", "a", "b"} {
		if err := s.StoreBlock(id, []byte(id)); err != nil {
			t.Fatalf("StoreBlock(%s): %v", id, err)
		}
	}
	ids, err := s.ListBlocks()
	if err != nil {
		t.Fatalf("ListBlocks: %v", err)
	}
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if ids[i] != id {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
}

func TestCleanupOrphans(t *testing.T) {
	s := newTestStore(t)
	if err := s.StoreBlock("orphan-data", []byte("x")); err != nil {
		t.Fatalf("StoreBlock: %v", err)
	}
	// Remove only the sidecar, leaving an orphaned payload.
	if err := os.Remove(s.metaPath("orphan-data")); err != nil {
		t.Fatalf("remove sidecar: %v", err)
	}

	removed, err := s.CleanupOrphans()
	if err != nil {
		t.Fatalf("CleanupOrphans: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if s.BlockExists("orphan-data") {
		t.Fatal("expected orphaned payload reaped")
	}
}

func TestVerifyIntegrity(t *testing.T) {
	s := newTestStore(t)
	data := []byte("verify me")
	if err := s.StoreBlock("blk-4", data); err != nil {
		t.Fatalf("StoreBlock: %v", err)
	}
	ok, err := s.VerifyIntegrity("blk-4", parity.Checksum(data))
	if err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}
	if !ok {
		t.Fatal("expected checksum to verify")
	}
}

func TestUsedAndAvailableSpace(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 100)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.StoreBlock("a", make([]byte, 30)); err != nil {
		t.Fatalf("StoreBlock: %v", err)
	}
	if s.UsedSpace() != 30 {
		t.Fatalf("used = %d, want 30", s.UsedSpace())
	}
	if s.AvailableSpace() != 70 {
		t.Fatalf("available = %d, want 70", s.AvailableSpace())
	}
}
