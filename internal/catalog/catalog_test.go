package catalog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/minio/raidfive/internal/apierrors"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func sampleRecord(name string) FileRecord {
	return FileRecord{
		FileID:      "file-1",
		FileName:    name,
		Size:        12,
		ContentType: "application/pdf",
		UploadedAt:  time.Now(),
		Blocks: []BlockDescriptor{
			{NodeID: 1, BlockID: "blk-0", StripeIndex: 0, Position: 0, Checksum: "aa"},
			{NodeID: 2, BlockID: "blk-1", StripeIndex: 0, Position: 1, Checksum: "bb"},
			{NodeID: 3, BlockID: "blk-2", StripeIndex: 0, Position: 2, Checksum: "cc"},
			{NodeID: 4, BlockID: "blk-p", StripeIndex: 0, Position: -1, IsParity: true, Checksum: "dd"},
		},
	}
}

func TestBeginCommitGetRoundTrip(t *testing.T) {
	c := newTestCatalog(t)
	rec := sampleRecord("Report.pdf")

	if err := c.BeginUpload(rec); err != nil {
		t.Fatalf("BeginUpload: %v", err)
	}
	// Not observable until committed.
	if _, err := c.Get("report.pdf"); err != apierrors.ErrNotFound {
		t.Fatalf("got %v want ErrNotFound before commit", err)
	}

	if err := c.CommitUpload(rec.FileName, rec.Blocks); err != nil {
		t.Fatalf("CommitUpload: %v", err)
	}

	got, err := c.Get("report.pdf") // case-insensitive lookup
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.FileName != rec.FileName || len(got.Blocks) != 4 {
		t.Fatalf("got %+v", got)
	}
	if !got.Complete {
		t.Fatal("expected Complete true after commit")
	}
}

func TestBeginUploadAlreadyExists(t *testing.T) {
	c := newTestCatalog(t)
	rec := sampleRecord("dup.pdf")
	if err := c.BeginUpload(rec); err != nil {
		t.Fatalf("BeginUpload: %v", err)
	}
	if err := c.CommitUpload(rec.FileName, rec.Blocks); err != nil {
		t.Fatalf("CommitUpload: %v", err)
	}
	if err := c.BeginUpload(rec); err != apierrors.ErrAlreadyExists {
		t.Fatalf("got %v want ErrAlreadyExists", err)
	}
}

func TestIncompleteEntryDroppedOnReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.db")

	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rec := sampleRecord("partial.pdf")
	if err := c.BeginUpload(rec); err != nil {
		t.Fatalf("BeginUpload: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c2.Close()

	if _, err := c2.Get("partial.pdf"); err != apierrors.ErrNotFound {
		t.Fatalf("got %v want ErrNotFound for reconciled entry", err)
	}
}

func TestRemoveIdempotent(t *testing.T) {
	c := newTestCatalog(t)
	rec := sampleRecord("gone.pdf")
	if err := c.BeginUpload(rec); err != nil {
		t.Fatalf("BeginUpload: %v", err)
	}
	if err := c.CommitUpload(rec.FileName, rec.Blocks); err != nil {
		t.Fatalf("CommitUpload: %v", err)
	}
	if err := c.Remove("gone.pdf"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := c.Remove("gone.pdf"); err != nil {
		t.Fatalf("second Remove should be a no-op, got %v", err)
	}
	if c.Exists("gone.pdf") {
		t.Fatal("expected entry gone")
	}
}

func TestListOrderedAndSearch(t *testing.T) {
	c := newTestCatalog(t)
	for _, name := range []string{"alpha.pdf", "beta.pdf", "alphabet.pdf"} {
		rec := sampleRecord(name)
		if err := c.BeginUpload(rec); err != nil {
			t.Fatalf("BeginUpload(%s): %v", name, err)
		}
		if err := c.CommitUpload(rec.FileName, rec.Blocks); err != nil {
			t.Fatalf("CommitUpload(%s): %v", name, err)
		}
	}

	all, err := c.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d entries, want 3", len(all))
	}

	found, err := c.Search("alpha")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("got %d matches, want 2", len(found))
	}
}

func TestStripeCount(t *testing.T) {
	rec := sampleRecord("multi.pdf")
	rec.Blocks = append(rec.Blocks,
		BlockDescriptor{NodeID: 1, BlockID: "blk-3", StripeIndex: 1, Position: 0},
		BlockDescriptor{NodeID: 2, BlockID: "blk-4", StripeIndex: 1, Position: 1},
	)
	if got := rec.StripeCount(); got != 2 {
		t.Fatalf("StripeCount = %d, want 2", got)
	}
}
