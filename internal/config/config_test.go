package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/minio/raidfive/internal/apierrors"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := s.Get()
	if cfg.BlockSize != 64*1024 {
		t.Fatalf("BlockSize = %d, want 65536", cfg.BlockSize)
	}
	if !cfg.CompressionEnabled {
		t.Fatal("expected CompressionEnabled true by default")
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
blockSize: 131072
maxFileSize: 1048576
nodes:
  - id: 1
    baseUrl: http://node1:9000
  - id: 2
    baseUrl: http://node2:9000
  - id: 3
    baseUrl: http://node3:9000
  - id: 4
    baseUrl: http://node4:9000
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := s.Get()
	if cfg.BlockSize != 131072 {
		t.Fatalf("BlockSize = %d, want 131072", cfg.BlockSize)
	}
	if len(cfg.Nodes) != 4 {
		t.Fatalf("Nodes = %d, want 4", len(cfg.Nodes))
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("RAIDFIVE_BLOCK_SIZE", "262144")
	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := s.Get().BlockSize; got != 262144 {
		t.Fatalf("BlockSize = %d, want 262144", got)
	}
}

func TestInvalidBlockSizeRejected(t *testing.T) {
	t.Setenv("RAIDFIVE_BLOCK_SIZE", "4")
	if _, err := Load(""); !isInvalidConfig(err) {
		t.Fatalf("got %v, want ErrInvalidConfig", err)
	}
}

func TestInvalidFleetSizeRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
nodes:
  - id: 1
    baseUrl: http://node1:9000
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); !isInvalidConfig(err) {
		t.Fatalf("got %v, want ErrInvalidConfig", err)
	}
}

func TestSetValidatesBeforeApplying(t *testing.T) {
	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	bad := s.Get()
	bad.MaxFileSize = -1
	if err := s.Set(bad); !isInvalidConfig(err) {
		t.Fatalf("got %v, want ErrInvalidConfig", err)
	}
	if s.Get().MaxFileSize == -1 {
		t.Fatal("invalid config must not be applied")
	}
}

func isInvalidConfig(err error) bool {
	return err != nil && errors.Is(err, apierrors.ErrInvalidConfig)
}
