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

// Package config is the versioned, mutex-guarded server configuration
// loaded at startup from a YAML file plus environment overrides.
package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/minio/raidfive/internal/apierrors"
)

const configVersion = "1"

// NodeEndpoint is one entry of the fixed node fleet.
type NodeEndpoint struct {
	ID      int    `yaml:"id"`
	BaseURL string `yaml:"baseUrl"`
}

// ServerConfig is the system parameters table from the external interface
// contract, plus the fixed node fleet both processes need to agree on.
type ServerConfig struct {
	Version string `yaml:"version"`

	Nodes []NodeEndpoint `yaml:"nodes"`

	BlockSize            int64         `yaml:"blockSize"`
	MaxFileSize          int64         `yaml:"maxFileSize"`
	MaxNodeStorage       int64         `yaml:"maxNodeStorage"`
	RequestTimeout       time.Duration `yaml:"requestTimeout"`
	MaxRetryAttempts     int           `yaml:"maxRetryAttempts"`
	RetryDelay           time.Duration `yaml:"retryDelay"`
	HealthCheckInterval  time.Duration `yaml:"healthCheckInterval"`
	NodeFailureThreshold time.Duration `yaml:"nodeFailureThreshold"`
	CompressionEnabled   bool          `yaml:"compressionEnabled"`
	CompressionThreshold int64         `yaml:"compressionThreshold"`

	CoordinatorListenAddr string `yaml:"coordinatorListenAddr"`
	NodeListenAddr        string `yaml:"nodeListenAddr"`
	DataDir               string `yaml:"dataDir"`
	Debug                 bool   `yaml:"debug"`
}

// Default returns the system parameter defaults from the external interface
// spec.
func Default() ServerConfig {
	return ServerConfig{
		Version:              configVersion,
		BlockSize:            64 * 1024,
		MaxFileSize:          100 * 1024 * 1024,
		MaxNodeStorage:       0, // 0 = unbounded advisory cap
		RequestTimeout:       10 * time.Second,
		MaxRetryAttempts:     3,
		RetryDelay:           time.Second,
		HealthCheckInterval:  30 * time.Second,
		NodeFailureThreshold: 2 * time.Minute,
		CompressionEnabled:   true,
		CompressionThreshold: 32 * 1024,
		CoordinatorListenAddr: ":8000",
		NodeListenAddr:        ":9000",
		DataDir:               "./data",
	}
}

// store holds the live, mutex-guarded configuration an already-running
// process reads from, rather than passing ServerConfig by value through
// every call site.
type store struct {
	mu  sync.RWMutex
	cfg ServerConfig
}

// Store is the shared handle both cmd/coordinator and cmd/node hold.
type Store struct {
	s *store
}

// Load reads path as YAML over the defaults, applies environment overrides,
// validates the result, and returns a Store. Returns ErrInvalidConfig if any
// invariant in the system parameters table is violated.
func Load(path string) (*Store, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, errors.Wrap(err, "read config file")
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrap(err, "parse config file")
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &Store{s: &store{cfg: cfg}}, nil
}

func applyEnvOverrides(cfg *ServerConfig) {
	if v := os.Getenv("RAIDFIVE_BLOCK_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.BlockSize = n
		}
	}
	if v := os.Getenv("RAIDFIVE_MAX_FILE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxFileSize = n
		}
	}
	if v := os.Getenv("RAIDFIVE_COMPRESSION_ENABLED"); v != "" {
		cfg.CompressionEnabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("RAIDFIVE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("RAIDFIVE_COORDINATOR_ADDR"); v != "" {
		cfg.CoordinatorListenAddr = v
	}
	if v := os.Getenv("RAIDFIVE_NODE_ADDR"); v != "" {
		cfg.NodeListenAddr = v
	}
	if v := os.Getenv("RAIDFIVE_DEBUG"); v != "" {
		cfg.Debug = strings.EqualFold(v, "true") || v == "1"
	}
}

const (
	minBlockSize = 1 * 1024
	maxBlockSize = 1 * 1024 * 1024
	fleetSize    = 4
)

func validate(cfg ServerConfig) error {
	if cfg.BlockSize < minBlockSize || cfg.BlockSize > maxBlockSize {
		return errors.Wrapf(apierrors.ErrInvalidConfig, "blockSize %d out of range [%d, %d]", cfg.BlockSize, minBlockSize, maxBlockSize)
	}
	if cfg.MaxFileSize <= 0 {
		return errors.Wrap(apierrors.ErrInvalidConfig, "maxFileSize must be positive")
	}
	if cfg.RequestTimeout <= 0 {
		return errors.Wrap(apierrors.ErrInvalidConfig, "requestTimeout must be positive")
	}
	if cfg.MaxRetryAttempts < 0 {
		return errors.Wrap(apierrors.ErrInvalidConfig, "maxRetryAttempts must be non-negative")
	}
	if cfg.HealthCheckInterval <= 0 {
		return errors.Wrap(apierrors.ErrInvalidConfig, "healthCheckInterval must be positive")
	}
	if cfg.NodeFailureThreshold <= 0 {
		return errors.Wrap(apierrors.ErrInvalidConfig, "nodeFailureThreshold must be positive")
	}
	if len(cfg.Nodes) > 0 && len(cfg.Nodes) != fleetSize {
		return errors.Wrapf(apierrors.ErrInvalidConfig, "fleet must have exactly %d nodes, got %d", fleetSize, len(cfg.Nodes))
	}
	seen := make(map[int]bool, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		if n.BaseURL == "" {
			return errors.Wrap(apierrors.ErrInvalidConfig, "node baseUrl must not be empty")
		}
		if seen[n.ID] {
			return errors.Wrapf(apierrors.ErrInvalidConfig, "duplicate node id %d", n.ID)
		}
		seen[n.ID] = true
	}
	return nil
}

// Get returns a snapshot of the current configuration.
func (s *Store) Get() ServerConfig {
	s.s.mu.RLock()
	defer s.s.mu.RUnlock()
	return s.s.cfg
}

// Set replaces the live configuration after validating it. Existing
// transport.NodeClient instances already constructed from the old policy
// are unaffected - per the immutable-transport-policy design, callers must
// reconstruct clients to observe a change. A reconstructed client picks up
// new retry settings, but the request timeout and connection cap of an
// endpoint's pooled *http.Client stay as first built.
func (s *Store) Set(cfg ServerConfig) error {
	if err := validate(cfg); err != nil {
		return err
	}
	s.s.mu.Lock()
	defer s.s.mu.Unlock()
	s.s.cfg = cfg
	return nil
}
