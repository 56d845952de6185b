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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"

	"github.com/minio/raidfive/internal/apierrors"
)

// Policy is the immutable transport configuration a NodeClient is built
// with. A new Policy means a new client; existing clients never observe a
// change to one that was already handed out. RequestTimeout and
// MaxConnectionsPerHost only take effect for the first client built for an
// endpoint: later clients for the same endpoint share its pooled
// *http.Client and keep those original settings.
type Policy struct {
	RequestTimeout        time.Duration
	MaxRetryAttempts      int
	RetryDelay            time.Duration
	MaxConnectionsPerHost int
	CompressionEnabled    bool
	CompressionThreshold  int
}

// DefaultPolicy mirrors the system parameter defaults from the external
// interface spec.
func DefaultPolicy() Policy {
	return Policy{
		RequestTimeout:        10 * time.Second,
		MaxRetryAttempts:      3,
		RetryDelay:            time.Second,
		MaxConnectionsPerHost: 32,
		CompressionEnabled:    true,
		CompressionThreshold:  32 * 1024,
	}
}

// NodeClient is the coordinator's view of one node: the Block Store
// contract plus a health probe, carried over HTTP with pooling, retry, and
// optional compression baked in at construction time.
type NodeClient struct {
	nodeID   int
	baseURL  string
	policy   Policy
	inner    *retryablehttp.Client
	http     *http.Client
}

// NewNodeClient builds a client bound to one node and one immutable policy.
func NewNodeClient(nodeID int, baseURL string, policy Policy) (*NodeClient, error) {
	httpClient, err := shared.clientFor(baseURL, policy.MaxConnectionsPerHost, policy.RequestTimeout)
	if err != nil {
		return nil, err
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = httpClient
	rc.RetryMax = policy.MaxRetryAttempts
	rc.RetryWaitMin = policy.RetryDelay
	rc.RetryWaitMax = policy.RetryDelay
	rc.Logger = nil
	// Only retry transport failures and 5xx; 4xx is a client error and
	// must never be retried.
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}
		if resp.StatusCode == 0 || resp.StatusCode >= 500 {
			return true, nil
		}
		return false, nil
	}

	return &NodeClient{
		nodeID:  nodeID,
		baseURL: baseURL,
		policy:  policy,
		inner:   rc,
		http:    httpClient,
	}, nil
}

// NodeID returns the node this client is bound to.
func (c *NodeClient) NodeID() int { return c.nodeID }

func (c *NodeClient) maybeCompress(body []byte) ([]byte, string, error) {
	if !c.policy.CompressionEnabled || len(body) < c.policy.CompressionThreshold {
		return body, "", nil
	}
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(body); err != nil {
		return nil, "", err
	}
	if err := gw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "gzip", nil
}

func maybeDecompress(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.Header.Get("Content-Encoding") != "gzip" {
		return body, nil
	}
	gr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer gr.Close()
	return io.ReadAll(gr)
}

func (c *NodeClient) do(ctx context.Context, method, path string, body []byte, headers http.Header) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apierrors.ErrTransport, err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept-Encoding", "gzip")
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := c.inner.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apierrors.ErrNodeUnavailable, err)
	}
	return resp, nil
}

func errorFromResponse(resp *http.Response) error {
	defer resp.Body.Close()
	var eb ErrorBody
	_ = json.NewDecoder(resp.Body).Decode(&eb)

	switch resp.StatusCode {
	case http.StatusNotFound:
		return apierrors.ErrNotFound
	case http.StatusBadRequest:
		return apierrors.ErrValidation
	case http.StatusInsufficientStorage:
		return apierrors.ErrInsufficientSpace
	case http.StatusUnprocessableEntity:
		return apierrors.ErrIntegrity
	default:
		return apierrors.ErrNodeUnavailable
	}
}

// StoreBlock sends blocks.store for a single block: metadata in headers,
// payload as a binary body, optionally gzip-compressed above
// policy.CompressionThreshold.
func (c *NodeClient) StoreBlock(ctx context.Context, req StoreRequest) (*StoreResponse, error) {
	payload, encoding, err := c.maybeCompress(req.BlockData)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set(HeaderBlockID, req.BlockID)
	headers.Set(HeaderIsParity, strconv.FormatBool(req.IsParity))
	headers.Set(HeaderStripeIndex, strconv.Itoa(req.StripeIndex))
	headers.Set(HeaderPosition, strconv.Itoa(req.Position))
	headers.Set(HeaderChecksum, req.Checksum)
	headers.Set(HeaderRequestID, req.RequestID)
	headers.Set("Content-Type", "application/octet-stream")
	if encoding != "" {
		headers.Set("Content-Encoding", encoding)
	}

	resp, err := c.do(ctx, http.MethodPost, "/blocks", payload, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, errorFromResponse(resp)
	}

	var out StoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RetrieveBlock sends blocks.retrieve/{blockId}; the payload comes back as
// a binary body, transparently gzip-decoded if the node compressed it.
func (c *NodeClient) RetrieveBlock(ctx context.Context, blockID string) (*RetrieveResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, "/blocks/"+blockID, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, errorFromResponse(resp)
	}

	body, err := maybeDecompress(resp)
	if err != nil {
		return nil, err
	}
	return &RetrieveResponse{
		BlockID:   blockID,
		BlockData: body,
		Checksum:  resp.Header.Get(HeaderChecksum),
	}, nil
}

// DeleteBlock sends blocks.delete/{blockId}.
func (c *NodeClient) DeleteBlock(ctx context.Context, blockID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/blocks/"+blockID, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errorFromResponse(resp)
	}
	return nil
}

// BlockExists sends blocks.exists/{blockId}.
func (c *NodeClient) BlockExists(ctx context.Context, blockID string) (bool, error) {
	resp, err := c.do(ctx, http.MethodHead, "/blocks/"+blockID, nil, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// ListBlocks sends blocks.list.
func (c *NodeClient) ListBlocks(ctx context.Context) ([]string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/blocks", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, errorFromResponse(resp)
	}
	var ids []string
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Info sends blocks.info.
func (c *NodeClient) Info(ctx context.Context) (*InfoResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, "/blocks/info", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, errorFromResponse(resp)
	}
	var out InfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health sends blocks.health - the probe the Health Monitor uses.
func (c *NodeClient) Health(ctx context.Context) (*HealthResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, errorFromResponse(resp)
	}
	var out HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
