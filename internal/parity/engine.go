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

// Package parity is the pure arithmetic and hashing layer: stripe parity
// computation, missing-block reconstruction, and block checksumming. None of
// it ever touches a network or a disk.
package parity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/klauspost/reedsolomon"

	"github.com/minio/raidfive/internal/apierrors"
)

// Engine computes and verifies parity for stripes of a fixed data-block
// width. It is built on a Reed-Solomon encoder with exactly one parity
// shard. At a width of three data shards (the coordinator's D), the
// encoder's parity row is all ones, so the parity shard is the byte-wise
// XOR of the data shards; at other widths above one it is a weighted
// Reed-Solomon sum, not a plain XOR.
type Engine struct {
	dataBlocks int
	enc        reedsolomon.Encoder
}

// New returns an Engine for stripes with the given number of data blocks
// and exactly one parity block (RAID-5 width).
func New(dataBlocks int) (*Engine, error) {
	if dataBlocks < 1 {
		return nil, apierrors.ErrInvalidInput
	}
	enc, err := reedsolomon.New(dataBlocks, 1)
	if err != nil {
		return nil, err
	}
	return &Engine{dataBlocks: dataBlocks, enc: enc}, nil
}

// maxLen returns the length of the longest block in the set.
func maxLen(blocks [][]byte) int {
	m := 0
	for _, b := range blocks {
		if len(b) > m {
			m = len(b)
		}
	}
	return m
}

// padded returns a copy of b zero-extended to length n. Shorter blocks
// contribute zero bytes beyond their end, as spec requires for a file's
// final, partial stripe.
func padded(b []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, b)
	return out
}

// ComputeParity returns the parity of dataBlocks (the byte-wise XOR at the
// coordinator's width of three), zero-padded to the length of the longest
// member. Fails when dataBlocks is empty or holds more blocks than the
// engine's width.
func (e *Engine) ComputeParity(dataBlocks [][]byte) ([]byte, error) {
	if len(dataBlocks) == 0 || len(dataBlocks) > e.dataBlocks {
		return nil, apierrors.ErrInvalidInput
	}
	width := maxLen(dataBlocks)
	if width == 0 {
		return make([]byte, 0), nil
	}

	shards := make([][]byte, e.dataBlocks+1)
	for i := 0; i < e.dataBlocks; i++ {
		if i < len(dataBlocks) {
			shards[i] = padded(dataBlocks[i], width)
		} else {
			shards[i] = make([]byte, width)
		}
	}
	shards[e.dataBlocks] = make([]byte, width)

	if err := e.enc.Encode(shards); err != nil {
		return nil, err
	}
	return shards[e.dataBlocks], nil
}

// RecoverBlock reconstructs the data block at missingPosition from the
// surviving data blocks (nil entries mark blocks not supplied) plus parity.
// Precondition: exactly one member of the stripe (data or parity) is
// missing - the caller must already have D-1 surviving data blocks plus
// parity. Violating this yields an incorrect result; the engine has no way
// to detect the violation.
func (e *Engine) RecoverBlock(survivingDataBlocks [][]byte, parityBlock []byte, missingPosition int) ([]byte, error) {
	if missingPosition < 0 || missingPosition >= e.dataBlocks {
		return nil, apierrors.ErrInvalidInput
	}
	width := len(parityBlock)
	if width == 0 {
		width = maxLen(survivingDataBlocks)
	}

	shards := make([][]byte, e.dataBlocks+1)
	for i := 0; i < e.dataBlocks; i++ {
		if i == missingPosition {
			continue
		}
		if i < len(survivingDataBlocks) && survivingDataBlocks[i] != nil {
			shards[i] = padded(survivingDataBlocks[i], width)
		}
	}
	shards[e.dataBlocks] = padded(parityBlock, width)

	if err := e.enc.Reconstruct(shards); err != nil {
		return nil, err
	}
	return shards[missingPosition], nil
}

// VerifyParity reports whether computeParity(dataBlocks) equals parityBlock
// byte-for-byte.
func (e *Engine) VerifyParity(dataBlocks [][]byte, parityBlock []byte) (bool, error) {
	computed, err := e.ComputeParity(dataBlocks)
	if err != nil {
		return false, err
	}
	if len(computed) != len(parityBlock) {
		return false, nil
	}
	for i := range computed {
		if computed[i] != parityBlock[i] {
			return false, nil
		}
	}
	return true, nil
}

// Checksum returns the lower-case hex SHA-256 digest of b.
func Checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// VerifyChecksum reports whether Checksum(b) equals expected, compared
// case-insensitively.
func VerifyChecksum(b []byte, expected string) bool {
	return strings.EqualFold(Checksum(b), expected)
}
