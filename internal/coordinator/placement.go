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

import "fmt"

// N is the fixed node fleet size and D the data blocks per stripe (D = N-1).
const (
	N = 4
	D = N - 1
)

// parityNodeFor returns P(s) = (s mod N) + 1, the node holding stripe s's
// parity block. A total function of the stripe index alone - never node
// liveness - so recovery never needs persisted placement metadata beyond
// (stripeIndex, position, isParity).
func parityNodeFor(stripe int) int {
	return (stripe % N) + 1
}

// dataNodeSequence returns the N-1 non-parity nodes for stripe s, in the
// deterministic order the k-th data block is placed into.
func dataNodeSequence(stripe int) [D]int {
	p := parityNodeFor(stripe)
	var seq [D]int
	idx := 0
	for n := 1; n <= N; n++ {
		if n == p {
			continue
		}
		seq[idx] = n
		idx++
	}
	return seq
}

// dataNodeFor returns the node holding position k of stripe s's data blocks.
func dataNodeFor(stripe, position int) int {
	return dataNodeSequence(stripe)[position]
}

// dataBlockID and parityBlockID build a stripe member's blockId, of the form
// <fileId>:s=<stripeIndex>:k=<position>:d or <fileId>:s=<stripeIndex>:p.
func dataBlockID(fileID string, stripe, position int) string {
	return fmt.Sprintf("%s:s=%d:k=%d:d", fileID, stripe, position)
}

func parityBlockID(fileID string, stripe int) string {
	return fmt.Sprintf("%s:s=%d:p", fileID, stripe)
}

// chunkBytes slices data into contiguous blocks of at most blockSize bytes
// each. The last block may be shorter.
func chunkBytes(data []byte, blockSize int64) [][]byte {
	n := int64(len(data))
	count := (n + blockSize - 1) / blockSize
	out := make([][]byte, 0, count)
	for i := int64(0); i < count; i++ {
		start := i * blockSize
		end := start + blockSize
		if end > n {
			end = n
		}
		out = append(out, data[start:end])
	}
	return out
}

// groupStripes groups data blocks into stripes of at most D contiguous
// blocks each; the final stripe may be short.
func groupStripes(blocks [][]byte) [][][]byte {
	var stripes [][][]byte
	for i := 0; i < len(blocks); i += D {
		end := i + D
		if end > len(blocks) {
			end = len(blocks)
		}
		stripes = append(stripes, blocks[i:end])
	}
	return stripes
}
