// Copyright 2024 The udfcore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package extent

// maxRunLengthBytes is the largest value the 30-bit on-disk AD length
// field can carry, per spec.md §3.
const maxRunLengthBytes = 1<<30 - 1

// MergeAdjacent fuses consecutive runs whose states are equal and whose
// LBNs are contiguous, per spec.md §4.E. blockSize is needed to compute
// how many blocks a recorded run's Length spans when checking LBN
// contiguity; sparse and in-ICB runs merge without consulting LBNs at
// all. A merge that would overflow the on-disk 30-bit length field is
// left split rather than silently truncated.
func MergeAdjacent(mapping []Run, blockSize uint32) []Run {
	if len(mapping) == 0 {
		return mapping
	}
	out := make([]Run, 0, len(mapping))
	cur := mapping[0]
	for _, r := range mapping[1:] {
		if mergeable(cur, r, blockSize) && uint64(cur.Length)+uint64(r.Length) <= maxRunLengthBytes {
			cur.Length += r.Length
			continue
		}
		out = append(out, cur)
		cur = r
	}
	out = append(out, cur)
	return out
}

func mergeable(a, b Run, blockSize uint32) bool {
	if a.State != b.State {
		return false
	}
	switch a.State {
	case NotAllocatedNotRecorded, InICB:
		return true
	default:
		if blockSize == 0 || a.Length%blockSize != 0 {
			return false
		}
		return a.Partition == b.Partition && a.LBN+a.Length/blockSize == b.LBN
	}
}

// SplitAt returns (prefix, suffix) such that the prefix's total length is
// exactly offset bytes into mapping, splitting the run straddling offset
// in two, per spec.md §4.E. blockSize advances a recorded run's LBN by
// whole blocks for the suffix half; offset need not itself be
// block-aligned (callers that require alignment, e.g. Resize shrinking a
// recorded file, enforce that separately).
func SplitAt(mapping []Run, offset uint64, blockSize uint32) (prefix, suffix []Run) {
	var consumed uint64
	for i, r := range mapping {
		rl := uint64(r.Length)
		if consumed+rl <= offset {
			prefix = append(prefix, r)
			consumed += rl
			continue
		}

		splitPoint := uint32(offset - consumed)
		if splitPoint > 0 {
			left := r
			left.Length = splitPoint
			prefix = append(prefix, left)

			right := r
			right.Length = r.Length - splitPoint
			if !r.IsSparse() && r.State != InICB && blockSize > 0 {
				right.LBN = r.LBN + splitPoint/blockSize
			}
			suffix = append(suffix, right)
		} else {
			suffix = append(suffix, r)
		}
		suffix = append(suffix, mapping[i+1:]...)
		return prefix, suffix
	}
	return prefix, nil
}

// PadLastRunTo extends the final run's Length up to the next multiple of
// blockSize, the way spec.md §4.E's pad_last_sector pads the tail so a
// torn read of it sees defined content. It never shrinks the mapping.
func PadLastRunTo(mapping []Run, blockSize uint32) []Run {
	if len(mapping) == 0 || blockSize == 0 {
		return mapping
	}
	out := append([]Run(nil), mapping...)
	last := &out[len(out)-1]
	if r := last.Length % blockSize; r != 0 {
		last.Length += blockSize - r
	}
	return out
}
