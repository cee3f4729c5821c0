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

import (
	"context"

	"github.com/udfcore/udfcore/alloc"
)

// Resize changes info's logical length to newLength in place, per
// spec.md §4.E. When info is currently a single In-ICB run and newLength
// still fits within embeddedCapacity (the caller's File Entry's embedded
// area, in bytes), this is case (a): just the logical length moves, with
// no allocation and nothing to free, since the bytes stay embedded in
// the ICB either way. Otherwise, shrinking frees the trailing runs that
// fall entirely past newLength, marking each one free in the Space
// Allocator directly, and truncates the run straddling the new boundary.
// Growing by less than SparseGrowthThresholdBytes (or with the threshold
// at 0) allocates real blocks up front as AllocatedNotRecorded; once the
// gap reaches the threshold it appends a NotAllocatedNotRecorded hole
// instead, deferring real allocation to the first write that touches it
// -- WriteExtent materializes sparse runs lazily regardless of why they
// were created.
func (e *Engine) Resize(partition int, info *Info, newLength uint64, embeddedCapacity uint64) error {
	if newLength == info.Length {
		return nil
	}
	if len(info.Mapping) == 1 && info.Mapping[0].State == InICB && newLength <= embeddedCapacity {
		info.Length = newLength
		return nil
	}
	if newLength < info.Length {
		return e.shrink(partition, info, newLength)
	}
	return e.grow(partition, info, newLength)
}

func (e *Engine) shrink(partition int, info *Info, newLength uint64) error {
	kept, freed := SplitAt(info.Mapping, newLength, e.blockSize)
	if err := e.freeRuns(partition, freed); err != nil {
		return err
	}
	info.Mapping = MergeAdjacent(kept, e.blockSize)
	info.Length = newLength
	return nil
}

// freeRuns returns data runs straight to the Space Allocator's
// free-space bitmap. Unlike the single-block File Entry freed by
// openfile's DeleteChild, these are the file's own data extents; the FE
// allocation charge pool (spec.md §4.D) exists only to speed up
// "create right after delete in the same directory" reusing an FE
// block, not to hold arbitrary multi-block data runs off the bitmap.
func (e *Engine) freeRuns(partition int, runs []Run) error {
	for _, r := range runs {
		if r.State != Recorded && r.State != AllocatedNotRecorded {
			continue
		}
		blocks := (r.Length + e.blockSize - 1) / e.blockSize
		ar := alloc.Run{LBA: r.LBN, Blocks: blocks}
		if err := e.allocator.Mark(partition, []alloc.Run{ar}, alloc.MarkFree); err != nil {
			return err
		}
	}
	return nil
}

// grow extends info by appending a run covering the new tail bytes. When
// the gap exceeds SparseGrowthThresholdBytes it appends a true
// NotAllocatedNotRecorded hole (LBN stays 0, per P4); otherwise it asks
// the allocator for real backing blocks up front -- preferring
// contiguous extension of the mapping's last run when the allocator
// happens to hand back adjacent blocks, via the MergeAdjacent pass below
// -- and appends them as AllocatedNotRecorded (zero-filled by Alloc,
// not yet counted as written data).
func (e *Engine) grow(partition int, info *Info, newLength uint64) error {
	gap := newLength - info.Length
	if e.SparseGrowthThresholdBytes > 0 && gap >= e.SparseGrowthThresholdBytes {
		info.Mapping = append(info.Mapping, Run{State: NotAllocatedNotRecorded, Length: uint32(gap)})
		info.Mapping = MergeAdjacent(info.Mapping, e.blockSize)
		info.Length = newLength
		return nil
	}

	runs, err := e.allocator.Alloc(partition, gap, 0, ^uint32(0), 0)
	if err != nil {
		return err
	}
	remaining := uint32(gap)
	for _, ar := range runs {
		if remaining == 0 {
			break
		}
		l := ar.Blocks * e.blockSize
		if l > remaining {
			l = remaining
		}
		info.Mapping = append(info.Mapping, Run{State: AllocatedNotRecorded, Partition: partition, LBN: ar.LBA, Length: l})
		remaining -= l
	}
	info.Mapping = MergeAdjacent(info.Mapping, e.blockSize)
	info.Length = newLength
	return nil
}

// ConvertToExtended promotes a run that is currently In-ICB to an
// out-of-line Recorded run, allocating real storage for the embedded
// bytes and copying them across. The caller is responsible for clearing
// the source File Entry's embedded-data flag once this succeeds, per
// spec.md §6's convert_to_extended path (taken the first time an
// embedded file grows past the ICB's remaining capacity).
func (e *Engine) ConvertToExtended(ctx context.Context, partition int, icb []byte) (Run, error) {
	length := uint32(len(icb))
	if length == 0 {
		return Run{}, nil
	}
	runs, err := e.allocator.Alloc(partition, uint64(length), 0, ^uint32(0), 0)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, errCorrupt("extent.ConvertToExtended: allocator returned no runs")
	}
	r := Run{State: Recorded, Partition: partition, LBN: runs[0].LBA, Length: length}
	if err := e.writeRecorded(ctx, r, 0, icb); err != nil {
		return Run{}, err
	}
	return r, nil
}
