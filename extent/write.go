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

import "context"

// WriteExtent writes data at logical offset off of info, which must
// already cover [off, off+len(data)) -- callers extend via Resize first,
// per spec.md §4.E and scenario S4. Any run overlapping the write that
// isn't already Recorded is materialized first: NotAllocatedNotRecorded
// runs are allocated via the Space Allocator (their zero-space bit is
// set by the allocator itself before this function ever touches them,
// so a torn write still reads as zero up to the written prefix),
// AllocatedNotRecorded runs simply flip state. In-ICB data never reaches
// this path; callers write embedded data with WriteEmbedded instead.
func (e *Engine) WriteExtent(ctx context.Context, info *Info, partition int, off uint64, data []byte) (int, error) {
	length := uint64(len(data))
	if length == 0 {
		return 0, nil
	}
	if off+length > info.Length {
		return 0, errInvalidParameter("extent.WriteExtent: write beyond information length; call Resize first")
	}

	if err := e.materializeRange(partition, info, off, length); err != nil {
		return 0, err
	}

	idx, within, ok := locateRun(info.Mapping, info.FirstRunOffset, off)
	if !ok {
		return 0, nil
	}

	var n int
	want := int(length)
	for n < want && idx < len(info.Mapping) {
		r := info.Mapping[idx]
		avail := uint64(r.Length) - within
		chunk := want - n
		if uint64(chunk) > avail {
			chunk = int(avail)
		}
		src := data[n : n+chunk]

		var err error
		switch r.State {
		case Recorded:
			err = e.writeRecorded(ctx, r, within, src)
		case InICB:
			err = errInvalidParameter("extent.WriteExtent: cannot write an In-ICB run through the extent path; use WriteEmbedded")
		default:
			err = errCorrupt("extent.WriteExtent: run was not materialized before write")
		}
		if err != nil {
			return n, err
		}

		n += chunk
		within = 0
		idx++
	}
	return n, nil
}

// materializeRange converts every run of info.Mapping overlapping the
// logical byte range [off, off+length) to Recorded, splicing freshly
// allocated disk runs in place of sparse ones, per spec.md §4.E.
func (e *Engine) materializeRange(partition int, info *Info, off, length uint64) error {
	pos := off + uint64(info.FirstRunOffset)
	end := pos + length

	out := make([]Run, 0, len(info.Mapping))
	var cursor uint64
	for _, r := range info.Mapping {
		rStart := cursor
		rEnd := cursor + uint64(r.Length)
		cursor = rEnd

		overlaps := rStart < end && rEnd > pos
		if !overlaps || (r.State != NotAllocatedNotRecorded && r.State != AllocatedNotRecorded) {
			out = append(out, r)
			continue
		}

		switch r.State {
		case AllocatedNotRecorded:
			r.State = Recorded
			out = append(out, r)
		case NotAllocatedNotRecorded:
			runs, err := e.allocator.Alloc(partition, uint64(r.Length), 0, ^uint32(0), 0)
			if err != nil {
				return err
			}
			remaining := r.Length
			for _, ar := range runs {
				if remaining == 0 {
					break
				}
				l := ar.Blocks * e.blockSize
				if l > remaining {
					l = remaining
				}
				out = append(out, Run{State: Recorded, Partition: partition, LBN: ar.LBA, Length: l})
				remaining -= l
			}
		}
	}

	info.Mapping = MergeAdjacent(out, e.blockSize)
	return nil
}

// writeRecorded writes the byte range [within, within+len(src)) of run r,
// which may span multiple logical blocks and may start/end mid-block.
// Partial boundary blocks are read-modify-written since the cache only
// accepts whole-block writes.
func (e *Engine) writeRecorded(ctx context.Context, r Run, within uint64, src []byte) error {
	blockSize := uint64(e.blockSize)
	block := within / blockSize
	off := within % blockSize

	n := 0
	for n < len(src) {
		phys, err := e.geo.PartLBAToPhys(r.Partition, r.LBN+uint32(block))
		if err != nil {
			return err
		}
		mapping, err := e.geo.Relocate(r.Partition, phys, 1)
		if err != nil {
			return err
		}

		take := blockSize - off
		if uint64(len(src)-n) < take {
			take = uint64(len(src) - n)
		}

		var chunk []byte
		if off == 0 && take == blockSize {
			chunk = src[n : uint64(n)+take]
		} else {
			scratch := make([]byte, blockSize)
			if err := e.cache.ReadBlock(ctx, mapping.PhysLBA, scratch); err != nil {
				return err
			}
			copy(scratch[off:off+take], src[n:uint64(n)+take])
			chunk = scratch
		}

		if err := e.cache.WriteBlocks(ctx, mapping.PhysLBA, 1, chunk, true); err != nil {
			return err
		}

		n += int(take)
		off = 0
		block++
	}
	return nil
}

// WriteEmbedded writes data at logical offset off directly into icb, the
// embedded data area of a File Entry whose only run is In-ICB. Callers
// are responsible for promoting the file out of ICB (via Resize) before
// the write would grow past len(icb).
func WriteEmbedded(icb []byte, off uint64, data []byte) (int, error) {
	if off > uint64(len(icb)) {
		return 0, errInvalidParameter("extent.WriteEmbedded: offset beyond embedded area")
	}
	n := copy(icb[off:], data)
	return n, nil
}
