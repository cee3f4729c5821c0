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

// locateRun finds the run index and the byte offset within it that
// corresponds to byte offset into the logical mapping (i.e. already
// offset by firstRunOffset), or ok=false if off is at or past the
// mapping's end.
func locateRun(mapping []Run, firstRunOffset uint32, off uint64) (idx int, within uint64, ok bool) {
	pos := off + uint64(firstRunOffset)
	for i, r := range mapping {
		if pos < uint64(r.Length) {
			return i, pos, true
		}
		pos -= uint64(r.Length)
	}
	return 0, 0, false
}

// ReadExtent copies up to len(buf) bytes starting at logical offset off
// of info into buf, dispatching each intersecting run per spec.md §4.E:
// Recorded runs read through the block cache, AllocatedNotRecorded and
// NotAllocatedNotRecorded runs yield zeros, and In-ICB runs copy from the
// caller-supplied icb buffer (the embedded data area of the File Entry).
// Reads past end-of-mapping return the prefix actually read.
func (e *Engine) ReadExtent(ctx context.Context, info *Info, off uint64, buf []byte, icb []byte) (int, error) {
	if off >= info.Length {
		return 0, nil
	}
	want := len(buf)
	if off+uint64(want) > info.Length {
		want = int(info.Length - off)
	}

	idx, within, ok := locateRun(info.Mapping, info.FirstRunOffset, off)
	if !ok {
		return 0, nil
	}

	var n int
	for n < want && idx < len(info.Mapping) {
		r := info.Mapping[idx]
		avail := uint64(r.Length) - within
		chunk := want - n
		if uint64(chunk) > avail {
			chunk = int(avail)
		}

		dst := buf[n : n+chunk]
		var err error
		switch r.State {
		case Recorded:
			err = e.readRecorded(ctx, r, within, dst)
		case InICB:
			err = readICB(icb, within, dst)
		default: // AllocatedNotRecorded, NotAllocatedNotRecorded
			zero(dst)
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

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func readICB(icb []byte, within uint64, dst []byte) error {
	if within >= uint64(len(icb)) {
		zero(dst)
		return nil
	}
	avail := uint64(len(icb)) - within
	n := uint64(len(dst))
	if n > avail {
		n = avail
	}
	copy(dst[:n], icb[within:within+n])
	zero(dst[n:])
	return nil
}

// readRecorded reads the byte range [within, within+len(dst)) of run r,
// which may span multiple logical blocks and may start/end mid-block.
func (e *Engine) readRecorded(ctx context.Context, r Run, within uint64, dst []byte) error {
	blockSize := uint64(e.blockSize)
	startBlock := within / blockSize
	startOff := within % blockSize

	scratch := make([]byte, blockSize)
	n := 0
	block := startBlock
	off := startOff
	for n < len(dst) {
		phys, err := e.geo.PartLBAToPhys(r.Partition, r.LBN+uint32(block))
		if err != nil {
			return err
		}
		mapping, err := e.geo.Relocate(r.Partition, phys, 1)
		if err != nil {
			return err
		}
		if err := e.cache.ReadBlock(ctx, mapping.PhysLBA, scratch); err != nil {
			return err
		}

		take := blockSize - off
		if uint64(len(dst)-n) < take {
			take = uint64(len(dst) - n)
		}
		copy(dst[n:uint64(n)+take], scratch[off:off+take])
		n += int(take)
		off = 0
		block++
	}
	return nil
}
