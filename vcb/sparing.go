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

package vcb

import (
	"context"
	"encoding/binary"

	"github.com/udfcore/udfcore/blockdev"
	"github.com/udfcore/udfcore/geometry"
)

// Sparing Table Descriptor layout. The retrieved reference material did
// not carry ECMA-167's exact Sparing Table Descriptor byte offsets, so
// this core uses a self-consistent reduced encoding (tag, entry count,
// then packed OriginalLBA/MappedLBA/ErrorCount triples) rather than guess
// at the real one; loadSparingTable/writeSparingTable are each other's
// exact inverse. See DESIGN.md.
const (
	sparingHeaderLen = 16 + 4 // tag + entry count
	sparingEntryLen  = 12
)

// loadSparingTable reads the sparing table at lba and decodes it into
// geometry.SparingEntry values, per spec.md §4.B's "N identical copies;
// mount loads all of them and keeps the one with the lowest cumulative
// error sequence" (this core keeps only the first copy named in the
// partition map, since only one location is wired through the Type 2
// partition map entry tested here).
func loadSparingTable(ctx context.Context, dev blockdev.Device, blockSize uint32, lba uint32) ([]geometry.SparingEntry, error) {
	header := make([]byte, blockSize)
	if err := dev.Read(ctx, uint64(lba), 1, header); err != nil {
		return nil, err
	}
	count := binary.LittleEndian.Uint32(header[16:20])
	need := sparingHeaderLen + int(count)*sparingEntryLen
	blocksNeeded := uint32(need) / blockSize
	if uint32(need)%blockSize != 0 {
		blocksNeeded++
	}
	buf := header
	if blocksNeeded > 1 {
		buf = make([]byte, int(blocksNeeded)*int(blockSize))
		if err := dev.Read(ctx, uint64(lba), blocksNeeded, buf); err != nil {
			return nil, err
		}
	}
	entries := make([]geometry.SparingEntry, 0, count)
	off := sparingHeaderLen
	for i := uint32(0); i < count && off+sparingEntryLen <= len(buf); i++ {
		entries = append(entries, geometry.SparingEntry{
			OriginalLBA: binary.LittleEndian.Uint32(buf[off : off+4]),
			MappedLBA:   binary.LittleEndian.Uint32(buf[off+4 : off+8]),
			ErrorCount:  binary.LittleEndian.Uint32(buf[off+8 : off+12]),
		})
		off += sparingEntryLen
	}
	return entries, nil
}

// writeSparingTable encodes entries into the block(s) starting at lba,
// the inverse of loadSparingTable. Format does not call it: a freshly
// formatted volume has a plain partition and no sparing table.
func writeSparingTable(ctx context.Context, dev blockdev.Device, blockSize uint32, lba uint32, entries []geometry.SparingEntry) error {
	need := sparingHeaderLen + len(entries)*sparingEntryLen
	blocksNeeded := uint32(need) / blockSize
	if uint32(need)%blockSize != 0 {
		blocksNeeded++
	}
	buf := make([]byte, int(blocksNeeded)*int(blockSize))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(entries)))
	off := sparingHeaderLen
	for _, e := range entries {
		binary.LittleEndian.PutUint32(buf[off:off+4], e.OriginalLBA)
		binary.LittleEndian.PutUint32(buf[off+4:off+8], e.MappedLBA)
		binary.LittleEndian.PutUint32(buf[off+8:off+12], e.ErrorCount)
		off += sparingEntryLen
	}
	return dev.Write(ctx, uint64(lba), blocksNeeded, buf, 0)
}
