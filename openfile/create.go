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

package openfile

import (
	"context"
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/udfcore/udfcore/alloc"
	"github.com/udfcore/udfcore/extent"
	"github.com/udfcore/udfcore/internal/clock"
	"github.com/udfcore/udfcore/udf"
)

// CreateChild allocates a fresh File Entry for a new child of parent,
// inserts its File Identifier Descriptor into parent's directory, and
// returns the resolved FileInfo -- the create-time counterpart to
// Open/DeleteChild/Rename, per spec.md §4.G. The new File Entry starts
// empty, with its data embedded in-ICB (spec.md §3's In-ICB allocation),
// matching the same initial layout Format gives the root directory.
func (g *Graph) CreateChild(ctx context.Context, parent *FileInfo, name string, isDir bool, perm uint32, caseSensitive bool) (*FileInfo, error) {
	if parent.Dloc == nil || parent.children == nil {
		return nil, errNotADirectory("openfile.CreateChild: parent is not a directory")
	}
	if err := g.ensureDirIndex(ctx, parent.Dloc); err != nil {
		return nil, err
	}
	if _, _, ok := parent.Dloc.Index.Find(name, caseSensitive); ok {
		return nil, errNameCollision("openfile.CreateChild: name already exists")
	}

	partition := parent.Dloc.partition
	dirID := parent.Dloc.feLBA

	feRun, err := g.allocFEBlock(partition, dirID)
	if err != nil {
		return nil, err
	}

	fe := g.newFileEntry(isDir, perm, parent)
	if err := g.writeFileEntry(ctx, partition, feRun.LBA, fe); err != nil {
		return nil, err
	}

	nameBytes, err := udf.EncodeCS0(name)
	if err != nil {
		return nil, err
	}
	fid := udf.FID{
		ICB:                  udf.LongAD{Length: g.eng.BlockSize(), LBN: feRun.LBA, Partition: uint16(partition)},
		FileIdentifier:       nameBytes,
		FileIdentifierLength: uint8(len(nameBytes)),
	}
	if isDir {
		fid.FileCharacteristics |= udf.FileCharDirectory
	}

	if _, err := g.appendFID(ctx, parent.Dloc, fid, name); err != nil {
		return nil, err
	}

	return g.Open(ctx, parent, name, caseSensitive)
}

// allocFEBlock returns a single block to hold a fresh File Entry,
// preferring the partition's FE allocation charge pool (spec.md §4.D) so
// a create that follows a same-directory delete reuses the just-freed
// block instead of fragmenting; only on a pool miss does it fall back to
// a full bitmap scan via the Space Allocator.
func (g *Graph) allocFEBlock(partition int, dirID uint64) (alloc.Run, error) {
	if pool := g.alloc.ChargePool(partition); pool != nil {
		if run, ok := pool.TakeNear(dirID); ok {
			return run, nil
		}
	}
	runs, err := g.alloc.Alloc(partition, uint64(g.eng.BlockSize()), 0, ^uint32(0), 0)
	if err != nil {
		return alloc.Run{}, err
	}
	if len(runs) == 0 {
		return alloc.Run{}, errCorrupt("openfile.allocFEBlock: allocator returned no runs")
	}
	return runs[0], nil
}

// newFileEntry builds the in-memory File Entry for a fresh child: zero
// length, embedded (in-ICB) data, and a File Entry Unique ID derived from
// a random UUID rather than a persistent counter -- the same role
// google/uuid plays for gcsfuse's request IDs, here giving every created
// File Entry an identifier that is vanishingly unlikely to collide with
// any other live or historical one on the volume without requiring a
// durable high-water-mark counter in the LVID.
func (g *Graph) newFileEntry(isDir bool, perm uint32, parent *FileInfo) udf.FileEntry {
	ts := clock.Stamp(g.clk)
	fileType := uint8(udf.FileTypeRegular)

	var tail []byte
	if isDir {
		fileType = udf.FileTypeDirectory
		parentICB := udf.LongAD{
			Length:    g.eng.BlockSize(),
			LBN:       parent.Dloc.icbLBN,
			Partition: uint16(parent.Dloc.partition),
		}
		dotdot := udf.FID{
			FileCharacteristics: udf.FileCharParent | udf.FileCharDirectory,
			ICB:                 parentICB,
		}
		tail = make([]byte, dotdot.Size())
		// EncodeFID cannot fail for a freshly built FID with no name.
		_, _ = udf.EncodeFID(tail, dotdot)
	}

	return udf.FileEntry{
		ICBTag: udf.ICBTag{
			FileType: fileType,
			Flags:    uint16(udf.AllocDescEmbeddedData),
		},
		Permissions:       perm,
		FileLinkCount:     1,
		InformationLength: uint64(len(tail)),
		AccessTime:        ts,
		ModificationTime:  ts,
		AttributeTime:     ts,
		UniqueID:          newUniqueID(),
		Tail:              tail,
	}
}

// newUniqueID derives a File Entry Unique ID (spec.md §3) from a random
// UUID's high 8 bytes.
func newUniqueID() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8])
}

// writeFileEntry encodes fe and writes it to the single block at
// (partition, lbn) through the Extent Engine, the same FELoc shape
// buildDloc reads back.
func (g *Graph) writeFileEntry(ctx context.Context, partition int, lbn uint32, fe udf.FileEntry) error {
	blockSize := g.eng.BlockSize()
	buf := make([]byte, blockSize)
	if _, err := udf.EncodeFileEntry(buf, fe); err != nil {
		return err
	}
	feLoc := extent.Info{
		Length:  uint64(blockSize),
		Mapping: []extent.Run{{State: extent.Recorded, Partition: partition, LBN: lbn, Length: blockSize}},
	}
	_, err := g.eng.WriteExtent(ctx, &feLoc, partition, 0, buf)
	return err
}
