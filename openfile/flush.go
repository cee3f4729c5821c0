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

	"github.com/udfcore/udfcore/extent"
	"github.com/udfcore/udfcore/udf"
)

// Partition returns d's partition number, the currency extent.Engine
// operations on d's mappings are scoped to.
func (d *Dloc) Partition() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.partition
}

// FELBA returns d's File Entry physical LBA -- the key this Dloc is
// stored under in the Graph's Dloc table, and the identity a charge-pool
// "directory that last used this block" tag or a directory's own ICB
// self-reference uses.
func (d *Dloc) FELBA() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.feLBA
}

// embeddedCapacity reports how many bytes d's ICB can hold embedded, for
// Resize's In-ICB-fits fast path (spec.md §4.E resize case (a)).
func (d *Dloc) embeddedCapacity(blockSize uint32) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.IsExtended {
		return d.EFE.EmbeddedCapacity(blockSize)
	}
	return d.FE.EmbeddedCapacity(blockSize)
}

// FlushDloc persists d's File Entry to disk if it has been modified since
// the last flush: re-encoding DataLoc's current mapping into the File
// Entry's allocation-descriptor-array (inline through
// EncodeInlineADArray, which has no capacity check, so the out-of-line
// FlushOutOfLine branch is not reached for the short and extended kinds
// used here) and writing the updated information-length,
// per spec.md §4.E's resize/write-back contract and §5's "a successful
// flush guarantees all previously returned writes are durable." A no-op
// when FEModified is clear.
func (g *Graph) FlushDloc(ctx context.Context, d *Dloc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return g.flushDlocLocked(ctx, d)
}

// flushDlocLocked is FlushDloc's body, for callers that already hold
// d.mu (DeleteChild's link-count path, most notably).
func (g *Graph) flushDlocLocked(ctx context.Context, d *Dloc) error {
	if !d.FEModified {
		return nil
	}
	if err := g.encodeDlocTailLocked(ctx, d); err != nil {
		return err
	}

	if d.IsExtended {
		d.EFE.InformationLength = d.DataLoc.Length
		if err := g.writeExtendedFileEntry(ctx, d.partition, d.icbLBN, d.EFE); err != nil {
			return err
		}
	} else {
		d.FE.InformationLength = d.DataLoc.Length
		if err := g.writeFileEntry(ctx, d.partition, d.icbLBN, d.FE); err != nil {
			return err
		}
	}
	d.FEModified = false
	return nil
}

// writeExtendedFileEntry mirrors writeFileEntry (openfile/create.go) for the
// Extended File Entry case, per spec.md §3's icbtype40 variant.
func (g *Graph) writeExtendedFileEntry(ctx context.Context, partition int, lbn uint32, efe udf.ExtendedFileEntry) error {
	blockSize := g.eng.BlockSize()
	buf := make([]byte, blockSize)
	if _, err := udf.EncodeExtendedFileEntry(buf, efe); err != nil {
		return err
	}
	feLoc := extent.Info{
		Length:  uint64(blockSize),
		Mapping: []extent.Run{{State: extent.Recorded, Partition: partition, LBN: lbn, Length: blockSize}},
	}
	_, err := g.eng.WriteExtent(ctx, &feLoc, partition, 0, buf)
	return err
}

// encodeDlocTailLocked rewrites d.FE.Tail/d.EFE.Tail from d.DataLoc's
// current mapping, per spec.md §6's three on-disk allocation-descriptor
// forms. A single In-ICB run needs no re-encoding: WriteEmbedded already
// wrote its bytes directly into the tail. d.mu is held by the caller.
func (g *Graph) encodeDlocTailLocked(ctx context.Context, d *Dloc) error {
	if len(d.DataLoc.Mapping) == 1 && d.DataLoc.Mapping[0].State == extent.InICB {
		return nil
	}

	kind := extent.ADShort
	if d.IsExtended {
		kind = extent.ADExtended
	}

	tail, inline := extent.EncodeInlineADArray(kind, d.DataLoc.Mapping)
	if !inline {
		var err error
		tail, err = g.eng.FlushOutOfLine(ctx, d.partition, kind, d.DataLoc.Mapping)
		if err != nil {
			return err
		}
	}

	descType := udf.AllocDescShort
	if d.IsExtended {
		descType = udf.AllocDescExtended
	}
	if d.IsExtended {
		d.EFE.ICBTag.Flags = (d.EFE.ICBTag.Flags &^ 0x7) | uint16(descType)
		d.EFE.Tail = tail
	} else {
		d.FE.ICBTag.Flags = (d.FE.ICBTag.Flags &^ 0x7) | uint16(descType)
		d.FE.Tail = tail
	}
	return nil
}
