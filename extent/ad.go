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

	"github.com/udfcore/udfcore/udf"
	"github.com/udfcore/udfcore/udferr"
)

// ADKind selects which of the three on-disk allocation-descriptor forms
// a mapping is (de)serialised through, per spec.md §4.E / §6.
type ADKind int

const (
	ADShort ADKind = iota
	ADLong
	ADExtended
)

// ADSize returns the on-disk size in bytes of one descriptor of kind.
func ADSize(kind ADKind) int {
	switch kind {
	case ADShort:
		return 8
	case ADLong:
		return 16
	case ADExtended:
		return 20
	default:
		return 0
	}
}

// RunToShortAD converts r (which must belong to the partition the
// descriptor array itself is scoped to) into its short_ad on-disk form.
func RunToShortAD(r Run) udf.ShortAD {
	return udf.ShortAD{Length: r.Length, State: udf.ExtentState(r.State), LBN: r.LBN}
}

func shortADToRun(ad udf.ShortAD, partition int) Run {
	return Run{State: State(ad.State), Partition: partition, LBN: ad.LBN, Length: ad.Length}
}

// RunToLongAD converts r into its long_ad form, carrying an explicit
// partition reference so the run can name a block outside the
// descriptor's own partition.
func RunToLongAD(r Run) udf.LongAD {
	return udf.LongAD{Length: r.Length, State: udf.ExtentState(r.State), LBN: r.LBN, Partition: uint16(r.Partition)}
}

func longADToRun(ad udf.LongAD) Run {
	return Run{State: State(ad.State), Partition: int(ad.Partition), LBN: ad.LBN, Length: ad.Length}
}

// RunToExtAD converts r into its ext_ad form. RecordedLength is set equal
// to Length unless the caller overrides it (a run can be allocated but
// only partly recorded in an Extended File Entry).
func RunToExtAD(r Run, recordedLength uint32) udf.ExtAD {
	return udf.ExtAD{
		Length: r.Length, State: udf.ExtentState(r.State),
		RecordedLength: recordedLength, LBN: r.LBN, Partition: uint16(r.Partition),
	}
}

func extADToRun(ad udf.ExtAD) Run {
	return Run{State: State(ad.State), Partition: int(ad.Partition), LBN: ad.LBN, Length: ad.Length}
}

// BlockRef is a disk location the continuation chain can follow: a
// partition plus logical block number. Exported so callers outside this
// package (openfile's Dloc, loading a File Entry's out-of-line
// allocation-descriptor array) can name it directly.
type BlockRef struct {
	Partition int
	LBN       uint32
}

// DecodeAllocLoc decodes a chain of allocation-descriptor blocks starting
// at first into a Run mapping, following NextDescriptor continuations
// across block boundaries until a zero-length sentinel is reached, per
// spec.md §4.E.
func (e *Engine) DecodeAllocLoc(ctx context.Context, kind ADKind, first BlockRef) ([]Run, error) {
	var mapping []Run
	cur := first
	seen := map[BlockRef]bool{}
	adSize := ADSize(kind)
	if adSize == 0 {
		return nil, errInvalidParameter("extent.DecodeAllocLoc: unknown AD kind")
	}

	for {
		if seen[cur] {
			return nil, errCorrupt("extent.DecodeAllocLoc: continuation cycle")
		}
		seen[cur] = true

		block, err := e.readPartitionBlock(ctx, cur)
		if err != nil {
			return nil, err
		}

		next, done, err := decodeOneBlock(kind, cur.Partition, block, adSize, &mapping)
		if err != nil {
			return nil, err
		}
		if done {
			return mapping, nil
		}
		cur = next
	}
}

// decodeOneBlock decodes descriptors out of block, appending Runs to
// *mapping, until it hits a zero-length sentinel (done=true) or a
// NextDescriptor continuation (returns the block it points to).
func decodeOneBlock(kind ADKind, partition int, block []byte, adSize int, mapping *[]Run) (next BlockRef, done bool, err error) {
	for off := 0; off+adSize <= len(block); off += adSize {
		switch kind {
		case ADShort:
			ad, derr := udf.DecodeShortAD(block[off : off+adSize])
			if derr != nil {
				return BlockRef{}, false, derr
			}
			if ad.Length == 0 && ad.State == udf.ExtentRecorded {
				return BlockRef{}, true, nil
			}
			if ad.State == udf.ExtentNextDescriptor {
				return BlockRef{Partition: partition, LBN: ad.LBN}, false, nil
			}
			*mapping = append(*mapping, shortADToRun(ad, partition))
		case ADLong:
			ad, derr := udf.DecodeLongAD(block[off : off+adSize])
			if derr != nil {
				return BlockRef{}, false, derr
			}
			if ad.Length == 0 && ad.State == udf.ExtentRecorded {
				return BlockRef{}, true, nil
			}
			if ad.State == udf.ExtentNextDescriptor {
				return BlockRef{Partition: int(ad.Partition), LBN: ad.LBN}, false, nil
			}
			*mapping = append(*mapping, longADToRun(ad))
		case ADExtended:
			ad, derr := udf.DecodeExtAD(block[off : off+adSize])
			if derr != nil {
				return BlockRef{}, false, derr
			}
			if ad.Length == 0 && ad.State == udf.ExtentRecorded {
				return BlockRef{}, true, nil
			}
			if ad.State == udf.ExtentNextDescriptor {
				return BlockRef{Partition: int(ad.Partition), LBN: ad.LBN}, false, nil
			}
			*mapping = append(*mapping, extADToRun(ad))
		}
	}
	// Ran off the end of the block without a sentinel: treat as end of
	// mapping, matching a descriptor array that exactly fills its block.
	return BlockRef{}, true, nil
}

// DecodeInlineADArray decodes a File Entry's own tail bytes as the first
// (and possibly only) block of an allocation-descriptor array, per
// spec.md §4.E/§6: a short array terminates inside the tail itself
// (done=true); a tail whose last descriptor is a NextDescriptor entry
// means the array continues in an out-of-line block (done=false, next
// names it) the caller fetches the rest of via DecodeAllocLoc.
func DecodeInlineADArray(kind ADKind, partition int, tail []byte) (mapping []Run, next BlockRef, done bool, err error) {
	adSize := ADSize(kind)
	if adSize == 0 {
		return nil, BlockRef{}, false, errInvalidParameter("extent.DecodeInlineADArray: unknown AD kind")
	}
	next, done, err = decodeOneBlock(kind, partition, tail, adSize, &mapping)
	return mapping, next, done, err
}

// readPartitionBlock reads one logical block of ref's partition through
// the cache, translating partition-relative LBN to physical LBA via
// geometry first.
func (e *Engine) readPartitionBlock(ctx context.Context, ref BlockRef) ([]byte, error) {
	phys, err := e.geo.PartLBAToPhys(ref.Partition, ref.LBN)
	if err != nil {
		return nil, err
	}
	mapping, err := e.geo.Relocate(ref.Partition, phys, 1)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, e.blockSize)
	if err := e.cache.ReadBlock(ctx, mapping.PhysLBA, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// EncodeAllocLoc serialises mapping into the pre-allocated descriptor
// blocks named by blockRefs (one entry per on-disk block the caller has
// already reserved via the allocator), chaining NextDescriptor entries
// between them and padding the final block with a zero-length sentinel,
// per spec.md §4.E. It returns the filled block buffers in the same
// order as blockRefs.
func (e *Engine) EncodeAllocLoc(kind ADKind, blockRefs []BlockRef, mapping []Run) ([][]byte, error) {
	adSize := ADSize(kind)
	if adSize == 0 {
		return nil, errInvalidParameter("extent.EncodeAllocLoc: unknown AD kind")
	}
	if len(blockRefs) == 0 {
		return nil, errInvalidParameter("extent.EncodeAllocLoc: no descriptor blocks reserved")
	}

	perBlock := int(e.blockSize) / adSize
	if perBlock == 0 {
		return nil, errInvalidParameter("extent.EncodeAllocLoc: block too small for one descriptor")
	}

	out := make([][]byte, len(blockRefs))
	for i := range out {
		out[i] = make([]byte, e.blockSize)
	}

	runIdx := 0
	for bi, buf := range out {
		// Reserve the last slot of every non-final block for a
		// NextDescriptor continuation.
		slots := perBlock
		if bi < len(blockRefs)-1 {
			slots--
		}
		off := 0
		for slots > 0 && runIdx < len(mapping) {
			if err := encodeOneAD(kind, buf[off:off+adSize], mapping[runIdx], 0); err != nil {
				return nil, err
			}
			off += adSize
			runIdx++
			slots--
		}
		if bi < len(blockRefs)-1 {
			next := blockRefs[bi+1]
			cont := udf.ShortAD{State: udf.ExtentState(3), LBN: next.LBN}
			if kind == ADShort {
				if err := udf.EncodeShortAD(buf[off:off+adSize], cont); err != nil {
					return nil, err
				}
			} else if kind == ADLong {
				if err := udf.EncodeLongAD(buf[off:off+adSize], udf.LongAD{State: udf.ExtentState(3), LBN: next.LBN, Partition: uint16(next.Partition)}); err != nil {
					return nil, err
				}
			} else {
				if err := udf.EncodeExtAD(buf[off:off+adSize], udf.ExtAD{State: udf.ExtentState(3), LBN: next.LBN, Partition: uint16(next.Partition)}); err != nil {
					return nil, err
				}
			}
		}
	}
	if runIdx < len(mapping) {
		return nil, errInvalidParameter("extent.EncodeAllocLoc: not enough descriptor blocks reserved for mapping")
	}
	return out, nil
}

func encodeOneAD(kind ADKind, b []byte, r Run, recordedLength uint32) error {
	switch kind {
	case ADShort:
		return udf.EncodeShortAD(b, RunToShortAD(r))
	case ADLong:
		return udf.EncodeLongAD(b, RunToLongAD(r))
	case ADExtended:
		return udf.EncodeExtAD(b, RunToExtAD(r, recordedLength))
	default:
		return udferr.New(udferr.InvalidParameter, "extent.encodeOneAD: unknown AD kind")
	}
}

// EncodeInlineADArray encodes mapping as a File Entry's tail bytes (one
// descriptor per run plus a trailing zero-length sentinel, mirroring
// DecodeInlineADArray's done=true case), per spec.md §4.E. It has no
// capacity check: for a known kind it returns inline=true whatever the
// size of the result, and it reports inline=false only for an unknown
// kind or a run that fails to encode.
func EncodeInlineADArray(kind ADKind, mapping []Run) (tail []byte, inline bool) {
	adSize := ADSize(kind)
	if adSize == 0 {
		return nil, false
	}
	tail = make([]byte, (len(mapping)+1)*adSize)
	off := 0
	for _, r := range mapping {
		if err := encodeOneAD(kind, tail[off:off+adSize], r, 0); err != nil {
			return nil, false
		}
		off += adSize
	}
	// The trailing adSize bytes are left zero, which decodeOneBlock reads
	// back as the zero-length Recorded sentinel that terminates a mapping.
	return tail, true
}

// FlushOutOfLine allocates descriptor blocks via the Space Allocator,
// encodes mapping into them through EncodeAllocLoc, and writes them
// through the Block Cache, returning the File Entry tail bytes that
// reference the result: a single NextDescriptor AD pointing at the first
// block, per spec.md §4.E's "a continuation is inserted whenever the
// descriptor array would cross a block boundary." Used when
// EncodeInlineADArray reports the mapping doesn't fit inside the File
// Entry itself.
func (e *Engine) FlushOutOfLine(ctx context.Context, partition int, kind ADKind, mapping []Run) ([]byte, error) {
	adSize := ADSize(kind)
	if adSize == 0 {
		return nil, errInvalidParameter("extent.FlushOutOfLine: unknown AD kind")
	}
	n := PlanDescriptorBlocks(kind, mapping, e.blockSize)
	if n == 0 {
		n = 1
	}
	runs, err := e.allocator.Alloc(partition, uint64(n)*uint64(e.blockSize), 0, ^uint32(0), 0)
	if err != nil {
		return nil, err
	}
	var blockRefs []BlockRef
	for _, r := range runs {
		for i := uint32(0); i < uint32(r.Blocks); i++ {
			blockRefs = append(blockRefs, BlockRef{Partition: partition, LBN: r.LBA + i})
		}
	}
	if len(blockRefs) > n {
		blockRefs = blockRefs[:n]
	}

	bufs, err := e.EncodeAllocLoc(kind, blockRefs, mapping)
	if err != nil {
		return nil, err
	}
	for i, ref := range blockRefs {
		phys, err := e.geo.PartLBAToPhys(ref.Partition, ref.LBN)
		if err != nil {
			return nil, err
		}
		m, err := e.geo.Relocate(ref.Partition, phys, 1)
		if err != nil {
			return nil, err
		}
		if err := e.cache.WriteBlocks(ctx, m.PhysLBA, 1, bufs[i], false); err != nil {
			return nil, err
		}
	}

	tail := make([]byte, adSize)
	first := blockRefs[0]
	if err := encodeContinuationAD(kind, tail, first); err != nil {
		return nil, err
	}
	return tail, nil
}

func encodeContinuationAD(kind ADKind, b []byte, ref BlockRef) error {
	switch kind {
	case ADShort:
		return udf.EncodeShortAD(b, udf.ShortAD{State: udf.ExtentNextDescriptor, LBN: ref.LBN})
	case ADLong:
		return udf.EncodeLongAD(b, udf.LongAD{State: udf.ExtentNextDescriptor, LBN: ref.LBN, Partition: uint16(ref.Partition)})
	case ADExtended:
		return udf.EncodeExtAD(b, udf.ExtAD{State: udf.ExtentNextDescriptor, LBN: ref.LBN, Partition: uint16(ref.Partition)})
	default:
		return errInvalidParameter("extent.encodeContinuationAD: unknown AD kind")
	}
}

// PlanDescriptorBlocks returns how many blockSize-sized descriptor
// blocks are needed to hold mapping under kind, reserving one trailing
// slot per block (but the last) for a NextDescriptor continuation.
func PlanDescriptorBlocks(kind ADKind, mapping []Run, blockSize uint32) int {
	adSize := ADSize(kind)
	if adSize == 0 || blockSize == 0 {
		return 0
	}
	perBlock := int(blockSize) / adSize
	if perBlock <= 1 {
		perBlock = 1
	}
	n := len(mapping)
	if n == 0 {
		return 1
	}
	blocks := 1
	remaining := n
	for {
		capacity := perBlock
		// every block but conceivably the last reserves one slot; try
		// without reservation first to see if it's the last block.
		if remaining <= perBlock {
			return blocks
		}
		capacity--
		remaining -= capacity
		blocks++
	}
}
