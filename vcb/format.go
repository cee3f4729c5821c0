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

	"github.com/udfcore/udfcore/blockdev"
	"github.com/udfcore/udfcore/internal/clock"
	"github.com/udfcore/udfcore/udf"
	"github.com/udfcore/udfcore/udferr"
)

// Fixed block layout a freshly formatted volume uses, per spec.md §6's
// description of the Anchor/VDS/FSD/root-ICB chain. Real media leaves
// these locations to the formatting tool's discretion; this core always
// lays a volume out the same way, which is sufficient since Mount
// discovers every location from the structures themselves rather than
// assuming this layout.
const (
	anchorLBA     = 256
	mainVDSLBA    = 257
	vdsBlockCount = 4 // PVD, PD, LVD, Terminator
	reserveVDSLBA = mainVDSLBA + vdsBlockCount
	lvidLBA       = reserveVDSLBA + vdsBlockCount
	partitionLBA  = lvidLBA + 1

	// within-partition relative LBNs
	bitmapRelLBN = 0
)

// FormatOptions configures Format; zero value is a reasonable default.
type FormatOptions struct {
	VolumeLabel string
	Clock       clock.Clock
}

// Format lays out a fresh, minimal, single-partition UDF volume on dev:
// an Anchor Volume Descriptor Pointer, Main and Reserve Volume
// Descriptor Sequences (Primary/Partition/Logical Volume Descriptors
// plus a Terminating Descriptor), a Logical Volume Integrity Descriptor,
// an all-free Space Bitmap Descriptor, a File Set Descriptor, and an
// empty in-ICB root directory File Entry. The partition occupies every
// block from partitionLBA to the end of the device.
func Format(ctx context.Context, dev blockdev.Device, opts FormatOptions) error {
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	blockSize := dev.BlockSize()
	blockCount := dev.BlockCount()
	if blockCount <= partitionLBA+2 {
		return udferr.New(udferr.InvalidParameter, "vcb.Format: device too small")
	}

	partitionLength := uint32(blockCount - partitionLBA)
	bitmapBytes := (partitionLength + 7) / 8
	bitmapTotal := 24 + bitmapBytes
	bitmapBlocks := bitmapTotal / blockSize
	if bitmapTotal%blockSize != 0 {
		bitmapBlocks++
	}
	fsdRelLBN := bitmapBlocks
	rootRelLBN := fsdRelLBN + 1

	ts := clock.Stamp(clk)

	if err := writeRootFE(ctx, dev, blockSize, rootRelLBN); err != nil {
		return err
	}

	fsd := udf.FileSetDescriptor{
		RecordingTime: ts,
		RootDirectoryICB: udf.LongAD{
			Length: blockSize, LBN: rootRelLBN, Partition: 0,
		},
	}
	fsdPhys := uint64(partitionLBA) + uint64(fsdRelLBN)
	if err := writeFSD(ctx, dev, blockSize, fsdPhys, fsd); err != nil {
		return err
	}

	phd := udf.PartitionHeaderDescriptor{
		UnallocatedSpaceBitmap: udf.ShortAD{Length: bitmapTotal, LBN: bitmapRelLBN},
	}
	pd := udf.PartitionDescriptor{
		PartitionNumber:  0,
		AccessType:       udf.AccessTypeRewritable,
		StartingLocation: partitionLBA,
		Length:           partitionLength,
	}
	udf.EncodePartitionHeaderDescriptor(pd.ContentsUse[:], phd)

	if err := formatWriteSpaceBitmap(ctx, dev, blockSize, bitmapRelLBN, partitionLength); err != nil {
		return err
	}

	pvd := udf.PrimaryVolumeDescriptor{
		VolumeDescriptorSeqNum: 0,
		VolumeIdentifier:       opts.VolumeLabel,
		VolumeSetIdentifier:    opts.VolumeLabel,
		RecordingTime:          ts,
	}
	lvd := udf.LogicalVolumeDescriptor{
		VolumeDescriptorSeqNum: 0,
		LogicalBlockSize:       blockSize,
		FileSetLocation:        udf.LongAD{Length: blockSize, LBN: fsdRelLBN, Partition: 0},
		IntegritySeqExtent:     udf.ExtentAdPublic{Length: blockSize, Location: lvidLBA},
		PartitionMaps: []udf.PartitionMapEntry{
			{IsType2: false, VolumeSeqNum: 0, PartitionNumber: 0},
		},
	}

	if err := writeVDS(ctx, dev, blockSize, mainVDSLBA, pvd, pd, lvd); err != nil {
		return err
	}
	if err := writeVDS(ctx, dev, blockSize, reserveVDSLBA, pvd, pd, lvd); err != nil {
		return err
	}

	lvid := udf.LogicalVolumeIntegrityDescriptor{
		RecordingTime:  ts,
		IntegrityType:  udf.IntegrityClosed,
		FreeSpaceTable: []uint32{partitionLength},
		SizeTable:      []uint32{partitionLength},
	}
	if err := writeLVID(ctx, dev, blockSize, lvidLBA, lvid); err != nil {
		return err
	}

	if err := writeAnchor(ctx, dev, blockSize, anchorLBA, mainVDSLBA, reserveVDSLBA); err != nil {
		return err
	}

	return dev.Flush(ctx)
}

func writeVDS(ctx context.Context, dev blockdev.Device, blockSize uint32, start uint32, pvd udf.PrimaryVolumeDescriptor, pd udf.PartitionDescriptor, lvd udf.LogicalVolumeDescriptor) error {
	buf := make([]byte, blockSize)

	if err := udf.EncodePrimaryVolumeDescriptor(buf, pvd); err != nil {
		return err
	}
	if err := udf.WriteTag(buf, udf.TagPrimaryVolumeDescriptor, len(buf)-16); err != nil {
		return err
	}
	if err := dev.Write(ctx, uint64(start), 1, buf, 0); err != nil {
		return err
	}

	buf = make([]byte, blockSize)
	if err := udf.EncodePartitionDescriptor(buf, pd); err != nil {
		return err
	}
	if err := udf.WriteTag(buf, udf.TagPartitionDescriptor, len(buf)-16); err != nil {
		return err
	}
	if err := dev.Write(ctx, uint64(start+1), 1, buf, 0); err != nil {
		return err
	}

	buf = make([]byte, blockSize)
	n, err := udf.EncodeLogicalVolumeDescriptor(buf, lvd)
	if err != nil {
		return err
	}
	if err := udf.WriteTag(buf, udf.TagLogicalVolumeDescriptor, n-16); err != nil {
		return err
	}
	if err := dev.Write(ctx, uint64(start+2), 1, buf, 0); err != nil {
		return err
	}

	buf = make([]byte, blockSize)
	if err := udf.WriteTag(buf, udf.TagTerminatingDescriptor, 0); err != nil {
		return err
	}
	return dev.Write(ctx, uint64(start+3), 1, buf, 0)
}

func writeAnchor(ctx context.Context, dev blockdev.Device, blockSize uint32, lba uint32, mainLBA, reserveLBA uint32) error {
	buf := make([]byte, blockSize)
	const body = 16 // two extent_ad
	binLE32(buf[16:20], vdsBlockCount*blockSize)
	binLE32(buf[20:24], mainLBA)
	binLE32(buf[24:28], vdsBlockCount*blockSize)
	binLE32(buf[28:32], reserveLBA)
	if err := udf.WriteTag(buf, udf.TagAnchorVolumeDescriptorPtr, body); err != nil {
		return err
	}
	return dev.Write(ctx, uint64(lba), 1, buf, 0)
}

func binLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func writeFSD(ctx context.Context, dev blockdev.Device, blockSize uint32, phys uint64, fsd udf.FileSetDescriptor) error {
	buf := make([]byte, blockSize)
	if err := udf.EncodeFileSetDescriptor(buf, fsd); err != nil {
		return err
	}
	if err := udf.WriteTag(buf, udf.TagFileSetDescriptor, len(buf)-16); err != nil {
		return err
	}
	return dev.Write(ctx, phys, 1, buf, 0)
}

func writeLVID(ctx context.Context, dev blockdev.Device, blockSize uint32, lba uint32, lvid udf.LogicalVolumeIntegrityDescriptor) error {
	buf := make([]byte, blockSize)
	n, err := udf.EncodeLogicalVolumeIntegrityDescriptor(buf, lvid)
	if err != nil {
		return err
	}
	if err := udf.WriteTag(buf, udf.TagLogicalVolumeIntegrityDesc, n-16); err != nil {
		return err
	}
	return dev.Write(ctx, uint64(lba), 1, buf, 0)
}

// formatWriteSpaceBitmap writes a fresh all-free Space Bitmap Descriptor
// of n bits at partition-relative LBN rel, addressed directly against
// partitionLBA since Format precedes any geometry.Volume construction.
func formatWriteSpaceBitmap(ctx context.Context, dev blockdev.Device, blockSize uint32, rel uint32, n uint32) error {
	bm := udfAllSetBits(n)
	sbd := udf.SpaceBitmapDescriptor{NumberOfBits: n, NumberOfBytes: uint32(len(bm)), Bitmap: bm}

	total := 24 + len(bm)
	blocksNeeded := uint32(total) / blockSize
	if uint32(total)%blockSize != 0 {
		blocksNeeded++
	}
	buf := make([]byte, int(blocksNeeded)*int(blockSize))
	n2, err := udf.EncodeSpaceBitmapDescriptor(buf, sbd)
	if err != nil {
		return err
	}
	if err := udf.WriteTag(buf, udf.TagSpaceBitmapDescriptor, n2-16); err != nil {
		return err
	}
	return dev.Write(ctx, uint64(partitionLBA+rel), blocksNeeded, buf, 0)
}

func udfAllSetBits(n uint32) []byte {
	out := make([]byte, (n+7)/8)
	for i := range out {
		out[i] = 0xFF
	}
	if r := n % 8; r != 0 {
		out[len(out)-1] = byte(1<<r - 1)
	}
	return out
}

// writeRootFE writes an empty (zero-length) directory File Entry with
// its data embedded in-ICB, at partition-relative LBN rel.
func writeRootFE(ctx context.Context, dev blockdev.Device, blockSize uint32, rel uint32) error {
	fe := udf.FileEntry{
		ICBTag: udf.ICBTag{
			FileType: udf.FileTypeDirectory,
			Flags:    uint16(udf.AllocDescEmbeddedData),
		},
		FileLinkCount: 1,
	}
	buf := make([]byte, blockSize)
	if _, err := udf.EncodeFileEntry(buf, fe); err != nil {
		return err
	}
	return dev.Write(ctx, uint64(partitionLBA+rel), 1, buf, 0)
}
