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
	"github.com/udfcore/udfcore/geometry"
	"github.com/udfcore/udfcore/udf"
	"github.com/udfcore/udfcore/udferr"
)

// vdsState accumulates the newest-by-sequence-number copy of each Volume
// Descriptor Sequence structure seen while walking one VDS extent, per
// spec.md §4.B's "pick the highest VolumeDescriptorSequenceNumber seen."
type vdsState struct {
	havePVD bool
	pvd     udf.PrimaryVolumeDescriptor

	haveLVD bool
	lvd     udf.LogicalVolumeDescriptor

	partitions map[uint16]udf.PartitionDescriptor

	sawTerminator bool
}

func newVDSState() *vdsState {
	return &vdsState{partitions: make(map[uint16]udf.PartitionDescriptor)}
}

// readVDS walks the sequence of logical blocks starting at ext.LocationLBA
// (addressed on the whole-volume, unpartitioned 0-partition space the
// Anchor Volume Descriptor Pointer itself uses per ECMA-167 §3.2), stopping
// at the first Terminating Descriptor or the extent's declared length,
// whichever comes first.
func readVDS(ctx context.Context, dev blockdev.Device, blockSize uint32, ext geometry.ExtentAd) (*vdsState, error) {
	st := newVDSState()
	if ext.LengthBytes == 0 {
		return st, udferr.New(udferr.VolumeCorrupt, "vcb.readVDS: empty extent")
	}
	numBlocks := ext.LengthBytes / blockSize
	if ext.LengthBytes%blockSize != 0 {
		numBlocks++
	}

	buf := make([]byte, blockSize)
	for i := uint32(0); i < numBlocks; i++ {
		lba := uint64(ext.LocationLBA) + uint64(i)
		if err := dev.Read(ctx, lba, 1, buf); err != nil {
			return st, err
		}
		tag, ok, err := udf.VerifyTag(buf)
		if err != nil {
			return st, err
		}
		if !ok {
			// An unreadable/corrupt block mid-sequence is tolerated; the
			// volume may simply be shorter than the extent declares.
			continue
		}
		switch tag.Identifier {
		case udf.TagPrimaryVolumeDescriptor:
			pvd, err := udf.DecodePrimaryVolumeDescriptor(buf)
			if err == nil && (!st.havePVD || pvd.VolumeDescriptorSeqNum > st.pvd.VolumeDescriptorSeqNum) {
				st.pvd, st.havePVD = pvd, true
			}
		case udf.TagLogicalVolumeDescriptor:
			lvd, err := udf.DecodeLogicalVolumeDescriptor(buf)
			if err == nil && (!st.haveLVD || lvd.VolumeDescriptorSeqNum > st.lvd.VolumeDescriptorSeqNum) {
				st.lvd, st.haveLVD = lvd, true
			}
		case udf.TagPartitionDescriptor:
			pd, err := udf.DecodePartitionDescriptor(buf)
			if err == nil {
				if existing, ok := st.partitions[pd.PartitionNumber]; !ok || pd.VolumeDescriptorSeqNum > existing.VolumeDescriptorSeqNum {
					st.partitions[pd.PartitionNumber] = pd
				}
			}
		case udf.TagTerminatingDescriptor:
			st.sawTerminator = true
			return st, nil
		}
	}
	return st, nil
}

// mergeVDS folds a Reserve VDS walk's findings into a Main VDS walk's
// result for whichever fields the Main copy is missing, per spec.md
// §4.B's "the Reserve VDS exists purely to recover a Main VDS that fails
// tag/CRC verification."
func mergeVDS(main, reserve *vdsState) *vdsState {
	if main == nil {
		return reserve
	}
	if reserve == nil {
		return main
	}
	out := newVDSState()
	out.havePVD, out.pvd = main.havePVD, main.pvd
	if !out.havePVD {
		out.havePVD, out.pvd = reserve.havePVD, reserve.pvd
	}
	out.haveLVD, out.lvd = main.haveLVD, main.lvd
	if !out.haveLVD {
		out.haveLVD, out.lvd = reserve.haveLVD, reserve.lvd
	}
	for k, v := range reserve.partitions {
		out.partitions[k] = v
	}
	for k, v := range main.partitions {
		out.partitions[k] = v
	}
	out.sawTerminator = main.sawTerminator || reserve.sawTerminator
	return out
}
