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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/udfcore/udfcore/alloc"
	"github.com/udfcore/udfcore/blockcache"
	"github.com/udfcore/udfcore/blockdev"
	"github.com/udfcore/udfcore/dirindex"
	"github.com/udfcore/udfcore/extent"
	"github.com/udfcore/udfcore/geometry"
	"github.com/udfcore/udfcore/internal/clock"
	"github.com/udfcore/udfcore/internal/config"
	"github.com/udfcore/udfcore/internal/logger"
	"github.com/udfcore/udfcore/internal/metrics"
	"github.com/udfcore/udfcore/internal/workqueue"
	"github.com/udfcore/udfcore/openfile"
	"github.com/udfcore/udfcore/udf"
	"github.com/udfcore/udfcore/udferr"
)

const (
	defaultCachePoolSize = 256
	defaultChargePoolSize = 16
)

// Mount discovers and opens a UDF volume on dev, wiring the Block Cache,
// Space Allocator, Extent Engine, and Open-Instance Graph in the order
// spec.md §3/§4 describes, the way gcsfuse's fs.NewServer constructor
// validates then assembles a server's dependent subsystems before
// returning it. On success the returned Vcb's Condition is Mounted and
// its root directory is already open.
func Mount(ctx context.Context, dev blockdev.Device, opts Options) (*Vcb, error) {
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}
	cfg := opts.Config

	anchor, err := geometry.ProbeAnchors(ctx, dev, geometry.DefaultAnchorCandidates())
	if err != nil {
		return nil, err
	}

	blockSize := dev.BlockSize()

	mainSt, mainErr := readVDS(ctx, dev, blockSize, anchor.MainVDS)
	reserveSt, reserveErr := readVDS(ctx, dev, blockSize, anchor.ReserveVDS)
	if mainErr != nil && reserveErr != nil {
		return nil, errCorrupt("vcb.Mount: neither Main nor Reserve VDS is readable")
	}
	var st *vdsState
	switch {
	case mainErr == nil && reserveErr == nil:
		st = mergeVDS(mainSt, reserveSt)
	case mainErr == nil:
		st = mainSt
	default:
		st = reserveSt
	}
	if !st.haveLVD {
		return nil, errCorrupt("vcb.Mount: no Logical Volume Descriptor found")
	}
	lvd := st.lvd
	logicalBlockSize := lvd.LogicalBlockSize
	if logicalBlockSize == 0 {
		logicalBlockSize = blockSize
	}

	partMaps := make([]geometry.PartitionMap, len(lvd.PartitionMaps))
	for i, pme := range lvd.PartitionMaps {
		pd, ok := st.partitions[pme.PartitionNumber]
		if !ok {
			return nil, errCorrupt("vcb.Mount: partition map references unknown Partition Descriptor")
		}
		pm := geometry.PartitionMap{
			VolumeSeq: pme.VolumeSeqNum,
			PartNum:   pme.PartitionNumber,
			StartLBA:  pd.StartingLocation,
			Length:    pd.Length,
		}
		switch {
		case !pme.IsType2:
			pm.Type = geometry.PartitionPlain
		case pme.TypeIdentifier == "*UDF Sparable Partition":
			pm.Type = geometry.PartitionSparable
			pm.PacketSize = uint32(pme.PacketLength)
		case pme.TypeIdentifier == "*UDF Virtual Partition":
			pm.Type = geometry.PartitionVirtual
		default:
			pm.Type = geometry.PartitionPlain
		}
		partMaps[i] = pm
	}

	geo := geometry.NewVolume(partMaps)
	geo.InstantBurnerPartitionRefs = cfg.Compat.InstantBurnerPartitionRefs
	geo.RefuseWritesOnNoSpare = cfg.Volume.SparePolicy == config.SparingStrict

	for i, pme := range lvd.PartitionMaps {
		if pme.IsType2 && pme.TypeIdentifier == "*UDF Sparable Partition" && len(pme.SparingTableLocs) > 0 {
			entries, err := loadSparingTable(ctx, dev, blockSize, pme.SparingTableLocs[0])
			if err != nil {
				logger.Warnf("vcb.Mount: sparing table load failed for partition %d: %v", pme.PartitionNumber, err)
				continue
			}
			geo.LoadSparingTable(i, entries)
		}
	}

	cache := blockcache.New(dev, clk, m, blockcache.Config{
		BlockSize: logicalBlockSize,
		PoolSize:  defaultCachePoolSize,
	})
	cache.SetVolumeLabel(st.pvd.VolumeIdentifier)

	allocator := alloc.New(logicalBlockSize, m)
	allocator.SetVolumeLabel(st.pvd.VolumeIdentifier)

	var totalAU, freeAU uint64
	bitmapDegraded := false
	for i, pme := range lvd.PartitionMaps {
		pd := st.partitions[pme.PartitionNumber]
		hdr, _ := udf.DecodePartitionHeaderDescriptor(pd.ContentsUse[:])

		n := pd.Length
		free, err := readSpaceBitmap(ctx, dev, geo, blockSize, i, hdr.UnallocatedSpaceBitmap)
		if err != nil || free == nil {
			if !cfg.Volume.AssumeAllUsedOnBitmapLoadFailure {
				if err != nil {
					return nil, udferr.Wrap(udferr.VolumeCorrupt, "vcb.Mount: loading free-space bitmap", err)
				}
				return nil, errCorrupt("vcb.Mount: partition has no free-space bitmap")
			}
			logger.Warnf("vcb.Mount: free-space bitmap unreadable for partition %d, mounting with all blocks assumed used: %v", pme.PartitionNumber, err)
			free = alloc.NewBitmap(n)
			bitmapDegraded = true
		}
		zero, err := readSpaceBitmap(ctx, dev, geo, blockSize, i, hdr.FreedSpaceBitmap)
		if err != nil {
			zero = alloc.NewBitmap(n)
		}
		bad := alloc.NewBitmap(n)

		packetSize := uint32(1)
		if i < len(partMaps) && partMaps[i].PacketSize > 0 {
			packetSize = partMaps[i].PacketSize
		}
		allocator.LoadPartition(i, free, zero, bad, packetSize, defaultChargePoolSize)

		totalAU += uint64(n)
		freeAU += uint64(free.PopCount())
	}

	eng := extent.New(cache, geo, allocator, logicalBlockSize)
	eng.SparseGrowthThresholdBytes = cfg.Compat.SparseGrowthThresholdBytes
	queue := workqueue.New(ctx, m, st.pvd.VolumeIdentifier)
	graph := openfile.New(eng, geo, allocator, clk, m, queue, dirindex.DefaultConfig())

	fsdPhys, err := geo.PartLBAToPhys(int(lvd.FileSetLocation.Partition), lvd.FileSetLocation.LBN)
	if err != nil {
		return nil, err
	}
	fsdBuf := make([]byte, logicalBlockSize)
	if err := cache.ReadBlock(ctx, fsdPhys, fsdBuf); err != nil {
		return nil, err
	}
	tag, ok, err := udf.VerifyTag(fsdBuf)
	if err != nil {
		return nil, err
	}
	if !ok || tag.Identifier != udf.TagFileSetDescriptor {
		return nil, errCorrupt("vcb.Mount: File Set Descriptor tag/CRC mismatch")
	}
	fsd, err := udf.DecodeFileSetDescriptor(fsdBuf)
	if err != nil {
		return nil, err
	}

	if _, err := graph.OpenRoot(ctx, int(fsd.RootDirectoryICB.Partition), fsd.RootDirectoryICB.LBN); err != nil {
		return nil, err
	}

	lvidOpen := false
	if lvd.IntegritySeqExtent.Length > 0 {
		lvidBuf := make([]byte, blockSize)
		if err := dev.Read(ctx, uint64(lvd.IntegritySeqExtent.Location), 1, lvidBuf); err == nil {
			if t, ok, err := udf.VerifyTag(lvidBuf); err == nil && ok && t.Identifier == udf.TagLogicalVolumeIntegrityDesc {
				if lvid, err := udf.DecodeLogicalVolumeIntegrityDescriptor(lvidBuf); err == nil {
					lvidOpen = lvid.IntegrityType == udf.IntegrityOpen
				}
			}
		}
	}

	readOnly := bitmapDegraded
	if lvidOpen && cfg.Volume.ReadOnlyWhenDirty && !cfg.Volume.AllowReadWriteOnDirtyVolume {
		readOnly = true
	}

	v := &Vcb{
		Dev:           dev,
		BlockSize:     logicalBlockSize,
		BlockSizeLog2: log2(logicalBlockSize),
		LastLBA:       dev.BlockCount() - 1,
		VolumeLabel:   st.pvd.VolumeIdentifier,
		Condition:     Mounted,
		Geo:           geo,
		Cache:         cache,
		Alloc:         allocator,
		Eng:           eng,
		Graph:         graph,
		Queue:         queue,
		Metrics:       m,
		Clock:         clk,
		Config:        cfg,
		RootPartition: int(fsd.RootDirectoryICB.Partition),
		RootICBLBN:    fsd.RootDirectoryICB.LBN,
		ReadOnly:      readOnly,
		LVIDOpen:      lvidOpen,
		MountedAt:     clk.Now(),
		TotalAllocationUnits: totalAU,
		FreeAllocationUnits:  freeAU,
	}
	return v, nil
}
