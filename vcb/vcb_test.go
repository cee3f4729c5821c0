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

package vcb_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/udfcore/udfcore/blockdev/fake"
	"github.com/udfcore/udfcore/extent"
	"github.com/udfcore/udfcore/internal/clock"
	"github.com/udfcore/udfcore/internal/config"
	"github.com/udfcore/udfcore/internal/metrics"
	"github.com/udfcore/udfcore/vcb"
)

const testBlockSize = 2048

func formatAndMount(t *testing.T, blockCount uint64) (*fake.Device, *vcb.Vcb) {
	t.Helper()
	dev := fake.New(testBlockSize, blockCount)
	clk := clock.NewSimulatedClock(time.Unix(0, 0))

	require.NoError(t, vcb.Format(context.Background(), dev, vcb.FormatOptions{
		VolumeLabel: "TESTVOL",
		Clock:       clk,
	}))

	v, err := vcb.Mount(context.Background(), dev, vcb.Options{
		Config:  config.Config{Volume: config.DefaultVolumeConfig()},
		Metrics: metrics.New(prometheus.NewRegistry()),
		Clock:   clk,
	})
	require.NoError(t, err)
	return dev, v
}

// TestFormatThenMountOpensRoot exercises spec.md §8 scenario S1's mount
// half: a freshly formatted 1 GiB image mounts cleanly, read-write, with
// its root directory already open.
func TestFormatThenMountOpensRoot(t *testing.T) {
	blockCount := uint64(1<<30) / testBlockSize
	_, v := formatAndMount(t, blockCount)
	defer vcb.Dismount(context.Background(), v, true)

	require.Equal(t, vcb.Mounted, v.Condition)
	require.False(t, v.ReadOnly)
	require.False(t, v.LVIDOpen)
	require.NotNil(t, v.Graph.Root())
	require.Equal(t, "TESTVOL", v.VolumeLabel)
}

// TestCreateAndReadSmallFile drives spec.md §8 scenario S1's create/read
// half: create /hello with 32 bytes of embedded (In-ICB) content, close,
// and read it back through a fresh Open -- byte-for-byte, with
// InformationLength matching and the run still carrying extent.InICB.
func TestCreateAndReadSmallFile(t *testing.T) {
	blockCount := uint64(1<<30) / testBlockSize
	_, v := formatAndMount(t, blockCount)
	defer vcb.Dismount(context.Background(), v, true)

	ctx := context.Background()
	root := v.Graph.Root()

	fi, err := v.Graph.CreateChild(ctx, root, "hello", false, 0644, true)
	require.NoError(t, err)
	require.NotNil(t, fi)

	content := []byte("The quick brown fox jumps 0123\r\n") // 32 bytes
	require.Len(t, content, 32)

	d := fi.Dloc
	require.NoError(t, v.Eng.Resize(d.Partition(), &d.DataLoc, uint64(len(content)), d.FE.EmbeddedCapacity(v.BlockSize)))
	icb := d.FE.Tail
	n, err := extent.WriteEmbedded(icb, 0, content)
	require.NoError(t, err)
	require.Equal(t, len(content), n)
	d.FE.InformationLength = uint64(len(content))
	d.FEModified = true

	require.NoError(t, v.Graph.FlushDloc(ctx, d))

	hello, err := v.Graph.Open(ctx, root, "hello", true)
	require.NoError(t, err)
	require.Equal(t, uint64(32), hello.Dloc.DataLoc.Length)
	require.Len(t, hello.Dloc.DataLoc.Mapping, 1)
	require.Equal(t, extent.InICB, hello.Dloc.DataLoc.Mapping[0].State)

	buf := make([]byte, 32)
	nr, err := v.Eng.ReadExtent(ctx, &hello.Dloc.DataLoc, 0, buf, hello.Dloc.FE.Tail)
	require.NoError(t, err)
	require.Equal(t, 32, nr)
	require.Equal(t, content, buf)
}

// TestWriteThenReadBackWithoutFlushIsByteIdentical drives spec.md §8
// scenario S2: a megabyte of i-mod-256 content written to /big is
// readable back in full before any flush touches the File Entry, and
// lands in at least one Recorded run covering the whole span.
func TestWriteThenReadBackWithoutFlushIsByteIdentical(t *testing.T) {
	blockCount := uint64(2<<30) / testBlockSize
	_, v := formatAndMount(t, blockCount)
	defer vcb.Dismount(context.Background(), v, true)

	ctx := context.Background()
	root := v.Graph.Root()

	fi, err := v.Graph.CreateChild(ctx, root, "big", false, 0644, true)
	require.NoError(t, err)

	const size = 1 << 20
	content := make([]byte, size)
	for i := range content {
		content[i] = byte(i % 256)
	}

	d := fi.Dloc
	require.NoError(t, v.Eng.Resize(d.Partition(), &d.DataLoc, uint64(size), d.FE.EmbeddedCapacity(v.BlockSize)))
	n, err := v.Eng.WriteExtent(ctx, &d.DataLoc, d.Partition(), 0, content)
	require.NoError(t, err)
	require.Equal(t, size, n)

	var recorded uint64
	for _, r := range d.DataLoc.Mapping {
		if r.State == extent.Recorded {
			recorded += uint64(r.Length)
		}
	}
	require.GreaterOrEqual(t, recorded, uint64(size))

	readBack := make([]byte, size)
	nr, err := v.Eng.ReadExtent(ctx, &d.DataLoc, 0, readBack, nil)
	require.NoError(t, err)
	require.Equal(t, size, nr)
	require.Equal(t, content, readBack)
}

// TestTruncateFreesBlocksAndClampsReads drives spec.md §8 scenario S3:
// truncating /big (from S2) down to 4096 bytes frees at least the
// expected number of blocks back to the Space Allocator, a read past
// the new length returns nothing, and the surviving prefix is untouched.
func TestTruncateFreesBlocksAndClampsReads(t *testing.T) {
	blockCount := uint64(2<<30) / testBlockSize
	_, v := formatAndMount(t, blockCount)
	defer vcb.Dismount(context.Background(), v, true)

	ctx := context.Background()
	root := v.Graph.Root()

	fi, err := v.Graph.CreateChild(ctx, root, "big", false, 0644, true)
	require.NoError(t, err)

	const size = 1 << 20
	const newLength = 4096
	content := make([]byte, size)
	for i := range content {
		content[i] = byte(i % 256)
	}

	d := fi.Dloc
	partition := d.Partition()
	require.NoError(t, v.Eng.Resize(partition, &d.DataLoc, uint64(size), d.FE.EmbeddedCapacity(v.BlockSize)))
	_, err = v.Eng.WriteExtent(ctx, &d.DataLoc, partition, 0, content)
	require.NoError(t, err)

	freeBefore, err := v.Alloc.FreeCount(partition)
	require.NoError(t, err)

	require.NoError(t, v.Eng.Resize(partition, &d.DataLoc, newLength, d.FE.EmbeddedCapacity(v.BlockSize)))

	freeAfter, err := v.Alloc.FreeCount(partition)
	require.NoError(t, err)

	wantFreed := uint32((size - newLength) / int(v.BlockSize))
	require.GreaterOrEqual(t, freeAfter-freeBefore, wantFreed)

	tail := make([]byte, size-newLength)
	nr, err := v.Eng.ReadExtent(ctx, &d.DataLoc, newLength, tail, nil)
	require.NoError(t, err)
	require.Equal(t, 0, nr)

	head := make([]byte, newLength)
	nr, err = v.Eng.ReadExtent(ctx, &d.DataLoc, 0, head, nil)
	require.NoError(t, err)
	require.Equal(t, newLength, nr)
	require.Equal(t, content[:newLength], head)
}

// TestWriteAheadOfEOFOpensSparseHole drives spec.md §8 scenario S4:
// extending /big from 4096 bytes out to 1 048 576 with Resize opens a
// sparse hole across the untouched middle, which reads back as zero; a
// single byte then written at the new end reads back.
func TestWriteAheadOfEOFOpensSparseHole(t *testing.T) {
	blockCount := uint64(2<<30) / testBlockSize
	_, v := formatAndMount(t, blockCount)
	defer vcb.Dismount(context.Background(), v, true)
	// S4 only opens a hole once the gap clears the sparse-growth
	// threshold; force it low enough that the 4096->1MiB jump qualifies.
	v.Eng.SparseGrowthThresholdBytes = 4096

	ctx := context.Background()
	root := v.Graph.Root()

	fi, err := v.Graph.CreateChild(ctx, root, "big", false, 0644, true)
	require.NoError(t, err)

	const headLength = 4096
	const finalLength = 1 << 20

	d := fi.Dloc
	partition := d.Partition()
	require.NoError(t, v.Eng.Resize(partition, &d.DataLoc, headLength, d.FE.EmbeddedCapacity(v.BlockSize)))
	head := make([]byte, headLength)
	for i := range head {
		head[i] = byte(i % 256)
	}
	_, err = v.Eng.WriteExtent(ctx, &d.DataLoc, partition, 0, head)
	require.NoError(t, err)

	require.NoError(t, v.Eng.Resize(partition, &d.DataLoc, finalLength, d.FE.EmbeddedCapacity(v.BlockSize)))

	var sparse bool
	for _, r := range d.DataLoc.Mapping {
		if r.State == extent.NotAllocatedNotRecorded {
			sparse = true
		}
	}
	require.True(t, sparse, "expected a sparse run to cover the extended gap")

	middle := make([]byte, finalLength-headLength-1)
	nr, err := v.Eng.ReadExtent(ctx, &d.DataLoc, headLength, middle, nil)
	require.NoError(t, err)
	require.Equal(t, len(middle), nr)
	for _, b := range middle {
		require.Equal(t, byte(0), b)
	}

	tail := []byte{'Z'}
	_, err = v.Eng.WriteExtent(ctx, &d.DataLoc, partition, finalLength-1, tail)
	require.NoError(t, err)

	last := make([]byte, 1)
	nr, err = v.Eng.ReadExtent(ctx, &d.DataLoc, finalLength-1, last, nil)
	require.NoError(t, err)
	require.Equal(t, 1, nr)
	require.Equal(t, byte('Z'), last[0])
}

// TestDirectoryPackSurvivesThousandFileChurn drives spec.md §8 scenario
// S5: with 1 000 files in one directory, deleting every other one pushes
// the directory past its pack threshold, and a fresh lookup of the
// survivor f0777 still reads back its original content.
func TestDirectoryPackSurvivesThousandFileChurn(t *testing.T) {
	blockCount := uint64(2<<30) / testBlockSize
	_, v := formatAndMount(t, blockCount)
	defer vcb.Dismount(context.Background(), v, true)

	ctx := context.Background()
	root := v.Graph.Root()

	const total = 1000
	contents := make(map[string][]byte, total)
	for i := 0; i < total; i++ {
		name := fmt.Sprintf("f%04d", i)
		fi, err := v.Graph.CreateChild(ctx, root, name, false, 0644, true)
		require.NoError(t, err)

		content := []byte(fmt.Sprintf("content-for-%s", name))
		contents[name] = content

		d := fi.Dloc
		require.NoError(t, v.Eng.Resize(d.Partition(), &d.DataLoc, uint64(len(content)), d.FE.EmbeddedCapacity(v.BlockSize)))
		n, err := extent.WriteEmbedded(d.FE.Tail, 0, content)
		require.NoError(t, err)
		require.Equal(t, len(content), n)
		d.FE.InformationLength = uint64(len(content))
		d.FEModified = true
		require.NoError(t, v.Graph.FlushDloc(ctx, d))
	}

	for i := 0; i < total; i += 2 {
		name := fmt.Sprintf("f%04d", i)
		fi, err := v.Graph.Open(ctx, root, name, true)
		require.NoError(t, err)
		require.NoError(t, v.Graph.DeleteChild(ctx, root, fi))
	}

	require.True(t, root.Dloc.Index.ShouldPack() || root.Dloc.Index.Len() < total, "expected delete churn to push the directory past its pack threshold")

	target := "f0777"
	fi, err := v.Graph.Open(ctx, root, target, true)
	require.NoError(t, err)

	buf := make([]byte, len(contents[target]))
	nr, err := v.Eng.ReadExtent(ctx, &fi.Dloc.DataLoc, 0, buf, fi.Dloc.FE.Tail)
	require.NoError(t, err)
	require.Equal(t, len(contents[target]), nr)
	require.Equal(t, contents[target], buf)
}

// TestSparingRemapsReadsToReplacementBlock drives spec.md §8 scenario
// S6: a sparing table entry that remaps /mapped's data block elsewhere
// is transparent to ReadExtent/WriteExtent, and remapping the spare
// again (simulating that block also going bad) keeps reads consistent
// with whichever replacement is current.
func TestSparingRemapsReadsToReplacementBlock(t *testing.T) {
	blockCount := uint64(1<<30) / testBlockSize
	_, v := formatAndMount(t, blockCount)
	defer vcb.Dismount(context.Background(), v, true)

	ctx := context.Background()
	root := v.Graph.Root()

	fi, err := v.Graph.CreateChild(ctx, root, "mapped", false, 0644, true)
	require.NoError(t, err)

	content := make([]byte, v.BlockSize)
	for i := range content {
		content[i] = byte(i % 256)
	}

	d := fi.Dloc
	partition := d.Partition()
	require.NoError(t, v.Eng.Resize(partition, &d.DataLoc, uint64(len(content)), d.FE.EmbeddedCapacity(v.BlockSize)))
	_, err = v.Eng.WriteExtent(ctx, &d.DataLoc, partition, 0, content)
	require.NoError(t, err)
	require.Len(t, d.DataLoc.Mapping, 1)
	require.Equal(t, extent.Recorded, d.DataLoc.Mapping[0].State)

	originalLBN := d.DataLoc.Mapping[0].LBN
	originalPhys, err := v.Geo.PartLBAToPhys(partition, originalLBN)
	require.NoError(t, err)

	spare1, err := v.Alloc.Alloc(partition, uint64(v.BlockSize), 0, ^uint32(0), 0)
	require.NoError(t, err)
	require.Len(t, spare1, 1)
	spare1Phys, err := v.Geo.PartLBAToPhys(partition, spare1[0].LBA)
	require.NoError(t, err)

	// Copy the already-written data to the spare location, as a real
	// sparing event would have done before this table entry existed.
	require.NoError(t, v.Cache.WriteBlocks(ctx, spare1Phys, 1, content, false))
	require.NoError(t, v.Geo.RemapPacket(partition, uint32(originalPhys), uint32(spare1Phys), false))
	require.True(t, v.Geo.AreSectorsRelocated(partition, originalPhys, 1))

	// Stomp the original physical block directly; a relocation-aware
	// read must not notice.
	garbage := make([]byte, v.BlockSize)
	for i := range garbage {
		garbage[i] = 0xFF
	}
	require.NoError(t, v.Cache.WriteBlocks(ctx, originalPhys, 1, garbage, false))

	readBack := make([]byte, v.BlockSize)
	nr, err := v.Eng.ReadExtent(ctx, &d.DataLoc, 0, readBack, nil)
	require.NoError(t, err)
	require.Equal(t, len(content), nr)
	require.Equal(t, content, readBack)

	// Rewrite through the normal path; the new bytes must land on the
	// current spare, not the original (still-defective) block.
	updated := make([]byte, v.BlockSize)
	for i := range updated {
		updated[i] = byte(255 - i%256)
	}
	_, err = v.Eng.WriteExtent(ctx, &d.DataLoc, partition, 0, updated)
	require.NoError(t, err)

	spareRaw := make([]byte, v.BlockSize)
	require.NoError(t, v.Cache.ReadBlock(ctx, spare1Phys, spareRaw))
	require.Equal(t, updated, spareRaw)

	// Now the spare itself goes bad: remap the same original block to a
	// second spare, forcing the table entry to move.
	spare2, err := v.Alloc.Alloc(partition, uint64(v.BlockSize), 0, ^uint32(0), 0)
	require.NoError(t, err)
	require.Len(t, spare2, 1)
	spare2Phys, err := v.Geo.PartLBAToPhys(partition, spare2[0].LBA)
	require.NoError(t, err)

	require.NoError(t, v.Cache.WriteBlocks(ctx, spare2Phys, 1, updated, false))
	require.NoError(t, v.Geo.RemapPacket(partition, uint32(originalPhys), uint32(spare2Phys), true))
	require.True(t, v.Geo.AreSectorsRelocated(partition, originalPhys, 1))

	final := make([]byte, v.BlockSize)
	next := make([]byte, v.BlockSize)
	for i := range next {
		next[i] = byte(i % 128)
	}
	_, err = v.Eng.WriteExtent(ctx, &d.DataLoc, partition, 0, next)
	require.NoError(t, err)
	nr, err = v.Eng.ReadExtent(ctx, &d.DataLoc, 0, final, nil)
	require.NoError(t, err)
	require.Equal(t, len(next), nr)
	require.Equal(t, next, final)

	spare2Raw := make([]byte, v.BlockSize)
	require.NoError(t, v.Cache.ReadBlock(ctx, spare2Phys, spare2Raw))
	require.Equal(t, next, spare2Raw)
}
