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

package extent_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udfcore/udfcore/alloc"
	"github.com/udfcore/udfcore/blockcache"
	"github.com/udfcore/udfcore/blockdev/fake"
	"github.com/udfcore/udfcore/extent"
	"github.com/udfcore/udfcore/geometry"
	"github.com/udfcore/udfcore/internal/clock"
	"github.com/udfcore/udfcore/internal/metrics"
	"github.com/udfcore/udfcore/udf"
)

const testBlockSize = 2048

func newTestEngine(t *testing.T, partBlocks uint32) *extent.Engine {
	t.Helper()
	dev := fake.New(testBlockSize, uint64(partBlocks)+64)
	clk := clock.NewSimulatedClock(time.Unix(0, 0))
	m := metrics.New(prometheus.NewRegistry())
	cache := blockcache.New(dev, clk, m, blockcache.Config{BlockSize: testBlockSize, PoolSize: 32})

	geo := geometry.NewVolume([]geometry.PartitionMap{
		{Type: geometry.PartitionPlain, StartLBA: 0, Length: partBlocks},
	})

	a := alloc.New(testBlockSize, m)
	a.LoadPartition(0, alloc.NewBitmapAllSet(partBlocks), alloc.NewBitmap(partBlocks), alloc.NewBitmap(partBlocks), 0, 4)

	return extent.New(cache, geo, a, testBlockSize)
}

func TestMergeAdjacentFusesContiguousRecordedRuns(t *testing.T) {
	mapping := []extent.Run{
		{State: extent.Recorded, Partition: 0, LBN: 10, Length: testBlockSize},
		{State: extent.Recorded, Partition: 0, LBN: 11, Length: testBlockSize},
		{State: extent.Recorded, Partition: 0, LBN: 20, Length: testBlockSize},
	}
	merged := extent.MergeAdjacent(mapping, testBlockSize)
	require.Len(t, merged, 2)
	assert.Equal(t, uint32(2*testBlockSize), merged[0].Length)
	assert.Equal(t, uint32(10), merged[0].LBN)
	assert.Equal(t, uint32(testBlockSize), merged[1].Length)
}

func TestMergeAdjacentLeavesDifferentStatesSplit(t *testing.T) {
	mapping := []extent.Run{
		{State: extent.Recorded, Partition: 0, LBN: 10, Length: testBlockSize},
		{State: extent.NotAllocatedNotRecorded, Length: testBlockSize},
	}
	merged := extent.MergeAdjacent(mapping, testBlockSize)
	assert.Len(t, merged, 2)
}

func TestSplitAtDividesStraddlingRun(t *testing.T) {
	mapping := []extent.Run{
		{State: extent.Recorded, Partition: 0, LBN: 10, Length: 2 * testBlockSize},
	}
	prefix, suffix := extent.SplitAt(mapping, testBlockSize, testBlockSize)
	require.Len(t, prefix, 1)
	require.Len(t, suffix, 1)
	assert.Equal(t, uint32(testBlockSize), prefix[0].Length)
	assert.Equal(t, uint32(10), prefix[0].LBN)
	assert.Equal(t, uint32(testBlockSize), suffix[0].Length)
	assert.Equal(t, uint32(11), suffix[0].LBN)
}

func TestShortADRoundTrip(t *testing.T) {
	r := extent.Run{State: extent.Recorded, LBN: 42, Length: 4096}
	ad := extent.RunToShortAD(r)
	buf := make([]byte, extent.ADSize(extent.ADShort))
	require.NoError(t, udf.EncodeShortAD(buf, ad))
	decoded, err := udf.DecodeShortAD(buf)
	require.NoError(t, err)
	assert.Equal(t, ad, decoded)
}

func TestReadExtentReturnsZeroForSparseRun(t *testing.T) {
	e := newTestEngine(t, 64)
	info := &extent.Info{
		Length:  testBlockSize,
		Mapping: []extent.Run{{State: extent.NotAllocatedNotRecorded, Length: testBlockSize}},
	}
	buf := make([]byte, testBlockSize)
	for i := range buf {
		buf[i] = 0xAA
	}
	n, err := e.ReadExtent(context.Background(), info, 0, buf, nil)
	require.NoError(t, err)
	assert.Equal(t, testBlockSize, n)
	for _, b := range buf {
		assert.Equal(t, byte(0), b)
	}
}

func TestWriteExtentMaterializesSparseRunThenReadsBack(t *testing.T) {
	e := newTestEngine(t, 64)
	info := &extent.Info{
		Length:  testBlockSize,
		Mapping: []extent.Run{{State: extent.NotAllocatedNotRecorded, Length: testBlockSize}},
	}

	payload := make([]byte, testBlockSize)
	copy(payload, []byte("hello udf"))

	ctx := context.Background()
	n, err := e.WriteExtent(ctx, info, 0, 0, payload)
	require.NoError(t, err)
	assert.Equal(t, testBlockSize, n)
	require.Len(t, info.Mapping, 1)
	assert.Equal(t, extent.Recorded, info.Mapping[0].State)

	out := make([]byte, testBlockSize)
	n, err = e.ReadExtent(ctx, info, 0, out, nil)
	require.NoError(t, err)
	assert.Equal(t, testBlockSize, n)
	assert.Equal(t, payload, out)
}

func TestWriteExtentFlipsAllocatedNotRecordedWithoutReallocating(t *testing.T) {
	e := newTestEngine(t, 64)
	info := &extent.Info{
		Length:  testBlockSize,
		Mapping: []extent.Run{{State: extent.AllocatedNotRecorded, Partition: 0, LBN: 5, Length: testBlockSize}},
	}
	ctx := context.Background()
	payload := make([]byte, testBlockSize)
	copy(payload, []byte("in place"))

	_, err := e.WriteExtent(ctx, info, 0, 0, payload)
	require.NoError(t, err)
	require.Len(t, info.Mapping, 1)
	assert.Equal(t, extent.Recorded, info.Mapping[0].State)
	assert.Equal(t, uint32(5), info.Mapping[0].LBN)
}

func TestResizeGrowThenShrinkRestoresLength(t *testing.T) {
	e := newTestEngine(t, 64)
	info := &extent.Info{Length: 0}

	require.NoError(t, e.Resize(0, info, 4*testBlockSize, 0))
	assert.Equal(t, uint64(4*testBlockSize), info.Length)
	assert.Equal(t, uint64(4*testBlockSize), info.TotalMappedBytes())

	require.NoError(t, e.Resize(0, info, testBlockSize, 0))
	assert.Equal(t, uint64(testBlockSize), info.Length)
	assert.Equal(t, uint64(testBlockSize), info.TotalMappedBytes())
}
