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

package dirindex_test

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
	"github.com/udfcore/udfcore/dirindex"
	"github.com/udfcore/udfcore/extent"
	"github.com/udfcore/udfcore/geometry"
	"github.com/udfcore/udfcore/internal/clock"
	"github.com/udfcore/udfcore/internal/metrics"
	"github.com/udfcore/udfcore/udf"
)

const testBlockSize = 2048

func newTestEngine(t *testing.T) *extent.Engine {
	t.Helper()
	dev := fake.New(testBlockSize, 256)
	clk := clock.NewSimulatedClock(time.Unix(0, 0))
	m := metrics.New(prometheus.NewRegistry())
	cache := blockcache.New(dev, clk, m, blockcache.Config{BlockSize: testBlockSize, PoolSize: 32})
	geo := geometry.NewVolume([]geometry.PartitionMap{
		{Type: geometry.PartitionPlain, StartLBA: 0, Length: 200},
	})
	a := alloc.New(testBlockSize, m)
	a.LoadPartition(0, alloc.NewBitmapAllSet(200), alloc.NewBitmap(200), alloc.NewBitmap(200), 0, 4)
	return extent.New(cache, geo, a, testBlockSize)
}

func fidFor(name string, deleted bool) udf.FID {
	var chars uint8
	if deleted {
		chars |= udf.FileCharDeleted
	}
	nameBytes, _ := udf.EncodeCS0(name)
	return udf.FID{
		FileCharacteristics:  chars,
		FileIdentifierLength: uint8(len(nameBytes)),
		FileIdentifier:       nameBytes,
	}
}

// buildTestDirectory writes a ".." FID followed by the named children
// into a fresh Extent Info and returns it alongside the engine that can
// read/write it.
func buildTestDirectory(t *testing.T, names []string, deletedAt map[int]bool) (*extent.Engine, *extent.Info) {
	t.Helper()
	eng := newTestEngine(t)
	ctx := context.Background()

	info := &extent.Info{}
	require.NoError(t, eng.Resize(0, info, testBlockSize, 0))

	parent := fidFor("", false)
	parent.FileCharacteristics = udf.FileCharParent
	parent.FileIdentifierLength = 0
	parent.FileIdentifier = nil

	var buf []byte
	pb := make([]byte, parent.Size())
	_, err := udf.EncodeFID(pb, parent)
	require.NoError(t, err)
	buf = append(buf, pb...)

	for i, name := range names {
		fid := fidFor(name, deletedAt[i])
		b := make([]byte, fid.Size())
		_, err := udf.EncodeFID(b, fid)
		require.NoError(t, err)
		buf = append(buf, b...)
	}

	_, err = eng.WriteExtent(ctx, info, 0, 0, buf)
	require.NoError(t, err)
	return eng, info
}

func TestBuildSynthesizesDotAndDotDot(t *testing.T) {
	eng, info := buildTestDirectory(t, []string{"alpha", "beta"}, nil)
	idx, err := dirindex.Build(context.Background(), eng, info, nil, udf.LongAD{LBN: 7}, dirindex.DefaultConfig())
	require.NoError(t, err)

	self, ok := idx.ItemAt(0)
	require.True(t, ok)
	assert.Equal(t, ".", self.Name)
	assert.True(t, self.Internal)

	parent, ok := idx.ItemAt(1)
	require.True(t, ok)
	assert.Equal(t, "..", parent.Name)
	assert.True(t, parent.Internal)

	assert.Equal(t, 4, idx.Len())
}

func TestFindLocatesChildByName(t *testing.T) {
	eng, info := buildTestDirectory(t, []string{"alpha", "beta"}, nil)
	idx, err := dirindex.Build(context.Background(), eng, info, nil, udf.LongAD{}, dirindex.DefaultConfig())
	require.NoError(t, err)

	i, item, ok := idx.Find("beta", true)
	require.True(t, ok)
	assert.Equal(t, 3, i)
	assert.Equal(t, "beta", item.Name)

	_, _, ok = idx.Find("gamma", true)
	assert.False(t, ok)
}

func TestFindSkipsDeletedEntries(t *testing.T) {
	eng, info := buildTestDirectory(t, []string{"alpha", "beta"}, map[int]bool{0: true})
	idx, err := dirindex.Build(context.Background(), eng, info, nil, udf.LongAD{}, dirindex.DefaultConfig())
	require.NoError(t, err)

	_, _, ok := idx.Find("alpha", true)
	assert.False(t, ok)
	_, _, ok = idx.Find("beta", true)
	assert.True(t, ok)
}

func TestFindCaseInsensitive(t *testing.T) {
	eng, info := buildTestDirectory(t, []string{"Alpha"}, nil)
	idx, err := dirindex.Build(context.Background(), eng, info, nil, udf.LongAD{}, dirindex.DefaultConfig())
	require.NoError(t, err)

	_, _, ok := idx.Find("ALPHA", false)
	assert.True(t, ok)
	_, _, ok = idx.Find("ALPHA", true)
	assert.False(t, ok)
}

func TestShouldPackCrossesAbsoluteThreshold(t *testing.T) {
	idx := dirindex.New(dirindex.Config{PackRatio: 100, PackAbsoluteThreshold: 3})
	idx.Put(0, dirindex.Item{Name: ".", Internal: true})
	idx.Put(1, dirindex.Item{Name: "..", Internal: true})
	for i := 0; i < 3; i++ {
		idx.Put(2+i, dirindex.Item{Name: "x", Deleted: true})
	}
	assert.True(t, idx.ShouldPack())
}

func TestPackRemovesDeletedAndRemapsIndices(t *testing.T) {
	eng, info := buildTestDirectory(t, []string{"alpha", "beta", "gamma"}, map[int]bool{1: true})
	idx, err := dirindex.Build(context.Background(), eng, info, nil, udf.LongAD{}, dirindex.DefaultConfig())
	require.NoError(t, err)

	remap, err := idx.Pack(context.Background(), eng, 0, info, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, remap[0])
	assert.Equal(t, 1, remap[1])
	// alpha stays at 2, beta (deleted) is dropped from the remap, gamma
	// shifts down from 4 to 3.
	assert.Equal(t, 2, remap[2])
	_, ok := remap[3]
	assert.False(t, ok)
	assert.Equal(t, 3, remap[4])

	_, _, found := idx.Find("beta", true)
	assert.False(t, found)
	_, _, found = idx.Find("gamma", true)
	assert.True(t, found)
}

func TestGrowAndTruncateRoundTrip(t *testing.T) {
	idx := dirindex.New(dirindex.DefaultConfig())
	idx.Put(0, dirindex.Item{Name: ".", Internal: true})
	idx.Put(1, dirindex.Item{Name: "..", Internal: true})
	before := idx.Len()
	idx.Grow(5)
	assert.Equal(t, before+5, idx.Len())
	idx.Truncate(5)
	assert.Equal(t, before, idx.Len())
}
