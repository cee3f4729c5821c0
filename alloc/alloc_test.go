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

package alloc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udfcore/udfcore/alloc"
)

const blockSize = 2048

func newTestAllocator(t *testing.T, blocks uint32) *alloc.Allocator {
	t.Helper()
	a := alloc.New(blockSize, nil)
	free := alloc.NewBitmapAllSet(blocks)
	zero := alloc.NewBitmap(blocks)
	bad := alloc.NewBitmap(blocks)
	a.LoadPartition(0, free, zero, bad, 32, 4)
	return a
}

func TestBitmapRunLengthAt(t *testing.T) {
	b := alloc.NewBitmapAllSet(200)
	b.ClearRange(50, 10)
	assert.Equal(t, uint32(50), b.RunLengthAt(0, 200))
	assert.Equal(t, uint32(10), b.RunLengthAt(50, 200))
	assert.Equal(t, uint32(140), b.RunLengthAt(60, 200))
}

func TestAllocSatisfiesWithSingleRun(t *testing.T) {
	a := newTestAllocator(t, 1000)
	mapping, err := a.Alloc(0, 10*blockSize, 0, 1000, 0)
	require.NoError(t, err)
	require.Len(t, mapping, 1)
	assert.Equal(t, uint32(10), mapping[0].Blocks)

	free, err := a.FreeCount(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(990), free)
}

func TestAllocMarksZeroFilled(t *testing.T) {
	a := newTestAllocator(t, 1000)
	mapping, err := a.Alloc(0, 5*blockSize, 0, 1000, 0)
	require.NoError(t, err)
	zeroed, err := a.IsZeroed(0, mapping)
	require.NoError(t, err)
	assert.True(t, zeroed)
}

func TestAllocDiskFullRollsBackPartialMapping(t *testing.T) {
	a := newTestAllocator(t, 100)
	_, err := a.Alloc(0, 50*blockSize, 0, 100, 0)
	require.NoError(t, err)

	_, err = a.Alloc(0, 200*blockSize, 0, 100, 0)
	assert.Error(t, err)

	free, err := a.FreeCount(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(50), free, "a failed alloc must not leave partially-marked blocks")
}

func TestAllocSkipsBadBlocksWhenVerifying(t *testing.T) {
	a := newTestAllocator(t, 100)
	require.NoError(t, a.Mark(0, []alloc.Run{{LBA: 0, Blocks: 10}}, alloc.MarkBad))

	mapping, err := a.Alloc(0, 5*blockSize, 0, 100, alloc.FlagVerify)
	require.NoError(t, err)
	for _, r := range mapping {
		for i := uint32(0); i < r.Blocks; i++ {
			assert.False(t, r.LBA+i < 10, "allocated block %d falls inside the bad range", r.LBA+i)
		}
	}
}

func TestMarkFreeRespectsBadSpace(t *testing.T) {
	a := newTestAllocator(t, 100)
	mapping, err := a.Alloc(0, 10*blockSize, 0, 100, 0)
	require.NoError(t, err)

	require.NoError(t, a.Mark(0, []alloc.Run{{LBA: mapping[0].LBA, Blocks: 1}}, alloc.MarkBad))
	require.NoError(t, a.Mark(0, mapping, alloc.MarkFree))

	free, err := a.FreeCount(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(99), free, "the bad block must not be returned to the free set")
}

func TestFindMinSuitableExtentPrefersPacketAlignment(t *testing.T) {
	a := newTestAllocator(t, 200)
	// Consume blocks [0,32) so the only 32-block run left starts at 32.
	_, err := a.Alloc(0, 32*blockSize, 0, 200, 0)
	require.NoError(t, err)

	run, err := a.FindMinSuitableExtent(0, 32, 0, 200, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), run.LBA%32, "packet-sized requests should land on a packet boundary when one is available")
}

func TestChargePoolRoundTrip(t *testing.T) {
	p := alloc.NewChargePool(2)
	evicted, ok := p.Offer(1, alloc.Run{LBA: 10, Blocks: 1})
	assert.False(t, ok)
	_ = evicted

	run, ok := p.TakeNear(1)
	require.True(t, ok)
	assert.Equal(t, uint32(10), run.LBA)

	_, ok = p.TakeNear(1)
	assert.False(t, ok, "a run can only be taken once")
}

func TestChargePoolEvictsOldestBeyondCapacity(t *testing.T) {
	p := alloc.NewChargePool(1)
	_, ok := p.Offer(1, alloc.Run{LBA: 1, Blocks: 1})
	assert.False(t, ok)
	evicted, ok := p.Offer(2, alloc.Run{LBA: 2, Blocks: 1})
	require.True(t, ok)
	assert.Equal(t, uint32(1), evicted.LBA)
}
