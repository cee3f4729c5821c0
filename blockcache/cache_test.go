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

package blockcache_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udfcore/udfcore/blockcache"
	"github.com/udfcore/udfcore/blockdev/fake"
	"github.com/udfcore/udfcore/internal/clock"
	"github.com/udfcore/udfcore/internal/metrics"
)

func newTestCache(t *testing.T, poolSize int) (*blockcache.Cache, *fake.Device, *clock.SimulatedClock) {
	t.Helper()
	dev := fake.New(2048, 256)
	clk := clock.NewSimulatedClock(time.Unix(0, 0))
	m := metrics.New(prometheus.NewRegistry())
	c := blockcache.New(dev, clk, m, blockcache.Config{
		BlockSize: 2048,
		PoolSize:  poolSize,
	})
	return c, dev, clk
}

func TestWriteThenReadHitsCache(t *testing.T) {
	c, _, _ := newTestCache(t, 8)
	ctx := context.Background()

	payload := make([]byte, 2048)
	copy(payload, []byte("block 5"))
	require.NoError(t, c.WriteBlocks(ctx, 5, 1, payload, true))

	out := make([]byte, 2048)
	require.NoError(t, c.ReadBlock(ctx, 5, out))
	assert.Equal(t, payload, out)
	assert.Equal(t, 1, c.DirtyCount())
}

func TestFlushAllClearsDirtyAndWritesThrough(t *testing.T) {
	c, dev, _ := newTestCache(t, 8)
	ctx := context.Background()

	payload := make([]byte, 2048)
	copy(payload, []byte("durable"))
	require.NoError(t, c.WriteBlocks(ctx, 10, 1, payload, true))
	require.Equal(t, 1, c.DirtyCount())

	require.NoError(t, c.FlushAll(ctx))
	assert.Equal(t, 0, c.DirtyCount())

	readBack := make([]byte, 2048)
	require.NoError(t, dev.Read(ctx, 10, 1, readBack))
	assert.Equal(t, payload, readBack)
}

func TestDirtyThresholdTriggersAutoFlush(t *testing.T) {
	dev := fake.New(2048, 256)
	clk := clock.NewSimulatedClock(time.Unix(0, 0))
	m := metrics.New(prometheus.NewRegistry())
	c := blockcache.New(dev, clk, m, blockcache.Config{
		BlockSize:      2048,
		PoolSize:       64,
		DirtyThreshold: 4,
	})
	ctx := context.Background()

	payload := make([]byte, 2048)
	for i := uint64(0); i < 4; i++ {
		require.NoError(t, c.WriteBlocks(ctx, i, 1, payload, false))
	}
	assert.Equal(t, 0, c.DirtyCount(), "dirty threshold should have triggered an auto-flush")
}

func TestEvictionFlushesDirtyVictim(t *testing.T) {
	dev := fake.New(2048, 256)
	clk := clock.NewSimulatedClock(time.Unix(0, 0))
	m := metrics.New(prometheus.NewRegistry())
	c := blockcache.New(dev, clk, m, blockcache.Config{
		BlockSize: 2048,
		PoolSize:  2,
	})
	ctx := context.Background()

	payload := make([]byte, 2048)
	copy(payload, []byte("first"))
	require.NoError(t, c.WriteBlocks(ctx, 0, 1, payload, true))
	clk.AdvanceTime(time.Second)
	require.NoError(t, c.WriteBlocks(ctx, 1, 1, payload, true))
	clk.AdvanceTime(time.Second)
	// A third distinct block forces eviction of lba 0 (oldest last_access).
	require.NoError(t, c.WriteBlocks(ctx, 2, 1, payload, true))

	readBack := make([]byte, 2048)
	require.NoError(t, dev.Read(ctx, 0, 1, readBack))
	assert.Equal(t, payload, readBack, "evicted dirty victim must be flushed before reuse")
}

func TestMarkBadDropsFromDirtyListWithoutFlushing(t *testing.T) {
	c, dev, _ := newTestCache(t, 8)
	ctx := context.Background()

	payload := make([]byte, 2048)
	copy(payload, []byte("poisoned"))
	require.NoError(t, c.WriteBlocks(ctx, 20, 1, payload, true))
	c.MarkBad(20)

	assert.True(t, c.IsBad(20))
	assert.Equal(t, 0, c.DirtyCount())

	readBack := make([]byte, 2048)
	require.NoError(t, dev.Read(ctx, 20, 1, readBack))
	assert.NotEqual(t, payload, readBack, "MarkBad must not have flushed the dirty block")
}
