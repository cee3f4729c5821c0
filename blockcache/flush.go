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

package blockcache

import (
	"context"
	"sort"

	"github.com/udfcore/udfcore/blockdev"
	"github.com/udfcore/udfcore/internal/logger"
)

// FlushAll writes back every dirty block, sorted by LBA and coalesced
// into runs of contiguous LBAs up to coalesceDistance, per spec.md §4.C.
// It is called at dismount, on explicit fsync, and whenever the flush
// policy fires from WriteBlocks.
func (c *Cache) FlushAll(ctx context.Context) error {
	c.mu.Lock()
	batch := make([]*entry, 0, c.dirty.Len())
	for el := c.dirty.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		e.flags |= flagFlushing
		batch = append(batch, e)
	}
	c.mu.Unlock()

	if len(batch) == 0 {
		c.mu.Lock()
		c.lastFlush = c.clock.Now()
		c.mu.Unlock()
		return nil
	}

	sort.Slice(batch, func(i, j int) bool { return batch[i].lba < batch[j].lba })

	runs := coalesce(batch, c.coalesceDistance)
	for _, run := range runs {
		if err := c.flushRun(ctx, run); err != nil {
			c.clearFlushingFlags(batch)
			return err
		}
	}

	c.mu.Lock()
	for _, e := range batch {
		e.flags &^= flagModified | flagFlushing
		if e.dirtyElem != nil {
			c.dirty.Remove(e.dirtyElem)
			e.dirtyElem = nil
		}
	}
	c.lastFlush = c.clock.Now()
	if c.metrics != nil {
		c.metrics.DirtyListDepth.WithLabelValues(c.volumeLabel()).Set(float64(c.dirty.Len()))
		c.metrics.FlushBatches.WithLabelValues(c.volumeLabel()).Inc()
		c.metrics.FlushedBlocks.WithLabelValues(c.volumeLabel()).Add(float64(len(batch)))
	}
	c.mu.Unlock()
	return nil
}

// flushEntry flushes a single entry inline, used by eviction when the
// victim chosen is dirty.
func (c *Cache) flushEntry(ctx context.Context, e *entry) error {
	c.mu.Lock()
	e.flags |= flagFlushing
	c.mu.Unlock()

	err := c.dev.Write(ctx, e.lba, 1, e.buf, blockdev.FlagWriteThrough)

	c.mu.Lock()
	e.flags &^= flagModified | flagFlushing
	if e.dirtyElem != nil {
		c.dirty.Remove(e.dirtyElem)
		e.dirtyElem = nil
	}
	c.mu.Unlock()
	return err
}

func (c *Cache) clearFlushingFlags(batch []*entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range batch {
		e.flags &^= flagFlushing
	}
}

// run is a contiguous, coalesced group of dirty entries.
type run struct {
	startLBA uint64
	entries  []*entry
}

// coalesce groups sorted-by-LBA entries into runs of contiguous LBAs, each
// run at most maxDistance blocks long, per spec.md §4.C's coalesced-flush
// policy.
func coalesce(sorted []*entry, maxDistance uint64) []run {
	var runs []run
	var cur run
	for i, e := range sorted {
		if i == 0 {
			cur = run{startLBA: e.lba, entries: []*entry{e}}
			continue
		}
		prev := cur.entries[len(cur.entries)-1]
		if e.lba == prev.lba+1 && uint64(len(cur.entries)) < maxDistance {
			cur.entries = append(cur.entries, e)
		} else {
			runs = append(runs, cur)
			cur = run{startLBA: e.lba, entries: []*entry{e}}
		}
	}
	if len(cur.entries) > 0 {
		runs = append(runs, cur)
	}
	return runs
}

// flushRun issues a single coalesced I/O spanning r's first to last LBA.
// If allocating the transient coalesce buffer fails, it falls back to
// per-entry writes, per spec.md §4.C.
func (c *Cache) flushRun(ctx context.Context, r run) error {
	first := r.entries[0]
	last := r.entries[len(r.entries)-1]
	span := last.lba - first.lba + 1
	blockSize := uint64(c.blockSize)

	buf, ok := c.tryAllocCoalesceBuffer(span * blockSize)
	if !ok {
		return c.flushPerEntry(ctx, r)
	}

	for _, e := range r.entries {
		off := (e.lba - first.lba) * blockSize
		copy(buf[off:off+blockSize], e.buf)
	}
	if err := c.dev.Write(ctx, first.lba, uint32(span), buf, 0); err != nil {
		logger.Warnf("blockcache: coalesced flush of %d blocks at lba %d failed: %v", span, first.lba, err)
		return c.flushPerEntry(ctx, r)
	}
	return nil
}

func (c *Cache) tryAllocCoalesceBuffer(size uint64) (buf []byte, ok bool) {
	defer func() {
		if recover() != nil {
			buf, ok = nil, false
		}
	}()
	return make([]byte, size), true
}

func (c *Cache) flushPerEntry(ctx context.Context, r run) error {
	for _, e := range r.entries {
		if err := c.dev.Write(ctx, e.lba, 1, e.buf, 0); err != nil {
			return err
		}
	}
	return nil
}
