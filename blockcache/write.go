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

import "context"

// WriteBlocks marks the n blocks starting at lba modified and appends
// them to the dirty-list tail. If cachedOnly is false, the cache may
// flush opportunistically but is not obligated to flush before
// returning, per spec.md §4.C's write-back contract.
func (c *Cache) WriteBlocks(ctx context.Context, lba uint64, n uint32, buf []byte, cachedOnly bool) error {
	for i := uint32(0); i < n; i++ {
		blockLBA := lba + uint64(i)
		chunk := buf[int(i)*int(c.blockSize) : int(i+1)*int(c.blockSize)]
		if err := c.writeOne(ctx, blockLBA, chunk); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.trackSequential(lba, n)
	needFlush := c.shouldFlushLocked()
	c.mu.Unlock()

	if !cachedOnly && needFlush {
		return c.FlushAll(ctx)
	}
	return nil
}

func (c *Cache) writeOne(ctx context.Context, lba uint64, chunk []byte) error {
	c.mu.Lock()
	if e := c.find(lba); e != nil {
		copy(e.buf, chunk)
		c.markDirtyLocked(e)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	victim, err := c.acquireVictim(ctx, lba)
	if err != nil {
		return err
	}

	c.mu.Lock()
	victim.lba = lba
	copy(victim.buf, chunk)
	victim.flags = flagValid
	victim.lastAccess = c.clock.Now()
	c.insertChain(victim)
	c.markDirtyLocked(victim)
	c.mu.Unlock()
	return nil
}

// markDirtyLocked flags e modified and appends it to the dirty list
// tail if it isn't already on it. Callers must hold c.mu.
func (c *Cache) markDirtyLocked(e *entry) {
	e.flags |= flagModified
	if e.dirtyElem == nil {
		e.dirtyElem = c.dirty.PushBack(e)
	}
	if c.metrics != nil {
		c.metrics.DirtyListDepth.WithLabelValues(c.volumeLabel()).Set(float64(c.dirty.Len()))
	}
}

// trackSequential updates the sequential-write fast path state: writes
// consecutive to lastWrittenLBA extend seqCount; any gap resets it. Once
// seqCount exceeds seqThreshold the cache enters sequential mode, which
// relaxes the flush threshold to 75%, per spec.md §4.C. Callers must hold
// c.mu.
func (c *Cache) trackSequential(lba uint64, n uint32) {
	if c.seqCount > 0 && lba == c.lastWrittenLBA {
		c.seqCount++
	} else {
		c.seqCount = 1
	}
	c.lastWrittenLBA = lba + uint64(n)
	c.sequentialMode = c.seqCount > c.seqThreshold
}

// shouldFlushLocked evaluates the flush policy of spec.md §4.C: dirty
// count at threshold, or flush_interval elapsed with at least one dirty
// block. In sequential mode the threshold is relaxed to 75%. Callers
// must hold c.mu.
func (c *Cache) shouldFlushLocked() bool {
	depth := c.dirty.Len()
	if depth == 0 {
		return false
	}
	threshold := c.dirtyThreshold
	if c.sequentialMode {
		threshold = (threshold * 3) / 4
	}
	if depth >= threshold {
		return true
	}
	return c.clock.Now().Sub(c.lastFlush) > c.flushInterval
}
