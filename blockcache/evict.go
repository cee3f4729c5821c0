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

// acquireVictim finds a free entry, or when the pool is full, scans
// linearly for the oldest last_access among valid entries and evicts it
// (flushing first if dirty), per spec.md §4.C. The returned entry is
// removed from the hash chain and reserved for the caller's new lba, but
// not yet re-inserted; the caller must call insertChain (or
// releaseVictim on failure).
func (c *Cache) acquireVictim(ctx context.Context, newLBA uint64) (*entry, error) {
	c.mu.Lock()
	for _, e := range c.entries {
		if e.flags&flagValid == 0 {
			c.mu.Unlock()
			return e, nil
		}
	}

	var oldest *entry
	for _, e := range c.entries {
		if e.flags&flagFlushing != 0 {
			continue
		}
		if oldest == nil || e.lastAccess.Before(oldest.lastAccess) {
			oldest = e
		}
	}
	if oldest == nil {
		c.mu.Unlock()
		return nil, errAllPinned()
	}

	dirty := oldest.flags&flagModified != 0
	c.removeChain(oldest)
	if c.metrics != nil {
		c.metrics.CacheEvictions.WithLabelValues(c.volumeLabel()).Inc()
	}
	c.mu.Unlock()

	if dirty {
		if err := c.flushEntry(ctx, oldest); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	c.releaseVictim(oldest)
	c.mu.Unlock()
	return oldest, nil
}

// releaseVictim clears an entry's state so it can be reused or re-queued
// for another acquire attempt. Callers must hold c.mu.
func (c *Cache) releaseVictim(e *entry) {
	e.flags = 0
	if e.dirtyElem != nil {
		c.dirty.Remove(e.dirtyElem)
		e.dirtyElem = nil
	}
}

func errAllPinned() error {
	return errAllEntriesPinned
}
