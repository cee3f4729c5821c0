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

// ReadBlock returns the block at lba, reading through to the device on a
// miss and inserting the result, per spec.md §4.C.
func (c *Cache) ReadBlock(ctx context.Context, lba uint64, out []byte) error {
	c.mu.Lock()
	if e := c.find(lba); e != nil {
		e.lastAccess = c.clock.Now()
		copy(out[:c.blockSize], e.buf)
		c.mu.Unlock()
		c.observeHit()
		return nil
	}
	c.mu.Unlock()

	c.observeMiss()
	victim, err := c.acquireVictim(ctx, lba)
	if err != nil {
		return err
	}

	buf := make([]byte, c.blockSize)
	if err := c.dev.Read(ctx, lba, 1, buf); err != nil {
		c.mu.Lock()
		c.releaseVictim(victim)
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	victim.lba = lba
	victim.buf = buf
	victim.flags = flagValid
	victim.lastAccess = c.clock.Now()
	c.insertChain(victim)
	c.mu.Unlock()

	copy(out[:c.blockSize], buf)
	return nil
}

func (c *Cache) observeHit() {
	if c.metrics != nil {
		c.metrics.CacheHits.WithLabelValues(c.volumeLabel()).Inc()
	}
}

func (c *Cache) observeMiss() {
	if c.metrics != nil {
		c.metrics.CacheMisses.WithLabelValues(c.volumeLabel()).Inc()
	}
}

// volumeLabel is overridable per-cache metric label; left blank unless a
// caller wires a named volume through SetVolumeLabel.
func (c *Cache) volumeLabel() string {
	if c.label != "" {
		return c.label
	}
	return "unknown"
}

// SetVolumeLabel names this cache for metrics purposes.
func (c *Cache) SetVolumeLabel(name string) { c.label = name }
