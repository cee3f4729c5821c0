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

// Package blockcache caches fixed-size blocks keyed by LBA in front of a
// blockdev.Device, amortising I/O with write-back and coalesced flush,
// per spec.md §4.C. The hash-table-plus-intrusive-dirty-list shape is
// modeled on gcsfuse's small bespoke caches (fs/inode/dir.go's
// typeCache) that carry an explicit invariant-checker rather than reach
// for a generic LRU library.
package blockcache

import (
	"container/list"
	"sync"
	"time"

	"github.com/udfcore/udfcore/blockdev"
	"github.com/udfcore/udfcore/internal/clock"
	"github.com/udfcore/udfcore/internal/metrics"
)

// Defaults per spec.md §4.C.
const (
	DefaultDirtyThreshold  = 128
	DefaultFlushInterval   = 5 * time.Second
	DefaultCoalesceDistance = 32
	DefaultSequentialThreshold = 4
	maxTableSize           = 2047
)

type entryFlags uint8

const (
	flagValid entryFlags = 1 << iota
	flagModified
	flagFlushing
	flagBad
)

// entry is one cached block.
type entry struct {
	lba        uint64
	buf        []byte
	flags      entryFlags
	lastAccess time.Time
	dirtyElem  *list.Element // nil unless on the dirty list
}

// Cache is the Block Cache of spec.md §4.C: one reader/writer lock
// protects the whole structure; reads hold it shared, writes hold it
// exclusive, and the lock is released across the synchronous I/O call to
// avoid serializing the device adapter.
type Cache struct {
	dev       blockdev.Device
	clock     clock.Clock
	blockSize uint32

	dirtyThreshold   int
	flushInterval    time.Duration
	coalesceDistance uint64
	seqThreshold     int

	mu sync.RWMutex

	table      [][]*entry // GUARDED_BY(mu): hash chains
	entries    []*entry   // GUARDED_BY(mu): pre-allocated pool
	dirty      *list.List // GUARDED_BY(mu): intrusive dirty list
	lastFlush  time.Time  // GUARDED_BY(mu)

	lastWrittenLBA uint64 // GUARDED_BY(mu)
	seqCount       int    // GUARDED_BY(mu)
	sequentialMode bool   // GUARDED_BY(mu)

	metrics *metrics.Collectors
	label   string
}

// Config bundles the constructor knobs so callers needn't remember
// positional args for every tunable.
type Config struct {
	BlockSize        uint32
	PoolSize         int
	DirtyThreshold   int
	FlushInterval    time.Duration
	CoalesceDistance uint64
	SeqThreshold     int
}

// New builds a Cache of cfg.PoolSize entries in front of dev.
func New(dev blockdev.Device, clk clock.Clock, m *metrics.Collectors, cfg Config) *Cache {
	if cfg.DirtyThreshold <= 0 {
		cfg.DirtyThreshold = DefaultDirtyThreshold
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.CoalesceDistance <= 0 {
		cfg.CoalesceDistance = DefaultCoalesceDistance
	}
	if cfg.SeqThreshold <= 0 {
		cfg.SeqThreshold = DefaultSequentialThreshold
	}
	tableSize := nextTableSize(cfg.PoolSize)

	c := &Cache{
		dev:              dev,
		clock:            clk,
		blockSize:        cfg.BlockSize,
		dirtyThreshold:   cfg.DirtyThreshold,
		flushInterval:    cfg.FlushInterval,
		coalesceDistance: cfg.CoalesceDistance,
		seqThreshold:     cfg.SeqThreshold,
		table:            make([][]*entry, tableSize),
		entries:          make([]*entry, 0, cfg.PoolSize),
		dirty:            list.New(),
		lastFlush:        clk.Now(),
		metrics:          m,
	}
	for i := 0; i < cfg.PoolSize; i++ {
		c.entries = append(c.entries, &entry{buf: make([]byte, cfg.BlockSize)})
	}
	return c
}

// nextTableSize picks a power-of-two table size at least 2x poolSize,
// capped at maxTableSize, per spec.md §4.C.
func nextTableSize(poolSize int) int {
	size := 1
	for size < poolSize*2 {
		size <<= 1
	}
	if size > maxTableSize {
		size = maxTableSize
	}
	if size < 1 {
		size = 1
	}
	return size
}

func (c *Cache) bucket(lba uint64) int {
	return int(lba % uint64(len(c.table)))
}

// find hashes lba and walks the chain for a valid entry. It does not
// stamp last_access itself; ReadBlock stamps it on a read hit. Callers
// must hold c.mu (shared is sufficient for a pure lookup; callers take
// the exclusive lock whenever they update last_access).
func (c *Cache) find(lba uint64) *entry {
	for _, e := range c.table[c.bucket(lba)] {
		if e.flags&flagValid != 0 && e.lba == lba {
			return e
		}
	}
	return nil
}

func (c *Cache) insertChain(e *entry) {
	b := c.bucket(e.lba)
	c.table[b] = append(c.table[b], e)
}

func (c *Cache) removeChain(e *entry) {
	b := c.bucket(e.lba)
	chain := c.table[b]
	for i, x := range chain {
		if x == e {
			c.table[b] = append(chain[:i], chain[i+1:]...)
			return
		}
	}
}

func (c *Cache) checkInvariants() {
	seen := make(map[uint64]bool)
	for _, chain := range c.table {
		for _, e := range chain {
			if e.flags&flagValid == 0 {
				panic("blockcache: invalid entry present in hash chain")
			}
			if seen[e.lba] {
				panic("blockcache: duplicate lba present in cache")
			}
			seen[e.lba] = true
		}
	}
}
