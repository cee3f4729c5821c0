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

// Package dirindex implements the Directory Index of spec.md §4.F: an
// in-memory array of directory entries built by scanning a directory's
// FID stream once, with hash-assisted lookup, growth, and periodic
// compaction of deleted entries.
package dirindex

import (
	"sync"

	"github.com/udfcore/udfcore/udf"
)

// Hashes holds the three name hashes spec.md §4.F computes per entry, so
// Find can rule out most candidates without a full name comparison.
type Hashes struct {
	Posix      uint32
	LFN        uint32
	DOS        uint32
	CanBe8dot3 bool
}

// Item is one Directory Index Item: a cached, already-hashed view of one
// FID (or a synthesized "." / ".." entry).
type Item struct {
	FID      udf.FID
	Name     string
	Hashes   Hashes
	Deleted  bool
	Internal bool // synthesized "." or ".." entry, per spec.md §4.F
}

// Config bundles the pack-trigger policy, per spec.md §4.F and
// SPEC_FULL.md §3's original_source-derived absolute-count supplement.
type Config struct {
	// PackRatio: pack_directory triggers when deleted/valid exceeds this.
	PackRatio float64
	// PackAbsoluteThreshold: pack_directory also triggers once the raw
	// deleted count reaches this, even before the ratio is crossed --
	// grounded on original_source/drivers/filesystems/udfs/dircntrl.cpp,
	// which packs early on a flat deleted-entry count so a directory that
	// churns many small deletes doesn't grow unboundedly before its
	// ratio ever looks bad.
	PackAbsoluteThreshold int
}

// DefaultConfig returns PackAbsoluteThreshold 128 (spec.md §4.F's stated
// default) and PackRatio 0.5. ShouldPack fires on whichever is crossed
// first, so in a small directory the ratio usually triggers before 128
// entries have been deleted.
func DefaultConfig() Config {
	return Config{PackRatio: 0.5, PackAbsoluteThreshold: 128}
}

// Index is the Directory Index of spec.md §4.F, one per open directory.
type Index struct {
	mu      sync.RWMutex
	items   []Item // GUARDED_BY(mu); index 0 is ".", index 1 is ".."
	deleted int    // GUARDED_BY(mu): count of items with Deleted set

	cfg Config
}

// New builds an empty Index; callers populate it via Build.
func New(cfg Config) *Index {
	return &Index{cfg: cfg}
}

// Len returns the current item count, including deleted placeholders.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.items)
}

// ItemAt returns a copy of the item at i, for callers (openfile) that
// resolved an index from Find and need the full Item.
func (idx *Index) ItemAt(i int) (Item, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if i < 0 || i >= len(idx.items) {
		return Item{}, false
	}
	return idx.items[i], true
}
