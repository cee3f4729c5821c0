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

package dirindex

// Grow appends d placeholder slots to the index, per spec.md §4.F. The
// teacher's frame-paged array allocates a new power-of-two frame once the
// per-frame cap is crossed; a Go slice's own geometric growth already
// gives that amortized doubling, so Grow leans on append directly
// instead of modeling frames as a separate structure.
func (idx *Index) Grow(d int) {
	if d <= 0 {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for i := 0; i < d; i++ {
		idx.items = append(idx.items, Item{})
	}
}

// Truncate removes the last d items, the symmetric counterpart of Grow.
func (idx *Index) Truncate(d int) {
	if d <= 0 {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if d > len(idx.items) {
		d = len(idx.items)
	}
	for _, it := range idx.items[len(idx.items)-d:] {
		if it.Deleted && !it.Internal {
			idx.deleted--
		}
	}
	idx.items = idx.items[:len(idx.items)-d]
}

// Put installs item at index i, growing the index first if needed. This
// is how a directory operation (create, delete, rename) updates the
// in-memory mirror after the on-disk FID array changes.
func (idx *Index) Put(i int, item Item) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for i >= len(idx.items) {
		idx.items = append(idx.items, Item{})
	}
	old := idx.items[i]
	if old.Deleted && !old.Internal {
		idx.deleted--
	}
	if item.Deleted && !item.Internal {
		idx.deleted++
	}
	idx.items[i] = item
}
