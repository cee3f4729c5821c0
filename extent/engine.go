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

package extent

import (
	"github.com/udfcore/udfcore/alloc"
	"github.com/udfcore/udfcore/blockcache"
	"github.com/udfcore/udfcore/geometry"
)

// Engine is the Extent Engine of spec.md §4.E: it moves bytes between a
// caller's buffer and the cache/device stack by walking an Info's
// mapping, and owns the allocation decisions read_extent/write_extent
// make when a run must transition from sparse/allocated-not-recorded to
// recorded.
type Engine struct {
	cache     *blockcache.Cache
	geo       *geometry.Volume
	allocator *alloc.Allocator
	blockSize uint32

	// SparseGrowthThresholdBytes: Resize only appends a sparse hole run
	// (rather than allocating real blocks) when the gap being created
	// exceeds this many bytes, per spec.md §4.E.
	SparseGrowthThresholdBytes uint64
}

// New builds an Engine over the given Block Cache, Volume Geometry, and
// Space Allocator, all already wired by the volume layer at mount.
func New(cache *blockcache.Cache, geo *geometry.Volume, allocator *alloc.Allocator, blockSize uint32) *Engine {
	return &Engine{cache: cache, geo: geo, allocator: allocator, blockSize: blockSize}
}

// BlockSize returns the engine's logical block size.
func (e *Engine) BlockSize() uint32 { return e.blockSize }
