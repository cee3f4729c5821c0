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

import (
	"context"

	"github.com/udfcore/udfcore/extent"
	"github.com/udfcore/udfcore/udf"
)

// ShouldPack reports whether pack_directory should run now, per spec.md
// §4.F's ratio threshold and SPEC_FULL.md §3's absolute-count supplement
// (grounded on original_source/drivers/filesystems/udfs/dircntrl.cpp,
// which packs once a flat deleted-entry count is reached even if the
// ratio itself hasn't crossed the configured threshold yet).
func (idx *Index) ShouldPack() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.maybePackLocked()
}

func (idx *Index) maybePackLocked() bool {
	if idx.deleted == 0 {
		return false
	}
	if idx.deleted >= idx.cfg.PackAbsoluteThreshold {
		return true
	}
	valid := len(idx.items) - idx.deleted
	if valid <= 0 {
		return true
	}
	return float64(idx.deleted)/float64(valid) > idx.cfg.PackRatio
}

// Pack rewrites dataLoc's on-disk FID stream with every deleted entry
// removed, and returns the old-index -> new-index remap so the caller
// (openfile) can migrate every open FileInfo under this directory in
// lock-step, per spec.md §4.F. Indices 0 and 1 never move.
func (idx *Index) Pack(ctx context.Context, eng *extent.Engine, partition int, dataLoc *extent.Info, icb []byte) (map[int]int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if len(idx.items) < 2 {
		return nil, errInvalidParameter("dirindex.Pack: index missing synthesized . / ..")
	}

	kept := make([]Item, 2, len(idx.items))
	kept[0] = idx.items[0]
	kept[1] = idx.items[1]
	remap := map[int]int{0: 0, 1: 1}

	for i := 2; i < len(idx.items); i++ {
		it := idx.items[i]
		if it.Deleted {
			continue
		}
		remap[i] = len(kept)
		kept = append(kept, it)
	}

	buf, err := encodeFIDStream(kept)
	if err != nil {
		return nil, err
	}
	if err := eng.Resize(partition, dataLoc, uint64(len(buf)), 0); err != nil {
		return nil, err
	}
	if _, err := eng.WriteExtent(ctx, dataLoc, partition, 0, buf); err != nil {
		return nil, err
	}

	idx.items = kept
	idx.deleted = 0
	return remap, nil
}

// encodeFIDStream serialises items[1:] (the ".." entry onward; index 0
// is the synthetic "." with no on-disk form) back-to-back.
func encodeFIDStream(items []Item) ([]byte, error) {
	var buf []byte
	for i := 1; i < len(items); i++ {
		sz := items[i].FID.Size()
		b := make([]byte, sz)
		if _, err := udf.EncodeFID(b, items[i].FID); err != nil {
			return nil, err
		}
		buf = append(buf, b...)
	}
	return buf, nil
}
