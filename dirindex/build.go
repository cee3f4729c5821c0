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

// Build scans dataLoc's FID stream once and returns a populated Index,
// per spec.md §4.F. The directory's first on-disk FID is always the
// ".." entry (ECMA-167 never stores a "." FID); Build synthesizes "."
// at index 0 from selfICB and installs the decoded parent FID at index
// 1, both flagged Internal. Every subsequent FID becomes an ordinary
// item, deleted ones kept as pack candidates rather than dropped.
func Build(ctx context.Context, eng *extent.Engine, dataLoc *extent.Info, icb []byte, selfICB udf.LongAD, cfg Config) (*Index, error) {
	idx := New(cfg)

	buf := make([]byte, dataLoc.Length)
	n, err := eng.ReadExtent(ctx, dataLoc, 0, buf, icb)
	if err != nil {
		return nil, err
	}
	buf = buf[:n]

	idx.items = append(idx.items,
		Item{FID: udf.FID{ICB: selfICB}, Name: ".", Internal: true},
	)

	off := 0
	first := true
	for off+1 < len(buf) {
		fid, size, err := udf.DecodeFID(buf[off:])
		if err != nil || size == 0 {
			break
		}
		name, _ := fid.Name()

		item := Item{FID: fid, Name: name, Deleted: fid.IsDeleted()}
		if first {
			item.Name = ".."
			item.Internal = true
			first = false
		} else {
			item.Hashes = computeHashes(name)
		}
		idx.items = append(idx.items, item)
		if item.Deleted && !item.Internal {
			idx.deleted++
		}
		off += size
	}

	// A directory with no on-disk FIDs at all (shouldn't happen for a
	// well-formed volume, since the parent FID is mandatory) still needs
	// a placeholder ".." slot so indices 0/1 are always valid.
	if first {
		idx.items = append(idx.items, Item{Internal: true, Name: ".."})
	}

	return idx, nil
}
