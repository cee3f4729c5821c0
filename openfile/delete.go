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

package openfile

import (
	"context"

	"github.com/udfcore/udfcore/alloc"
	"github.com/udfcore/udfcore/dirindex"
	"github.com/udfcore/udfcore/extent"
	"github.com/udfcore/udfcore/udf"
)

// CanDelete reports whether fi is eligible for delete-on-close, per
// spec.md §4.G: directories refuse unless every live (non-deleted,
// non-internal) entry has already been removed.
func (g *Graph) CanDelete(fi *FileInfo) error {
	if fi.Parent == nil {
		return errCannotDelete("openfile.CanDelete: cannot delete the volume root")
	}
	if fi.children == nil {
		return nil
	}
	idx := fi.Dloc.Index
	if idx == nil {
		return nil
	}
	for i := 2; i < idx.Len(); i++ {
		item, ok := idx.ItemAt(i)
		if !ok || item.Deleted || item.Internal {
			continue
		}
		return errDirectoryNotEmpty("openfile.CanDelete: directory not empty")
	}
	return nil
}

// SetDeleteOnClose arms or disarms delete-on-close for f, validating
// directory emptiness up front (NTFS-style eager disposition check)
// rather than deferring the failure to the final close.
func (g *Graph) SetDeleteOnClose(f *Fcb, set bool) error {
	f.owner.mu.Lock()
	owner := f.owner
	f.owner.mu.Unlock()
	if set {
		if err := g.CanDelete(owner); err != nil {
			return err
		}
		f.Flags |= FlagDeleteOnClose
	} else {
		f.Flags &^= FlagDeleteOnClose
	}
	return nil
}

// fidOffset returns the byte offset of the i'th directory entry within
// its data stream, computed by summing the on-disk (4-byte-padded) size
// of every preceding ordinary entry; the synthesized "." at index 0
// never occupies a byte of the stream, so it is skipped.
func fidOffset(idx *dirindex.Index, i int) (int, error) {
	off := 0
	for j := 1; j < i; j++ {
		item, ok := idx.ItemAt(j)
		if !ok {
			return 0, errCorrupt("openfile.fidOffset: index gap before target entry")
		}
		off += item.FID.Size()
	}
	return off, nil
}

// unlinkFID tombstones the entry at i in parentDloc's directory: it
// flips FileCharacteristics' deleted bit, rewrites the FID's on-disk
// bytes in place (the record's size never changes since only a flag bit
// flips), and updates the in-memory Index to match, per spec.md §4.F's
// "deletions are tombstoned in place, not compacted until pack_directory
// runs."
func (g *Graph) unlinkFID(ctx context.Context, parentDloc *Dloc, i int) error {
	idx := parentDloc.Index
	item, ok := idx.ItemAt(i)
	if !ok || item.Internal {
		return errInvalidParameter("openfile.unlinkFID: no such live entry")
	}

	off, err := fidOffset(idx, i)
	if err != nil {
		return err
	}

	item.FID.FileCharacteristics |= udf.FileCharDeleted
	item.Deleted = true

	var icb []byte
	for _, r := range parentDloc.DataLoc.Mapping {
		if r.State == extent.InICB {
			icb = parentDloc.FE.Tail
			if parentDloc.IsExtended {
				icb = parentDloc.EFE.Tail
			}
			break
		}
	}

	buf := make([]byte, item.FID.Size())
	if _, err := udf.EncodeFID(buf, item.FID); err != nil {
		return err
	}
	if _, err := g.eng.WriteExtent(ctx, &parentDloc.DataLoc, parentDloc.partition, uint64(off), buf); err != nil {
		return err
	}

	idx.Put(i, item)

	if idx.ShouldPack() {
		if _, err := idx.Pack(ctx, g.eng, parentDloc.partition, &parentDloc.DataLoc, icb); err != nil {
			return err
		}
		if g.m != nil {
			g.m.DirectoryPacks.WithLabelValues(g.VolumeLabel).Inc()
		}
		parentDloc.FEModified = true
		if err := g.FlushDloc(ctx, parentDloc); err != nil {
			return err
		}
	}

	return nil
}

// DeleteChild finalizes delete-on-close for fi, a child of parent: it
// unlinks fi's FID from parent's directory and, once the File Entry's
// own on-disk link count reaches zero, truncates its data stream and
// offers its FE block to the partition's FE allocation charge pool,
// keyed by parent's FE LBA, per spec.md §4.G. Only a run the pool
// evicts, or the FE block itself when the partition has no pool, is
// marked free in the free-space bitmap.
// Called when the last Fcb reference on fi's Fcb with FlagDeleteOnClose
// set is released.
func (g *Graph) DeleteChild(ctx context.Context, parent *FileInfo, fi *FileInfo) error {
	if err := g.CanDelete(fi); err != nil {
		return err
	}

	if err := g.unlinkFID(ctx, parent.Dloc, fi.Index); err != nil {
		return err
	}

	d := fi.Dloc
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.IsExtended {
		if d.EFE.FileLinkCount > 0 {
			d.EFE.FileLinkCount--
		}
	} else {
		if d.FE.FileLinkCount > 0 {
			d.FE.FileLinkCount--
		}
	}
	d.FEModified = true

	linkCount := d.FE.FileLinkCount
	if d.IsExtended {
		linkCount = d.EFE.FileLinkCount
	}
	if linkCount > 0 {
		return g.flushDlocLocked(ctx, d)
	}

	dirID := parent.Dloc.feLBA
	if err := g.eng.Resize(d.partition, &d.DataLoc, 0, 0); err != nil {
		return err
	}

	freeRun := alloc.Run{LBA: d.icbLBN, Blocks: 1}
	if pool := g.alloc.ChargePool(d.partition); pool != nil {
		if evicted, ok := pool.Offer(dirID, freeRun); ok {
			freeRun = evicted
		} else {
			return nil
		}
	}
	if err := g.alloc.Mark(d.partition, []alloc.Run{freeRun}, alloc.MarkFree); err != nil {
		return err
	}
	return nil
}
