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

	"github.com/udfcore/udfcore/dirindex"
	"github.com/udfcore/udfcore/udf"
)

// Rename moves fi from oldParent to newParent under newName, per
// spec.md §4.G. Before touching either directory it reaps the delayed-
// close queue so the move sees a quiescent tree -- entries mid-teardown
// in the background worker could otherwise race the FID rewrite. A
// same-directory rename (oldParent == newParent) is the common case and
// still goes through the full unlink-then-relink path: UDF's FID array
// has no in-place rename, since the encoded name's length (and so the
// record's on-disk size) can change.
func (g *Graph) Rename(ctx context.Context, fi *FileInfo, oldParent, newParent *FileInfo, newName string, caseSensitive bool, replaceIfExists bool) error {
	if newParent.Dloc.Index == nil {
		if err := g.ensureDirIndex(ctx, newParent.Dloc); err != nil {
			return err
		}
	}

	g.queue.ReapAll()

	if _, existingItem, ok := newParent.Dloc.Index.Find(newName, caseSensitive); ok {
		if !replaceIfExists {
			return errNameCollision("openfile.Rename: target name already exists")
		}
		if existingItem.FID.IsDirectory() {
			return errAccessDenied("openfile.Rename: cannot replace a directory target")
		}
		idx, _, _ := newParent.Dloc.Index.Find(newName, caseSensitive)
		if err := g.unlinkFID(ctx, newParent.Dloc, idx); err != nil {
			return err
		}
	}

	oldFID, ok := fidAt(oldParent.Dloc.Index, fi.Index)
	if !ok {
		return errInvalidParameter("openfile.Rename: source entry vanished")
	}

	if err := g.unlinkFID(ctx, oldParent.Dloc, fi.Index); err != nil {
		return err
	}

	nameBytes, err := udf.EncodeCS0(newName)
	if err != nil {
		return err
	}
	newFID := oldFID
	newFID.FileCharacteristics &^= udf.FileCharDeleted
	newFID.FileIdentifier = nameBytes
	newFID.FileIdentifierLength = uint8(len(nameBytes))

	newIndex, err := g.appendFID(ctx, newParent.Dloc, newFID, newName)
	if err != nil {
		return err
	}

	oldParent.mu.Lock()
	if oldParent.children[fi.Index] == fi {
		delete(oldParent.children, fi.Index)
	}
	oldParent.mu.Unlock()

	fi.mu.Lock()
	fi.Name = newName
	fi.Index = newIndex
	movingParent := oldParent != newParent
	fi.Parent = newParent
	if fi.Fcb != nil {
		fi.Fcb.muMain.Lock()
		fi.Fcb.AbsolutePathname = "" // invalidated; recomputed lazily on next query
		fi.Fcb.muMain.Unlock()
	}
	fi.mu.Unlock()

	newParent.mu.Lock()
	newParent.children[newIndex] = fi
	if movingParent {
		newParent.ref.inc()
	}
	newParent.mu.Unlock()

	if movingParent {
		g.releaseFileInfoRef(oldParent)
	}

	return nil
}

// fidAt returns the FID stored at index i of idx, or !ok if i doesn't
// name a live entry.
func fidAt(idx *dirindex.Index, i int) (udf.FID, bool) {
	item, ok := idx.ItemAt(i)
	if !ok || item.Internal {
		return udf.FID{}, false
	}
	return item.FID, true
}

// appendFID grows dir's data stream by one FID record and writes fid at
// its tail, returning the new entry's index in dir's Directory Index.
func (g *Graph) appendFID(ctx context.Context, dir *Dloc, fid udf.FID, name string) (int, error) {
	size := fid.Size()
	off := int(dir.DataLoc.Length)

	if err := g.eng.Resize(dir.partition, &dir.DataLoc, uint64(off+size), dir.embeddedCapacity(g.eng.BlockSize())); err != nil {
		return 0, err
	}

	buf := make([]byte, size)
	if _, err := udf.EncodeFID(buf, fid); err != nil {
		return 0, err
	}
	if _, err := g.eng.WriteExtent(ctx, &dir.DataLoc, dir.partition, uint64(off), buf); err != nil {
		return 0, err
	}

	newIndex := dir.Index.Len()
	dir.Index.Put(newIndex, dirindex.Item{
		FID:    fid,
		Name:   name,
		Hashes: dirindex.ComputeHashes(name),
	})

	dir.FEModified = true
	if err := g.FlushDloc(ctx, dir); err != nil {
		return 0, err
	}
	return newIndex, nil
}
