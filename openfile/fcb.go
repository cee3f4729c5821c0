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
	"container/list"
	"context"

	"github.com/udfcore/udfcore/internal/logger"
	"github.com/udfcore/udfcore/internal/workqueue"
)

// Open resolves one path component under parent, per spec.md §4.G: parent's
// Directory Index is consulted (building it on first use), an existing
// FileInfo at the resolved slot is reused and its reference bumped, or a
// fresh one is allocated and wired to its Dloc (sharing across hard
// links and repeat opens via lookupOrCreateDloc). name must already be a
// single component; stream-name resolution is layered on top by Open's
// callers, not here.
func (g *Graph) Open(ctx context.Context, parent *FileInfo, name string, caseSensitive bool) (*FileInfo, error) {
	if parent.Dloc == nil {
		return nil, errNotADirectory("openfile.Open: parent has no directory body")
	}
	if err := g.ensureDirIndex(ctx, parent.Dloc); err != nil {
		return nil, err
	}

	idx, item, ok := parent.Dloc.Index.Find(name, caseSensitive)
	if !ok {
		return nil, ErrNotFound
	}

	parent.mu.Lock()
	if existing, ok := parent.children[idx]; ok {
		existing.mu.Lock()
		existing.ref.inc()
		existing.mu.Unlock()
		parent.mu.Unlock()
		return existing, nil
	}
	parent.mu.Unlock()

	d, err := g.lookupOrCreateDloc(ctx, int(item.FID.ICB.Partition), item.FID.ICB.LBN)
	if err != nil {
		return nil, err
	}
	if item.FID.IsDirectory() {
		if err := g.ensureDirIndex(ctx, d); err != nil {
			d.releaseRef(g)
			return nil, err
		}
	}

	fi := &FileInfo{Parent: parent, Name: name, Index: idx, Dloc: d}
	if item.FID.IsDirectory() {
		fi.children = make(map[int]*FileInfo)
	}
	fi.ref.destroy = func() { g.onFileInfoZero(fi) }
	fi.ref.inc()

	d.mu.Lock()
	if d.ring == nil {
		newSiblingRing(fi)
		d.ring = fi
	} else {
		joinSiblingRing(d.ring, fi)
	}
	d.mu.Unlock()

	// The new child holds a reference that keeps its parent's own
	// Reference count above zero, per spec.md §9's design note; released
	// in onFileInfoZero when the child itself is destroyed.
	parent.mu.Lock()
	parent.children[idx] = fi
	parent.ref.inc()
	parent.mu.Unlock()

	return fi, nil
}

// onFileInfoZero runs once when fi's reference count drops to zero: it
// detaches fi from its parent's child table and hard-link sibling ring
// and releases its Dloc reference, per spec.md §4.G's "FileInfo
// destruction unwinds exactly the structures its creation wired up."
func (g *Graph) onFileInfoZero(fi *FileInfo) {
	if fi.Parent != nil {
		fi.Parent.mu.Lock()
		if fi.Parent.children[fi.Index] == fi {
			delete(fi.Parent.children, fi.Index)
		}
		fi.Parent.mu.Unlock()
	}

	d := fi.Dloc
	d.mu.Lock()
	if fi.ring != nil {
		fi.ring.Remove(fi.sibling)
		if d.ring == fi {
			if fi.ring.Len() > 0 {
				d.ring = fi.ring.Front().Value.(*FileInfo)
			} else {
				d.ring = nil
			}
		}
	}
	d.mu.Unlock()

	d.releaseRef(g)

	if fi.Parent != nil {
		g.releaseFileInfoRef(fi.Parent)
	}
}

// releaseFileInfoRef drops fi's reference count by one, destroying it
// (via counter.dec's destroy callback) if that was the last one.
func (g *Graph) releaseFileInfoRef(fi *FileInfo) {
	fi.mu.Lock()
	fi.ref.dec()
	fi.mu.Unlock()
}

// OpenHandle creates a user-visible handle (Fcb+Ccb pair) on an
// already-resolved FileInfo, per spec.md §3: the first handle on a
// FileInfo lazily creates its Fcb; every handle after that shares it.
func (g *Graph) OpenHandle(ctx context.Context, fi *FileInfo, grantedAccess uint32, flags CcbFlags) (*Ccb, error) {
	fi.mu.Lock()
	if fi.Fcb == nil {
		nf := &Fcb{owner: fi, ccbs: list.New()}
		if fi.Dloc != nil {
			nf.FileSize = fi.Dloc.DataLoc.Length
			nf.ValidDataLength = fi.Dloc.DataLoc.Length
		}
		if fi.children != nil {
			nf.Flags |= FlagDirectory
		}
		nf.ref.destroy = func() { g.onFcbReferenceZero(nf) }
		nf.cleanup.destroy = func() {}
		fi.Fcb = nf
		// The Fcb holds one implicit reference to its owner FileInfo for
		// as long as it exists; OpenHandle's caller already holds its
		// own (from the prior Open), so this is an additional one paid
		// back by destroyFcb.
		fi.ref.inc()
	}
	f := fi.Fcb
	fi.mu.Unlock()

	f.refMu.Lock()
	f.ref.inc()
	f.cleanup.inc()
	f.refMu.Unlock()

	f.ShareAccess |= grantedAccess
	f.incCachedOpenHandle()

	ccb := &Ccb{Fcb: f, GrantedAccess: grantedAccess, Flags: flags}
	f.ccbMu.Lock()
	ccb.elem = f.ccbs.PushBack(ccb)
	f.ccbMu.Unlock()

	return ccb, nil
}

// CloseHandle tears down one Ccb, per spec.md §4.G: FcbCleanup drops
// first (the handle itself is gone), then FcbReference (the Fcb's
// bookkeeping slot for this handle is released). Reaching zero
// references destroys the Fcb immediately, unless FlagDelayClose defers
// that onto the Graph's workqueue.
func (g *Graph) CloseHandle(ctx context.Context, ccb *Ccb) error {
	f := ccb.Fcb

	f.ccbMu.Lock()
	f.ccbs.Remove(ccb.elem)
	f.ccbMu.Unlock()
	f.decCachedOpenHandle()

	f.refMu.Lock()
	f.cleanup.dec()
	destroyedNow := f.ref.dec()
	f.refMu.Unlock()

	if !destroyedNow {
		return nil
	}

	if f.Flags&FlagDelayClose != 0 {
		logger.Debugf("openfile: delaying Fcb close for %q", f.AbsolutePathname)
		g.queue.Enqueue(workqueue.Item{Run: func() { g.destroyFcb(f) }})
		return nil
	}
	g.destroyFcb(f)
	return nil
}

// onFcbReferenceZero is wired as f.ref's destroy callback; the actual
// teardown decision (immediate vs. delayed) lives in CloseHandle, which
// already observed destroyedNow and is better placed to choose, so this
// is deliberately a no-op kept only so counter.dec never calls a nil
// destroy func on an Fcb that was never given one.
func (g *Graph) onFcbReferenceZero(f *Fcb) {}

// destroyFcb severs the Fcb from its owner FileInfo and releases the
// implicit FileInfo reference OpenHandle's first call acquired on its
// behalf.
func (g *Graph) destroyFcb(f *Fcb) {
	f.refMu.Lock()
	owner := f.owner
	f.refMu.Unlock()

	owner.mu.Lock()
	if owner.Fcb == f {
		owner.Fcb = nil
	}
	owner.mu.Unlock()

	g.releaseFileInfoRef(owner)
}
