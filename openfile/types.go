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

// Package openfile implements the Open-Instance Graph of spec.md §4.G:
// the FCB/CCB/FileInfo/Dloc object graph a mount builds up as paths are
// opened, with reference/cleanup counters, hard-link sibling rings, and
// a delayed-close queue standing in for the kernel's own deferred-close
// mechanism.
package openfile

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/udfcore/udfcore/dirindex"
	"github.com/udfcore/udfcore/extent"
	"github.com/udfcore/udfcore/udf"
)

// Flags carried by an Fcb, per spec.md §3's FCB state-flag set.
type Flags uint32

const (
	FlagDirectory Flags = 1 << iota
	FlagRoot
	FlagPageFile
	FlagDeleteOnClose
	FlagDeleted
	FlagReadOnly
	FlagDelayClose
	FlagIsStream
)

// CcbFlags carried by a Ccb, per spec.md §3's CCB flag set.
type CcbFlags uint32

const (
	CcbAccessTimeSet CcbFlags = 1 << iota
	CcbWriteTimeSet
	CcbAttributesSet
	CcbCaseSensitive
	CcbMatchAll
	CcbWildcardPresent
	CcbCanBe8dot3
	CcbDeleteOnClose
	CcbDismountOnClose
	CcbCleaned
	CcbVolumeOpen
)

// counter is the lookup-count-style destroy-at-zero helper of
// fs/inode/lookup_count.go, generalized to the several independent
// reference counts spec.md §4.G tracks per FCB and per Dloc. External
// synchronization is required, matching gcsfuse's own contract.
type counter struct {
	n       uint64
	destroy func()
}

func (c *counter) inc() {
	c.n++
}

// dec decrements by one and runs destroy, if set, the first time the
// count reaches zero. Returns whether this call drove it to zero.
func (c *counter) dec() (destroyedNow bool) {
	if c.n == 0 {
		panic("openfile: counter decremented past zero")
	}
	c.n--
	if c.n == 0 && c.destroy != nil {
		c.destroy()
		return true
	}
	return false
}

// Dloc is the Data Location of spec.md §3: the shared inode body every
// FileInfo referencing the same on-disk File Entry points at. Indexed
// globally by FE physical LBA so a second open of the same file (a
// hard-link, or the same path opened twice) shares one Dloc instead of
// re-decoding the FE.
type Dloc struct {
	mu sync.Mutex // GUARDED_BY(mu): everything below

	feLBA     uint64 // key in the Graph's Dloc table: FE physical LBA
	partition int
	icbLBN    uint32 // FE's own partition-relative LBN, for self-referencing "."

	DataLoc  extent.Info
	AllocLoc extent.Info
	FELoc    extent.Info

	IsExtended bool
	FE         udf.FileEntry
	EFE        udf.ExtendedFileEntry

	// Index is populated lazily the first time this Dloc's directory
	// contents are opened; nil for a non-directory Dloc.
	Index *dirindex.Index

	// StreamDirLBA is the FE physical LBA of this file's named-stream
	// sub-directory, or 0 if it has none, per spec.md §4.G.
	StreamDirLBA uint64
	IsStreamDir  bool

	// ring is a representative member of the hard-link sibling ring
	// sharing this Dloc, used so a newly-opened link to the same FE can
	// find the ring to join; nil until the first FileInfo wraps this
	// Dloc. GUARDED_BY(mu).
	ring *FileInfo

	linkRef counter // LinkRefCount of spec.md §3/§4.G

	FEModified      bool
	HasStreamDir    bool
	IsDeletedStream bool
}

// LinkRefCount reports the current shared-reference count, for tests and
// P2's invariant check.
func (d *Dloc) LinkRefCount() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.linkRef.n
}

// FileInfo is the in-memory per-open-inode object of spec.md §3: a node
// in the tree mirroring the directory hierarchy at open-time, or one
// link of a hard-link sibling ring when more than one name reaches the
// same Dloc.
type FileInfo struct {
	mu sync.Mutex // GUARDED_BY(mu): Index/ref/open counts, sibling ring

	// Parent is a borrowed, non-owning back-reference: per spec.md §9's
	// design note, the parent FileInfo outlives every child by
	// construction (the child holds a reference that keeps the parent's
	// own Reference count above zero), so this never needs its own
	// refcount.
	Parent *FileInfo
	Name   string
	Index  int // index-in-parent into the parent directory's dirindex.Index

	Dloc *Dloc
	Fcb  *Fcb // nil until this FileInfo owns an Fcb (first real open)

	ref  counter
	open counter

	// sibling is this FileInfo's node in the hard-link sibling ring
	// (spec.md §9's SiblingRing). It is set when the FileInfo is wired to
	// its Dloc, so a FileInfo that is the only open link is the sole
	// member of its own ring.
	sibling *list.Element
	ring    *list.List

	children map[int]*FileInfo // GUARDED_BY(mu): index -> child, directories only
}

// RefCount reports FileInfo's current reference count.
func (fi *FileInfo) RefCount() uint64 {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	return fi.ref.n
}

// Fcb represents a file object to the host, per spec.md §3. One Fcb is
// created the first time a FileInfo is actually opened (as opposed to
// merely resolved while walking a path); it is destroyed when Reference
// drops to zero, unless FlagDelayClose defers that to the workqueue.
type Fcb struct {
	muMain   sync.RWMutex // main resource: shared for read, exclusive for write/resize/rename/attrs
	muPaging sync.Mutex   // paging-I/O resource, ordered after muMain, exclusive around size changes

	owner *FileInfo

	Flags Flags

	FileSize        uint64
	ValidDataLength uint64
	AllocationSize  uint64

	AbsolutePathname string // GUARDED_BY(muMain) for rename rewrites

	ccbMu sync.Mutex
	ccbs  *list.List // GUARDED_BY(ccbMu): sibling Ccb list

	// ShareAccess mirrors the granted-access/share-mode bookkeeping a
	// real host would enforce; kept as a simple union of every open
	// handle's requested access, since spec.md's scope is the on-disk
	// core rather than a full share-reservation state machine.
	ShareAccess uint32

	refMu   sync.Mutex
	ref     counter // FcbReference
	cleanup counter // FcbCleanup

	CachedOpenHandleCount int32 // atomic
}

func (f *Fcb) incCachedOpenHandle() { atomic.AddInt32(&f.CachedOpenHandleCount, 1) }
func (f *Fcb) decCachedOpenHandle() int32 {
	return atomic.AddInt32(&f.CachedOpenHandleCount, -1)
}

// Ccb is the per-open-handle state of spec.md §3.
type Ccb struct {
	Fcb *Fcb

	GrantedAccess uint32
	Flags         CcbFlags

	// ScanIndex/SearchPattern/SearchHashes support a directory handle's
	// resumable readdir, per spec.md §4.F's init_scan contract.
	ScanIndex     int
	SearchPattern string
	SearchHashes  dirindex.Hashes

	// TreeLength records how many ancestor FileInfo references this
	// handle's open walk acquired, so Close releases exactly that many,
	// per spec.md §4.G.
	TreeLength int

	elem *list.Element // this Ccb's node in Fcb.ccbs
}
