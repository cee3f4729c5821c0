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
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/udfcore/udfcore/alloc"
	"github.com/udfcore/udfcore/dirindex"
	"github.com/udfcore/udfcore/extent"
	"github.com/udfcore/udfcore/geometry"
	"github.com/udfcore/udfcore/internal/clock"
	"github.com/udfcore/udfcore/internal/logger"
	"github.com/udfcore/udfcore/internal/metrics"
	"github.com/udfcore/udfcore/internal/workqueue"
	"github.com/udfcore/udfcore/udf"
)

// Graph owns the Open-Instance Graph of spec.md §4.G for one mounted
// volume: the Dloc table (shared inode bodies keyed by FE physical LBA),
// the root FileInfo, and the delayed-close workqueue every Fcb with
// FlagDelayClose set enqueues into at reference-drop-to-zero.
type Graph struct {
	eng    *extent.Engine
	geo    *geometry.Volume
	alloc  *alloc.Allocator
	clk    clock.Clock
	m      *metrics.Collectors
	queue  *workqueue.Queue
	dirCfg dirindex.Config

	mu    sync.Mutex // GUARDED_BY(mu): dlocs
	dlocs map[uint64]*Dloc
	sf    singleflight.Group

	RootPartition int
	RootICBLBN    uint32

	// VolumeLabel tags this Graph's metrics, matching the "volume" label
	// every other subsystem's Collectors already carry.
	VolumeLabel string

	root *FileInfo
}

// New builds a Graph bound to an already-mounted volume's Engine,
// Geometry, and Allocator. Callers (the volume layer) install the root
// directory's ICB location immediately after via OpenRoot.
func New(eng *extent.Engine, geo *geometry.Volume, a *alloc.Allocator, clk clock.Clock, m *metrics.Collectors, queue *workqueue.Queue, dirCfg dirindex.Config) *Graph {
	return &Graph{
		eng:    eng,
		geo:    geo,
		alloc:  a,
		clk:    clk,
		m:      m,
		queue:  queue,
		dirCfg: dirCfg,
		dlocs:  make(map[uint64]*Dloc),
	}
}

// adKindFor maps a File Entry's allocation-descriptor-array-type field to
// the extent package's AD codec selector.
func adKindFor(t udf.AllocDescArrayType) extent.ADKind {
	switch t {
	case udf.AllocDescLong:
		return extent.ADLong
	case udf.AllocDescExtended:
		return extent.ADExtended
	default:
		return extent.ADShort
	}
}

// OpenRoot resolves the volume's Root FCB, per spec.md §3's "exactly one
// Root FCB ... lives for the lifetime of the mount" invariant: it is
// opened once at mount and never closed until dismount.
func (g *Graph) OpenRoot(ctx context.Context, partition int, icbLBN uint32) (*FileInfo, error) {
	g.RootPartition, g.RootICBLBN = partition, icbLBN
	d, err := g.lookupOrCreateDloc(ctx, partition, icbLBN)
	if err != nil {
		return nil, err
	}
	if err := g.ensureDirIndex(ctx, d); err != nil {
		d.releaseRef(g)
		return nil, err
	}
	fi := &FileInfo{Dloc: d, Name: "/", children: make(map[int]*FileInfo)}
	fi.ref.destroy = func() {
		logger.Debugf("openfile: root FileInfo reference dropped to zero unexpectedly")
	}
	fi.ref.inc()
	d.mu.Lock()
	newSiblingRing(fi)
	d.ring = fi
	d.mu.Unlock()
	g.root = fi
	return fi, nil
}

// Root returns the already-opened root FileInfo, or nil before OpenRoot.
func (g *Graph) Root() *FileInfo { return g.root }

// lookupOrCreateDloc resolves the Dloc for the File Entry at
// (partition, icbLBN), sharing an existing one (hard-link / repeat-open
// sharing, per spec.md §3) or building a fresh one on miss. Concurrent
// misses for the same FE collapse onto a single build via singleflight,
// the same pattern SPEC_FULL.md §2 calls for golang.org/x/sync/singleflight
// to serve. Every returned Dloc -- hit or miss -- has LinkRefCount bumped
// exactly once for the caller.
func (g *Graph) lookupOrCreateDloc(ctx context.Context, partition int, icbLBN uint32) (*Dloc, error) {
	phys, err := g.geo.PartLBAToPhys(partition, icbLBN)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	if d, ok := g.dlocs[phys]; ok {
		g.mu.Unlock()
		d.addRef()
		return d, nil
	}
	g.mu.Unlock()

	key := dlocKeyString(phys)
	v, err, _ := g.sf.Do(key, func() (interface{}, error) {
		g.mu.Lock()
		if d, ok := g.dlocs[phys]; ok {
			g.mu.Unlock()
			return d, nil
		}
		g.mu.Unlock()

		d, err := g.buildDloc(ctx, partition, icbLBN, phys)
		if err != nil {
			return nil, err
		}
		g.mu.Lock()
		g.dlocs[phys] = d
		g.mu.Unlock()
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	d := v.(*Dloc)
	d.addRef()
	return d, nil
}

func (d *Dloc) addRef() {
	d.mu.Lock()
	d.linkRef.inc()
	d.mu.Unlock()
}

// releaseRef drops d's LinkRefCount by one, removing d from g's table and
// discarding it once the count reaches zero, per spec.md §4.G's "Dloc
// destruction waits for this to reach zero."
func (d *Dloc) releaseRef(g *Graph) {
	d.mu.Lock()
	destroyedNow := d.linkRef.dec()
	d.mu.Unlock()
	if !destroyedNow {
		return
	}
	g.mu.Lock()
	delete(g.dlocs, d.feLBA)
	g.mu.Unlock()
}

func dlocKeyString(phys uint64) string {
	// A fixed-width hex key avoids the allocation strconv.FormatUint's
	// variable-width output would otherwise force on every lookup.
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[phys&0xF]
		phys >>= 4
	}
	return string(buf)
}

// buildDloc reads and decodes the File Entry at icbLBN and populates its
// FELoc and DataLoc Extent Infos. AllocLoc is not populated: an
// out-of-line descriptor continuation is followed by decodeMapping, but
// its location is not recorded.
func (g *Graph) buildDloc(ctx context.Context, partition int, icbLBN uint32, phys uint64) (*Dloc, error) {
	d := &Dloc{feLBA: phys, partition: partition, icbLBN: icbLBN}

	blockSize := g.eng.BlockSize()
	d.FELoc = extent.Info{
		Length: uint64(blockSize),
		Mapping: []extent.Run{
			{State: extent.Recorded, Partition: partition, LBN: icbLBN, Length: blockSize},
		},
	}

	buf := make([]byte, blockSize)
	if _, err := g.eng.ReadExtent(ctx, &d.FELoc, 0, buf, nil); err != nil {
		return nil, err
	}

	tag, ok, err := udf.VerifyTag(buf)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errCorrupt("openfile.buildDloc: File Entry tag/CRC mismatch")
	}

	switch tag.Identifier {
	case udf.TagFileEntry:
		fe, err := udf.DecodeFileEntry(buf)
		if err != nil {
			return nil, err
		}
		d.FE = fe
		if err := g.populateFromFE(ctx, d, partition, fe.ICBTag, fe.InformationLength, fe.Tail); err != nil {
			return nil, err
		}
	case udf.TagExtendedFileEntry:
		efe, err := udf.DecodeExtendedFileEntry(buf)
		if err != nil {
			return nil, err
		}
		d.IsExtended = true
		d.EFE = efe
		if err := g.populateFromFE(ctx, d, partition, efe.ICBTag, efe.InformationLength, efe.Tail); err != nil {
			return nil, err
		}
		if efe.StreamDirectoryICB.Length > 0 {
			d.HasStreamDir = true
			if sphys, err := g.geo.PartLBAToPhys(int(efe.StreamDirectoryICB.Partition), efe.StreamDirectoryICB.LBN); err == nil {
				d.StreamDirLBA = sphys
			}
		}
	default:
		return nil, errCorrupt("openfile.buildDloc: ICB names neither a File Entry nor an Extended File Entry")
	}

	return d, nil
}

// populateFromFE builds DataLoc from the File Entry's
// allocation-descriptor-array-type and tail bytes, per spec.md §3/§6. It
// does not set AllocLoc.
func (g *Graph) populateFromFE(ctx context.Context, d *Dloc, partition int, icb udf.ICBTag, infoLength uint64, tail []byte) error {
	switch icb.AllocDescType() {
	case udf.AllocDescEmbeddedData:
		d.DataLoc = extent.Info{
			Length:  infoLength,
			Mapping: []extent.Run{{State: extent.InICB, Length: uint32(len(tail))}},
		}
		return nil
	case udf.AllocDescShort, udf.AllocDescLong, udf.AllocDescExtended:
		kind := adKindFor(icb.AllocDescType())
		mapping, err := g.decodeMapping(ctx, partition, kind, tail)
		if err != nil {
			return err
		}
		d.DataLoc = extent.Info{Length: infoLength, Mapping: mapping}
		return nil
	default:
		return errCorrupt("openfile.populateFromFE: unknown allocation-descriptor-array type")
	}
}

// decodeMapping decodes tail as the inline head of an allocation-
// descriptor array, following an out-of-line continuation through
// engine.DecodeAllocLoc when the array doesn't fit entirely inside the
// File Entry itself -- the inline-vs-out-of-line branch spec.md §4.E's
// AllocLoc exists to cover.
func (g *Graph) decodeMapping(ctx context.Context, partition int, kind extent.ADKind, tail []byte) ([]extent.Run, error) {
	mapping, next, done, err := extent.DecodeInlineADArray(kind, partition, tail)
	if err != nil {
		return nil, err
	}
	if done {
		return mapping, nil
	}
	rest, err := g.eng.DecodeAllocLoc(ctx, kind, next)
	if err != nil {
		return nil, err
	}
	return append(mapping, rest...), nil
}

// ensureDirIndex builds d.Index from its DataLoc FID stream if it hasn't
// been built yet, per spec.md §4.F's "on first open of a directory."
func (g *Graph) ensureDirIndex(ctx context.Context, d *Dloc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Index != nil {
		return nil
	}
	selfICB := udf.LongAD{LBN: d.icbLBN, Partition: uint16(d.partition)}
	var icb []byte
	for _, r := range d.DataLoc.Mapping {
		if r.State == extent.InICB {
			icb = d.FE.Tail
			if d.IsExtended {
				icb = d.EFE.Tail
			}
			break
		}
	}
	idx, err := dirindex.Build(ctx, g.eng, &d.DataLoc, icb, selfICB, g.dirCfg)
	if err != nil {
		return err
	}
	d.Index = idx
	return nil
}

// newSiblingRing wraps fi as the sole member of a fresh hard-link
// sibling ring.
func newSiblingRing(fi *FileInfo) {
	fi.ring = list.New()
	fi.sibling = fi.ring.PushBack(fi)
}

// joinSiblingRing links fi into existing's hard-link sibling ring, per
// spec.md §3's "hard-linked FileInfos share one Dloc and form a circular
// sibling list."
func joinSiblingRing(existing, fi *FileInfo) {
	fi.ring = existing.ring
	fi.sibling = fi.ring.PushBack(fi)
}
