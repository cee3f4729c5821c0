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

package geometry

import "sync"

// Volume holds the partition maps and sparing state for one mounted UDF
// logical volume, and implements the address-translation contract of
// spec.md §4.B. GUARDED_BY(mu) annotations follow gcsfuse's own
// locking convention in fs/inode/dir.go.
type Volume struct {
	mu sync.RWMutex

	partitions []PartitionMap // GUARDED_BY(mu)
	// sparing maps, per partition index, OriginalLBA -> SparingEntry.
	sparing []map[uint32]SparingEntry // GUARDED_BY(mu)
	// InstantBurnerPartitionRefs clamps an out-of-range partition_ref to
	// the last map instead of failing, per spec.md §4.B's "authored media
	// sometimes emit the wrong partition reference" compat quirk.
	InstantBurnerPartitionRefs bool
	// RefuseWritesOnNoSpare selects the "no-spare action" policy:
	// true means remap_packet fails with DiskFull when the sparing
	// table is exhausted; false silently proceeds unspared.
	RefuseWritesOnNoSpare bool
}

// NewVolume builds a Volume from the partition maps decoded out of the
// Logical Volume Descriptor at mount.
func NewVolume(partitions []PartitionMap) *Volume {
	v := &Volume{
		partitions:            append([]PartitionMap(nil), partitions...),
		sparing:               make([]map[uint32]SparingEntry, len(partitions)),
		RefuseWritesOnNoSpare: true,
	}
	for i := range v.sparing {
		v.sparing[i] = make(map[uint32]SparingEntry)
	}
	return v
}

// LoadSparingTable installs entries as partition index p's sparing
// table, replacing any earlier one. vcb.Mount passes the table read from
// the first location named in the partition map; no other copy is read.
func (v *Volume) LoadSparingTable(p int, entries []SparingEntry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	m := make(map[uint32]SparingEntry, len(entries))
	for _, e := range entries {
		m[e.OriginalLBA] = e
	}
	v.sparing[p] = m
}

func (v *Volume) checkInvariants() {
	if len(v.sparing) != len(v.partitions) {
		panic("geometry: sparing table count diverged from partition map count")
	}
}

// PartStart returns the start LBA of partition p, honoring the sentinel
// values WholeVolume and FirstToLastPart.
func (v *Volume) PartStart(p int) (uint32, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	switch p {
	case WholeVolume:
		return 0, nil
	case FirstToLastPart:
		if len(v.partitions) == 0 {
			return 0, ErrOutOfExtent("geometry.PartStart")
		}
		return v.partitions[0].StartLBA, nil
	}
	if p < 0 || p >= len(v.partitions) {
		return 0, ErrOutOfExtent("geometry.PartStart")
	}
	return v.partitions[p].StartLBA, nil
}

// PartEnd returns the exclusive end LBA of partition p.
func (v *Volume) PartEnd(p int) (uint32, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	switch p {
	case WholeVolume:
		var end uint32
		for _, pm := range v.partitions {
			if e := pm.StartLBA + pm.Length; e > end {
				end = e
			}
		}
		return end, nil
	case FirstToLastPart:
		if len(v.partitions) == 0 {
			return 0, ErrOutOfExtent("geometry.PartEnd")
		}
		last := v.partitions[len(v.partitions)-1]
		return last.StartLBA + last.Length, nil
	}
	if p < 0 || p >= len(v.partitions) {
		return 0, ErrOutOfExtent("geometry.PartEnd")
	}
	pm := v.partitions[p]
	return pm.StartLBA + pm.Length, nil
}

// PartLen returns the length in blocks of partition p.
func (v *Volume) PartLen(p int) (uint32, error) {
	start, err := v.PartStart(p)
	if err != nil {
		return 0, err
	}
	end, err := v.PartEnd(p)
	if err != nil {
		return 0, err
	}
	return end - start, nil
}

// PartLBAToPhys walks the partition maps to resolve a partition-relative
// logical block number into an absolute physical LBA, per spec.md §4.B.
func (v *Volume) PartLBAToPhys(partitionRef int, lbn uint32) (uint64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	idx := partitionRef
	if idx >= len(v.partitions) {
		if v.InstantBurnerPartitionRefs && len(v.partitions) > 0 {
			idx = len(v.partitions) - 1
		} else {
			return 0, ErrOutOfExtent("geometry.PartLBAToPhys")
		}
	}
	if idx < 0 || idx >= len(v.partitions) {
		return 0, ErrOutOfExtent("geometry.PartLBAToPhys")
	}
	pm := v.partitions[idx]
	if lbn >= pm.Length {
		return 0, ErrOutOfExtent("geometry.PartLBAToPhys")
	}
	return uint64(pm.StartLBA) + uint64(lbn), nil
}

// PhysToPartRef reverse-maps a physical LBA to the partition that
// contains it. When multiple partition maps overlap (defensively
// supported for authored media that get this wrong), the last match
// wins, per spec.md §4.B.
func (v *Volume) PhysToPartRef(physLBA uint64) (int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	found := -1
	for i, pm := range v.partitions {
		start := uint64(pm.StartLBA)
		end := start + uint64(pm.Length)
		if physLBA >= start && physLBA < end {
			found = i
		}
	}
	if found < 0 {
		return 0, ErrOutOfExtent("geometry.PhysToPartRef")
	}
	return found, nil
}

// Relocate returns the physical mapping for a run of n blocks starting at
// lba, substituting any sparing-table remap. Sparing only ever remaps a
// whole packet at a time, so a relocated run is reported block-by-block
// by the caller when it straddles a packet boundary; Relocate reports the
// mapping for the first block of the run and whether any block in the
// run required a remap via Relocated.
func (v *Volume) Relocate(partitionIdx int, lba uint64, n uint32) (Mapping, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if partitionIdx < 0 || partitionIdx >= len(v.sparing) {
		return Mapping{}, ErrOutOfExtent("geometry.Relocate")
	}
	table := v.sparing[partitionIdx]
	if entry, ok := table[uint32(lba)]; ok {
		return Mapping{PhysLBA: uint64(entry.MappedLBA), BlockCount: n, Relocated: true}, nil
	}
	relocated := false
	for i := uint64(1); i < uint64(n); i++ {
		if _, ok := table[uint32(lba+i)]; ok {
			relocated = true
			break
		}
	}
	return Mapping{PhysLBA: lba, BlockCount: n, Relocated: relocated}, nil
}

// AreSectorsRelocated is a fast predicate for Relocate's remap check,
// without constructing a Mapping.
func (v *Volume) AreSectorsRelocated(partitionIdx int, lba uint64, n uint32) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if partitionIdx < 0 || partitionIdx >= len(v.sparing) {
		return false
	}
	table := v.sparing[partitionIdx]
	for i := uint64(0); i < uint64(n); i++ {
		if _, ok := table[uint32(lba+i)]; ok {
			return true
		}
	}
	return false
}

// RemapPacket records spareLBA, supplied by the caller, as the
// replacement for lba in partition partitionIdx's sparing table. It does
// not choose a replacement itself and keeps no count of free sparing
// entries. An existing entry for lba is replaced only when force is set.
// A spareLBA of 0 means no spare is available: RemapPacket then fails
// with DiskFull when RefuseWritesOnNoSpare is set, and otherwise leaves
// the table unchanged.
func (v *Volume) RemapPacket(partitionIdx int, lba uint32, spareLBA uint32, force bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if partitionIdx < 0 || partitionIdx >= len(v.sparing) {
		return ErrOutOfExtent("geometry.RemapPacket")
	}
	table := v.sparing[partitionIdx]
	if _, exists := table[lba]; exists && !force {
		return nil
	}
	if spareLBA == 0 {
		if v.RefuseWritesOnNoSpare {
			return ErrNoSpare("geometry.RemapPacket")
		}
		return nil
	}
	table[lba] = SparingEntry{OriginalLBA: lba, MappedLBA: spareLBA}
	return nil
}

// UnmapRange releases any sparing entries fully covered by [lba, lba+n)
// and marks them free (removed from the table).
func (v *Volume) UnmapRange(partitionIdx int, lba uint64, n uint32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if partitionIdx < 0 || partitionIdx >= len(v.sparing) {
		return
	}
	table := v.sparing[partitionIdx]
	for i := uint64(0); i < uint64(n); i++ {
		delete(table, uint32(lba+i))
	}
}

// Partitions returns a defensive copy of the partition map list.
func (v *Volume) Partitions() []PartitionMap {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]PartitionMap(nil), v.partitions...)
}
