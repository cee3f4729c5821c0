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

package alloc

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/udfcore/udfcore/internal/metrics"
)

// Flags controls find_min_suitable_extent / Alloc extent-selection
// policy, per spec.md §4.D.
type Flags uint8

const (
	// FlagVerify re-checks the bad-space bitmap for every candidate run.
	FlagVerify Flags = 1 << iota
	// FlagAllocSequential always requires packet alignment (future
	// append-only media policy).
	FlagAllocSequential
	// FlagCDRMode disables best-fit selection in favor of always
	// appending -- spec.md §1 Non-goals place CD-R *write* support out of
	// scope, but the allocator still recognizes the policy tag so a
	// higher layer can refuse it cleanly rather than silently best-fit.
	FlagCDRMode
)

// MarkAs selects the bitmap mutation Mark performs.
type MarkAs int

const (
	MarkFree MarkAs = iota
	MarkUsed
	MarkBad
)

// Run is a contiguous span of partition-relative logical blocks, the
// allocator's neutral unit of currency; extent.Engine wraps these into
// its own Extent Runs with a content state attached.
type Run struct {
	LBA    uint32
	Blocks uint32
}

// maxADLengthBytes is the largest byte length representable in the
// 30-bit on-disk extent-length field, per spec.md §3 ("Length carries a
// 2-bit tag ... in the low 2 bits of a 32-bit length word").
const maxADLengthBytes = 1<<30 - 1

type partitionSpace struct {
	free       *Bitmap
	zero       *Bitmap
	bad        *Bitmap
	packetSize uint32
	charge     *ChargePool
}

// Allocator is the Space Allocator of spec.md §4.D, scoped per mounted
// volume and indexed by partition number the way the on-disk Partition
// Header Descriptor's bitmaps are per-partition.
type Allocator struct {
	mu         sync.Mutex
	blockSize  uint32
	partitions map[int]*partitionSpace

	metrics     *metrics.Collectors
	volumeLabel string
}

// New builds an Allocator for a volume with the given logical block size.
func New(blockSize uint32, m *metrics.Collectors) *Allocator {
	return &Allocator{
		blockSize:  blockSize,
		partitions: make(map[int]*partitionSpace),
		metrics:    m,
	}
}

// SetVolumeLabel names this allocator for metrics purposes.
func (a *Allocator) SetVolumeLabel(name string) { a.volumeLabel = name }

// LoadPartition installs the free/zero/bad bitmaps for partition part,
// decoded by the volume layer from the Partition Header Descriptor's
// Unallocated/Freed Space Bitmap at mount, per spec.md §6. chargePoolSize
// bounds the FE allocation charge cache for this partition (0 disables
// it).
func (a *Allocator) LoadPartition(part int, free, zero, bad *Bitmap, packetSize uint32, chargePoolSize int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.partitions[part] = &partitionSpace{
		free:       free,
		zero:       zero,
		bad:        bad,
		packetSize: packetSize,
		charge:     NewChargePool(chargePoolSize),
	}
}

func (a *Allocator) space(part int) (*partitionSpace, error) {
	ps, ok := a.partitions[part]
	if !ok {
		return nil, ErrUnknownPartition("alloc: " + strconv.Itoa(part))
	}
	return ps, nil
}

// FreeCount returns the current free-block count for part, per P5.
func (a *Allocator) FreeCount(part int) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ps, err := a.space(part)
	if err != nil {
		return 0, err
	}
	return ps.free.PopCount(), nil
}

// ChargePool returns the FE allocation charge pool for part, for callers
// (openfile's create/delete paths) that need direct access, or nil if the
// partition was never loaded.
func (a *Allocator) ChargePool(part int) *ChargePool {
	a.mu.Lock()
	defer a.mu.Unlock()
	ps, ok := a.partitions[part]
	if !ok {
		return nil
	}
	return ps.charge
}

// FindMinSuitableExtent scans free space in [searchStart, searchLimit)
// and returns the smallest free run at least lengthBlocks long; if none
// is large enough, it returns the largest available run instead, per
// spec.md §4.D. When lengthBlocks is a multiple of the partition's
// packet size (and not CD-R mode, or FlagAllocSequential is set), the
// first pass requires the chosen run to start packet-aligned, falling
// back to an unaligned pass only on failure.
func (a *Allocator) FindMinSuitableExtent(part int, lengthBlocks, searchStart, searchLimit uint32, flags Flags) (Run, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ps, err := a.space(part)
	if err != nil {
		return Run{}, err
	}
	return a.findMinSuitableLocked(ps, lengthBlocks, searchStart, searchLimit, flags)
}

func (a *Allocator) findMinSuitableLocked(ps *partitionSpace, lengthBlocks, searchStart, searchLimit uint32, flags Flags) (Run, error) {
	wantAligned := ps.packetSize > 0 && lengthBlocks%ps.packetSize == 0 &&
		(flags&FlagCDRMode == 0 || flags&FlagAllocSequential != 0)

	if wantAligned {
		if run, ok := a.scanFree(ps, lengthBlocks, searchStart, searchLimit, true); ok {
			return run, nil
		}
	}
	if run, ok := a.scanFree(ps, lengthBlocks, searchStart, searchLimit, false); ok {
		return run, nil
	}
	return Run{}, nil
}

// scanFree performs one pass over [searchStart, searchLimit), tracking
// the best (smallest) run >= want and the largest run seen overall, so
// the caller can fall back to the largest run when nothing fits.
func (a *Allocator) scanFree(ps *partitionSpace, want, searchStart, searchLimit uint32, alignedOnly bool) (Run, bool) {
	if searchLimit > ps.free.Len() {
		searchLimit = ps.free.Len()
	}
	var best, largest Run
	haveBest := false

	i := searchStart
	for i < searchLimit {
		if !ps.free.Test(i) {
			i++
			continue
		}
		runLen := ps.free.RunLengthAt(i, searchLimit)
		start := i
		i += runLen

		if alignedOnly && ps.packetSize > 0 && start%ps.packetSize != 0 {
			// Advance to the next packet boundary within this run, if any.
			next := start + (ps.packetSize - start%ps.packetSize)
			if next >= start+runLen {
				continue
			}
			runLen -= next - start
			start = next
		}

		if runLen > largest.Blocks {
			largest = Run{LBA: start, Blocks: runLen}
		}
		if runLen >= want && (!haveBest || runLen < best.Blocks) {
			best = Run{LBA: start, Blocks: runLen}
			haveBest = true
		}
	}

	if haveBest {
		best.Blocks = clampRunBlocks(best.Blocks, a.blockSize)
		return best, true
	}
	if largest.Blocks > 0 {
		largest.Blocks = clampRunBlocks(largest.Blocks, a.blockSize)
		return largest, true
	}
	return Run{}, false
}

func clampRunBlocks(blocks, blockSize uint32) uint32 {
	if blockSize == 0 {
		return blocks
	}
	maxBlocks := uint32(maxADLengthBytes / blockSize)
	if blocks > maxBlocks {
		return maxBlocks
	}
	return blocks
}

// Alloc repeatedly calls FindMinSuitableExtent until lengthBytes is
// satisfied, marking each chosen run used (and zero-filled), verifying
// against the bad-space bitmap when FlagVerify is set, and merging
// adjacent runs of the resulting mapping. Either the full byte count is
// satisfied or the partial mapping is discarded and the caller sees
// DiskFull, per spec.md §4.D.
func (a *Allocator) Alloc(part int, lengthBytes uint64, searchStart, searchLimit uint32, flags Flags) ([]Run, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ps, err := a.space(part)
	if err != nil {
		return nil, err
	}
	if a.blockSize == 0 {
		return nil, ErrDiskFull("alloc.Alloc: zero block size")
	}

	remainingBlocks := uint32((lengthBytes + uint64(a.blockSize) - 1) / uint64(a.blockSize))
	if remainingBlocks == 0 {
		return nil, nil
	}

	var mapping []Run
	cursor := searchStart
	const maxAttempts = 4096
	for attempt := 0; remainingBlocks > 0; attempt++ {
		if attempt >= maxAttempts {
			a.rollback(ps, mapping)
			return nil, ErrDiskFull(fmt.Sprintf("alloc.Alloc: partition %d exceeded search attempts", part))
		}
		run, err := a.findMinSuitableLocked(ps, remainingBlocks, cursor, searchLimit, flags)
		if err != nil || run.Blocks == 0 {
			a.rollback(ps, mapping)
			a.observeDiskFull()
			return nil, ErrDiskFull(fmt.Sprintf("alloc.Alloc: partition %d has no space for %d more blocks", part, remainingBlocks))
		}
		if run.Blocks > remainingBlocks {
			run.Blocks = remainingBlocks
		}

		if flags&FlagVerify != 0 && a.runIntersectsBad(ps, run) {
			// Exclude this run from the next attempt and retry.
			cursor = run.LBA + run.Blocks
			if cursor <= searchStart && run.LBA >= searchStart {
				cursor = run.LBA + 1
			}
			continue
		}

		ps.free.ClearRange(run.LBA, run.Blocks)
		ps.zero.SetRange(run.LBA, run.Blocks)
		mapping = append(mapping, run)
		remainingBlocks -= run.Blocks
		cursor = searchStart
	}

	mapping = mergeRuns(mapping)
	if a.metrics != nil {
		a.metrics.AllocLargestFreeRun.WithLabelValues(a.label()).Set(float64(a.largestFreeRunLocked(ps)))
	}
	return mapping, nil
}

func (a *Allocator) runIntersectsBad(ps *partitionSpace, run Run) bool {
	for i := uint32(0); i < run.Blocks; i++ {
		if ps.bad.Test(run.LBA + i) {
			return true
		}
	}
	return false
}

func (a *Allocator) rollback(ps *partitionSpace, mapping []Run) {
	for _, r := range mapping {
		ps.free.SetRange(r.LBA, r.Blocks)
		ps.zero.ClearRange(r.LBA, r.Blocks)
	}
}

func (a *Allocator) observeDiskFull() {
	if a.metrics != nil {
		a.metrics.AllocFailures.WithLabelValues(a.label()).Inc()
	}
}

func (a *Allocator) label() string {
	if a.volumeLabel != "" {
		return a.volumeLabel
	}
	return "unknown"
}

func (a *Allocator) largestFreeRunLocked(ps *partitionSpace) uint32 {
	var largest uint32
	i := uint32(0)
	n := ps.free.Len()
	for i < n {
		if !ps.free.Test(i) {
			i++
			continue
		}
		l := ps.free.RunLengthAt(i, n)
		if l > largest {
			largest = l
		}
		i += l
	}
	return largest
}

// mergeRuns fuses consecutive runs whose LBAs are contiguous, per
// spec.md §4.E's merge step applied to a freshly allocated mapping.
func mergeRuns(runs []Run) []Run {
	if len(runs) == 0 {
		return runs
	}
	out := make([]Run, 0, len(runs))
	cur := runs[0]
	for _, r := range runs[1:] {
		if cur.LBA+cur.Blocks == r.LBA {
			cur.Blocks += r.Blocks
			continue
		}
		out = append(out, cur)
		cur = r
	}
	out = append(out, cur)
	return out
}

// Mark walks mapping and updates the bitmaps for part according to as,
// per spec.md §4.D. MarkFree clears used bits back to free except where
// they intersect bad-space; MarkUsed clears free bits; MarkBad sets
// bad-space bits (and clears the corresponding free bits, since a block
// known bad is never handed out again).
func (a *Allocator) Mark(part int, mapping []Run, as MarkAs) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	ps, err := a.space(part)
	if err != nil {
		return err
	}
	for _, r := range mapping {
		switch as {
		case MarkFree:
			for i := uint32(0); i < r.Blocks; i++ {
				lba := r.LBA + i
				if !ps.bad.Test(lba) {
					ps.free.Set(lba)
				}
			}
		case MarkUsed:
			ps.free.ClearRange(r.LBA, r.Blocks)
		case MarkBad:
			ps.bad.SetRange(r.LBA, r.Blocks)
			ps.free.ClearRange(r.LBA, r.Blocks)
		}
	}
	return nil
}

// MarkZeroed records that the blocks in mapping are known to read as
// zero (freshly allocated, not yet written), per spec.md §6 P6.
func (a *Allocator) MarkZeroed(part int, mapping []Run) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	ps, err := a.space(part)
	if err != nil {
		return err
	}
	for _, r := range mapping {
		ps.zero.SetRange(r.LBA, r.Blocks)
	}
	return nil
}

// ClearZeroed records that the blocks in mapping have now been written
// and their content should no longer be assumed zero.
func (a *Allocator) ClearZeroed(part int, mapping []Run) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	ps, err := a.space(part)
	if err != nil {
		return err
	}
	for _, r := range mapping {
		ps.zero.ClearRange(r.LBA, r.Blocks)
	}
	return nil
}

// IsZeroed reports whether every block of mapping is flagged zero-filled.
func (a *Allocator) IsZeroed(part int, mapping []Run) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ps, err := a.space(part)
	if err != nil {
		return false, err
	}
	for _, r := range mapping {
		for i := uint32(0); i < r.Blocks; i++ {
			if !ps.zero.Test(r.LBA + i) {
				return false, nil
			}
		}
	}
	return true, nil
}
