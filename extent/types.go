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

// Package extent implements the Extent Engine of spec.md §4.E: the
// representation of a file's data/allocation-descriptor mapping as a
// list of runs with content states, byte-offset read/write, and the
// resize/split/merge/zero/sparsify mapping transforms, plus the
// short/long/extended allocation-descriptor (de)serialisation of §6.
package extent

import (
	"github.com/udfcore/udfcore/udf"
)

// State is a run's content state, per spec.md §3. It shares its first
// three numeric values with udf.ExtentState so AD conversion is a direct
// cast; InICB has no on-disk AD representation (embedded data uses the
// FE's alloc-descriptor-array-type field instead) and is never written
// through EncodeAllocLoc/DecodeAllocLoc.
type State uint8

const (
	Recorded                State = State(udf.ExtentRecorded)
	AllocatedNotRecorded    State = State(udf.ExtentAllocatedNotRecorded)
	NotAllocatedNotRecorded State = State(udf.ExtentNotAllocatedNotRecorded)
	InICB                   State = 0xF0
)

// Run is one Extent Run: a span of bytes backed (or not) by a partition-
// relative logical block range, per spec.md §3. Sparse runs always carry
// LBN == 0 (P4); Length is a multiple of the volume's logical block size
// except possibly for the mapping's last run.
type Run struct {
	State     State
	Partition int
	LBN       uint32
	Length    uint32 // bytes
}

// IsSparse reports whether r is a hole with no backing storage.
func (r Run) IsSparse() bool { return r.State == NotAllocatedNotRecorded }

// Info is an Extent Info of spec.md §3: a file's total length, the
// offset of the first logical byte inside the first run (so a shrink
// that doesn't touch run boundaries doesn't have to rewrite the
// mapping), policy flags, and the ordered run mapping itself. Three
// Infos exist per open file -- DataLoc, AllocLoc, FELoc -- each using
// this same shape.
type Info struct {
	Length          uint64
	FirstRunOffset  uint32
	Verify          bool
	AllocSequential bool
	Mapping         []Run
}

// TotalMappedBytes sums the mapping's run lengths, the left side of the
// P3 invariant sum(run.length) >= e.length.
func (e *Info) TotalMappedBytes() uint64 {
	var total uint64
	for _, r := range e.Mapping {
		total += uint64(r.Length)
	}
	return total
}

// Clone returns a deep copy of e, used by mapping transforms that must
// not mutate a version still visible to a concurrent reader (per spec.md
// §5's "old array is freed only after no reader can observe it").
func (e *Info) Clone() *Info {
	out := &Info{
		Length:          e.Length,
		FirstRunOffset:  e.FirstRunOffset,
		Verify:          e.Verify,
		AllocSequential: e.AllocSequential,
		Mapping:         append([]Run(nil), e.Mapping...),
	}
	return out
}
