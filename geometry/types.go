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

// Package geometry translates between the partition-relative address
// space every on-disk structure uses and physical LBAs, hiding sparing
// and VAT remaps behind a single Mapping result, per spec.md §4.B.
package geometry

// PartitionMapType distinguishes a plain contiguous partition from one
// backed by a sparing table (defective-block remap) or a VAT (append-only
// media remap).
type PartitionMapType int

const (
	PartitionPlain PartitionMapType = iota
	PartitionSparable
	PartitionVirtual
)

// PartitionMap is one entry of the Logical Volume Descriptor's partition
// map array.
type PartitionMap struct {
	Type       PartitionMapType
	VolumeSeq  uint16
	PartNum    uint16
	StartLBA   uint32
	Length     uint32
	PacketSize uint32 // sparable only
}

// Sentinel part_start/part_end/part_len values, per spec.md §4.B.
const (
	WholeVolume     = -1
	FirstToLastPart = -2
)

// SparingEntry maps one packet-sized original location to its spared
// replacement, or to itself if unmapped.
type SparingEntry struct {
	OriginalLBA uint32
	MappedLBA   uint32
	// ErrorCount is the entry's error count as stored in the sparing
	// table. It is read and written with the entry; no code compares
	// sparing-table copies by it.
	ErrorCount uint32
}

// Mapping is the result of relocate(): the physical LBA(s) I/O must
// target, reflecting any sparing remap.
type Mapping struct {
	PhysLBA    uint64
	BlockCount uint32
	Relocated  bool
}
