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

package udf

import "encoding/binary"

// ExtentState is the 2-bit tag carried in bits 30-31 of every allocation
// descriptor's length field, per spec.md §6.
type ExtentState uint8

const (
	ExtentRecorded              ExtentState = 0
	ExtentAllocatedNotRecorded  ExtentState = 1
	ExtentNotAllocatedNotRecorded ExtentState = 2
	ExtentNextDescriptor        ExtentState = 3
)

const extentStateShift = 30
const extentLengthMask = 1<<extentStateShift - 1

// ShortAD is the 8-byte short_ad form: a 30-bit length + 2-bit state, and
// a 32-bit logical block number relative to the descriptor's partition.
type ShortAD struct {
	Length uint32
	State  ExtentState
	LBN    uint32
}

const shortADLen = 8

func DecodeShortAD(b []byte) (ShortAD, error) {
	if len(b) < shortADLen {
		return ShortAD{}, ErrShortBuffer
	}
	raw := binary.LittleEndian.Uint32(b[0:4])
	return ShortAD{
		Length: raw & extentLengthMask,
		State:  ExtentState(raw >> extentStateShift),
		LBN:    binary.LittleEndian.Uint32(b[4:8]),
	}, nil
}

func EncodeShortAD(b []byte, ad ShortAD) error {
	if len(b) < shortADLen {
		return ErrShortBuffer
	}
	raw := (uint32(ad.State) << extentStateShift) | (ad.Length & extentLengthMask)
	binary.LittleEndian.PutUint32(b[0:4], raw)
	binary.LittleEndian.PutUint32(b[4:8], ad.LBN)
	return nil
}

// LongAD is the 16-byte long_ad form: adds an explicit partition
// reference number and 6 bytes of implementation use, so an extent can
// name a block in any partition, not just the one its owning descriptor
// lives in.
type LongAD struct {
	Length    uint32
	State     ExtentState
	LBN       uint32
	Partition uint16
	ImplUse   [6]byte
}

const longADLen = 16

func DecodeLongAD(b []byte) (LongAD, error) {
	if len(b) < longADLen {
		return LongAD{}, ErrShortBuffer
	}
	raw := binary.LittleEndian.Uint32(b[0:4])
	ad := LongAD{
		Length:    raw & extentLengthMask,
		State:     ExtentState(raw >> extentStateShift),
		LBN:       binary.LittleEndian.Uint32(b[4:8]),
		Partition: binary.LittleEndian.Uint16(b[8:10]),
	}
	copy(ad.ImplUse[:], b[10:16])
	return ad, nil
}

func EncodeLongAD(b []byte, ad LongAD) error {
	if len(b) < longADLen {
		return ErrShortBuffer
	}
	raw := (uint32(ad.State) << extentStateShift) | (ad.Length & extentLengthMask)
	binary.LittleEndian.PutUint32(b[0:4], raw)
	binary.LittleEndian.PutUint32(b[4:8], ad.LBN)
	binary.LittleEndian.PutUint16(b[8:10], ad.Partition)
	copy(b[10:16], ad.ImplUse[:])
	return nil
}

// ExtAD is the 20-byte ext_ad form used by Extended File Entries: a
// long_ad plus a separate "recorded length" distinct from the allocated
// length, letting a run be allocated but only partly written.
type ExtAD struct {
	Length         uint32
	State          ExtentState
	RecordedLength uint32
	LBN            uint32
	Partition      uint16
	ImplUse        [2]byte
}

const extADLen = 20

func DecodeExtAD(b []byte) (ExtAD, error) {
	if len(b) < extADLen {
		return ExtAD{}, ErrShortBuffer
	}
	raw := binary.LittleEndian.Uint32(b[0:4])
	ad := ExtAD{
		Length:         raw & extentLengthMask,
		State:          ExtentState(raw >> extentStateShift),
		RecordedLength: binary.LittleEndian.Uint32(b[4:8]),
		LBN:            binary.LittleEndian.Uint32(b[12:16]),
		Partition:      binary.LittleEndian.Uint16(b[16:18]),
	}
	copy(ad.ImplUse[:], b[18:20])
	return ad, nil
}

func EncodeExtAD(b []byte, ad ExtAD) error {
	if len(b) < extADLen {
		return ErrShortBuffer
	}
	raw := (uint32(ad.State) << extentStateShift) | (ad.Length & extentLengthMask)
	binary.LittleEndian.PutUint32(b[0:4], raw)
	binary.LittleEndian.PutUint32(b[4:8], ad.RecordedLength)
	binary.LittleEndian.PutUint32(b[8:12], 0) // reserved
	binary.LittleEndian.PutUint32(b[12:16], ad.LBN)
	binary.LittleEndian.PutUint16(b[16:18], ad.Partition)
	copy(b[18:20], ad.ImplUse[:])
	return nil
}
