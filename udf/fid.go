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

// FileCharacteristic bits, per ECMA-167 §14.4.3.
const (
	FileCharHidden    = 1 << 0
	FileCharDirectory = 1 << 1
	FileCharDeleted   = 1 << 2
	FileCharParent    = 1 << 3
	FileCharMetadata  = 1 << 4
)

// fidFixedLen is the size of the File Identifier Descriptor up to and
// including the ICB long_ad, before the variable-length implementation-use
// and file-identifier fields.
const fidFixedLen = 38

// FID is a decoded File Identifier Descriptor: a directory entry naming a
// child File Entry (or sub-FID for streams) by its ICB, plus a CS0-encoded
// name, per spec.md §6 and §5 (directory index is built over these).
type FID struct {
	Tag                  Tag
	VersionNumber        uint16
	FileCharacteristics  uint8
	FileIdentifierLength uint8
	ICB                  LongAD
	ImplUseLength        uint16
	ImplUse              []byte
	FileIdentifier       []byte // CS0-encoded; empty for the ".." parent entry
}

// Name decodes the FID's CS0 file identifier into a Go string.
func (f FID) Name() (string, error) {
	if len(f.FileIdentifier) == 0 {
		return "", nil
	}
	return DecodeCS0(f.FileIdentifier)
}

// IsDeleted reports whether this FID is tombstoned (a deleted directory
// entry still occupying space pending compaction), per spec.md §5.
func (f FID) IsDeleted() bool {
	return f.FileCharacteristics&FileCharDeleted != 0
}

// IsDirectory reports whether the FID's target is itself a directory.
func (f FID) IsDirectory() bool {
	return f.FileCharacteristics&FileCharDirectory != 0
}

// IsParent reports whether this is the special ".." entry every UDF
// directory's first FID carries.
func (f FID) IsParent() bool {
	return f.FileCharacteristics&FileCharParent != 0
}

// padTo4 returns the padded length of a FID record: ECMA-167 requires
// each FID to end on a 4-byte boundary.
func padTo4(n int) int {
	if r := n % 4; r != 0 {
		return n + (4 - r)
	}
	return n
}

// Size returns the on-disk, 4-byte-padded length of f.
func (f FID) Size() int {
	return padTo4(fidFixedLen + int(f.ImplUseLength) + int(f.FileIdentifierLength))
}

// DecodeFID parses a FID starting at b[0]. The Tag is assumed already
// verified by the caller (directory scans verify the surrounding sector,
// not each FID individually, since FIDs do not recompute CRC per record
// in most implementations -- spec.md §6 leaves FID-level CRC unaddressed,
// so this mirrors ECMA-167's own tag, checked via VerifyTag by callers
// that want it).
func DecodeFID(b []byte) (FID, int, error) {
	if len(b) < fidFixedLen {
		return FID{}, 0, ErrShortBuffer
	}
	tag, err := DecodeTag(b[0:16])
	if err != nil {
		return FID{}, 0, err
	}
	f := FID{
		Tag:                  tag,
		VersionNumber:        binary.LittleEndian.Uint16(b[16:18]),
		FileCharacteristics:  b[18],
		FileIdentifierLength: b[19],
	}
	icb, err := DecodeLongAD(b[20:36])
	if err != nil {
		return FID{}, 0, err
	}
	f.ICB = icb
	f.ImplUseLength = binary.LittleEndian.Uint16(b[36:38])

	total := fidFixedLen + int(f.ImplUseLength) + int(f.FileIdentifierLength)
	if len(b) < total {
		return FID{}, 0, ErrShortBuffer
	}
	f.ImplUse = append([]byte(nil), b[38:38+int(f.ImplUseLength)]...)
	nameStart := 38 + int(f.ImplUseLength)
	f.FileIdentifier = append([]byte(nil), b[nameStart:nameStart+int(f.FileIdentifierLength)]...)

	return f, padTo4(total), nil
}

// EncodeFID serializes f into b, which must be at least f.Size() bytes,
// and recomputes the tag checksum and CRC over the encoded body.
func EncodeFID(b []byte, f FID) (int, error) {
	size := f.Size()
	if len(b) < size {
		return 0, ErrShortBuffer
	}
	binary.LittleEndian.PutUint16(b[16:18], f.VersionNumber)
	b[18] = f.FileCharacteristics
	b[19] = f.FileIdentifierLength
	if err := EncodeLongAD(b[20:36], f.ICB); err != nil {
		return 0, err
	}
	binary.LittleEndian.PutUint16(b[36:38], uint16(len(f.ImplUse)))
	copy(b[38:38+len(f.ImplUse)], f.ImplUse)
	nameStart := 38 + len(f.ImplUse)
	copy(b[nameStart:nameStart+len(f.FileIdentifier)], f.FileIdentifier)
	for i := nameStart + len(f.FileIdentifier); i < size; i++ {
		b[i] = 0
	}

	bodyLen := size - tagLen
	crc := crc16(b[tagLen:size])
	tag := f.Tag
	tag.Identifier = TagFileIdentifierDescriptor
	tag.DescriptorCRC = crc
	tag.DescriptorCRCLength = uint16(bodyLen)
	if err := EncodeTag(b[0:16], tag); err != nil {
		return 0, err
	}
	return size, nil
}
