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

// AllocDescArrayType is the 3-bit field inside ICBTag.Flags naming how a
// File Entry's tail is laid out: an array of short_ad, long_ad, ext_ad,
// or the file's data embedded directly in the FE (In-ICB), per spec.md
// §3 and ECMA-167 §4.14.6.8.
type AllocDescArrayType uint8

const (
	AllocDescShort        AllocDescArrayType = 0
	AllocDescLong         AllocDescArrayType = 1
	AllocDescExtended     AllocDescArrayType = 2
	AllocDescEmbeddedData AllocDescArrayType = 3
)

// ICBTag.FileType values the core assigns at create time, per ECMA-167
// §4.14.6.6's enumeration (most values -- FIFO, character device, socket,
// and so on -- name node kinds this core never creates).
const (
	FileTypeDirectory uint8 = 4
	FileTypeRegular   uint8 = 5
)

// ICBTag is the 20-byte header every File Entry/Extended File Entry
// carries identifying its own strategy and the allocation-descriptor
// layout used for the rest of the structure, per ECMA-167 §4.14.6.
type ICBTag struct {
	PriorDirectEntries     uint32
	StrategyType           uint16
	StrategyParameter      uint16
	MaxEntries             uint16
	FileType               uint8
	ParentICBLogicalBlock  uint32
	ParentICBPartitionRef  uint16
	Flags                  uint16
}

const icbTagLen = 20

// AllocDescType extracts the low 3 bits of Flags.
func (t ICBTag) AllocDescType() AllocDescArrayType {
	return AllocDescArrayType(t.Flags & 0x7)
}

func decodeICBTag(b []byte) (ICBTag, error) {
	if len(b) < icbTagLen {
		return ICBTag{}, ErrShortBuffer
	}
	return ICBTag{
		PriorDirectEntries:    binary.LittleEndian.Uint32(b[0:4]),
		StrategyType:          binary.LittleEndian.Uint16(b[4:6]),
		StrategyParameter:     binary.LittleEndian.Uint16(b[6:8]),
		MaxEntries:            binary.LittleEndian.Uint16(b[8:10]),
		FileType:              b[11],
		ParentICBLogicalBlock: binary.LittleEndian.Uint32(b[12:16]),
		ParentICBPartitionRef: binary.LittleEndian.Uint16(b[16:18]),
		Flags:                 binary.LittleEndian.Uint16(b[18:20]),
	}, nil
}

func encodeICBTag(b []byte, t ICBTag) error {
	if len(b) < icbTagLen {
		return ErrShortBuffer
	}
	binary.LittleEndian.PutUint32(b[0:4], t.PriorDirectEntries)
	binary.LittleEndian.PutUint16(b[4:6], t.StrategyType)
	binary.LittleEndian.PutUint16(b[6:8], t.StrategyParameter)
	binary.LittleEndian.PutUint16(b[8:10], t.MaxEntries)
	b[10] = 0 // reserved
	b[11] = t.FileType
	binary.LittleEndian.PutUint32(b[12:16], t.ParentICBLogicalBlock)
	binary.LittleEndian.PutUint16(b[16:18], t.ParentICBPartitionRef)
	binary.LittleEndian.PutUint16(b[18:20], t.Flags)
	return nil
}

// feFixedLen is the File Entry's fixed header through
// LengthOfAllocationDescriptors, before the variable-length extended
// attributes and allocation descriptor/embedded-data tail, per ECMA-167
// §4.14.9.
const feFixedLen = 176

// FileEntry is the on-disk inode of spec.md §3: the compact (non-
// extended) File Entry form. Fields the core does not model
// (RecordFormat, RecordDisplayAttributes, RecordLength, Checkpoint,
// ImplementationIdentifier) are not preserved: DecodeFileEntry skips
// them and EncodeFileEntry writes them as zero.
type FileEntry struct {
	Tag                  Tag
	ICBTag               ICBTag
	UID                  uint32
	GID                  uint32
	Permissions          uint32
	FileLinkCount        uint16
	InformationLength    uint64
	LogicalBlocksRecord  uint64
	AccessTime           Timestamp
	ModificationTime     Timestamp
	AttributeTime        Timestamp
	ExtendedAttrICB      LongAD
	UniqueID             uint64
	ExtendedAttrs        []byte
	// Tail is either the allocation-descriptor array (short/long/ext,
	// per ICBTag.AllocDescType) or the embedded file data (AllocDescEmbeddedData).
	Tail []byte
}

// DecodeFileEntry parses a compact File Entry starting at b[0]. The Tag
// is assumed already verified by the caller via VerifyTag.
func DecodeFileEntry(b []byte) (FileEntry, error) {
	if len(b) < feFixedLen {
		return FileEntry{}, ErrShortBuffer
	}
	tag, err := DecodeTag(b[0:16])
	if err != nil {
		return FileEntry{}, err
	}
	icb, err := decodeICBTag(b[16:36])
	if err != nil {
		return FileEntry{}, err
	}
	eaICB, err := DecodeLongAD(b[112:128])
	if err != nil {
		return FileEntry{}, err
	}
	fe := FileEntry{
		Tag:                 tag,
		ICBTag:              icb,
		UID:                 binary.LittleEndian.Uint32(b[36:40]),
		GID:                 binary.LittleEndian.Uint32(b[40:44]),
		Permissions:         binary.LittleEndian.Uint32(b[44:48]),
		FileLinkCount:       binary.LittleEndian.Uint16(b[48:50]),
		InformationLength:   binary.LittleEndian.Uint64(b[56:64]),
		LogicalBlocksRecord: binary.LittleEndian.Uint64(b[64:72]),
		AccessTime:          decodeTimestamp(b[72:84]),
		ModificationTime:    decodeTimestamp(b[84:96]),
		AttributeTime:       decodeTimestamp(b[96:108]),
		ExtendedAttrICB:     eaICB,
		UniqueID:            binary.LittleEndian.Uint64(b[160:168]),
	}
	lEA := binary.LittleEndian.Uint32(b[168:172])
	lAD := binary.LittleEndian.Uint32(b[172:176])
	total := feFixedLen + int(lEA) + int(lAD)
	if len(b) < total {
		return FileEntry{}, ErrShortBuffer
	}
	fe.ExtendedAttrs = append([]byte(nil), b[feFixedLen:feFixedLen+int(lEA)]...)
	fe.Tail = append([]byte(nil), b[feFixedLen+int(lEA):total]...)
	return fe, nil
}

// Size returns the on-disk length of fe: the fixed header plus its
// current extended-attribute and tail bytes.
func (fe FileEntry) Size() int {
	return feFixedLen + len(fe.ExtendedAttrs) + len(fe.Tail)
}

// EmbeddedCapacity returns how many bytes of file data fe's ICB can hold
// embedded, given a blockSize-byte File Entry block: the room left over
// once the fixed header and any extended attributes are accounted for.
func (fe FileEntry) EmbeddedCapacity(blockSize uint32) uint64 {
	fixed := feFixedLen + len(fe.ExtendedAttrs)
	if fixed >= int(blockSize) {
		return 0
	}
	return uint64(blockSize) - uint64(fixed)
}

// EncodeFileEntry serializes fe into b, recomputing the tag checksum and
// CRC over the encoded body.
func EncodeFileEntry(b []byte, fe FileEntry) (int, error) {
	size := fe.Size()
	if len(b) < size {
		return 0, ErrShortBuffer
	}
	if err := encodeICBTag(b[16:36], fe.ICBTag); err != nil {
		return 0, err
	}
	binary.LittleEndian.PutUint32(b[36:40], fe.UID)
	binary.LittleEndian.PutUint32(b[40:44], fe.GID)
	binary.LittleEndian.PutUint32(b[44:48], fe.Permissions)
	binary.LittleEndian.PutUint16(b[48:50], fe.FileLinkCount)
	b[50], b[51] = 0, 0
	binary.LittleEndian.PutUint32(b[52:56], 0)
	binary.LittleEndian.PutUint64(b[56:64], fe.InformationLength)
	binary.LittleEndian.PutUint64(b[64:72], fe.LogicalBlocksRecord)
	encodeTimestamp(b[72:84], fe.AccessTime)
	encodeTimestamp(b[84:96], fe.ModificationTime)
	encodeTimestamp(b[96:108], fe.AttributeTime)
	binary.LittleEndian.PutUint32(b[108:112], 0) // checkpoint
	if err := EncodeLongAD(b[112:128], fe.ExtendedAttrICB); err != nil {
		return 0, err
	}
	for i := 128; i < 160; i++ {
		b[i] = 0 // implementation identifier, unused by the core
	}
	binary.LittleEndian.PutUint64(b[160:168], fe.UniqueID)
	binary.LittleEndian.PutUint32(b[168:172], uint32(len(fe.ExtendedAttrs)))
	binary.LittleEndian.PutUint32(b[172:176], uint32(len(fe.Tail)))
	copy(b[feFixedLen:feFixedLen+len(fe.ExtendedAttrs)], fe.ExtendedAttrs)
	copy(b[feFixedLen+len(fe.ExtendedAttrs):size], fe.Tail)

	bodyLen := size - tagLen
	crc := crc16(b[tagLen:size])
	tag := fe.Tag
	tag.Identifier = TagFileEntry
	tag.DescriptorCRC = crc
	tag.DescriptorCRCLength = uint16(bodyLen)
	if err := EncodeTag(b[0:16], tag); err != nil {
		return 0, err
	}
	return size, nil
}

// efeFixedLen is the Extended File Entry's fixed header through
// LengthOfAllocationDescriptors, per ECMA-167 §4.14.17. The Extended FE
// adds a CreationDateAndTime, a StreamDirectoryICB back-reference (for
// named-stream directories, spec.md §4.G), and a separate ObjectSize
// distinct from InformationLength.
const efeFixedLen = 216

// ExtendedFileEntry is the extended inode form of ECMA-167 §4.14.17,
// carrying the extra timestamp and stream-directory fields a plain File
// Entry has no room for.
type ExtendedFileEntry struct {
	Tag                  Tag
	ICBTag               ICBTag
	UID                  uint32
	GID                  uint32
	Permissions          uint32
	FileLinkCount        uint16
	InformationLength    uint64
	ObjectSize           uint64
	LogicalBlocksRecord  uint64
	AccessTime           Timestamp
	ModificationTime     Timestamp
	CreationTime         Timestamp
	AttributeTime        Timestamp
	ExtendedAttrICB      LongAD
	StreamDirectoryICB   LongAD
	UniqueID             uint64
	ExtendedAttrs        []byte
	Tail                 []byte
}

func DecodeExtendedFileEntry(b []byte) (ExtendedFileEntry, error) {
	if len(b) < efeFixedLen {
		return ExtendedFileEntry{}, ErrShortBuffer
	}
	tag, err := DecodeTag(b[0:16])
	if err != nil {
		return ExtendedFileEntry{}, err
	}
	icb, err := decodeICBTag(b[16:36])
	if err != nil {
		return ExtendedFileEntry{}, err
	}
	eaICB, err := DecodeLongAD(b[136:152])
	if err != nil {
		return ExtendedFileEntry{}, err
	}
	sdICB, err := DecodeLongAD(b[152:168])
	if err != nil {
		return ExtendedFileEntry{}, err
	}
	efe := ExtendedFileEntry{
		Tag:                 tag,
		ICBTag:              icb,
		UID:                 binary.LittleEndian.Uint32(b[36:40]),
		GID:                 binary.LittleEndian.Uint32(b[40:44]),
		Permissions:         binary.LittleEndian.Uint32(b[44:48]),
		FileLinkCount:       binary.LittleEndian.Uint16(b[48:50]),
		InformationLength:   binary.LittleEndian.Uint64(b[56:64]),
		ObjectSize:          binary.LittleEndian.Uint64(b[64:72]),
		LogicalBlocksRecord: binary.LittleEndian.Uint64(b[72:80]),
		AccessTime:          decodeTimestamp(b[80:92]),
		ModificationTime:    decodeTimestamp(b[92:104]),
		CreationTime:        decodeTimestamp(b[104:116]),
		AttributeTime:       decodeTimestamp(b[116:128]),
		ExtendedAttrICB:     eaICB,
		StreamDirectoryICB:  sdICB,
		UniqueID:            binary.LittleEndian.Uint64(b[200:208]),
	}
	lEA := binary.LittleEndian.Uint32(b[208:212])
	lAD := binary.LittleEndian.Uint32(b[212:216])
	total := efeFixedLen + int(lEA) + int(lAD)
	if len(b) < total {
		return ExtendedFileEntry{}, ErrShortBuffer
	}
	efe.ExtendedAttrs = append([]byte(nil), b[efeFixedLen:efeFixedLen+int(lEA)]...)
	efe.Tail = append([]byte(nil), b[efeFixedLen+int(lEA):total]...)
	return efe, nil
}

func (efe ExtendedFileEntry) Size() int {
	return efeFixedLen + len(efe.ExtendedAttrs) + len(efe.Tail)
}

// EmbeddedCapacity is FileEntry.EmbeddedCapacity's counterpart for the
// Extended File Entry's larger fixed header.
func (efe ExtendedFileEntry) EmbeddedCapacity(blockSize uint32) uint64 {
	fixed := efeFixedLen + len(efe.ExtendedAttrs)
	if fixed >= int(blockSize) {
		return 0
	}
	return uint64(blockSize) - uint64(fixed)
}

func EncodeExtendedFileEntry(b []byte, efe ExtendedFileEntry) (int, error) {
	size := efe.Size()
	if len(b) < size {
		return 0, ErrShortBuffer
	}
	if err := encodeICBTag(b[16:36], efe.ICBTag); err != nil {
		return 0, err
	}
	binary.LittleEndian.PutUint32(b[36:40], efe.UID)
	binary.LittleEndian.PutUint32(b[40:44], efe.GID)
	binary.LittleEndian.PutUint32(b[44:48], efe.Permissions)
	binary.LittleEndian.PutUint16(b[48:50], efe.FileLinkCount)
	b[50], b[51] = 0, 0
	binary.LittleEndian.PutUint32(b[52:56], 0)
	binary.LittleEndian.PutUint64(b[56:64], efe.InformationLength)
	binary.LittleEndian.PutUint64(b[64:72], efe.ObjectSize)
	binary.LittleEndian.PutUint64(b[72:80], efe.LogicalBlocksRecord)
	encodeTimestamp(b[80:92], efe.AccessTime)
	encodeTimestamp(b[92:104], efe.ModificationTime)
	encodeTimestamp(b[104:116], efe.CreationTime)
	encodeTimestamp(b[116:128], efe.AttributeTime)
	binary.LittleEndian.PutUint32(b[128:132], 0) // checkpoint
	binary.LittleEndian.PutUint32(b[132:136], 0) // reserved
	if err := EncodeLongAD(b[136:152], efe.ExtendedAttrICB); err != nil {
		return 0, err
	}
	if err := EncodeLongAD(b[152:168], efe.StreamDirectoryICB); err != nil {
		return 0, err
	}
	for i := 168; i < 200; i++ {
		b[i] = 0 // implementation identifier, unused by the core
	}
	binary.LittleEndian.PutUint64(b[200:208], efe.UniqueID)
	binary.LittleEndian.PutUint32(b[208:212], uint32(len(efe.ExtendedAttrs)))
	binary.LittleEndian.PutUint32(b[212:216], uint32(len(efe.Tail)))
	copy(b[efeFixedLen:efeFixedLen+len(efe.ExtendedAttrs)], efe.ExtendedAttrs)
	copy(b[efeFixedLen+len(efe.ExtendedAttrs):size], efe.Tail)

	bodyLen := size - tagLen
	crc := crc16(b[tagLen:size])
	tag := efe.Tag
	tag.Identifier = TagExtendedFileEntry
	tag.DescriptorCRC = crc
	tag.DescriptorCRCLength = uint16(bodyLen)
	if err := EncodeTag(b[0:16], tag); err != nil {
		return 0, err
	}
	return size, nil
}

func decodeTimestamp(b []byte) Timestamp {
	t, _ := DecodeTimestamp(b)
	return t
}

func encodeTimestamp(b []byte, t Timestamp) {
	_ = EncodeTimestamp(b, t)
}
