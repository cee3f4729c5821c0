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

// RegID is the 32-byte "Entity Identifier" (ECMA-167 §1.7.4) carried by
// several Volume Descriptor Sequence structures: a flags byte, a 23-byte
// identifier, and 8 bytes of identifier-suffix.
type RegID struct {
	Flags      uint8
	Identifier [23]byte
	Suffix     [8]byte
}

const regIDLen = 32

func decodeRegID(b []byte) RegID {
	var r RegID
	r.Flags = b[0]
	copy(r.Identifier[:], b[1:24])
	copy(r.Suffix[:], b[24:32])
	return r
}

func encodeRegID(b []byte, r RegID) {
	b[0] = r.Flags
	copy(b[1:24], r.Identifier[:])
	copy(b[24:32], r.Suffix[:])
}

// String returns the identifier's non-zero prefix, e.g. "*UDF Sparable
// Partition", for partition-map type discrimination.
func (r RegID) String() string {
	n := 0
	for n < len(r.Identifier) && r.Identifier[n] != 0 {
		n++
	}
	return string(r.Identifier[:n])
}

func newRegID(name string) RegID {
	var r RegID
	copy(r.Identifier[:], name)
	return r
}

// extentAd mirrors geometry.ExtentAd's on-disk shape (length then
// location), used wherever a Volume Descriptor Sequence structure names a
// run of blocks directly rather than through an AD.
type extentAd struct {
	Length   uint32
	Location uint32
}

const extentAdLen = 8

func decodeExtentAdBytes(b []byte) extentAd {
	return extentAd{Length: binary.LittleEndian.Uint32(b[0:4]), Location: binary.LittleEndian.Uint32(b[4:8])}
}

func encodeExtentAdBytes(b []byte, e extentAd) {
	binary.LittleEndian.PutUint32(b[0:4], e.Length)
	binary.LittleEndian.PutUint32(b[4:8], e.Location)
}

// PrimaryVolumeDescriptor is ECMA-167 §3/10.1: the descriptor naming the
// volume and volume set. The core only consumes VolumeIdentifier and the
// sequence number used to pick the newest consistent VDS, per spec.md §4.B.
type PrimaryVolumeDescriptor struct {
	VolumeDescriptorSeqNum uint32
	VolumeIdentifier       string
	VolumeSetIdentifier    string
	RecordingTime          Timestamp
}

const pvdLen = 512

func DecodePrimaryVolumeDescriptor(b []byte) (PrimaryVolumeDescriptor, error) {
	if len(b) < pvdLen {
		return PrimaryVolumeDescriptor{}, ErrShortBuffer
	}
	volID, _ := DecodeCS0(trimDString(b[24:56]))
	setID, _ := DecodeCS0(trimDString(b[72:200]))
	ts, _ := DecodeTimestamp(b[376:388])
	return PrimaryVolumeDescriptor{
		VolumeDescriptorSeqNum: binary.LittleEndian.Uint32(b[16:20]),
		VolumeIdentifier:       volID,
		VolumeSetIdentifier:    setID,
		RecordingTime:          ts,
	}, nil
}

func EncodePrimaryVolumeDescriptor(b []byte, pvd PrimaryVolumeDescriptor) error {
	if len(b) < pvdLen {
		return ErrShortBuffer
	}
	binary.LittleEndian.PutUint32(b[16:20], pvd.VolumeDescriptorSeqNum)
	binary.LittleEndian.PutUint32(b[20:24], 1) // PrimaryVolumeDescriptorNumber
	encodeDString(b[24:56], pvd.VolumeIdentifier)
	binary.LittleEndian.PutUint16(b[56:58], 1) // VolumeSequenceNumber
	binary.LittleEndian.PutUint16(b[58:60], 1) // MaximumVolumeSequenceNumber
	binary.LittleEndian.PutUint16(b[60:62], 2) // InterchangeLevel
	binary.LittleEndian.PutUint16(b[62:64], 2) // MaximumInterchangeLevel
	binary.LittleEndian.PutUint32(b[64:68], 1) // CharacterSetList
	binary.LittleEndian.PutUint32(b[68:72], 1) // MaximumCharacterSetList
	encodeDString(b[72:200], pvd.VolumeSetIdentifier)
	b[200] = 0 // DescriptorCharacterSet charspec, CS0
	encodeTimestamp(b[376:388], pvd.RecordingTime)
	impl := newRegID("*udfcore")
	encodeRegID(b[388:420], impl)
	return nil
}

// trimDString strips the trailing length byte OSTA dstrings carry,
// returning just the CS0-encoded prefix.
func trimDString(b []byte) []byte {
	if len(b) == 0 {
		return b
	}
	n := int(b[len(b)-1])
	if n > len(b)-1 {
		n = len(b) - 1
	}
	return b[:n]
}

func encodeDString(b []byte, s string) {
	enc, err := EncodeCS0(s)
	if err != nil || len(enc) > len(b)-1 {
		enc = enc[:0]
	}
	for i := range b {
		b[i] = 0
	}
	copy(b, enc)
	b[len(b)-1] = byte(len(enc))
}

// PartitionDescriptor is ECMA-167 §3/10.5: one partition's location,
// length, and access type, per spec.md §3 "Partition Map". ContentsUse
// carries the embedded Partition Header Descriptor (short_ad pointers to
// the Unallocated/Freed Space Bitmap) whenever PartitionContents names
// "+NSR02", per spec.md §3's "Partition Header Descriptor".
type PartitionDescriptor struct {
	VolumeDescriptorSeqNum uint32
	PartitionNumber        uint16
	AccessType             uint32
	StartingLocation       uint32
	Length                 uint32
	ContentsUse            [128]byte
}

const (
	AccessTypeReadOnly       = 1
	AccessTypeWriteOnce      = 2
	AccessTypeRewritable     = 3
	AccessTypeOverwritable   = 4
)

const pdLen = 512

func DecodePartitionDescriptor(b []byte) (PartitionDescriptor, error) {
	if len(b) < pdLen {
		return PartitionDescriptor{}, ErrShortBuffer
	}
	pd := PartitionDescriptor{
		VolumeDescriptorSeqNum: binary.LittleEndian.Uint32(b[16:20]),
		PartitionNumber:        binary.LittleEndian.Uint16(b[22:24]),
		AccessType:             binary.LittleEndian.Uint32(b[184:188]),
		StartingLocation:       binary.LittleEndian.Uint32(b[188:192]),
		Length:                 binary.LittleEndian.Uint32(b[192:196]),
	}
	copy(pd.ContentsUse[:], b[56:184])
	return pd, nil
}

func EncodePartitionDescriptor(b []byte, pd PartitionDescriptor) error {
	if len(b) < pdLen {
		return ErrShortBuffer
	}
	binary.LittleEndian.PutUint32(b[16:20], pd.VolumeDescriptorSeqNum)
	binary.LittleEndian.PutUint16(b[20:22], 0) // PartitionFlags: allocated
	binary.LittleEndian.PutUint16(b[22:24], pd.PartitionNumber)
	encodeRegID(b[24:56], newRegID("+NSR02"))
	binary.LittleEndian.PutUint32(b[184:188], pd.AccessType)
	binary.LittleEndian.PutUint32(b[188:192], pd.StartingLocation)
	binary.LittleEndian.PutUint32(b[192:196], pd.Length)
	encodeRegID(b[196:228], newRegID("*udfcore"))
	copy(b[56:184], pd.ContentsUse[:])
	return nil
}

// PartitionMapEntry is one entry of a Logical Volume Descriptor's
// partition-map array: either the ECMA-167 Type 1 (plain) form or a
// UDF-specific Type 2 sparable/virtual form, per spec.md §6.
type PartitionMapEntry struct {
	IsType2          bool
	TypeIdentifier   string // Type 2 only: "*UDF Sparable Partition" / "*UDF Virtual Partition"
	VolumeSeqNum     uint16
	PartitionNumber  uint16
	PacketLength     uint16 // sparable only
	SparingTableLocs []uint32
}

// LogicalVolumeDescriptor is ECMA-167 §3/10.6: logical block size, the
// partition-map array, and the File Set Descriptor's location, per
// spec.md §6.
type LogicalVolumeDescriptor struct {
	VolumeDescriptorSeqNum uint32
	LogicalBlockSize       uint32
	FileSetLocation        LongAD
	IntegritySeqExtent     ExtentAdPublic
	PartitionMaps          []PartitionMapEntry
}

// ExtentAdPublic exposes extentAd's two fields to callers outside this
// file without making the private decode helpers public.
type ExtentAdPublic struct {
	Length   uint32
	Location uint32
}

const lvdFixedLen = 440

func DecodeLogicalVolumeDescriptor(b []byte) (LogicalVolumeDescriptor, error) {
	if len(b) < lvdFixedLen {
		return LogicalVolumeDescriptor{}, ErrShortBuffer
	}
	lvd := LogicalVolumeDescriptor{
		VolumeDescriptorSeqNum: binary.LittleEndian.Uint32(b[16:20]),
		LogicalBlockSize:       binary.LittleEndian.Uint32(b[212:216]),
	}
	fsd, err := DecodeLongAD(b[248:264])
	if err == nil {
		lvd.FileSetLocation = fsd
	}
	e := decodeExtentAdBytes(b[432:440])
	lvd.IntegritySeqExtent = ExtentAdPublic{Length: e.Length, Location: e.Location}

	mapTableLen := binary.LittleEndian.Uint32(b[264:268])
	numMaps := binary.LittleEndian.Uint32(b[268:272])
	maps := b[lvdFixedLen:]
	if uint32(len(maps)) < mapTableLen {
		return lvd, ErrShortBuffer
	}
	off := 0
	for i := uint32(0); i < numMaps && off+2 <= len(maps); i++ {
		mapType := maps[off]
		mapLen := int(maps[off+1])
		if mapLen == 0 || off+mapLen > len(maps) {
			break
		}
		entry := decodePartitionMapEntry(mapType, maps[off:off+mapLen])
		lvd.PartitionMaps = append(lvd.PartitionMaps, entry)
		off += mapLen
	}
	return lvd, nil
}

func decodePartitionMapEntry(mapType byte, b []byte) PartitionMapEntry {
	if mapType == 1 && len(b) >= 6 {
		return PartitionMapEntry{
			VolumeSeqNum:    binary.LittleEndian.Uint16(b[2:4]),
			PartitionNumber: binary.LittleEndian.Uint16(b[4:6]),
		}
	}
	e := PartitionMapEntry{IsType2: true}
	if len(b) < 40 {
		return e
	}
	id := decodeRegID(b[2:34])
	e.TypeIdentifier = id.String()
	e.VolumeSeqNum = binary.LittleEndian.Uint16(b[34:36])
	e.PartitionNumber = binary.LittleEndian.Uint16(b[36:38])
	if e.TypeIdentifier == "*UDF Sparable Partition" && len(b) >= 48 {
		e.PacketLength = binary.LittleEndian.Uint16(b[38:40])
		numTables := int(b[40])
		off := 46
		for i := 0; i < numTables && off+4 <= len(b); i++ {
			e.SparingTableLocs = append(e.SparingTableLocs, binary.LittleEndian.Uint32(b[off:off+4]))
			off += 4
		}
	}
	return e
}

// EncodeLogicalVolumeDescriptor writes the fixed LVD header plus its
// partition-map array into b, which must be lvdFixedLen +
// len(encoded maps) bytes.
func EncodeLogicalVolumeDescriptor(b []byte, lvd LogicalVolumeDescriptor) (int, error) {
	mapsLen := 0
	for _, m := range lvd.PartitionMaps {
		if m.IsType2 {
			mapsLen += 64
		} else {
			mapsLen += 6
		}
	}
	total := lvdFixedLen + mapsLen
	if len(b) < total {
		return 0, ErrShortBuffer
	}
	binary.LittleEndian.PutUint32(b[16:20], lvd.VolumeDescriptorSeqNum)
	b[20] = 0 // DescriptorCharacterSet charspec
	binary.LittleEndian.PutUint32(b[212:216], lvd.LogicalBlockSize)
	encodeRegID(b[216:248], newRegID("*OSTA UDF Compliant"))
	EncodeLongAD(b[248:264], lvd.FileSetLocation)
	binary.LittleEndian.PutUint32(b[264:268], uint32(mapsLen))
	binary.LittleEndian.PutUint32(b[268:272], uint32(len(lvd.PartitionMaps)))
	encodeRegID(b[272:304], newRegID("*udfcore"))
	encodeExtentAdBytes(b[432:440], extentAd{Length: lvd.IntegritySeqExtent.Length, Location: lvd.IntegritySeqExtent.Location})

	off := lvdFixedLen
	for _, m := range lvd.PartitionMaps {
		if m.IsType2 {
			entry := b[off : off+64]
			entry[0] = 2
			entry[1] = 64
			encodeRegID(entry[2:34], newRegID(m.TypeIdentifier))
			binary.LittleEndian.PutUint16(entry[34:36], m.VolumeSeqNum)
			binary.LittleEndian.PutUint16(entry[36:38], m.PartitionNumber)
			if m.TypeIdentifier == "*UDF Sparable Partition" {
				binary.LittleEndian.PutUint16(entry[38:40], m.PacketLength)
				entry[40] = byte(len(m.SparingTableLocs))
				locOff := 46
				for _, loc := range m.SparingTableLocs {
					if locOff+4 > len(entry) {
						break
					}
					binary.LittleEndian.PutUint32(entry[locOff:locOff+4], loc)
					locOff += 4
				}
			}
			off += 64
		} else {
			entry := b[off : off+6]
			entry[0] = 1
			entry[1] = 6
			binary.LittleEndian.PutUint16(entry[2:4], m.VolumeSeqNum)
			binary.LittleEndian.PutUint16(entry[4:6], m.PartitionNumber)
			off += 6
		}
	}
	return total, nil
}

// FileSetDescriptor is ECMA-167 §4/14.1: the descriptor at a partition's
// root that names the Root Directory's ICB, per spec.md §6.
type FileSetDescriptor struct {
	RecordingTime    Timestamp
	RootDirectoryICB LongAD
}

const fsdLen = 512

func DecodeFileSetDescriptor(b []byte) (FileSetDescriptor, error) {
	if len(b) < fsdLen {
		return FileSetDescriptor{}, ErrShortBuffer
	}
	ts, _ := DecodeTimestamp(b[16:28])
	icb, err := DecodeLongAD(b[400:416])
	if err != nil {
		return FileSetDescriptor{}, err
	}
	return FileSetDescriptor{RecordingTime: ts, RootDirectoryICB: icb}, nil
}

func EncodeFileSetDescriptor(b []byte, fsd FileSetDescriptor) error {
	if len(b) < fsdLen {
		return ErrShortBuffer
	}
	encodeTimestamp(b[16:28], fsd.RecordingTime)
	binary.LittleEndian.PutUint16(b[28:30], 3) // InterchangeLevel
	binary.LittleEndian.PutUint16(b[30:32], 3) // MaximumInterchangeLevel
	binary.LittleEndian.PutUint32(b[32:36], 1) // CharacterSetList
	binary.LittleEndian.PutUint32(b[36:40], 1) // MaximumCharacterSetList
	binary.LittleEndian.PutUint32(b[40:44], 0) // FileSetNumber
	binary.LittleEndian.PutUint32(b[44:48], 0) // FileSetDescriptorNumber
	EncodeLongAD(b[400:416], fsd.RootDirectoryICB)
	encodeRegID(b[416:448], newRegID("*OSTA UDF Compliant"))
	return nil
}

// SpaceBitmapDescriptor is ECMA-167 §4/14.12: the on-disk form of a
// partition's free-space (or freed-space) bitmap, referenced by the
// Partition Header Descriptor embedded in a Partition Descriptor's
// PartitionContentsUse field, per spec.md §4.D.
type SpaceBitmapDescriptor struct {
	NumberOfBits  uint32
	NumberOfBytes uint32
	Bitmap        []byte
}

const sbdFixedLen = 24

func DecodeSpaceBitmapDescriptor(b []byte) (SpaceBitmapDescriptor, error) {
	if len(b) < sbdFixedLen {
		return SpaceBitmapDescriptor{}, ErrShortBuffer
	}
	nbits := binary.LittleEndian.Uint32(b[16:20])
	nbytes := binary.LittleEndian.Uint32(b[20:24])
	if uint32(len(b)) < sbdFixedLen+nbytes {
		return SpaceBitmapDescriptor{}, ErrShortBuffer
	}
	sbd := SpaceBitmapDescriptor{NumberOfBits: nbits, NumberOfBytes: nbytes}
	sbd.Bitmap = make([]byte, nbytes)
	copy(sbd.Bitmap, b[sbdFixedLen:sbdFixedLen+nbytes])
	return sbd, nil
}

func EncodeSpaceBitmapDescriptor(b []byte, sbd SpaceBitmapDescriptor) (int, error) {
	total := sbdFixedLen + len(sbd.Bitmap)
	if len(b) < total {
		return 0, ErrShortBuffer
	}
	binary.LittleEndian.PutUint32(b[16:20], sbd.NumberOfBits)
	binary.LittleEndian.PutUint32(b[20:24], uint32(len(sbd.Bitmap)))
	copy(b[sbdFixedLen:total], sbd.Bitmap)
	return total, nil
}

// PartitionHeaderDescriptor is ECMA-167 §4/14.3, embedded in a Partition
// Descriptor's PartitionContentsUse field when PartitionContents names
// "+NSR02": short_ad pointers (partition-relative) to the Unallocated
// Space Bitmap and Freed Space Bitmap, per spec.md §3 "Partition Header
// Descriptor".
type PartitionHeaderDescriptor struct {
	UnallocatedSpaceBitmap ShortAD
	FreedSpaceBitmap       ShortAD
}

func DecodePartitionHeaderDescriptor(b []byte) (PartitionHeaderDescriptor, error) {
	if len(b) < 32 {
		return PartitionHeaderDescriptor{}, ErrShortBuffer
	}
	unalloc, _ := DecodeShortAD(b[8:16])
	freed, _ := DecodeShortAD(b[24:32])
	return PartitionHeaderDescriptor{UnallocatedSpaceBitmap: unalloc, FreedSpaceBitmap: freed}, nil
}

func EncodePartitionHeaderDescriptor(b []byte, h PartitionHeaderDescriptor) error {
	if len(b) < 32 {
		return ErrShortBuffer
	}
	EncodeShortAD(b[8:16], h.UnallocatedSpaceBitmap)
	EncodeShortAD(b[24:32], h.FreedSpaceBitmap)
	return nil
}

// Logical Volume Integrity Descriptor integrity types, per ECMA-167
// §3/10.10 and spec.md §6.
const (
	IntegrityOpen   uint32 = 0
	IntegrityClosed uint32 = 1
)

// LogicalVolumeIntegrityDescriptor is ECMA-167 §3/10.10: the descriptor a
// clean dismount closes and a mount checks to decide whether the volume
// was left dirty, per spec.md §9's "LVID integrity 'open'" open question.
type LogicalVolumeIntegrityDescriptor struct {
	RecordingTime    Timestamp
	IntegrityType    uint32
	FreeSpaceTable   []uint32 // per partition, in partition-map order
	SizeTable        []uint32
}

const lvidFixedLen = 80

func DecodeLogicalVolumeIntegrityDescriptor(b []byte) (LogicalVolumeIntegrityDescriptor, error) {
	if len(b) < lvidFixedLen {
		return LogicalVolumeIntegrityDescriptor{}, ErrShortBuffer
	}
	ts, _ := DecodeTimestamp(b[16:28])
	lvid := LogicalVolumeIntegrityDescriptor{
		RecordingTime: ts,
		IntegrityType: binary.LittleEndian.Uint32(b[28:32]),
	}
	numParts := binary.LittleEndian.Uint32(b[72:76])
	off := lvidFixedLen
	for i := uint32(0); i < numParts && off+4 <= len(b); i++ {
		lvid.FreeSpaceTable = append(lvid.FreeSpaceTable, binary.LittleEndian.Uint32(b[off:off+4]))
		off += 4
	}
	for i := uint32(0); i < numParts && off+4 <= len(b); i++ {
		lvid.SizeTable = append(lvid.SizeTable, binary.LittleEndian.Uint32(b[off:off+4]))
		off += 4
	}
	return lvid, nil
}

func EncodeLogicalVolumeIntegrityDescriptor(b []byte, lvid LogicalVolumeIntegrityDescriptor) (int, error) {
	numParts := len(lvid.FreeSpaceTable)
	total := lvidFixedLen + numParts*8
	if len(b) < total {
		return 0, ErrShortBuffer
	}
	encodeTimestamp(b[16:28], lvid.RecordingTime)
	binary.LittleEndian.PutUint32(b[28:32], lvid.IntegrityType)
	binary.LittleEndian.PutUint32(b[72:76], uint32(numParts))
	off := lvidFixedLen
	for _, v := range lvid.FreeSpaceTable {
		binary.LittleEndian.PutUint32(b[off:off+4], v)
		off += 4
	}
	for _, v := range lvid.SizeTable {
		binary.LittleEndian.PutUint32(b[off:off+4], v)
		off += 4
	}
	return total, nil
}
