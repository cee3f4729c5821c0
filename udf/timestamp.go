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

import (
	"encoding/binary"
	"time"
)

// timestampLen is the on-disk size of an ECMA-167 timestamp, per §3.1.1.
const timestampLen = 12

// Timestamp is the ECMA-167 §1/4 timestamp: a type/timezone word plus
// year/month/day/hour/minute/second/centiseconds/hundredsOfMicro/
// microseconds fields.
type Timestamp struct {
	TypeAndZone      uint16
	Year             int16
	Month            uint8
	Day              uint8
	Hour             uint8
	Minute           uint8
	Second           uint8
	Centiseconds     uint8
	HundredsOfMicros uint8
	Microseconds     uint8
}

// FromTime projects a time.Time into an ECMA-167 timestamp with local
// timezone offset in units of 15 minutes, the encoding ECMA-167 §3.1.1
// mandates.
func FromTime(t time.Time) Timestamp {
	_, offsetSec := t.Zone()
	offsetQuarterHours := int16(offsetSec / (15 * 60))
	nsec := t.Nanosecond()
	return Timestamp{
		TypeAndZone:      uint16(1)<<12 | (uint16(offsetQuarterHours) & 0x0FFF),
		Year:             int16(t.Year()),
		Month:            uint8(t.Month()),
		Day:              uint8(t.Day()),
		Hour:             uint8(t.Hour()),
		Minute:           uint8(t.Minute()),
		Second:           uint8(t.Second()),
		Centiseconds:     uint8(nsec / 10000000),
		HundredsOfMicros: uint8((nsec / 100000) % 100),
		Microseconds:     uint8((nsec / 1000) % 100),
	}
}

// Time converts a Timestamp back into a time.Time in a fixed-offset zone
// derived from TypeAndZone's 12-bit signed quarter-hour offset.
func (ts Timestamp) Time() time.Time {
	offsetQuarterHours := int16(ts.TypeAndZone<<4) >> 4 // sign-extend 12 bits
	offsetSec := int(offsetQuarterHours) * 15 * 60
	loc := time.FixedZone("UDF", offsetSec)
	nsec := int(ts.Centiseconds)*10000000 + int(ts.HundredsOfMicros)*100000 + int(ts.Microseconds)*1000
	return time.Date(int(ts.Year), time.Month(ts.Month), int(ts.Day),
		int(ts.Hour), int(ts.Minute), int(ts.Second), nsec, loc)
}

// DecodeTimestamp parses a 12-byte on-disk timestamp.
func DecodeTimestamp(b []byte) (Timestamp, error) {
	if len(b) < timestampLen {
		return Timestamp{}, ErrShortBuffer
	}
	return Timestamp{
		TypeAndZone:      binary.LittleEndian.Uint16(b[0:2]),
		Year:             int16(binary.LittleEndian.Uint16(b[2:4])),
		Month:            b[4],
		Day:              b[5],
		Hour:             b[6],
		Minute:           b[7],
		Second:           b[8],
		Centiseconds:     b[9],
		HundredsOfMicros: b[10],
		Microseconds:     b[11],
	}, nil
}

// EncodeTimestamp writes ts into b[0:12].
func EncodeTimestamp(b []byte, ts Timestamp) error {
	if len(b) < timestampLen {
		return ErrShortBuffer
	}
	binary.LittleEndian.PutUint16(b[0:2], ts.TypeAndZone)
	binary.LittleEndian.PutUint16(b[2:4], uint16(ts.Year))
	b[4] = ts.Month
	b[5] = ts.Day
	b[6] = ts.Hour
	b[7] = ts.Minute
	b[8] = ts.Second
	b[9] = ts.Centiseconds
	b[10] = ts.HundredsOfMicros
	b[11] = ts.Microseconds
	return nil
}
