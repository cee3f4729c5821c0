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

package udf_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udfcore/udfcore/udf"
)

func TestTagRoundTrip(t *testing.T) {
	buf := make([]byte, 16)
	tag := udf.Tag{
		Identifier:          udf.TagFileEntry,
		DescriptorVersion:   2,
		SerialNumber:        1,
		DescriptorCRCLength: 33,
		TagLocation:         42,
	}
	require.NoError(t, udf.EncodeTag(buf, tag))

	decoded, err := udf.DecodeTag(buf)
	require.NoError(t, err)
	assert.Equal(t, udf.TagFileEntry, decoded.Identifier)
	assert.Equal(t, uint32(42), decoded.TagLocation)
}

func TestVerifyTagCatchesCorruption(t *testing.T) {
	body := []byte("file entry body, arbitrary bytes")
	buf := make([]byte, 16+len(body))
	copy(buf[16:], body)

	tag := udf.Tag{
		Identifier:          udf.TagFileEntry,
		DescriptorCRC:       0,
		DescriptorCRCLength: uint16(len(body)),
	}
	require.NoError(t, udf.EncodeTag(buf[0:16], tag))

	_, ok, err := udf.VerifyTag(buf)
	require.NoError(t, err)
	assert.False(t, ok, "tag should fail verification since DescriptorCRC was not computed over body")

	buf[20] ^= 0xFF
	_, ok, err = udf.VerifyTag(buf)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCS0RoundTripsASCII(t *testing.T) {
	enc, err := udf.EncodeCS0("MYFILE.TXT")
	require.NoError(t, err)
	assert.Equal(t, uint8(8), enc[0])

	dec, err := udf.DecodeCS0(enc)
	require.NoError(t, err)
	assert.Equal(t, "MYFILE.TXT", dec)
}

func TestCS0RoundTripsWideChars(t *testing.T) {
	name := "日本語.txt"
	enc, err := udf.EncodeCS0(name)
	require.NoError(t, err)
	assert.Equal(t, uint8(16), enc[0])

	dec, err := udf.DecodeCS0(enc)
	require.NoError(t, err)
	assert.Equal(t, name, dec)
}

func TestShortenNameIsDeterministic(t *testing.T) {
	a := udf.ShortenName("ThisIsAVeryLongFileName.txt")
	b := udf.ShortenName("ThisIsAVeryLongFileName.txt")
	assert.Equal(t, a, b)
	assert.LessOrEqual(t, len(a), 13)
}

func TestTimestampRoundTrip(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 30, 15, 0, time.UTC)
	ts := udf.FromTime(now)

	buf := make([]byte, 12)
	require.NoError(t, udf.EncodeTimestamp(buf, ts))

	decoded, err := udf.DecodeTimestamp(buf)
	require.NoError(t, err)
	assert.Equal(t, ts, decoded)

	back := decoded.Time()
	assert.Equal(t, now.Year(), back.Year())
	assert.Equal(t, now.Month(), back.Month())
	assert.Equal(t, now.Day(), back.Day())
	assert.Equal(t, now.Hour(), back.Hour())
}

func TestShortADRoundTripPreservesStateAndLength(t *testing.T) {
	ad := udf.ShortAD{Length: 4096, State: udf.ExtentAllocatedNotRecorded, LBN: 1000}
	buf := make([]byte, 8)
	require.NoError(t, udf.EncodeShortAD(buf, ad))

	decoded, err := udf.DecodeShortAD(buf)
	require.NoError(t, err)
	assert.Equal(t, ad, decoded)
}

func TestLongADRoundTrip(t *testing.T) {
	ad := udf.LongAD{Length: 2048, State: udf.ExtentRecorded, LBN: 55, Partition: 1}
	buf := make([]byte, 16)
	require.NoError(t, udf.EncodeLongAD(buf, ad))

	decoded, err := udf.DecodeLongAD(buf)
	require.NoError(t, err)
	assert.Equal(t, ad.Length, decoded.Length)
	assert.Equal(t, ad.State, decoded.State)
	assert.Equal(t, ad.LBN, decoded.LBN)
	assert.Equal(t, ad.Partition, decoded.Partition)
}

func TestFIDRoundTrip(t *testing.T) {
	nameBytes, err := udf.EncodeCS0("example.txt")
	require.NoError(t, err)

	fid := udf.FID{
		VersionNumber:        1,
		FileCharacteristics:  0,
		FileIdentifierLength: uint8(len(nameBytes)),
		ICB:                  udf.LongAD{Length: 2048, LBN: 10, Partition: 0},
		FileIdentifier:       nameBytes,
	}
	buf := make([]byte, fid.Size())
	n, err := udf.EncodeFID(buf, fid)
	require.NoError(t, err)
	assert.Equal(t, fid.Size(), n)

	decoded, consumed, err := udf.DecodeFID(buf)
	require.NoError(t, err)
	assert.Equal(t, n, consumed)
	name, err := decoded.Name()
	require.NoError(t, err)
	assert.Equal(t, "example.txt", name)
	assert.False(t, decoded.IsDirectory())
}

func TestFIDDirectoryCharacteristic(t *testing.T) {
	fid := udf.FID{FileCharacteristics: udf.FileCharDirectory}
	assert.True(t, fid.IsDirectory())
	assert.False(t, fid.IsDeleted())
}
