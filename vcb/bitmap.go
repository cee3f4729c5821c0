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

package vcb

import (
	"context"

	"github.com/udfcore/udfcore/alloc"
	"github.com/udfcore/udfcore/blockdev"
	"github.com/udfcore/udfcore/geometry"
	"github.com/udfcore/udfcore/udf"
)

// readSpaceBitmap reads and decodes the Space Bitmap Descriptor pointed
// to by ad (a partition-relative short_ad out of a Partition Header
// Descriptor), translating through geo to a physical LBA, per spec.md
// §4.D's "the free-space bitmap is loaded at mount from the location the
// Partition Header Descriptor names."
func readSpaceBitmap(ctx context.Context, dev blockdev.Device, geo *geometry.Volume, blockSize uint32, partIdx int, ad udf.ShortAD) (*alloc.Bitmap, error) {
	if ad.Length == 0 {
		return nil, nil
	}
	phys, err := geo.PartLBAToPhys(partIdx, ad.LBN)
	if err != nil {
		return nil, err
	}

	header := make([]byte, blockSize)
	if err := dev.Read(ctx, phys, 1, header); err != nil {
		return nil, err
	}
	tag, ok, err := udf.VerifyTag(header)
	if err != nil {
		return nil, err
	}
	if !ok || tag.Identifier != udf.TagSpaceBitmapDescriptor {
		return nil, udf.ErrShortBuffer
	}
	nbytes := leUint32At(header, 20)
	total := 24 + int(nbytes)
	blocksNeeded := uint32(total) / blockSize
	if uint32(total)%blockSize != 0 {
		blocksNeeded++
	}
	buf := header
	if blocksNeeded > 1 {
		buf = make([]byte, int(blocksNeeded)*int(blockSize))
		if err := dev.Read(ctx, phys, blocksNeeded, buf); err != nil {
			return nil, err
		}
	}
	sbd, err := udf.DecodeSpaceBitmapDescriptor(buf)
	if err != nil {
		return nil, err
	}
	return alloc.NewBitmapFromBytes(sbd.Bitmap, sbd.NumberOfBits), nil
}

func leUint32At(b []byte, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}

// writeSpaceBitmap encodes and writes a fresh, tagged Space Bitmap
// Descriptor for n bits (all free) at the partition-relative location
// ad names, translating through geo. Format does not call it; it writes
// its bitmap with formatWriteSpaceBitmap, since no geometry.Volume
// exists yet at that point.
func writeSpaceBitmap(ctx context.Context, dev blockdev.Device, geo *geometry.Volume, blockSize uint32, partIdx int, ad udf.ShortAD, n uint32) error {
	phys, err := geo.PartLBAToPhys(partIdx, ad.LBN)
	if err != nil {
		return err
	}
	bm := alloc.NewBitmapAllSet(n)
	raw := bm.ToBytes()
	sbd := udf.SpaceBitmapDescriptor{NumberOfBits: n, NumberOfBytes: uint32(len(raw)), Bitmap: raw}

	total := 24 + len(raw)
	blocksNeeded := uint32(total) / blockSize
	if uint32(total)%blockSize != 0 {
		blocksNeeded++
	}
	buf := make([]byte, int(blocksNeeded)*int(blockSize))
	n2, err := udf.EncodeSpaceBitmapDescriptor(buf, sbd)
	if err != nil {
		return err
	}
	if err := udf.WriteTag(buf, udf.TagSpaceBitmapDescriptor, n2-16); err != nil {
		return err
	}
	return dev.Write(ctx, phys, blocksNeeded, buf, 0)
}
