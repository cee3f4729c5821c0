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

package geometry

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/udfcore/udfcore/blockdev"
	"github.com/udfcore/udfcore/udf"
	"github.com/udfcore/udfcore/udferr"
)

// AnchorCandidate is one of the fixed candidate anchor LBAs spec.md §4.B
// mandates trying at mount: sector 256, the last sector, and last-256.
type AnchorCandidate struct {
	Name string
	LBA  func(blockCount uint64) uint64
}

// DefaultAnchorCandidates is the fixed, ordered list of locations to try.
func DefaultAnchorCandidates() []AnchorCandidate {
	return []AnchorCandidate{
		{Name: "sector 256", LBA: func(uint64) uint64 { return 256 }},
		{Name: "last sector", LBA: func(bc uint64) uint64 { return bc - 1 }},
		{Name: "last-256", LBA: func(bc uint64) uint64 {
			if bc > 256 {
				return bc - 256
			}
			return 0
		}},
	}
}

// ExtentAd names a run of blocks on disk, as carried by the Anchor
// Volume Descriptor Pointer's Main/Reserve VDS fields.
type ExtentAd struct {
	LocationLBA uint32
	LengthBytes uint32
}

// Anchor is a decoded, verified Anchor Volume Descriptor Pointer.
type Anchor struct {
	LBA      uint64
	MainVDS  ExtentAd
	ReserveVDS ExtentAd
}

// anchorResult pairs a candidate with its probe outcome for deterministic
// selection after the fan-out completes.
type anchorResult struct {
	order  int
	anchor Anchor
	ok     bool
}

// ProbeAnchors tries every candidate LBA concurrently via errgroup —
// the same fan-out-then-join shape gcsfuse's fs/inode/dir.go uses
// for filterMissingChildDirs, reimplemented against
// golang.org/x/sync/errgroup since syncutil.Bundle is not in this
// module's dependency set — and returns the first valid anchor in
// candidate-list order (not completion order), or NotAUdfVolume if none
// verify.
func ProbeAnchors(ctx context.Context, dev blockdev.Device, candidates []AnchorCandidate) (Anchor, error) {
	results := make([]anchorResult, len(candidates))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	blockSize := dev.BlockSize()
	blockCount := dev.BlockCount()

	for i, cand := range candidates {
		i, cand := i, cand
		g.Go(func() error {
			lba := cand.LBA(blockCount)
			buf := make([]byte, blockSize)
			if err := dev.Read(gctx, lba, 1, buf); err != nil {
				// A read failure at one candidate LBA is not fatal to the
				// whole probe; only a transient device fault should abort it.
				if udferr.IsTransient(err) {
					return err
				}
				return nil
			}
			anchor, ok := decodeAnchor(lba, buf)
			mu.Lock()
			results[i] = anchorResult{order: i, anchor: anchor, ok: ok}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Anchor{}, err
	}

	sort.Slice(results, func(a, b int) bool { return results[a].order < results[b].order })
	for _, r := range results {
		if r.ok {
			return r.anchor, nil
		}
	}
	return Anchor{}, udferr.New(udferr.NotAUdfVolume, "geometry.ProbeAnchors")
}

// decodeAnchor verifies the tag/CRC of the 16-byte tag at buf[0:16] and,
// if it identifies an Anchor Volume Descriptor Pointer, decodes the
// Main/Reserve extent descriptors that follow.
func decodeAnchor(lba uint64, buf []byte) (Anchor, bool) {
	tag, ok, err := udf.VerifyTag(buf)
	if err != nil || !ok || tag.Identifier != udf.TagAnchorVolumeDescriptorPtr {
		return Anchor{}, false
	}
	if len(buf) < 16+16 {
		return Anchor{}, false
	}
	main := decodeExtentAd(buf[16:24])
	reserve := decodeExtentAd(buf[24:32])
	return Anchor{LBA: lba, MainVDS: main, ReserveVDS: reserve}, true
}

func decodeExtentAd(b []byte) ExtentAd {
	return ExtentAd{
		LengthBytes: leUint32(b[0:4]),
		LocationLBA: leUint32(b[4:8]),
	}
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
