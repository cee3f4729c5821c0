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

// Package blockdev defines the Device interface every higher layer issues
// sector-granular I/O through, plus a real os-file-backed implementation
// (osdevice) and an in-memory fake (fake) used by tests in place of a
// physical disk.
package blockdev

import (
	"context"
	"fmt"

	"github.com/udfcore/udfcore/udferr"
)

// WriteFlags is the recognized superset of per-I/O flags spec.md §4.A
// calls out: a temp buffer pre-supplied by the caller, forced verify
// after write, cache-locking, and write-through.
type WriteFlags uint8

const (
	FlagTempBufferSupplied WriteFlags = 1 << iota
	FlagVerify
	FlagLockCache
	FlagWriteThrough
)

// IOCtlCode names the opaque control operations the geometry layer issues
// against the device for media queries, per spec.md §4.A.
type IOCtlCode int

const (
	IOCtlGetGeometry IOCtlCode = iota
	IOCtlCheckVerify
	IOCtlIsWritable
	IOCtlGetMediaTypes
)

// Device is the Block Device Adapter contract: bulk sector transfer,
// opaque ioctls, and a flush barrier. One in-flight write per LBA is
// guaranteed only so long as callers hold the partition lock or the
// block-cache lock; Device implementations do not serialize writes
// themselves.
type Device interface {
	// BlockSize is the device's fixed sector size in bytes.
	BlockSize() uint32
	// BlockCount is the total number of addressable blocks.
	BlockCount() uint64

	// Read transfers count blocks starting at lba into buf, which must be
	// at least count*BlockSize() bytes.
	Read(ctx context.Context, lba uint64, count uint32, buf []byte) error
	// Write transfers count blocks from buf, starting at lba.
	Write(ctx context.Context, lba uint64, count uint32, buf []byte, flags WriteFlags) error

	// IOCtl issues an opaque control operation; outBuf is sized by the
	// caller to whatever the code's response requires.
	IOCtl(ctx context.Context, code IOCtlCode, inBuf []byte, outBuf []byte) error

	// Flush requests that all device-level write buffers reach stable
	// storage.
	Flush(ctx context.Context) error
}

// classifyErr wraps err with the transient DeviceNotReady/NoMedia codes
// spec.md §4.A calls out, or DriverInternalError otherwise, so higher
// layers can use udferr.IsTransient to decide whether to kick off a
// verify-volume cycle.
func classifyErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if code, ok := udferr.CodeOf(err); ok && (code == udferr.DeviceNotReady || code == udferr.NoMedia) {
		return udferr.Wrap(code, op, err)
	}
	return udferr.Wrap(udferr.DriverInternalError, op, err)
}

// errOutOfRange builds the InvalidParameter error for a requested LBA
// range that exceeds BlockCount().
func errOutOfRange(op string, lba uint64, count uint32, blockCount uint64) error {
	return udferr.Wrap(udferr.InvalidParameter, op,
		fmt.Errorf("lba %d+%d exceeds block count %d", lba, count, blockCount))
}
