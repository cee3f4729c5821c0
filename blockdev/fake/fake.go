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

// Package fake implements blockdev.Device as a byte-slice-backed
// in-memory disk, playing the role gcsfuse's gcs/gcsfake fake bucket
// plays for its storage layer: every higher package (volume, extent,
// alloc, dirindex) tests against this instead of a real block device.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/udfcore/udfcore/blockdev"
	"github.com/udfcore/udfcore/udferr"
)

// Device is an in-memory blockdev.Device. Its zero value is not usable;
// construct with New.
type Device struct {
	mu         sync.RWMutex
	blockSize  uint32
	data       []byte
	flushCount int

	// notReady, when set, makes every Read/Write return DeviceNotReady,
	// simulating a media-removal or spin-up window for verify-volume
	// tests.
	notReady bool
	// badLBAs marks specific blocks that fault on read, simulating bad
	// sectors for allocator bad-block tests.
	badLBAs map[uint64]bool
}

// New builds a fake Device with blockCount blocks of blockSize bytes,
// zero-filled.
func New(blockSize uint32, blockCount uint64) *Device {
	return &Device{
		blockSize: blockSize,
		data:      make([]byte, uint64(blockSize)*blockCount),
		badLBAs:   make(map[uint64]bool),
	}
}

func (d *Device) BlockSize() uint32  { return d.blockSize }
func (d *Device) BlockCount() uint64 { return uint64(len(d.data)) / uint64(d.blockSize) }

// SetNotReady toggles the simulated transient failure mode.
func (d *Device) SetNotReady(notReady bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notReady = notReady
}

// MarkBad flags lba as a bad sector; subsequent reads fault.
func (d *Device) MarkBad(lba uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.badLBAs[lba] = true
}

// FlushCount reports how many times Flush has been called, so tests can
// assert on batching behavior in blockcache.
func (d *Device) FlushCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.flushCount
}

func (d *Device) Read(ctx context.Context, lba uint64, count uint32, buf []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.notReady {
		return udferr.New(udferr.DeviceNotReady, "fake.Read")
	}
	if err := d.checkRange(lba, count); err != nil {
		return err
	}
	for i := uint64(0); i < uint64(count); i++ {
		if d.badLBAs[lba+i] {
			return udferr.Wrap(udferr.DriverInternalError, "fake.Read", fmt.Errorf("bad sector at lba %d", lba+i))
		}
	}

	want := int(count) * int(d.blockSize)
	off := int(lba) * int(d.blockSize)
	copy(buf[:want], d.data[off:off+want])
	return nil
}

func (d *Device) Write(ctx context.Context, lba uint64, count uint32, buf []byte, flags blockdev.WriteFlags) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.notReady {
		return udferr.New(udferr.DeviceNotReady, "fake.Write")
	}
	if err := d.checkRange(lba, count); err != nil {
		return err
	}

	want := int(count) * int(d.blockSize)
	off := int(lba) * int(d.blockSize)
	copy(d.data[off:off+want], buf[:want])
	return nil
}

func (d *Device) checkRange(lba uint64, count uint32) error {
	if lba+uint64(count) > d.BlockCount() {
		return udferr.Wrap(udferr.InvalidParameter, "fake",
			fmt.Errorf("lba %d+%d exceeds block count %d", lba, count, d.BlockCount()))
	}
	return nil
}

func (d *Device) IOCtl(ctx context.Context, code blockdev.IOCtlCode, inBuf, outBuf []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch code {
	case blockdev.IOCtlCheckVerify:
		if d.notReady {
			return udferr.New(udferr.NoMedia, "fake.IOCtl")
		}
		return nil
	case blockdev.IOCtlIsWritable:
		if len(outBuf) > 0 {
			outBuf[0] = 1
		}
		return nil
	default:
		return nil
	}
}

func (d *Device) Flush(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.notReady {
		return udferr.New(udferr.DeviceNotReady, "fake.Flush")
	}
	d.flushCount++
	return nil
}
