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

package udferr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/udfcore/udfcore/udferr"
)

func TestWrapPreservesCodeAcrossFmtErrorf(t *testing.T) {
	inner := udferr.Wrap(udferr.DiskFull, "alloc.Allocate", errors.New("no suitable extent"))
	outer := fmt.Errorf("extent.Resize: %w", inner)

	code, ok := udferr.CodeOf(outer)
	assert.True(t, ok)
	assert.Equal(t, udferr.DiskFull, code)
}

func TestIsExpectedDistinguishesInternalFaults(t *testing.T) {
	assert.True(t, udferr.IsExpected(udferr.New(udferr.VolumeReadOnly, "volume.Mount")))
	assert.False(t, udferr.IsExpected(udferr.New(udferr.DriverInternalError, "volume.Mount")))
	assert.False(t, udferr.IsExpected(errors.New("plain error")))
	assert.False(t, udferr.IsExpected(nil))
}

func TestIsTransientMatchesVerifyVolumeFaults(t *testing.T) {
	assert.True(t, udferr.IsTransient(udferr.New(udferr.DeviceNotReady, "blockdev.Read")))
	assert.True(t, udferr.IsTransient(udferr.New(udferr.NoMedia, "blockdev.Read")))
	assert.True(t, udferr.IsTransient(udferr.New(udferr.VerifyRequired, "volume.Verify")))
	assert.False(t, udferr.IsTransient(udferr.New(udferr.DiskFull, "alloc.Allocate")))
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, udferr.Wrap(udferr.DiskFull, "alloc.Allocate", nil))
}

func TestErrorStringIncludesOpAndCode(t *testing.T) {
	err := udferr.New(udferr.NameCollision, "dirindex.Insert")
	assert.Equal(t, "dirindex.Insert: NameCollision", err.Error())
}
