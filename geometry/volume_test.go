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

package geometry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udfcore/udfcore/geometry"
)

func testVolume() *geometry.Volume {
	return geometry.NewVolume([]geometry.PartitionMap{
		{Type: geometry.PartitionPlain, PartNum: 0, StartLBA: 100, Length: 1000},
	})
}

func TestPartLBAToPhysWithinRange(t *testing.T) {
	v := testVolume()
	phys, err := v.PartLBAToPhys(0, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(105), phys)
}

func TestPartLBAToPhysOutOfExtent(t *testing.T) {
	v := testVolume()
	_, err := v.PartLBAToPhys(0, 2000)
	assert.Error(t, err)
}

func TestPartLBAToPhysInstantBurnerClampsOutOfRangeRef(t *testing.T) {
	v := testVolume()
	v.InstantBurnerPartitionRefs = true
	phys, err := v.PartLBAToPhys(7, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(105), phys)
}

func TestPhysToPartRefReverseLookup(t *testing.T) {
	v := testVolume()
	ref, err := v.PhysToPartRef(150)
	require.NoError(t, err)
	assert.Equal(t, 0, ref)

	_, err = v.PhysToPartRef(50)
	assert.Error(t, err)
}

func TestRemapPacketThenRelocateReflectsSpare(t *testing.T) {
	v := testVolume()
	require.NoError(t, v.RemapPacket(0, 10, 900, false))

	assert.True(t, v.AreSectorsRelocated(0, 10, 1))
	mapping, err := v.Relocate(0, 10, 1)
	require.NoError(t, err)
	assert.True(t, mapping.Relocated)
	assert.Equal(t, uint64(900), mapping.PhysLBA)
}

func TestRemapPacketRefusesWhenNoSpare(t *testing.T) {
	v := testVolume()
	v.RefuseWritesOnNoSpare = true
	err := v.RemapPacket(0, 10, 0, false)
	assert.Error(t, err)
}

func TestUnmapRangeClearsSparingEntry(t *testing.T) {
	v := testVolume()
	require.NoError(t, v.RemapPacket(0, 10, 900, false))
	v.UnmapRange(0, 10, 1)
	assert.False(t, v.AreSectorsRelocated(0, 10, 1))
}

func TestPartLenSentinelWholeVolume(t *testing.T) {
	v := testVolume()
	length, err := v.PartLen(geometry.WholeVolume)
	require.NoError(t, err)
	assert.Equal(t, uint32(1100), length)
}
