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

package vcb_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/udfcore/udfcore/blockdev/fake"
	"github.com/udfcore/udfcore/internal/clock"
	"github.com/udfcore/udfcore/vcb"
)

// TestProbeRecognizesFormattedVolume exercises the LVID-only/recognize
// operations (SPEC_FULL.md §3) against a freshly formatted image, without
// going through vcb.Mount.
func TestProbeRecognizesFormattedVolume(t *testing.T) {
	blockCount := uint64(1<<30) / testBlockSize
	dev := fake.New(testBlockSize, blockCount)
	clk := clock.NewSimulatedClock(time.Unix(0, 0))

	require.NoError(t, vcb.Format(context.Background(), dev, vcb.FormatOptions{
		VolumeLabel: "PROBEVOL",
		Clock:       clk,
	}))

	res, err := vcb.Probe(context.Background(), dev)
	require.NoError(t, err)
	require.Equal(t, "PROBEVOL", res.VolumeLabel)
	require.Equal(t, uint32(testBlockSize), res.BlockSize)
	require.False(t, res.LVIDOpen)

	label, err := vcb.ReadLabel(context.Background(), dev)
	require.NoError(t, err)
	require.Equal(t, "PROBEVOL", label)
}

// TestProbeRejectsUnformattedDevice confirms Probe fails closed the same
// way Mount does when no anchor/VDS is present.
func TestProbeRejectsUnformattedDevice(t *testing.T) {
	dev := fake.New(testBlockSize, uint64(1<<30)/testBlockSize)
	_, err := vcb.Probe(context.Background(), dev)
	require.Error(t, err)
}
