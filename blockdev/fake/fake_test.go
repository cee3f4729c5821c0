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

package fake_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udfcore/udfcore/blockdev"
	"github.com/udfcore/udfcore/blockdev/fake"
	"github.com/udfcore/udfcore/udferr"
)

func TestWriteThenReadRoundTrips(t *testing.T) {
	dev := fake.New(2048, 16)
	ctx := context.Background()

	payload := make([]byte, 2048)
	copy(payload, []byte("hello udf"))
	require.NoError(t, dev.Write(ctx, 3, 1, payload, 0))

	out := make([]byte, 2048)
	require.NoError(t, dev.Read(ctx, 3, 1, out))
	assert.Equal(t, payload, out)
}

func TestReadPastBlockCountIsInvalidParameter(t *testing.T) {
	dev := fake.New(2048, 4)
	ctx := context.Background()

	err := dev.Read(ctx, 3, 2, make([]byte, 4096))
	code, ok := udferr.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, udferr.InvalidParameter, code)
}

func TestNotReadySimulatesTransientFault(t *testing.T) {
	dev := fake.New(2048, 4)
	dev.SetNotReady(true)

	err := dev.Read(context.Background(), 0, 1, make([]byte, 2048))
	assert.True(t, udferr.IsTransient(err))
}

func TestMarkBadFaultsRead(t *testing.T) {
	dev := fake.New(2048, 4)
	dev.MarkBad(1)

	err := dev.Read(context.Background(), 1, 1, make([]byte, 2048))
	assert.Error(t, err)
}

func TestFlushCountsCalls(t *testing.T) {
	dev := fake.New(2048, 4)
	ctx := context.Background()
	require.NoError(t, dev.Flush(ctx))
	require.NoError(t, dev.Flush(ctx))
	assert.Equal(t, 2, dev.FlushCount())
}

var _ blockdev.Device = (*fake.Device)(nil)
