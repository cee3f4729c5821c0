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

package clock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udfcore/udfcore/internal/clock"
)

func TestSimulatedClockAdvances(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	sc := clock.NewSimulatedClock(start)

	require.Equal(t, start, sc.Now())

	sc.AdvanceTime(time.Hour)
	assert.Equal(t, start.Add(time.Hour), sc.Now())

	sc.SetTime(start.Add(24 * time.Hour))
	assert.Equal(t, start.Add(24*time.Hour), sc.Now())
}

func TestSimulatedClockAfterFiresOnAdvance(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	sc := clock.NewSimulatedClock(start)

	ch := sc.After(time.Minute)

	select {
	case <-ch:
		t.Fatal("After fired before the target time was reached")
	default:
	}

	sc.AdvanceTime(time.Minute)

	select {
	case fired := <-ch:
		assert.Equal(t, start.Add(time.Minute), fired)
	default:
		t.Fatal("After did not fire once the target time was reached")
	}
}

func TestRealClockReturnsLiveTime(t *testing.T) {
	var rc clock.RealClock
	before := time.Now()
	now := rc.Now()
	after := time.Now()

	assert.False(t, now.Before(before))
	assert.False(t, now.After(after))
}
