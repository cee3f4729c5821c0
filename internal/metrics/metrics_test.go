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

package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udfcore/udfcore/internal/metrics"
)

func TestCacheHitsIncrementsPerVolume(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.New(reg)

	c.CacheHits.WithLabelValues("MY_DISC").Inc()
	c.CacheHits.WithLabelValues("MY_DISC").Inc()

	m := &dto.Metric{}
	require.NoError(t, c.CacheHits.WithLabelValues("MY_DISC").Write(m))
	assert.Equal(t, float64(2), m.GetCounter().GetValue())
}
