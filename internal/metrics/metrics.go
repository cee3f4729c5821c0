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

// Package metrics exports Prometheus collectors for the block cache,
// space allocator, directory index, and delayed-close queue, scaled down
// from gcsfuse's contrib.go.opencensus.io/client_golang wiring to a
// plain client_golang registry (this domain has no cloud exporter to
// hand the metrics to).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors bundles every counter/gauge a mounted volume updates over
// its lifetime. One Collectors is registered per process, shared across
// however many volumes are mounted (labeled by volume name).
type Collectors struct {
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	CacheEvictions  *prometheus.CounterVec
	DirtyListDepth  *prometheus.GaugeVec
	FlushBatches    *prometheus.CounterVec
	FlushedBlocks   *prometheus.CounterVec

	AllocLargestFreeRun *prometheus.GaugeVec
	AllocFailures       *prometheus.CounterVec
	FEChargePoolSize    *prometheus.GaugeVec

	DirectoryPacks *prometheus.CounterVec

	DelayedCloseQueueDepth *prometheus.GaugeVec
}

// New builds a Collectors and registers every metric against reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "udfcore", Subsystem: "cache", Name: "hits_total",
			Help: "Block cache lookups that found a valid entry.",
		}, []string{"volume"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "udfcore", Subsystem: "cache", Name: "misses_total",
			Help: "Block cache lookups that missed and read through.",
		}, []string{"volume"}),
		CacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "udfcore", Subsystem: "cache", Name: "evictions_total",
			Help: "Block cache entries evicted to make room for a miss.",
		}, []string{"volume"}),
		DirtyListDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "udfcore", Subsystem: "cache", Name: "dirty_list_depth",
			Help: "Current number of dirty blocks awaiting flush.",
		}, []string{"volume"}),
		FlushBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "udfcore", Subsystem: "cache", Name: "flush_batches_total",
			Help: "Coalesced flush I/Os issued.",
		}, []string{"volume"}),
		FlushedBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "udfcore", Subsystem: "cache", Name: "flushed_blocks_total",
			Help: "Individual blocks written back across all flushes.",
		}, []string{"volume"}),
		AllocLargestFreeRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "udfcore", Subsystem: "alloc", Name: "largest_free_run_blocks",
			Help: "Largest contiguous free run observed at last allocation.",
		}, []string{"volume"}),
		AllocFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "udfcore", Subsystem: "alloc", Name: "disk_full_total",
			Help: "Allocation requests that failed with DiskFull.",
		}, []string{"volume"}),
		FEChargePoolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "udfcore", Subsystem: "alloc", Name: "fe_charge_pool_size",
			Help: "Current size of the per-partition FE allocation charge cache.",
		}, []string{"volume", "partition"}),
		DirectoryPacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "udfcore", Subsystem: "dirindex", Name: "packs_total",
			Help: "Directory compactions triggered by the deleted-entry threshold.",
		}, []string{"volume"}),
		DelayedCloseQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "udfcore", Subsystem: "openfile", Name: "delayed_close_queue_depth",
			Help: "FCBs awaiting delayed-close reaping.",
		}, []string{"volume"}),
	}

	for _, coll := range []prometheus.Collector{
		c.CacheHits, c.CacheMisses, c.CacheEvictions, c.DirtyListDepth,
		c.FlushBatches, c.FlushedBlocks, c.AllocLargestFreeRun, c.AllocFailures,
		c.FEChargePoolSize, c.DirectoryPacks, c.DelayedCloseQueueDepth,
	} {
		reg.MustRegister(coll)
	}
	return c
}
