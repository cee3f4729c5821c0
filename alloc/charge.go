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

package alloc

import (
	"container/list"
	"sync"
)

// chargeEntry is one pooled, recently-freed FE-sized run, tagged by the
// unique id of the directory that last used it.
type chargeEntry struct {
	dirID uint64
	run   Run
}

// ChargePool is the FE Allocation Charge cache of spec.md §4.D: on file
// create, the allocator first asks this cache for a run near the parent
// directory before falling back to a full bitmap scan; on delete, the
// freed FE block is handed to this cache rather than returned to the
// global bitmap immediately, so a create that follows a delete in the
// same directory reuses the same block instead of fragmenting. Runs
// evicted by the LRU bound (per SPEC_FULL.md §3's original_source
// supplement) or drained by Flush must still be marked free in the
// bitmap by the caller.
type ChargePool struct {
	mu      sync.Mutex
	maxSize int
	order   *list.List // front = most recently offered
	byDir   map[uint64]*list.Element
}

// NewChargePool builds a pool holding at most maxSize runs. maxSize <= 0
// disables pooling: Offer always returns its argument back for immediate
// bitmap release.
func NewChargePool(maxSize int) *ChargePool {
	return &ChargePool{
		maxSize: maxSize,
		order:   list.New(),
		byDir:   make(map[uint64]*list.Element),
	}
}

// Offer hands a freed FE-sized run to the pool, tagged by the directory
// that owned the deleted file. If the pool is at capacity, the
// least-recently-offered entry is evicted and returned so the caller can
// mark it free in the bitmap; otherwise evicted is the zero Run and ok is
// false.
func (p *ChargePool) Offer(dirID uint64, run Run) (evicted Run, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxSize <= 0 {
		return run, true
	}

	el := p.order.PushFront(&chargeEntry{dirID: dirID, run: run})
	p.byDir[dirID] = el

	if p.order.Len() <= p.maxSize {
		return Run{}, false
	}
	back := p.order.Back()
	p.order.Remove(back)
	ce := back.Value.(*chargeEntry)
	if p.byDir[ce.dirID] == back {
		delete(p.byDir, ce.dirID)
	}
	return ce.run, true
}

// TakeNear pops the pooled run tagged with dirID, if any, without
// touching any bitmap -- the block remains "used" throughout.
func (p *ChargePool) TakeNear(dirID uint64) (Run, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.byDir[dirID]
	if !ok {
		return Run{}, false
	}
	ce := el.Value.(*chargeEntry)
	p.order.Remove(el)
	delete(p.byDir, dirID)
	return ce.run, true
}

// Len reports the current pool occupancy, for metrics.
func (p *ChargePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order.Len()
}

// Flush drains every pooled run, for callers (dismount) that must mark
// them all free in the bitmap.
func (p *ChargePool) Flush() []Run {
	p.mu.Lock()
	defer p.mu.Unlock()
	runs := make([]Run, 0, p.order.Len())
	for el := p.order.Front(); el != nil; el = el.Next() {
		runs = append(runs, el.Value.(*chargeEntry).run)
	}
	p.order.Init()
	p.byDir = make(map[uint64]*list.Element)
	return runs
}
