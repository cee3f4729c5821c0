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

package osdevice

import "sync"

// smallPoolCap and mediumPoolCap are the two pre-allocated buffer size
// classes spec.md §4.A calls for (small <= 4 KiB, medium <= 64 KiB), so
// per-I/O transfers in that range avoid a fresh allocation.
const (
	smallPoolCap  = 4 << 10
	mediumPoolCap = 64 << 10
)

// bufferPool hands out byte slices sized to whichever size class fits a
// request, backed by sync.Pool the way short-lived per-request buffers
// are typically pooled in Go I/O paths.
type bufferPool struct {
	blockSize uint32
	small     sync.Pool
	medium    sync.Pool
}

func newBufferPool(blockSize uint32) *bufferPool {
	p := &bufferPool{blockSize: blockSize}
	p.small.New = func() any { return make([]byte, smallPoolCap) }
	p.medium.New = func() any { return make([]byte, mediumPoolCap) }
	return p
}

// get returns a buffer of at least n bytes; if n exceeds the medium size
// class it allocates directly rather than growing the pooled buffers.
func (p *bufferPool) get(n int) []byte {
	switch {
	case n <= smallPoolCap:
		return p.small.Get().([]byte)
	case n <= mediumPoolCap:
		return p.medium.Get().([]byte)
	default:
		return make([]byte, n)
	}
}

func (p *bufferPool) put(buf []byte) {
	switch len(buf) {
	case smallPoolCap:
		p.small.Put(buf) //nolint:staticcheck
	case mediumPoolCap:
		p.medium.Put(buf) //nolint:staticcheck
	}
}
