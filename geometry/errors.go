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

package geometry

import "github.com/udfcore/udfcore/udferr"

// ErrOutOfExtent is returned by address translation when the computed
// address falls outside the volume or partition, per spec.md §4.B.
func ErrOutOfExtent(op string) error {
	return udferr.New(udferr.InvalidParameter, op)
}

// ErrNoSpare is returned by remap_packet when the sparing table's free
// count has dropped to zero and the no-spare-action policy is
// "refuse-writes".
func ErrNoSpare(op string) error {
	return udferr.New(udferr.DiskFull, op)
}
