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

import "github.com/udfcore/udfcore/udferr"

// ErrDiskFull is returned by Alloc when no combination of free runs can
// satisfy the requested byte count, per spec.md §4.D.
func ErrDiskFull(op string) error {
	return udferr.New(udferr.DiskFull, op)
}

// ErrUnknownPartition is returned when an operation names a partition
// index that was never registered with LoadPartition.
func ErrUnknownPartition(op string) error {
	return udferr.New(udferr.InvalidParameter, op)
}
