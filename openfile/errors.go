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

package openfile

import (
	"errors"

	"github.com/udfcore/udfcore/udferr"
)

// ErrNotFound is returned by Open when no entry matches the requested
// name. spec.md §7's closed Code taxonomy has no "not found" member --
// a negative lookup is an ordinary outcome, not a fault -- so this stays
// a plain sentinel rather than a wrapped udferr.Code.
var ErrNotFound = errors.New("openfile: no such file or directory")

func errInvalidParameter(op string) error {
	return udferr.New(udferr.InvalidParameter, op)
}

func errNotADirectory(op string) error {
	return udferr.New(udferr.NotADirectory, op)
}

func errDirectoryNotEmpty(op string) error {
	return udferr.New(udferr.DirectoryNotEmpty, op)
}

func errCannotDelete(op string) error {
	return udferr.New(udferr.CannotDelete, op)
}

func errNameCollision(op string) error {
	return udferr.New(udferr.NameCollision, op)
}

func errCorrupt(op string) error {
	return udferr.New(udferr.VolumeCorrupt, op)
}

func errAccessDenied(op string) error {
	return udferr.New(udferr.AccessDenied, op)
}
