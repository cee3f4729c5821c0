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

package dirindex

import (
	"hash/fnv"
	"strings"

	"github.com/udfcore/udfcore/udf"
)

// computeHashes fills in name's three hash slots, per spec.md §4.F: Posix
// (case-sensitive, the name as-is), long-filename (case-folded, for
// case-insensitive lookup), and DOS (the deterministic 8.3 alias, only
// meaningful when the name doesn't already fit 8.3 cleanly).
// ComputeHashes exports computeHashes for callers outside the package
// that construct Items directly (openfile's rename/append path), so a
// freshly inserted entry's hashes stay consistent with Find's
// short-circuit rule.
func ComputeHashes(name string) Hashes {
	return computeHashes(name)
}

func computeHashes(name string) Hashes {
	h := Hashes{
		Posix: fnvHash(name),
		LFN:   fnvHash(strings.ToUpper(name)),
	}
	if is8dot3(name) {
		h.DOS = fnvHash(strings.ToUpper(name))
		h.CanBe8dot3 = true
	} else {
		h.DOS = fnvHash(strings.ToUpper(udf.ShortenName(name)))
		h.CanBe8dot3 = true
	}
	return h
}

func fnvHash(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

// is8dot3 reports whether name already satisfies the base<=8, ext<=3
// shape without needing ShortenName's truncate-and-CRC-suffix treatment.
func is8dot3(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	base, ext, hasExt := strings.Cut(name, ".")
	if hasExt && strings.Contains(ext, ".") {
		return false
	}
	if len(base) > 8 || len(ext) > 3 {
		return false
	}
	for _, r := range name {
		if r > 0x7F || r == ' ' {
			return false
		}
	}
	return true
}

// couldMatch applies spec.md §4.F's short-circuit rule: a candidate is
// ruled out only when every applicable hash slot differs from the
// target's. The DOS slot is consulted only when the candidate can be an
// 8.3 name.
func couldMatch(target, candidate Hashes) bool {
	if target.Posix == candidate.Posix || target.LFN == candidate.LFN {
		return true
	}
	if candidate.CanBe8dot3 && target.DOS == candidate.DOS {
		return true
	}
	return false
}
