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
	"path"
	"strings"
)

// Find looks up name in idx, per spec.md §4.F. "." and ".." resolve to
// the synthesized indices 0 and 1 without touching the hash table. A
// pattern containing '*' or '?' is matched with shell-style wildcards;
// otherwise an exact (case-sensitive or case-folded) comparison is used,
// short-circuited by the precomputed hashes.
func (idx *Index) Find(name string, caseSensitive bool) (int, Item, bool) {
	if name == "." {
		idx.mu.RLock()
		defer idx.mu.RUnlock()
		return 0, idx.items[0], true
	}
	if name == ".." {
		idx.mu.RLock()
		defer idx.mu.RUnlock()
		return 1, idx.items[1], true
	}

	wildcard := strings.ContainsAny(name, "*?")
	var target Hashes
	if !wildcard {
		target = computeHashes(name)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for i := 2; i < len(idx.items); i++ {
		it := idx.items[i]
		if it.Deleted || it.Name == "" {
			continue
		}
		if !wildcard && !couldMatch(target, it.Hashes) {
			continue
		}
		if namesEqual(name, it.Name, caseSensitive, wildcard) {
			return i, it, true
		}
	}
	return 0, Item{}, false
}

func namesEqual(pattern, name string, caseSensitive, wildcard bool) bool {
	p, n := pattern, name
	if !caseSensitive {
		p = strings.ToUpper(p)
		n = strings.ToUpper(n)
	}
	if wildcard {
		ok, _ := path.Match(p, n)
		return ok
	}
	return p == n
}
