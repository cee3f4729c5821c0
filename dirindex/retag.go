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
	"context"

	"github.com/udfcore/udfcore/extent"
)

// Retag recomputes every FID's descriptor-tag checksum and CRC and
// rewrites the directory's on-disk FID stream, per spec.md §4.F. Used
// after relocation or a format-compat fix touches FIDs without going
// through the normal create/delete/rename paths.
func (idx *Index) Retag(ctx context.Context, eng *extent.Engine, partition int, dataLoc *extent.Info, icb []byte) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if len(idx.items) < 2 {
		return errInvalidParameter("dirindex.Retag: index missing synthesized . / ..")
	}
	buf, err := encodeFIDStream(idx.items)
	if err != nil {
		return err
	}
	_, err = eng.WriteExtent(ctx, dataLoc, partition, 0, buf)
	return err
}
