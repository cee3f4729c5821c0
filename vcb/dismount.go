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

package vcb

import (
	"context"
	"time"

	"github.com/udfcore/udfcore/udferr"
)

// delayedCloseDrainTimeout bounds how long Dismount waits for the
// workqueue's background worker to exit before forcing the remaining
// items through synchronously, per spec.md §5's "shutdown is
// cooperative: the work queue stops accepting new items, drains existing
// ones (bounded wait, then forced cancellation)".
const delayedCloseDrainTimeout = 5 * time.Second

// Dismount drains the delayed-close queue, flushes every dirty block,
// and marks v NotMounted; if a flush fails it marks v Invalid instead
// and returns the error. It is
// the cooperative-shutdown sequence spec.md §5 describes, mirrored on
// gcsfuse's practice of tearing a server down in the reverse order
// it was built: stop taking new delayed-close work first, then flush
// the cache, which is the only subsystem holding data not yet durable.
//
// force, when true, proceeds even if open FileInfos remain (the "force
// dismount" path that drives a volume to Invalid rather than blocking
// forever on stuck handles); when false, Dismount refuses with
// AccessDenied if the root's reference count indicates other opens are
// still outstanding.
func Dismount(ctx context.Context, v *Vcb, force bool) error {
	v.mu.Lock()
	if v.Condition != Mounted {
		v.mu.Unlock()
		return udferr.New(udferr.InvalidParameter, "vcb.Dismount: volume is not Mounted")
	}
	v.Condition = DismountInProgress
	v.mu.Unlock()

	if !force {
		if root := v.Graph.Root(); root != nil && root.RefCount() > 1 {
			v.mu.Lock()
			v.Condition = Mounted
			v.mu.Unlock()
			return udferr.New(udferr.AccessDenied, "vcb.Dismount: volume busy, use force")
		}
	}

	v.Queue.Stop(delayedCloseDrainTimeout)

	if !v.ReadOnly {
		if err := v.Cache.FlushAll(ctx); err != nil {
			v.mu.Lock()
			v.Condition = Invalid
			v.mu.Unlock()
			return udferr.Wrap(udferr.DriverInternalError, "vcb.Dismount: flushing cache", err)
		}
		if err := v.Dev.Flush(ctx); err != nil {
			v.mu.Lock()
			v.Condition = Invalid
			v.mu.Unlock()
			return udferr.Wrap(udferr.DriverInternalError, "vcb.Dismount: flushing device", err)
		}
	}

	v.mu.Lock()
	v.Condition = NotMounted
	v.mu.Unlock()
	return nil
}
