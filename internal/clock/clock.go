// Package clock provides a testable abstraction over wall-clock time, used
// throughout udfcore for FE timestamps, LVID timestamps, and cache
// last-access stamps.
package clock

import (
	"time"

	"github.com/udfcore/udfcore/udf"
)

// Clock is the interface every subsystem that needs the current time
// depends on, so tests can substitute a SimulatedClock.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Stamp projects c.Now() into the ECMA-167 on-disk timestamp encoding
// File Entries and the Logical Volume Integrity Descriptor carry.
func Stamp(c Clock) udf.Timestamp {
	return udf.FromTime(c.Now())
}
