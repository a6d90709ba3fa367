package timestamp

import (
	"time"

	"go.uber.org/atomic"
)

var (
	frozenTime = atomic.NewTime(time.Time{})
	timeFrozen = atomic.NewBool(false)
)

// Now returns the current wall-clock time, or the frozen instant set by
// FreezeTime if the clock has been frozen. It is the only source of "now"
// for documents and the merge loop, so tests can make timestamp assertions
// deterministic.
func Now() time.Time {
	if timeFrozen.Load() {
		return frozenTime.Load()
	}
	return time.Now()
}

// FreezeTime pins Now() to t until UnfreezeTime is called.
func FreezeTime(t time.Time) {
	frozenTime.Store(t)
	timeFrozen.Store(true)
}

// UnfreezeTime restores Now() to the real wall clock.
func UnfreezeTime() {
	timeFrozen.Store(false)
}

// Epoch returns t as whole epoch seconds, the unit every produced document
// field (time_created, time_uploaded) is stored in.
func Epoch(t time.Time) int64 {
	return t.Unix()
}

// FromEpoch is the inverse of Epoch.
func FromEpoch(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
