// Package monitoring is the injectable diagnostic sink for the diffim
// core. The core reports checkpoints (detection pass yields, region
// rejections, solve timings) through Logf; callers can redirect or
// mute the sink without the core depending on any particular logger.
package monitoring

import (
	"log"
	"time"
)

// Logf is the package-level diagnostic logger. It defaults to
// log.Printf but may be replaced by SetLogger. Tests or embedding
// applications can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil sets a no-op
// logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Timer measures and reports elapsed time for a named operation
// through Logf. Checkpoints log intermediate phases; Stop logs the
// total.
type Timer struct {
	name  string
	start time.Time
	last  time.Time
}

// StartTimer begins timing a named operation.
func StartTimer(name string) *Timer {
	now := time.Now()
	return &Timer{name: name, start: now, last: now}
}

// Checkpoint logs the time since the previous checkpoint (or start)
// under a phase label and returns that duration.
func (t *Timer) Checkpoint(phase string) time.Duration {
	now := time.Now()
	d := now.Sub(t.last)
	t.last = now
	Logf("%s: %s took %.3fs", t.name, phase, d.Seconds())
	return d
}

// Stop logs the total elapsed time and returns it.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	Logf("%s: total %.3fs", t.name, d.Seconds())
	return d
}
