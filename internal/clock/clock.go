package clock

import "time"

// Clock abstracts wall-clock time so schedulers and reconciliation sweeps
// can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

// Real returns a Clock backed by time.Now.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now().UTC() }
