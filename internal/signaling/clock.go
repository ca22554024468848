package signaling

import "time"

// Clock abstracts wall time so peer liveness can be tested deterministically.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
