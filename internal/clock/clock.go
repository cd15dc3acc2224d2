package clock

import "time"

// Clock abstracts time for schedule and retry logic so tests can drive it.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
