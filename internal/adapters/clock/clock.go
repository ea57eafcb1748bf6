package clock

import "time"

// Clock is the wall-clock time source.
type Clock struct{}

// NowUnix returns current unix seconds.
func (Clock) NowUnix() int64 {
	return time.Now().Unix()
}

// Now returns the current wall-clock time.
func (Clock) Now() time.Time {
	return time.Now()
}
