package billing

import "time"

// SetNow freezes the clock used by the package and returns a func restoring it.
func SetNow(now time.Time) func() {
	orig := nowFunc
	nowFunc = func() time.Time { return now }
	return func() { nowFunc = orig }
}
