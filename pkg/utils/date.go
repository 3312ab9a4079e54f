package utils

import (
	"time"
)

var cstLocation = time.FixedZone("CST", 8*3600)

// TimeNowCST returns the current time in China Standard Time, the timezone all
// A-share market data is keyed on.
func TimeNowCST() time.Time {
	return time.Now().In(cstLocation)
}

// GetCSTLocation returns the China Standard Time location.
func GetCSTLocation() *time.Location {
	return cstLocation
}

// TruncateToDate drops the time-of-day component of t in its own location.
func TruncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
