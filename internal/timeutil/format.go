// Package timeutil holds the compact date rendering used by the UI.
package timeutil

import (
	"fmt"
	"time"
)

// FormatDate renders a publication date relative to now: time of day for
// today's articles, day/month within the last year, month/year beyond that.
func FormatDate(date, now time.Time) string {
	if date.IsZero() {
		return "-"
	}

	if now.Year()-date.Year() > 1 {
		return fmt.Sprintf("%02d/%d", int(date.Month()), date.Year())
	}

	if now.Month() == date.Month() && now.Day() <= date.Day() {
		return date.Format("15:04")
	}

	return fmt.Sprintf("%02d/%02d", date.Day(), int(date.Month()))
}
