package monitor

import (
	"fmt"
	"time"
)

// InvalidElapsed marks a negative duration from clock skew or bad data.
const InvalidElapsed = "n/a"

// FormatElapsed renders a duration largest-unit-first, dropping leading
// zero units but always showing seconds: "1h 2min 5s", "2min 5s",
// "45s". Negative durations render as InvalidElapsed.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		return InvalidElapsed
	}

	total := int(d.Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dmin %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dmin %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
