// Package utils provides small formatting helpers shared by the client,
// such as rendering token lifetimes for log output.
package utils

import (
	"fmt"
	"strings"
)

// FormatSeconds renders a number of seconds as a compact duration.
// For example: 3540 -> "59m", 14399 -> "3h 59m 59s", 0 -> "0s".
func FormatSeconds(seconds int) string {
	if seconds <= 0 {
		return "0s"
	}

	units := []struct {
		size   int
		suffix string
	}{
		{86400, "d"},
		{3600, "h"},
		{60, "m"},
		{1, "s"},
	}

	parts := make([]string, 0, len(units))
	for _, u := range units {
		if seconds >= u.size {
			parts = append(parts, fmt.Sprintf("%d%s", seconds/u.size, u.suffix))
			seconds %= u.size
		}
	}
	return strings.Join(parts, " ")
}
