package tts

import (
	"strconv"
	"strings"
)

// SpeedFactor converts a relative rate such as "+10%" or "-25%" into a
// multiplier for engines that take a numeric speed. Empty or malformed
// input is 1.
func SpeedFactor(rate string) float64 {
	rate = strings.TrimSpace(rate)
	if !strings.HasSuffix(rate, "%") {
		return 1
	}
	pct, err := strconv.ParseFloat(strings.TrimSuffix(rate, "%"), 64)
	if err != nil {
		return 1
	}
	f := 1 + pct/100
	if f <= 0 {
		return 1
	}
	return f
}
