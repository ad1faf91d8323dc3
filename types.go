package fmu

import (
	"fmt"
	"strings"

	"golang.org/x/exp/constraints"
)

// Value is any value carried on the bus.
// It is fmt.Stringer for debugging purposes.
type Value interface {
	fmt.Stringer
}

func nameOf(names []string, i int) string {
	if i < 0 || i >= len(names) {
		return fmt.Sprintf("unknown(%d)", i)
	}
	return names[i]
}

func parseName(names []string, s string) (int, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range names {
		if name == s {
			return i, true
		}
	}
	return 0, false
}

// Clamp limits v to [lo, hi].
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MapRange maps value linearly from [fromMin, fromMax] onto [toMin, toMax].
func MapRange[T constraints.Float](value, fromMin, fromMax, toMin, toMax T) T {
	return (value-fromMin)*(toMax-toMin)/(fromMax-fromMin) + toMin
}
