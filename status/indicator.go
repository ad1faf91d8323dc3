// Package status turns mode, arming and health into something a person can
// read at a glance: an LED pattern, a terminal console and (through
// sakuragi) a web page.
package status

import (
	"fmt"
	"time"

	. "nyiyui.ca/hato/fmu"
)

type Colour int

const (
	ColourOff Colour = iota
	ColourWhite
	ColourPurple
	ColourBlue
	ColourGreen
	ColourCyan
	ColourYellow
	ColourRed
)

var colourNames = []string{"off", "white", "purple", "blue", "green", "cyan", "yellow", "red"}

func (c Colour) String() string {
	if c < 0 || int(c) >= len(colourNames) {
		return fmt.Sprintf("unknown(%d)", int(c))
	}
	return colourNames[c]
}

type Blink int

const (
	BlinkSolid Blink = iota
	BlinkSlow
	BlinkFast
	// BlinkDouble is two short flashes per second.
	BlinkDouble
)

var blinkNames = []string{"solid", "slow", "fast", "double"}

func (b Blink) String() string {
	if b < 0 || int(b) >= len(blinkNames) {
		return fmt.Sprintf("unknown(%d)", int(b))
	}
	return blinkNames[b]
}

// Pattern is what the status LED shows.
type Pattern struct {
	Time   time.Time
	Colour Colour
	Blink  Blink
}

func (p Pattern) String() string { return fmt.Sprintf("led %s %s", p.Colour, p.Blink) }

// On reports whether the LED is lit at t.
func (p Pattern) On(t time.Time) bool {
	ms := t.Sub(p.Time).Milliseconds()
	switch p.Blink {
	case BlinkSlow:
		return ms%1000 < 500
	case BlinkFast:
		return ms%100 < 50
	case BlinkDouble:
		ph := ms % 1000
		return ph < 100 || (ph >= 200 && ph < 300)
	default:
		return p.Colour != ColourOff
	}
}

// Indicator maps vehicle status to a Pattern.
type Indicator struct {
	Colours [NumModes]Colour
}

func NewIndicator() *Indicator {
	return &Indicator{Colours: [NumModes]Colour{
		ModeManual:       ColourWhite,
		ModeStabilize:    ColourPurple,
		ModeAltitudeHold: ColourBlue,
		ModePositionHold: ColourGreen,
		ModeMission:      ColourCyan,
		ModeReturn:       ColourCyan,
		ModeLand:         ColourYellow,
		ModeFailsafe:     ColourRed,
	}}
}

// Pattern picks the pattern. Critical health and failsafe flash red fast.
// Otherwise the mode colour is solid when armed and blinks slowly when
// disarmed, and anything short of all-green blinks double instead.
func (ind *Indicator) Pattern(now time.Time, mode FlightMode, armed bool, health HealthFlags) Pattern {
	_, worst := health.Worst()
	p := Pattern{Time: now, Colour: ColourRed, Blink: BlinkFast}
	if mode == ModeFailsafe || worst >= SeverityCritical {
		return p
	}
	if mode >= 0 && mode < NumModes {
		p.Colour = ind.Colours[mode]
	}
	switch {
	case worst >= SeverityWarning:
		p.Blink = BlinkDouble
	case armed:
		p.Blink = BlinkSolid
	default:
		p.Blink = BlinkSlow
	}
	return p
}
