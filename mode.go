package fmu

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type FlightMode int

const (
	ModeManual FlightMode = iota
	ModeStabilize
	ModeAltitudeHold
	ModePositionHold
	ModeMission
	ModeReturn
	ModeLand
	ModeFailsafe
	NumModes
)

var modeNames = []string{"manual", "stabilize", "altitude-hold", "position-hold", "mission", "return", "land", "failsafe"}

func (m FlightMode) String() string { return nameOf(modeNames, int(m)) }

func ParseFlightMode(s string) (FlightMode, error) {
	i, ok := parseName(modeNames, s)
	if !ok {
		return 0, fmt.Errorf("unknown flight mode %q", s)
	}
	return FlightMode(i), nil
}

func (m FlightMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *FlightMode) UnmarshalText(b []byte) error {
	mode, err := ParseFlightMode(string(b))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// ModeStatus is what the supervisor reports about itself each tick.
type ModeStatus struct {
	Time   time.Time
	Mode   FlightMode
	Armed  bool
	Since  time.Time
	Reason string

	MissionID    uuid.UUID
	MissionIndex int
}

func (s ModeStatus) String() string {
	armed := "disarmed"
	if s.Armed {
		armed = "armed"
	}
	return fmt.Sprintf("mode %s %s (%s)", s.Mode, armed, s.Reason)
}
