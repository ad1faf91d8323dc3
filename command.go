package fmu

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PilotInput is decoded stick input. Roll, Pitch and Yaw are in [-1, 1],
// Throttle is in [0, 1].
type PilotInput struct {
	Time     time.Time
	Roll     float64
	Pitch    float64
	Yaw      float64
	Throttle float64
}

func (p PilotInput) String() string {
	return fmt.Sprintf("pilot r=%.2f p=%.2f y=%.2f t=%.2f", p.Roll, p.Pitch, p.Yaw, p.Throttle)
}

type CommandKind int

const (
	CommandMode CommandKind = iota
	CommandArm
	CommandDisarm
	CommandRecover
)

var commandNames = []string{"mode", "arm", "disarm", "recover"}

func (k CommandKind) String() string { return nameOf(commandNames, int(k)) }

func (k CommandKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *CommandKind) UnmarshalText(b []byte) error {
	i, ok := parseName(commandNames, string(b))
	if !ok {
		return fmt.Errorf("unknown command %q", b)
	}
	*k = CommandKind(i)
	return nil
}

// OperatorCommand is a decoded operator request. ID makes each request
// distinct on a last-value topic.
type OperatorCommand struct {
	ID   uuid.UUID
	Time time.Time
	Kind CommandKind
	Mode FlightMode
}

func (c OperatorCommand) String() string {
	if c.Kind == CommandMode {
		return fmt.Sprintf("cmd %s %s (%s)", c.Kind, c.Mode, c.ID)
	}
	return fmt.Sprintf("cmd %s (%s)", c.Kind, c.ID)
}

// Waypoint is a mission target in the local NED frame.
type Waypoint struct {
	Position     Vec3
	Yaw          float64
	AcceptRadius float64
	Hold         time.Duration
}

type Mission struct {
	ID        uuid.UUID
	Waypoints []Waypoint
}

func (m Mission) String() string {
	return fmt.Sprintf("mission %s (%d waypoints)", m.ID, len(m.Waypoints))
}

type BatteryStatus struct {
	Time    time.Time
	Voltage float64
	// Remaining is the estimated fraction of capacity left, in [0, 1].
	Remaining float64
}

func (b BatteryStatus) String() string {
	return fmt.Sprintf("battery %.2fV %.0f%%", b.Voltage, b.Remaining*100)
}

type LandState int

const (
	LandFlying LandState = iota
	LandGroundContact
	LandMaybeLanded
	LandLanded
)

var landNames = []string{"flying", "ground-contact", "maybe-landed", "landed"}

func (s LandState) String() string { return nameOf(landNames, int(s)) }

func (s LandState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *LandState) UnmarshalText(b []byte) error {
	i, ok := parseName(landNames, string(b))
	if !ok {
		return fmt.Errorf("unknown land state %q", b)
	}
	*s = LandState(i)
	return nil
}

type LandStatus struct {
	Time     time.Time
	State    LandState
	Freefall bool
}

func (s LandStatus) String() string {
	if s.Freefall {
		return fmt.Sprintf("land %s freefall", s.State)
	}
	return "land " + s.State.String()
}

// HoverEstimate is the learned collective thrust that holds altitude.
type HoverEstimate struct {
	Time   time.Time
	Thrust float64
	Valid  bool
}

func (h HoverEstimate) String() string {
	return fmt.Sprintf("hover %.3f valid=%t", h.Thrust, h.Valid)
}
