package fmu

import (
	"fmt"
	"time"
)

// SetpointKind is the loop level a setpoint targets. Larger kinds are outer loops.
type SetpointKind int

const (
	SetpointNone SetpointKind = iota
	SetpointRate
	SetpointAttitude
	SetpointVelocity
	SetpointPosition
)

var setpointKindNames = []string{"none", "rate", "attitude", "velocity", "position"}

func (k SetpointKind) String() string { return nameOf(setpointKindNames, int(k)) }

func (k SetpointKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *SetpointKind) UnmarshalText(b []byte) error {
	i, ok := parseName(setpointKindNames, string(b))
	if !ok {
		return fmt.Errorf("unknown setpoint kind %q", b)
	}
	*k = SetpointKind(i)
	return nil
}

type SetpointSource int

const (
	SourcePilot SetpointSource = iota
	SourceMission
	SourceFailsafe
)

var setpointSourceNames = []string{"pilot", "mission", "failsafe"}

func (s SetpointSource) String() string { return nameOf(setpointSourceNames, int(s)) }

func (s SetpointSource) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *SetpointSource) UnmarshalText(b []byte) error {
	i, ok := parseName(setpointSourceNames, string(b))
	if !ok {
		return fmt.Errorf("unknown setpoint source %q", b)
	}
	*s = SetpointSource(i)
	return nil
}

// VerticalMode selects how the down axis is controlled.
type VerticalMode int

const (
	// VerticalThrust uses Setpoint.Thrust directly.
	VerticalThrust VerticalMode = iota
	// VerticalVelocity tracks Setpoint.Velocity.Z.
	VerticalVelocity
	// VerticalPosition tracks Setpoint.Position.Z.
	VerticalPosition
)

var verticalNames = []string{"thrust", "velocity", "position"}

func (v VerticalMode) String() string { return nameOf(verticalNames, int(v)) }

func (v VerticalMode) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

func (v *VerticalMode) UnmarshalText(b []byte) error {
	i, ok := parseName(verticalNames, string(b))
	if !ok {
		return fmt.Errorf("unknown vertical mode %q", b)
	}
	*v = VerticalMode(i)
	return nil
}

// Setpoint is a target for one loop level.
// Only the fields matching Kind (and Vertical for the down axis) are used.
type Setpoint struct {
	// Time is when the supervisor produced the setpoint; loop stages keep it
	// unchanged so staleness can be judged end to end.
	Time     time.Time
	Kind     SetpointKind
	Source   SetpointSource
	Vertical VerticalMode

	Rate     Vec3
	Attitude Quat
	Velocity Vec3
	Position Vec3
	Yaw      float64
	// Thrust is collective thrust in [0, 1].
	Thrust float64

	Armed bool
}

// NeedsOuter reports whether the position stage has any work for s.
func (s Setpoint) NeedsOuter() bool {
	return s.Kind >= SetpointVelocity || s.Vertical != VerticalThrust
}

func (s Setpoint) String() string {
	switch s.Kind {
	case SetpointRate:
		return fmt.Sprintf("sp(rate %s thrust=%.2f %s)", s.Rate, s.Thrust, s.Source)
	case SetpointAttitude:
		return fmt.Sprintf("sp(attitude %s thrust=%.2f vertical=%s %s)", s.Attitude, s.Thrust, s.Vertical, s.Source)
	case SetpointVelocity:
		return fmt.Sprintf("sp(velocity %s yaw=%.2f %s)", s.Velocity, s.Yaw, s.Source)
	case SetpointPosition:
		return fmt.Sprintf("sp(position %s yaw=%.2f vertical=%s %s)", s.Position, s.Yaw, s.Vertical, s.Source)
	default:
		return "sp(none)"
	}
}
