package fms

import (
	"strings"

	. "nyiyui.ca/hato/fmu"
)

// Requirement is what a mode needs from the estimator.
type Requirement uint8

const (
	NeedAttitude Requirement = 1 << iota
	NeedAltitude
	NeedPosition
	NeedHome
	NeedMission
)

func (r Requirement) String() string {
	var parts []string
	for i, name := range []string{"attitude", "altitude", "position", "home", "mission"} {
		if r&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// modeInfo describes one flight mode. Adding a mode means a FlightMode
// value, a row in the table and one of these.
type modeInfo struct {
	requires Requirement
	// fallback is tried when a forced transition lands on a mode whose
	// requirements are not met.
	fallback FlightMode
	enter    func(s *Supervisor, in *Input)
	setpoint func(s *Supervisor, in *Input) Setpoint
}

var modeTable [NumModes]modeInfo

func init() {
	modeTable = [NumModes]modeInfo{
		ModeManual:       {0, ModeFailsafe, nil, (*Supervisor).manual},
		ModeStabilize:    {NeedAttitude, ModeFailsafe, (*Supervisor).enterHold, (*Supervisor).stabilize},
		ModeAltitudeHold: {NeedAttitude | NeedAltitude, ModeStabilize, (*Supervisor).enterHold, (*Supervisor).altitudeHold},
		ModePositionHold: {NeedAttitude | NeedAltitude | NeedPosition, ModeAltitudeHold, (*Supervisor).enterHold, (*Supervisor).positionHold},
		ModeMission:      {NeedAttitude | NeedAltitude | NeedPosition | NeedMission, ModeLand, (*Supervisor).enterMission, (*Supervisor).mission},
		ModeReturn:       {NeedAttitude | NeedAltitude | NeedPosition | NeedHome, ModeLand, (*Supervisor).enterReturn, (*Supervisor).returnHome},
		ModeLand:         {NeedAttitude, ModeFailsafe, (*Supervisor).enterHold, (*Supervisor).land},
		ModeFailsafe:     {0, ModeFailsafe, (*Supervisor).enterHold, (*Supervisor).failsafe},
	}
}

// Requires returns what mode needs from the estimator.
func Requires(mode FlightMode) Requirement { return modeTable[mode].requires }

// missing returns the requirements of mode that are not met.
func (s *Supervisor) missing(mode FlightMode, in *Input) Requirement {
	var have Requirement
	st := in.State
	if in.StateOK && st.AttitudeValid {
		have |= NeedAttitude
	}
	if in.StateOK && st.AltitudeValid {
		have |= NeedAltitude
	}
	if in.StateOK && st.PositionValid {
		have |= NeedPosition
	}
	if st.HomeSet {
		have |= NeedHome
	}
	if len(s.missionPlan.Waypoints) > 0 {
		have |= NeedMission
	}
	return modeTable[mode].requires &^ have
}

// resolve walks the fallback chain from mode until the requirements are met.
func (s *Supervisor) resolve(mode FlightMode, in *Input) FlightMode {
	for i := 0; i < int(NumModes); i++ {
		if s.missing(mode, in) == 0 {
			return mode
		}
		mode = modeTable[mode].fallback
	}
	return ModeFailsafe
}
