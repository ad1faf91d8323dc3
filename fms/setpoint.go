package fms

import (
	"math"
	"time"

	. "nyiyui.ca/hato/fmu"
)

const (
	// defaultHover is used until a hover estimate arrives.
	defaultHover = 0.5
	// maxTickGap bounds the stick integration step after a stall.
	maxTickGap = 0.1
)

// Stick conventions: Roll right, Pitch forward (nose down) and Yaw
// clockwise are positive. Throttle 0.5 is the centre detent.
var neutralSticks = PilotInput{Throttle: 0.5}

func (s *Supervisor) sticks(in *Input) PilotInput {
	if !in.PilotOK {
		return neutralSticks
	}
	return in.Pilot
}

func (s *Supervisor) hover(in *Input) float64 {
	if in.Hover > 0 {
		return in.Hover
	}
	return defaultHover
}

// stick applies the deadband and rescales the rest to [-1, 1].
func (s *Supervisor) stick(v float64) float64 {
	d := s.conf.StickDeadband
	a := math.Abs(v)
	if a <= d {
		return 0
	}
	return math.Copysign(math.Min(1, (a-d)/(1-d)), v)
}

func (s *Supervisor) steerYaw(stick float64) {
	s.yawHold = WrapPi(s.yawHold + s.stick(stick)*s.conf.StickYawRate*s.dt)
}

func (s *Supervisor) tiltFromSticks(p PilotInput) Quat {
	tilt := s.conf.StickMaxTilt
	s.steerYaw(p.Yaw)
	return QuatFromEuler(s.stick(p.Roll)*tilt, -s.stick(p.Pitch)*tilt, s.yawHold)
}

// vertical fills the down axis from the throttle stick: position hold on
// the centre detent, climb rate otherwise.
func (s *Supervisor) vertical(sp *Setpoint, st VehicleState, throttle float64) {
	climb := s.stick(2*throttle - 1)
	if climb == 0 {
		if !s.holdingZ {
			s.hold.Z = st.Position.Z
			s.holdingZ = true
		}
		sp.Vertical = VerticalPosition
		sp.Position.Z = s.hold.Z
		return
	}
	s.holdingZ = false
	sp.Vertical = VerticalVelocity
	sp.Velocity.Z = -climb * s.conf.StickClimbRate
}

func (s *Supervisor) holdXY(st VehicleState) Vec3 {
	if !s.holdingXY {
		s.hold.X, s.hold.Y = st.Position.X, st.Position.Y
		s.holdingXY = true
	}
	return Vec3{X: s.hold.X, Y: s.hold.Y}
}

func (s *Supervisor) enterHold(in *Input) {
	s.holdingXY = false
	s.holdingZ = false
	s.yawHold = in.State.Attitude.Yaw()
}

func (s *Supervisor) manual(in *Input) Setpoint {
	p := s.sticks(in)
	r := s.conf.ManualMaxRate
	return Setpoint{
		Kind:   SetpointRate,
		Source: SourcePilot,
		Rate: Vec3{
			X: s.stick(p.Roll) * r,
			Y: -s.stick(p.Pitch) * r,
			Z: s.stick(p.Yaw) * s.conf.StickYawRate,
		},
		Thrust: p.Throttle,
	}
}

func (s *Supervisor) stabilize(in *Input) Setpoint {
	p := s.sticks(in)
	q := s.tiltFromSticks(p)
	return Setpoint{
		Kind:     SetpointAttitude,
		Source:   SourcePilot,
		Attitude: q,
		Yaw:      s.yawHold,
		Thrust:   p.Throttle,
	}
}

func (s *Supervisor) altitudeHold(in *Input) Setpoint {
	p := s.sticks(in)
	sp := Setpoint{
		Kind:     SetpointAttitude,
		Source:   SourcePilot,
		Attitude: s.tiltFromSticks(p),
		Yaw:      s.yawHold,
		Thrust:   s.hover(in),
	}
	s.vertical(&sp, in.State, p.Throttle)
	return sp
}

func (s *Supervisor) positionHold(in *Input) Setpoint {
	p := s.sticks(in)
	st := in.State
	s.steerYaw(p.Yaw)
	sp := Setpoint{
		Source: SourcePilot,
		Yaw:    s.yawHold,
		Thrust: s.hover(in),
	}
	fwd, right := s.stick(p.Pitch), s.stick(p.Roll)
	if fwd == 0 && right == 0 {
		sp.Kind = SetpointPosition
		sp.Position = s.holdXY(st)
	} else {
		s.holdingXY = false
		sn, c := math.Sincos(s.yawHold)
		v := s.conf.StickSpeed
		sp.Kind = SetpointVelocity
		sp.Velocity = Vec3{X: (fwd*c - right*sn) * v, Y: (fwd*sn + right*c) * v}
	}
	s.vertical(&sp, st, p.Throttle)
	return sp
}

// loadMission replaces the mission plan. A running mission restarts.
func (s *Supervisor) loadMission(m Mission) {
	s.missionPlan = m
	s.missionIdx = 0
	s.missionAt = time.Time{}
	s.log.Infow("mission loaded", "mission", m)
}

func (s *Supervisor) enterMission(in *Input) {
	s.enterHold(in)
	s.missionIdx = 0
	s.missionAt = time.Time{}
}

func (s *Supervisor) mission(in *Input) Setpoint {
	wps := s.missionPlan.Waypoints
	sp := Setpoint{
		Kind:     SetpointPosition,
		Source:   SourceMission,
		Vertical: VerticalPosition,
		Thrust:   s.hover(in),
	}
	if s.missionIdx >= len(wps) {
		// Completed; hold the last point until the table moves on.
		if len(wps) > 0 {
			s.hold = wps[len(wps)-1].Position
			s.holdingXY, s.holdingZ = true, true
		}
		sp.Position = s.holdXY(in.State)
		sp.Position.Z = s.hold.Z
		sp.Yaw = s.yawHold
		return sp
	}
	wp := wps[s.missionIdx]
	sp.Position = wp.Position
	sp.Yaw = wp.Yaw
	s.yawHold = wp.Yaw

	radius := wp.AcceptRadius
	if radius <= 0 {
		radius = s.conf.DefaultAcceptRadius
	}
	if in.State.Position.Sub(wp.Position).Norm() > radius {
		return sp
	}
	if s.missionAt.IsZero() {
		s.missionAt = in.Now
		s.log.Infow("waypoint reached", "index", s.missionIdx, "hold", wp.Hold)
	}
	if in.Now.Sub(s.missionAt) >= wp.Hold {
		s.missionIdx++
		s.missionAt = time.Time{}
		if s.missionIdx == len(wps) {
			s.pendingComplete = true
		}
	}
	return sp
}

type returnPhase int

const (
	returnClimb returnPhase = iota
	returnCruise
	returnArrived
)

// enterReturn climbs to the return altitude (or stays higher) above the
// current point before heading home. Home is the local origin.
func (s *Supervisor) enterReturn(in *Input) {
	s.enterHold(in)
	st := in.State
	s.hold = Vec3{X: st.Position.X, Y: st.Position.Y, Z: math.Min(st.Position.Z, -s.conf.ReturnAltitude)}
	s.holdingXY, s.holdingZ = true, true
	s.returnPhase = returnClimb
}

func (s *Supervisor) returnHome(in *Input) Setpoint {
	st := in.State
	sp := Setpoint{
		Kind:     SetpointPosition,
		Source:   SourceMission,
		Vertical: VerticalPosition,
		Yaw:      s.yawHold,
		Thrust:   s.hover(in),
	}
	accept := s.conf.ReturnAcceptRadius
	switch s.returnPhase {
	case returnClimb:
		sp.Position = s.hold
		if math.Abs(st.Position.Z-s.hold.Z) < accept {
			s.returnPhase = returnCruise
			s.log.Infow("return: cruising home", "altitude", -s.hold.Z)
		}
	case returnCruise:
		sp.Position = Vec3{Z: s.hold.Z}
		if st.Position.Horizontal().Norm() < accept {
			s.returnPhase = returnArrived
			s.pendingHome = true
		}
	case returnArrived:
		sp.Position = Vec3{Z: s.hold.Z}
	}
	return sp
}

func (s *Supervisor) land(in *Input) Setpoint {
	st := in.State
	sp := Setpoint{
		Source:   SourceMission,
		Vertical: VerticalVelocity,
		Velocity: Vec3{Z: s.conf.LandSpeed},
		Yaw:      s.yawHold,
		Thrust:   s.hover(in),
	}
	switch {
	case in.StateOK && st.PositionValid:
		sp.Kind = SetpointPosition
		sp.Position = s.holdXY(st)
	case in.StateOK && st.AltitudeValid:
		sp.Kind = SetpointAttitude
		sp.Attitude = QuatFromEuler(0, 0, s.yawHold)
	default:
		sp.Kind = SetpointAttitude
		sp.Attitude = QuatFromEuler(0, 0, s.yawHold)
		sp.Vertical = VerticalThrust
		sp.Thrust = s.conf.FailsafeThrust * s.hover(in)
	}
	return sp
}

func (s *Supervisor) failsafe(in *Input) Setpoint {
	st := in.State
	hover := s.hover(in)
	if !in.StateOK || !st.AttitudeValid {
		// Nothing to level against: hold the body still and sink.
		return Setpoint{Kind: SetpointRate, Source: SourceFailsafe, Thrust: s.conf.FailsafeThrust * hover}
	}
	sp := Setpoint{
		Kind:     SetpointAttitude,
		Source:   SourceFailsafe,
		Attitude: QuatFromEuler(0, 0, s.yawHold),
		Yaw:      s.yawHold,
		Thrust:   hover,
	}
	if st.AltitudeValid {
		sp.Vertical = VerticalVelocity
		sp.Velocity.Z = s.conf.FailsafeDescentSpeed
	} else {
		sp.Thrust = s.conf.FailsafeThrust * hover
	}
	return sp
}
